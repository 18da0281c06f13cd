// Package telemetry provides OpenTelemetry instrumentation for loom.
//
// It wires distributed tracing and metrics through OTLP exporters
// (grpc or http/protobuf) toward a local collector. Telemetry failures
// never crash the daemon; initialization errors degrade the instance
// to no-op providers.
//
// Create an instance and use its tracer and meter:
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("loom.chat")
//	ctx, span := tracer.Start(ctx, "relay.generate")
//	defer span.End()
//
// In tests, NewTestTelemetry records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
