// Package logging provides structured logging with OpenTelemetry
// integration.
//
// It wraps zap with a custom Trace level below Debug, dual output
// (stdout plus an optional OTEL bridge), automatic context field
// injection (trace_id, request.id, session.id, project.id,
// conversation.id), encoder-level secret redaction, and sampling that
// never drops Error or above.
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	logger.Info(ctx, "generation finished", zap.Int("tokens", n))
//
// Secrets are redacted in depth: the config.Secret type stringifies as
// a marker, the redacting encoder filters sensitive field names, and
// pattern rules catch bearer tokens and API keys embedded in values.
// Use logging.RedactedString or logging.Secret for manual redaction.
//
// In tests, NewTestLogger captures entries for assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
package logging
