package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFeed(t *testing.T) {
	bus := startTestBus(t)
	pub := NewPublisher(bus.Conn(), zap.NewNop())

	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() {
		done <- Feed(e.NewContext(req, rec), bus.Conn())
	}()

	// Let the subscription settle before publishing.
	time.Sleep(100 * time.Millisecond)
	pub.ProjectCreated("p1")
	pub.DocumentIndexed("p1", "d1")
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on client disconnect")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: store.project.created\n")
	assert.Contains(t, body, "event: ingest.document.indexed\n")
	assert.Contains(t, body, `"project_id":"p1"`)
	assert.Contains(t, body, `"document_id":"d1"`)
}

func TestFeedStopsWithoutEvents(t *testing.T) {
	bus := startTestBus(t)

	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() {
		done <- Feed(e.NewContext(req, rec), bus.Conn())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on client disconnect")
	}
}
