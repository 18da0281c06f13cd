package events

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
)

const feedHeartbeat = 30 * time.Second

// Feed relays every bus event to the client as Server-Sent Events. The
// SSE event name is the envelope type; data is the JSON envelope. The
// stream runs until the client disconnects.
func Feed(c echo.Context, nc *nats.Conn) error {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering

	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(FeedSubject, msgs)
	if err != nil {
		return fmt.Errorf("subscribing to event feed: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ticker := time.NewTicker(feedHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			fmt.Fprintf(c.Response(), "event: %s\n", EventType(msg.Subject))
			fmt.Fprintf(c.Response(), "data: %s\n\n", msg.Data)
			c.Response().Flush()

		case <-ticker.C:
			// Keep proxies from timing the connection out.
			fmt.Fprint(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
