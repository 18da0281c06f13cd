package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/config"
)

// startTestBus boots an embedded bus on a random loopback port.
func startTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := Start(config.EventsConfig{Enabled: true, Port: 0}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	return bus
}

func TestStart(t *testing.T) {
	bus := startTestBus(t)

	require.NotNil(t, bus.Conn())
	assert.True(t, bus.Conn().IsConnected())
	assert.Contains(t, bus.ClientURL(), "127.0.0.1")
}

func TestEventType(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{SubjectProjectCreated, "store.project.created"},
		{SubjectDocumentIndexed, "ingest.document.indexed"},
		{SubjectChatCancelled, "chat.session.cancelled"},
		{"other.subject", "other.subject"},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, EventType(tt.subject))
		})
	}
}
