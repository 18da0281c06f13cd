package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client polls the loomd stats endpoint.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Stats mirrors the loomd GET /api/v1/stats response.
type Stats struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Services       map[string]string `json:"services"`
	Counts         EntityCounts      `json:"counts"`
	Cache          CacheCounters     `json:"cache"`
	ActiveSessions int               `json:"active_sessions"`
	TokensStreamed int64             `json:"tokens_streamed"`
	Sessions       []Session         `json:"sessions"`
}

// EntityCounts holds store row counts and database size.
type EntityCounts struct {
	Projects      int   `json:"projects"`
	Conversations int   `json:"conversations"`
	Messages      int   `json:"messages"`
	Documents     int   `json:"documents"`
	SizeBytes     int64 `json:"size_bytes"`
}

// CacheCounters holds per-cache hit and miss counts.
type CacheCounters struct {
	Projects      CacheSide `json:"projects"`
	Conversations CacheSide `json:"conversations"`
}

// CacheSide is one cache's counters.
type CacheSide struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// HitRate returns hits/(hits+misses) as a 0-1 ratio, 0 when idle.
func (c CacheSide) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// Session is one in-flight generation.
type Session struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	StartedAt      time.Time `json:"started_at"`
}

// NewClient creates a stats client for the daemon at baseURL. token is
// the bearer token, empty when auth is disabled.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Stats fetches one stats snapshot.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stats", nil)
	if err != nil {
		return Stats{}, fmt.Errorf("building stats request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Stats{}, fmt.Errorf("stats returned %d", resp.StatusCode)
	}

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return Stats{}, fmt.Errorf("decoding stats: %w", err)
	}
	return stats, nil
}
