package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Delta is one streamed fragment of a completion. FinishReason is empty
// until the final fragment; Usage is non-nil only on the chunk that
// carries the token accounting, which servers send at the end.
type Delta struct {
	Content      string
	FinishReason string
	Usage        *Usage
}

type streamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
	Error   *apiError      `json:"error,omitempty"`
}

// Stream generates a completion as a channel of deltas. Both returned
// channels close when generation ends; at most one error is delivered.
// Cancelling the context aborts the upstream request and ends the
// stream with ctx.Err().
//
// The initial request retries transient failures like Complete does,
// but once tokens start flowing any error is terminal.
func (c *Client) Stream(ctx context.Context, messages []Message) (<-chan Delta, <-chan error) {
	deltaChan := make(chan Delta, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(deltaChan)
		defer close(errChan)

		if err := c.limiter.Wait(ctx); err != nil {
			errChan <- fmt.Errorf("rate limiter error: %w", err)
			return
		}

		req := chatRequest{
			Model:         c.model,
			Messages:      messages,
			MaxTokens:     c.maxTokens,
			Temperature:   c.temperature,
			Stream:        true,
			StreamOptions: &streamOptions{IncludeUsage: true},
		}
		jsonData, err := json.Marshal(req)
		if err != nil {
			errChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		resp, err := c.openStream(ctx, jsonData)
		if err != nil {
			errChan <- err
			return
		}
		defer resp.Body.Close()

		c.scanStream(ctx, resp.Body, deltaChan, errChan)
	}()

	return deltaChan, errChan
}

// openStream sends the streaming request, retrying transient setup
// failures with the same backoff schedule as Complete.
func (c *Client) openStream(ctx context.Context, jsonData []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			c.logger.Debug(ctx, "retrying stream setup",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(httpReq)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("inference server request failed: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
			continue
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// scanStream reads SSE lines from body and forwards deltas until the
// [DONE] sentinel, a scan error, or context cancellation.
func (c *Client) scanStream(ctx context.Context, body io.ReadCloser, deltaChan chan<- Delta, errChan chan<- error) {
	scanDone := make(chan struct{})
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(scanDone)

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Debug(ctx, "skipping malformed stream chunk", zap.Error(err))
				continue
			}
			if chunk.Error != nil {
				scanErrChan <- fmt.Errorf("API error: %s", chunk.Error.Message)
				return
			}

			delta := Delta{Usage: chunk.Usage}
			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]
				delta.Content = choice.Delta.Content
				if choice.FinishReason != nil {
					delta.FinishReason = *choice.FinishReason
				}
			}
			if delta.Content == "" && delta.FinishReason == "" && delta.Usage == nil {
				continue
			}

			select {
			case deltaChan <- delta:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErrChan <- fmt.Errorf("stream read error: %w", err)
		}
	}()

	select {
	case <-scanDone:
		select {
		case err := <-scanErrChan:
			errChan <- err
		default:
		}
	case <-ctx.Done():
		// Unblock the scanner goroutine, then wait for it.
		body.Close()
		<-scanDone
		errChan <- ctx.Err()
	}
}
