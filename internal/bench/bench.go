// Package bench measures generation throughput against the inference
// server. Requests go straight through the LLM client and nothing is
// persisted, so the numbers reflect the server alone.
package bench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/logging"
)

// Streamer is the slice of the LLM client the benchmark drives.
// *llm.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, <-chan error)
	Model() string
}

// Options control a benchmark run. Prompts are cycled round-robin
// across requests.
type Options struct {
	Requests    int
	Concurrency int
	Prompts     []string
}

// Sample is the measurement of a single request. TTFT is zero when the
// stream errored before the first token.
type Sample struct {
	TTFT     time.Duration
	Duration time.Duration
	Tokens   int
	Err      error
}

// Dist summarizes one metric across the successful samples.
type Dist struct {
	Min  float64
	Mean float64
	P95  float64
}

// Summary aggregates a finished run.
type Summary struct {
	Model        string
	Requests     int
	Failures     int
	Concurrency  int
	Elapsed      time.Duration
	TotalTokens  int
	TTFTMs       Dist
	TokensPerSec Dist
}

// OverallRate is the aggregate throughput: every streamed token over
// the wall-clock duration of the whole run.
func (s *Summary) OverallRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.TotalTokens) / s.Elapsed.Seconds()
}

// Runner executes benchmark requests with bounded parallelism.
type Runner struct {
	llm    Streamer
	opts   Options
	logger *logging.Logger
}

// NewRunner validates the options and builds a runner. Requests and
// Concurrency are clamped to at least one; at least one prompt is
// required.
func NewRunner(s Streamer, opts Options, logger *logging.Logger) (*Runner, error) {
	if s == nil {
		return nil, errors.New("bench: streamer is required")
	}
	if len(opts.Prompts) == 0 {
		return nil, errors.New("bench: at least one prompt is required")
	}
	if opts.Requests < 1 {
		opts.Requests = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > opts.Requests {
		opts.Concurrency = opts.Requests
	}
	return &Runner{llm: s, opts: opts, logger: logger.Named("bench")}, nil
}

// Run drives the configured number of requests and aggregates the
// samples. Cancelling the context aborts in-flight streams; aborted
// requests count as failures.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	r.logger.Info(ctx, "benchmark starting",
		zap.Int("requests", r.opts.Requests),
		zap.Int("concurrency", r.opts.Concurrency),
		zap.String("model", r.llm.Model()))

	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	samples := make([]Sample, r.opts.Requests)

	start := time.Now()
	for i := range samples {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				samples[i] = Sample{Err: ctx.Err()}
				return
			}

			prompt := r.opts.Prompts[i%len(r.opts.Prompts)]
			samples[i] = r.one(ctx, prompt)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	sum := summarize(r.llm.Model(), r.opts.Concurrency, samples, elapsed)
	r.logger.Info(ctx, "benchmark finished",
		zap.Int("requests", sum.Requests),
		zap.Int("failures", sum.Failures),
		zap.Int("tokens", sum.TotalTokens),
		zap.Duration("elapsed", elapsed))

	if sum.Failures == sum.Requests {
		return sum, errors.New("bench: every request failed")
	}
	return sum, nil
}

// one streams a single prompt and times it. The server's token
// accounting is preferred when the final chunk carries usage; the
// per-delta count is the fallback.
func (r *Runner) one(ctx context.Context, prompt string) Sample {
	start := time.Now()
	deltas, errs := r.llm.Stream(ctx, []llm.Message{{Role: "user", Content: prompt}})

	var s Sample
	var firstToken time.Time
	var usage *llm.Usage
	for d := range deltas {
		if d.Usage != nil {
			u := *d.Usage
			usage = &u
		}
		if d.Content == "" {
			continue
		}
		if firstToken.IsZero() {
			firstToken = time.Now()
		}
		s.Tokens++
	}
	if err := <-errs; err != nil {
		s.Err = err
	}

	s.Duration = time.Since(start)
	if !firstToken.IsZero() {
		s.TTFT = firstToken.Sub(start)
	}
	if usage != nil && usage.CompletionTokens > 0 {
		s.Tokens = usage.CompletionTokens
	}
	if s.Err != nil {
		r.logger.Debug(ctx, "benchmark request failed", zap.Error(s.Err))
	}
	return s
}

func summarize(model string, concurrency int, samples []Sample, elapsed time.Duration) *Summary {
	sum := &Summary{
		Model:       model,
		Requests:    len(samples),
		Concurrency: concurrency,
		Elapsed:     elapsed,
	}

	var ttfts, rates []float64
	for _, s := range samples {
		if s.Err != nil {
			sum.Failures++
			continue
		}
		sum.TotalTokens += s.Tokens
		ttfts = append(ttfts, float64(s.TTFT.Microseconds())/1000.0)
		if secs := s.Duration.Seconds(); secs > 0 {
			rates = append(rates, float64(s.Tokens)/secs)
		}
	}
	sum.TTFTMs = dist(ttfts)
	sum.TokensPerSec = dist(rates)
	return sum
}

// dist computes min, mean, and the 95th percentile of a sample set.
func dist(values []float64) Dist {
	if len(values) == 0 {
		return Dist{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return Dist{
		Min:  sorted[0],
		Mean: total / float64(len(sorted)),
		P95:  sorted[idx],
	}
}

// LoadPrompts reads one prompt per line, skipping blank lines and
// lines starting with '#'.
func LoadPrompts(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}
	var prompts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("prompts file %s has no prompts", path)
	}
	return prompts, nil
}
