// Package testdata provides utilities for generating sample metrics data
// to test Grafana dashboards without using real production data.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric families mirror what loomd registers so dashboards built
// against this data work unchanged against a real daemon.
var (
	// Chat metrics
	chatSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_chat_sessions_total",
			Help: "Finished chat generations, by finish reason.",
		},
		[]string{"finish_reason"},
	)
	chatActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_chat_active_sessions",
			Help: "Generations currently in flight.",
		},
	)

	// Cache metrics
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)
	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_cache_evictions_total",
			Help: "Total number of cache entries evicted by LRU",
		},
		[]string{"cache"},
	)
	cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loom_cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache"},
	)

	// Scrubber metrics
	scrubFindings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_scrub_findings_total",
			Help: "Secrets redacted from outbound model traffic, by rule.",
		},
		[]string{"rule"},
	)
)

func init() {
	prometheus.MustRegister(
		chatSessions,
		chatActiveSessions,
		cacheHits,
		cacheMisses,
		cacheEvictions,
		cacheEntries,
		scrubFindings,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	generateSampleData()

	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: nil,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'loom-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func generateSampleData() {
	caches := []string{"projects", "conversations"}
	rules := []string{"aws-access-token", "github-pat", "generic-api-key", "private-key"}

	// Finished generations skew heavily toward clean stops.
	for i := 0; i < 200; i++ {
		chatSessions.WithLabelValues(weightedFinishReason()).Inc()
	}
	chatActiveSessions.Set(float64(rand.Intn(3)))

	// Warm caches: hit rates around 80% with a few evictions.
	for i := 0; i < 500; i++ {
		cache := randomChoice(caches)
		if rand.Float64() < 0.8 {
			cacheHits.WithLabelValues(cache).Inc()
		} else {
			cacheMisses.WithLabelValues(cache).Inc()
		}
	}
	for i := 0; i < 10; i++ {
		cacheEvictions.WithLabelValues(randomChoice(caches)).Inc()
	}
	for _, cache := range caches {
		cacheEntries.WithLabelValues(cache).Set(float64(rand.Intn(200) + 20))
	}

	// Occasional redactions in outbound prompts.
	for i := 0; i < 12; i++ {
		scrubFindings.WithLabelValues(randomChoice(rules)).Inc()
	}
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	caches := []string{"projects", "conversations"}
	rules := []string{"aws-access-token", "github-pat", "generic-api-key", "private-key"}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rand.Float64() > 0.4 {
				chatSessions.WithLabelValues(weightedFinishReason()).Inc()
			}
			chatActiveSessions.Set(float64(rand.Intn(4)))

			for i := 0; i < rand.Intn(10); i++ {
				cache := randomChoice(caches)
				if rand.Float64() < 0.8 {
					cacheHits.WithLabelValues(cache).Inc()
				} else {
					cacheMisses.WithLabelValues(cache).Inc()
				}
			}
			for _, cache := range caches {
				cacheEntries.WithLabelValues(cache).Add(float64(rand.Intn(3) - 1))
			}

			if rand.Float64() > 0.9 {
				scrubFindings.WithLabelValues(randomChoice(rules)).Inc()
			}
		}
	}
}

func weightedFinishReason() string {
	r := rand.Float64()
	switch {
	case r < 0.85:
		return "stop"
	case r < 0.92:
		return "cancelled"
	case r < 0.97:
		return "length"
	default:
		return "error"
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
