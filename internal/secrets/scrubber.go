package secrets

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kilnworks/loom/internal/config"
)

// Scrubber redacts secrets from text bound for the model. Scrub
// returns the redacted text and the number of findings replaced.
type Scrubber interface {
	Scrub(content string) (string, int)
}

// Nop is a Scrubber that passes content through untouched. Used when
// outbound scrubbing is disabled.
type Nop struct{}

// Scrub returns content unchanged.
func (Nop) Scrub(content string) (string, int) {
	return content, 0
}

var (
	metricsOnce sync.Once
	findingsVec *prometheus.CounterVec
)

func registerMetrics() {
	metricsOnce.Do(func() {
		findingsVec = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_scrub_findings_total",
			Help: "Secrets redacted from outbound model traffic, by rule.",
		}, []string{"rule"})
	})
}

type scrubber struct {
	detector *Detector
}

// New builds a Scrubber from security config. When scrubbing is
// disabled the returned Scrubber is a Nop; otherwise the detector is
// built once here with the configured allowlist merged in.
func New(cfg config.SecurityConfig) (Scrubber, error) {
	if !cfg.ScrubOutbound {
		return Nop{}, nil
	}

	allowlist, err := LoadAllowlist(cfg.ScrubAllowlist)
	if err != nil {
		return nil, err
	}
	detector, err := NewDetector(allowlist)
	if err != nil {
		return nil, err
	}

	registerMetrics()
	return &scrubber{detector: detector}, nil
}

// Scrub replaces each finding with a [REDACTED:<rule>] marker. Markers
// keep the line structure intact so surrounding context still reads
// naturally to the model.
func (s *scrubber) Scrub(content string) (string, int) {
	findings := s.detector.Detect(content)
	if len(findings) == 0 {
		return content, 0
	}

	for _, f := range findings {
		findingsVec.WithLabelValues(f.RuleID).Inc()
	}
	return replaceFindings(content, findings), len(findings)
}

// replaceFindings replaces secrets with redaction markers, working
// backwards through the findings so earlier positions stay valid.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")

	for _, finding := range sorted {
		if finding.Line < 1 || finding.Line > len(lines) {
			continue
		}
		line := lines[finding.Line-1]

		marker := "[REDACTED:" + finding.RuleID + "]"
		if finding.StartCol >= 0 && finding.EndCol <= len(line) {
			lines[finding.Line-1] = line[:finding.StartCol] + marker + line[finding.EndCol:]
		}
	}

	return strings.Join(lines, "\n")
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Nop{}
)
