package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"autoforge/internal/logging"
)

// Analyzer inspects a target and reports findings for its concern.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, target Target) ([]Improvement, error)
}

// Pipeline fans analyzers out concurrently, collects their findings,
// deduplicates, and returns them in presentation order.
type Pipeline struct {
	analyzers []Analyzer
}

// NewPipeline wires the default analyzer set.
func NewPipeline() *Pipeline {
	return &Pipeline{
		analyzers: []Analyzer{
			&PerformanceAnalyzer{},
			&CodeQualityAnalyzer{},
			&TestingAnalyzer{},
			&DocumentationAnalyzer{},
			&UXAnalyzer{},
			&ArchitectureAnalyzer{},
		},
	}
}

// NewPipelineWith builds a pipeline over an explicit analyzer set.
func NewPipelineWith(analyzers ...Analyzer) *Pipeline {
	return &Pipeline{analyzers: analyzers}
}

// AnalyzerNames lists the wired analyzers in registration order.
func (p *Pipeline) AnalyzerNames() []string {
	names := make([]string, len(p.analyzers))
	for i, a := range p.analyzers {
		names[i] = a.Name()
	}
	return names
}

// Run executes every analyzer against the target. A failing or panicking
// analyzer is logged and skipped; the rest still contribute. Findings
// with invalid fields are dropped.
func (p *Pipeline) Run(ctx context.Context, target Target) ([]Improvement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var collected []Improvement

	g, gctx := errgroup.WithContext(ctx)
	for _, analyzer := range p.analyzers {
		analyzer := analyzer
		g.Go(func() error {
			findings, err := runAnalyzer(gctx, analyzer, target)
			if err != nil {
				logging.AnalysisWarn("analyzer %s failed, skipping: %v", analyzer.Name(), err)
				return nil
			}
			valid := findings[:0]
			for i := range findings {
				findings[i].AnalyzerSource = analyzer.Name()
				if verr := findings[i].Validate(); verr != nil {
					logging.AnalysisWarn("dropping invalid finding: %v", verr)
					continue
				}
				valid = append(valid, findings[i])
			}
			mu.Lock()
			collected = append(collected, valid...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	deduped := dedupe(sorted(collected))
	for i := range deduped {
		deduped[i].ID = fmt.Sprintf("imp_%03d", i+1)
		deduped[i].CreatedAt = now
	}
	logging.AnalysisDebug("pipeline produced %d findings (%d before dedup) for project %s",
		len(deduped), len(collected), target.ProjectID)
	return deduped, nil
}

// runAnalyzer converts an analyzer panic into an error so one bad
// analyzer cannot take down the cycle.
func runAnalyzer(ctx context.Context, a Analyzer, target Target) (findings []Improvement, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			err = fmt.Errorf("analyzer panicked: %v", r)
		}
	}()
	return a.Analyze(ctx, target)
}

// sorted orders findings by priority (high first), then analyzer name,
// then target file, line, and title so the output is stable.
func sorted(findings []Improvement) []Improvement {
	out := make([]Improvement, len(findings))
	copy(out, findings)
	sort.Slice(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if priorityRank[a.Priority] != priorityRank[b.Priority] {
			return priorityRank[a.Priority] < priorityRank[b.Priority]
		}
		if a.AnalyzerSource != b.AnalyzerSource {
			return a.AnalyzerSource < b.AnalyzerSource
		}
		if a.TargetFile != b.TargetFile {
			return a.TargetFile < b.TargetFile
		}
		if a.TargetLine != b.TargetLine {
			return a.TargetLine < b.TargetLine
		}
		return a.Title < b.Title
	})
	return out
}

// dedupe keeps the first occurrence of each (analyzer, file, line,
// title) tuple. Input must already be sorted so "first" is stable.
func dedupe(findings []Improvement) []Improvement {
	seen := make(map[string]bool, len(findings))
	out := findings[:0]
	for i := range findings {
		key := findings[i].Fingerprint()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, findings[i])
	}
	return out
}
