package analysis

import (
	"math"
	"sort"

	"autoforge/internal/logging"
)

// Coefficients feeding the priority score. Category reflects how much
// the concern matters to a generated codebase, impact scales it up, and
// effort divides it down so cheap wins float to the top.
var (
	categoryCoefficients = map[Category]float64{
		CategoryPerformance:   0.9,
		CategoryTesting:       0.85,
		CategoryCodeQuality:   0.8,
		CategoryArchitecture:  0.75,
		CategoryUX:            0.6,
		CategoryDocumentation: 0.5,
	}
	impactCoefficients = map[Impact]float64{
		ImpactCritical: 2.0,
		ImpactHigh:     1.5,
		ImpactMedium:   1.0,
		ImpactLow:      0.5,
	}
	effortDivisors = map[Effort]float64{
		EffortTrivial: 0.5,
		EffortSmall:   1.0,
		EffortMedium:  1.5,
		EffortLarge:   2.5,
	}
)

// Ranked pairs a finding with its computed priority score.
type Ranked struct {
	Improvement
	PriorityScore float64 `json:"priority_score"`
}

// Engine ranks findings and selects the batch worth acting on.
type Engine struct {
	maxImprovements int
}

// NewEngine builds an engine selecting at most max findings per cycle.
// Non-positive max falls back to 1.
func NewEngine(max int) *Engine {
	if max <= 0 {
		max = 1
	}
	return &Engine{maxImprovements: max}
}

// Score computes category x impact / effort, rounded to 4 decimals.
// Unknown enum values rate zero so malformed findings sink.
func Score(imp *Improvement) float64 {
	c := categoryCoefficients[imp.Category]
	i := impactCoefficients[imp.Impact]
	e := effortDivisors[imp.Effort]
	if e == 0 {
		return 0
	}
	return math.Round(c*i/e*10000) / 10000
}

// Rank scores every finding and orders them best first, breaking score
// ties by improvement id so ranking is total.
func (e *Engine) Rank(findings []Improvement) []Ranked {
	ranked := make([]Ranked, len(findings))
	for i := range findings {
		ranked[i] = Ranked{Improvement: findings[i], PriorityScore: Score(&findings[i])}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].PriorityScore != ranked[j].PriorityScore {
			return ranked[i].PriorityScore > ranked[j].PriorityScore
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

// Select returns the top findings, at most the engine's configured
// batch size.
func (e *Engine) Select(findings []Improvement) []Ranked {
	ranked := e.Rank(findings)
	if len(ranked) > e.maxImprovements {
		ranked = ranked[:e.maxImprovements]
	}
	if len(ranked) > 0 {
		logging.AnalysisDebug("selected %d of %d findings (top: %q score=%.4f)",
			len(ranked), len(findings), ranked[0].Title, ranked[0].PriorityScore)
	}
	return ranked
}
