// Package analysis inspects a project's generated workspace for
// improvement opportunities and ranks them. Findings are advisory; a
// failing analyzer never fails the cycle that ran it.
package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category groups findings by the concern they touch.
type Category string

const (
	CategoryPerformance   Category = "performance"
	CategoryCodeQuality   Category = "code_quality"
	CategoryTesting       Category = "testing"
	CategoryDocumentation Category = "documentation"
	CategoryUX            Category = "ux"
	CategoryArchitecture  Category = "architecture"
)

// Priority orders findings for presentation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// priorityRank maps priority to sort order, high first.
var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Impact estimates how much a fix would matter.
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactHigh     Impact = "high"
	ImpactMedium   Impact = "medium"
	ImpactLow      Impact = "low"
)

// Effort estimates how much work a fix would take.
type Effort string

const (
	EffortTrivial Effort = "trivial"
	EffortSmall   Effort = "small"
	EffortMedium  Effort = "medium"
	EffortLarge   Effort = "large"
)

var (
	validCategories = map[Category]bool{
		CategoryPerformance: true, CategoryCodeQuality: true, CategoryTesting: true,
		CategoryDocumentation: true, CategoryUX: true, CategoryArchitecture: true,
	}
	validPriorities = map[Priority]bool{
		PriorityHigh: true, PriorityMedium: true, PriorityLow: true,
	}
	validImpacts = map[Impact]bool{
		ImpactCritical: true, ImpactHigh: true, ImpactMedium: true, ImpactLow: true,
	}
	validEfforts = map[Effort]bool{
		EffortTrivial: true, EffortSmall: true, EffortMedium: true, EffortLarge: true,
	}
)

// Improvement is one actionable finding.
type Improvement struct {
	ID             string   `json:"id"`
	AnalyzerSource string   `json:"analyzer_source"`
	Category       Category `json:"category"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	// ProposedChange says what to do; Rationale says what it buys.
	ProposedChange string    `json:"proposed_change,omitempty"`
	Rationale      string    `json:"rationale,omitempty"`
	TargetFile     string    `json:"target_file,omitempty"`
	TargetLine     int       `json:"target_line,omitempty"`
	Priority       Priority  `json:"priority"`
	Impact         Impact    `json:"impact"`
	Effort         Effort    `json:"effort"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate rejects findings with out-of-enum fields or a missing title.
func (imp *Improvement) Validate() error {
	if strings.TrimSpace(imp.Title) == "" {
		return fmt.Errorf("improvement from %s has no title", imp.AnalyzerSource)
	}
	if !validCategories[imp.Category] {
		return fmt.Errorf("improvement %q: unknown category %q", imp.Title, imp.Category)
	}
	if !validPriorities[imp.Priority] {
		return fmt.Errorf("improvement %q: unknown priority %q", imp.Title, imp.Priority)
	}
	if !validImpacts[imp.Impact] {
		return fmt.Errorf("improvement %q: unknown impact %q", imp.Title, imp.Impact)
	}
	if !validEfforts[imp.Effort] {
		return fmt.Errorf("improvement %q: unknown effort %q", imp.Title, imp.Effort)
	}
	return nil
}

// Fingerprint identifies a finding independent of which run produced
// it: ids are assigned per run, the fingerprint is not.
func (imp *Improvement) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%d|%s", imp.AnalyzerSource, imp.TargetFile, imp.TargetLine, imp.Title)
}

// Target is the material analyzers inspect: the workspace snapshot plus
// enough project context to judge coverage.
type Target struct {
	ProjectID   string
	Requirement string
	// Files maps workspace-relative paths to contents.
	Files map[string]string
}

// SortedPaths returns the target's paths in stable order.
func (t *Target) SortedPaths() []string {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
