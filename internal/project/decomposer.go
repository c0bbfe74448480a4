package project

import (
	"fmt"
	"strings"
	"time"

	"autoforge/internal/logging"
)

// Decomposer turns a requirement into an ordered task list. Every task
// comes back pending with at least one acceptance criterion.
type Decomposer interface {
	Decompose(requirement string) ([]Task, error)
}

// HeuristicDecomposer splits a requirement into an implementation task,
// a testing task, and optionally a documentation task. It is fully
// deterministic so repeated runs over the same requirement produce the
// same plan.
type HeuristicDecomposer struct {
	// IncludeDocs forces a documentation task even when the requirement
	// never mentions docs.
	IncludeDocs bool
}

// NewHeuristicDecomposer returns a decomposer with docs driven by the
// requirement text.
func NewHeuristicDecomposer() *HeuristicDecomposer {
	return &HeuristicDecomposer{}
}

var docKeywords = []string{"document", "docs", "readme", "guide", "manual"}

func (d *HeuristicDecomposer) Decompose(requirement string) ([]Task, error) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, fmt.Errorf("cannot decompose an empty requirement")
	}

	now := time.Now().UTC()
	clauses := splitClauses(requirement)

	criteria := make([]string, 0, len(clauses)+1)
	for _, clause := range clauses {
		criteria = append(criteria, "Implements: "+clause)
	}
	criteria = append(criteria, "Produces at least one source file")

	tasks := []Task{
		{
			ID:                 "task_001",
			Description:        "Implement: " + requirement,
			AcceptanceCriteria: criteria,
			Status:             TaskPending,
			CreatedAt:          now,
		},
		{
			ID:          "task_002",
			Description: "Add automated tests for: " + requirement,
			AcceptanceCriteria: []string{
				"Tests cover the implemented behavior",
				"Produces at least one test file",
			},
			Status:    TaskPending,
			CreatedAt: now,
		},
	}

	if d.IncludeDocs || mentionsAny(requirement, docKeywords) {
		tasks = append(tasks, Task{
			ID:          "task_003",
			Description: "Write documentation for: " + requirement,
			AcceptanceCriteria: []string{
				"Documentation describes usage and behavior",
			},
			Status:    TaskPending,
			CreatedAt: now,
		})
	}

	logging.ProjectDebug("decomposed requirement into %d tasks", len(tasks))
	return tasks, nil
}

// splitClauses breaks a requirement into sentence-level clauses, further
// splitting on coordinating "and" so compound requirements yield one
// criterion per feature.
func splitClauses(requirement string) []string {
	var clauses []string
	for _, sentence := range strings.FieldsFunc(requirement, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	}) {
		for _, part := range strings.Split(sentence, " and ") {
			part = strings.TrimSpace(part)
			if part != "" {
				clauses = append(clauses, part)
			}
		}
	}
	if len(clauses) == 0 {
		clauses = []string{requirement}
	}
	return clauses
}

func mentionsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
