package project

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDecomposeEmptyRequirement(t *testing.T) {
	d := NewHeuristicDecomposer()
	for _, req := range []string{"", "   ", "\n\t"} {
		if _, err := d.Decompose(req); err == nil {
			t.Errorf("Decompose(%q) should fail", req)
		}
	}
}

func TestDecomposeBasicPlan(t *testing.T) {
	d := NewHeuristicDecomposer()
	tasks, err := d.Decompose("build a url shortener")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2 (implement + test)", len(tasks))
	}

	impl := tasks[0]
	if impl.ID != "task_001" {
		t.Errorf("first task id = %q, want task_001", impl.ID)
	}
	if impl.Status != TaskPending {
		t.Errorf("first task status = %s, want pending", impl.Status)
	}
	if !strings.HasPrefix(impl.Description, "Implement: ") {
		t.Errorf("first task description = %q", impl.Description)
	}
	wantCriteria := []string{
		"Implements: build a url shortener",
		"Produces at least one source file",
	}
	if diff := cmp.Diff(wantCriteria, impl.AcceptanceCriteria); diff != "" {
		t.Errorf("implementation criteria mismatch (-want +got):\n%s", diff)
	}

	test := tasks[1]
	if test.ID != "task_002" {
		t.Errorf("second task id = %q, want task_002", test.ID)
	}
	if !strings.HasPrefix(test.Description, "Add automated tests for: ") {
		t.Errorf("second task description = %q", test.Description)
	}
	if len(test.AcceptanceCriteria) == 0 {
		t.Error("every task needs at least one acceptance criterion")
	}
}

func TestDecomposeClauseSplitting(t *testing.T) {
	tests := []struct {
		name        string
		requirement string
		wantClauses []string
	}{
		{
			name:        "single clause",
			requirement: "build a cache",
			wantClauses: []string{"Implements: build a cache"},
		},
		{
			name:        "sentences",
			requirement: "Parse the config. Validate it.",
			wantClauses: []string{"Implements: Parse the config", "Implements: Validate it"},
		},
		{
			name:        "coordinating and",
			requirement: "parse flags and load the config",
			wantClauses: []string{"Implements: parse flags", "Implements: load the config"},
		},
		{
			name:        "semicolons and newlines",
			requirement: "fetch urls;\ndeduplicate them",
			wantClauses: []string{"Implements: fetch urls", "Implements: deduplicate them"},
		},
	}

	d := NewHeuristicDecomposer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := d.Decompose(tt.requirement)
			if err != nil {
				t.Fatalf("Decompose failed: %v", err)
			}
			got := tasks[0].AcceptanceCriteria
			want := append(append([]string{}, tt.wantClauses...), "Produces at least one source file")
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("criteria mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecomposeDocsTask(t *testing.T) {
	tests := []struct {
		name        string
		requirement string
		includeDocs bool
		wantDocs    bool
	}{
		{"no docs mention", "build a parser", false, false},
		{"readme keyword", "build a parser with a README", false, true},
		{"document keyword", "document the API surface", false, true},
		{"guide keyword", "write a user guide for the CLI", false, true},
		{"forced by config", "build a parser", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &HeuristicDecomposer{IncludeDocs: tt.includeDocs}
			tasks, err := d.Decompose(tt.requirement)
			if err != nil {
				t.Fatalf("Decompose failed: %v", err)
			}
			hasDocs := len(tasks) == 3 && tasks[2].ID == "task_003"
			if hasDocs != tt.wantDocs {
				t.Errorf("docs task present = %v, want %v (%d tasks)", hasDocs, tt.wantDocs, len(tasks))
			}
			if tt.wantDocs && !strings.HasPrefix(tasks[2].Description, "Write documentation for: ") {
				t.Errorf("docs description = %q", tasks[2].Description)
			}
		})
	}
}

func TestDecomposeIsDeterministic(t *testing.T) {
	d := NewHeuristicDecomposer()
	first, err := d.Decompose("build a scheduler and add a REST API")
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Decompose("build a scheduler and add a REST API")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(Task{}, "CreatedAt")); diff != "" {
		t.Errorf("repeated decomposition differs (-first +second):\n%s", diff)
	}
}
