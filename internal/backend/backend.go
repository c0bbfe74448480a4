// Package backend generates task artifacts. The scaffold backend is the
// deterministic built-in; the command backend delegates to an external
// code generator fed through stdin.
package backend

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Request carries everything a backend needs to produce artifacts for
// one task iteration.
type Request struct {
	TaskID             string
	Description        string
	AcceptanceCriteria []string
	Feedback           []string
	Iteration          int
	OutputDir          string
}

// Result lists what the backend produced. Files are relative to the
// request's output dir, sorted.
type Result struct {
	Files   []string
	Summary string
}

// Backend turns a task request into files on disk.
type Backend interface {
	Name() string
	Execute(ctx context.Context, req Request) (*Result, error)
}

// BuildPrompt renders the request as the text handed to a generator.
// Acceptance criteria are numbered so feedback can reference them, and
// review feedback from the previous round comes last.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s (iteration %d)\n\n", req.TaskID, req.Iteration)
	fmt.Fprintf(&b, "%s\n\n", req.Description)
	b.WriteString("Acceptance criteria:\n")
	for i, c := range req.AcceptanceCriteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	if len(req.Feedback) > 0 {
		b.WriteString("\nReview feedback to address:\n")
		for _, f := range req.Feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

// collectFiles walks dir and returns every regular file as a sorted
// dir-relative path.
func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan output dir %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
