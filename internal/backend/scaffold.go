package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autoforge/internal/logging"
)

// ScaffoldBackend writes deterministic stub artifacts derived from the
// task text. It needs no external tooling, which makes it the default
// for gear 1 and for tests.
type ScaffoldBackend struct{}

// NewScaffoldBackend returns the built-in generator.
func NewScaffoldBackend() *ScaffoldBackend {
	return &ScaffoldBackend{}
}

func (s *ScaffoldBackend) Name() string { return "scaffold" }

func (s *ScaffoldBackend) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.OutputDir == "" {
		return nil, fmt.Errorf("scaffold backend needs an output dir")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	slug := taskSlug(req.TaskID)
	var wrote []string

	implName := slug + ".go"
	impl := renderImpl(req, slug)
	if err := os.WriteFile(filepath.Join(req.OutputDir, implName), []byte(impl), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", implName, err)
	}
	wrote = append(wrote, implName)

	testName := slug + "_test.go"
	test := renderTest(req, slug)
	if err := os.WriteFile(filepath.Join(req.OutputDir, testName), []byte(test), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", testName, err)
	}
	wrote = append(wrote, testName)

	files, err := collectFiles(req.OutputDir)
	if err != nil {
		return nil, err
	}
	logging.BackendDebug("scaffold generated %d files for %s (iteration %d)", len(wrote), req.TaskID, req.Iteration)
	return &Result{
		Files:   files,
		Summary: fmt.Sprintf("scaffolded %d files for %s", len(wrote), req.TaskID),
	}, nil
}

// taskSlug turns a task id into a file-name stem.
func taskSlug(taskID string) string {
	slug := strings.ToLower(strings.TrimPrefix(taskID, "task_"))
	slug = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, slug)
	if slug == "" {
		slug = "task"
	}
	return "task_" + slug
}

func renderImpl(req Request, slug string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// %s implements: %s\n", slug, req.Description)
	b.WriteString("//\n// Acceptance criteria:\n")
	for i, c := range req.AcceptanceCriteria {
		fmt.Fprintf(&b, "//  %d. %s\n", i+1, c)
	}
	if req.Iteration > 1 {
		fmt.Fprintf(&b, "//\n// Revision %d, addressing review feedback:\n", req.Iteration)
		for _, f := range req.Feedback {
			fmt.Fprintf(&b, "//  - %s\n", f)
		}
	}
	b.WriteString("package generated\n\n")
	fmt.Fprintf(&b, "// Run executes the behavior described above.\n")
	fmt.Fprintf(&b, "func Run() string {\n\treturn %q\n}\n", req.TaskID+" iteration "+fmt.Sprint(req.Iteration))
	return b.String()
}

func renderTest(req Request, slug string) string {
	var b strings.Builder
	b.WriteString("package generated\n\n")
	b.WriteString("import \"testing\"\n\n")
	fmt.Fprintf(&b, "func TestRun(t *testing.T) {\n")
	fmt.Fprintf(&b, "\tif Run() == \"\" {\n\t\tt.Fatal(\"expected output\")\n\t}\n}\n")
	return b.String()
}
