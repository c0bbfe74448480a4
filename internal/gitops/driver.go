// Package gitops wraps the git CLI for branch, commit, push, and pull
// request workflows. PR creation is idempotent per branch so a feedback
// iteration updates the existing PR instead of opening a second one.
package gitops

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"autoforge/internal/logging"
)

// PRSpec describes the pull request to open or update.
type PRSpec struct {
	Branch string
	Title  string
	Body   string
	Base   string
}

// PR identifies an opened pull request.
type PR struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
	Title  string `json:"title"`
}

// Driver is the git surface the techlead depends on.
type Driver interface {
	// EnsureRepo initializes the working directory as a repository if it
	// is not one already.
	EnsureRepo(ctx context.Context) error

	// CreateBranch creates name off the base branch, or switches to it
	// when it already exists.
	CreateBranch(ctx context.Context, name string) error

	// CommitAll stages everything and commits on branch, returning the
	// commit sha. An iteration with no file changes still commits.
	CommitAll(ctx context.Context, branch, message string) (string, error)

	// Push publishes branch to the configured remote. A driver with no
	// remote treats push as a no-op.
	Push(ctx context.Context, branch string) error

	// OpenPR opens a pull request for the branch, or returns the
	// existing one when the branch already has a PR.
	OpenPR(ctx context.Context, spec PRSpec) (PR, error)
}

// CLIDriver shells out to git. The PR registry lives in a JSON file under
// stateDir since there is no hosting forge to ask.
type CLIDriver struct {
	workDir  string
	remote   string
	base     string
	stateDir string

	mu sync.Mutex
}

// NewCLIDriver builds a driver for workDir. remote may be empty for a
// purely local workflow. stateDir holds the PR registry.
func NewCLIDriver(workDir, remote, baseBranch, stateDir string) (*CLIDriver, error) {
	if workDir == "" {
		return nil, fmt.Errorf("git work dir must not be empty")
	}
	if baseBranch == "" {
		baseBranch = "main"
	}
	if stateDir == "" {
		stateDir = workDir
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create git work dir: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create git state dir: %w", err)
	}
	return &CLIDriver{
		workDir:  workDir,
		remote:   remote,
		base:     baseBranch,
		stateDir: stateDir,
	}, nil
}

// WorkDir returns the repository path.
func (d *CLIDriver) WorkDir() string {
	return d.workDir
}

// runGit executes one git command in the work dir and returns trimmed
// combined output.
func (d *CLIDriver) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.workDir
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("git %s failed: %w (output: %s)", strings.Join(args, " "), err, text)
	}
	return text, nil
}

func (d *CLIDriver) EnsureRepo(ctx context.Context) error {
	if _, err := d.runGit(ctx, "rev-parse", "--git-dir"); err == nil {
		return nil
	}
	logging.GitDebug("initializing repository at %s", d.workDir)
	if _, err := d.runGit(ctx, "init", "-b", d.base); err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	// Generated commits need an identity; set a repo-local one so the
	// global git config is never touched.
	if _, err := d.runGit(ctx, "config", "user.email", "forge@localhost"); err != nil {
		return err
	}
	if _, err := d.runGit(ctx, "config", "user.name", "autoforge"); err != nil {
		return err
	}
	if _, err := d.runGit(ctx, "commit", "--allow-empty", "-m", "initial commit"); err != nil {
		return fmt.Errorf("failed to create initial commit: %w", err)
	}
	return nil
}

func (d *CLIDriver) CreateBranch(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("branch name must not be empty")
	}
	if _, err := d.runGit(ctx, "rev-parse", "--verify", "refs/heads/"+name); err == nil {
		_, err := d.runGit(ctx, "checkout", name)
		return err
	}
	if _, err := d.runGit(ctx, "checkout", "-b", name, d.base); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	logging.GitDebug("created branch %s off %s", name, d.base)
	return nil
}

func (d *CLIDriver) CommitAll(ctx context.Context, branch, message string) (string, error) {
	if _, err := d.runGit(ctx, "checkout", branch); err != nil {
		return "", err
	}
	if _, err := d.runGit(ctx, "add", "-A"); err != nil {
		return "", err
	}
	// --allow-empty keeps a no-change iteration moving instead of
	// failing the whole task.
	if _, err := d.runGit(ctx, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	sha, err := d.runGit(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	logging.GitDebug("committed %s on %s", shortSHA(sha), branch)
	return sha, nil
}

func (d *CLIDriver) Push(ctx context.Context, branch string) error {
	if d.remote == "" {
		logging.GitDebug("no remote configured, skipping push of %s", branch)
		return nil
	}
	if _, err := d.runGit(ctx, "push", "-u", d.remote, branch); err != nil {
		return fmt.Errorf("failed to push %s: %w", branch, err)
	}
	return nil
}

// prRegistry is the persisted PR state for one repository.
type prRegistry struct {
	Next     int           `json:"next"`
	ByBranch map[string]PR `json:"by_branch"`
}

func (d *CLIDriver) registryPath() string {
	return filepath.Join(d.stateDir, "prs.json")
}

func (d *CLIDriver) loadRegistry() (*prRegistry, error) {
	reg := &prRegistry{Next: 1, ByBranch: map[string]PR{}}
	data, err := os.ReadFile(d.registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("failed to read PR registry: %w", err)
	}
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("failed to parse PR registry: %w", err)
	}
	if reg.ByBranch == nil {
		reg.ByBranch = map[string]PR{}
	}
	if reg.Next < 1 {
		reg.Next = 1
	}
	return reg, nil
}

func (d *CLIDriver) saveRegistry(reg *prRegistry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal PR registry: %w", err)
	}
	if err := os.WriteFile(d.registryPath(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write PR registry: %w", err)
	}
	return nil
}

func (d *CLIDriver) OpenPR(ctx context.Context, spec PRSpec) (PR, error) {
	if spec.Branch == "" {
		return PR{}, fmt.Errorf("PR branch must not be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	reg, err := d.loadRegistry()
	if err != nil {
		return PR{}, err
	}
	if existing, ok := reg.ByBranch[spec.Branch]; ok {
		logging.GitDebug("branch %s already has PR #%d, reusing", spec.Branch, existing.Number)
		return existing, nil
	}

	pr := PR{
		Number: reg.Next,
		URL:    fmt.Sprintf("forge://%s/pull/%d", filepath.Base(d.workDir), reg.Next),
		Branch: spec.Branch,
		Title:  spec.Title,
	}
	reg.Next++
	reg.ByBranch[spec.Branch] = pr
	if err := d.saveRegistry(reg); err != nil {
		return PR{}, err
	}
	logging.GitDebug("opened PR #%d for %s", pr.Number, spec.Branch)
	return pr, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
