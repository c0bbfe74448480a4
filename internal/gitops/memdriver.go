package gitops

import (
	"context"
	"fmt"
	"sync"
)

// MemDriver is an in-memory Driver used by tests and dry runs. Each op
// records its calls and can be forced to fail through the Err fields.
type MemDriver struct {
	mu sync.Mutex

	Branches []string
	Commits  map[string][]string
	Pushed   map[string]int
	PRs      map[string]PR

	nextPR    int
	commitSeq int
	ErrBranch error
	ErrCommit error
	ErrPush   error
	ErrOpenPR error
	ErrEnsure error
}

// NewMemDriver returns an empty in-memory driver.
func NewMemDriver() *MemDriver {
	return &MemDriver{
		Commits: map[string][]string{},
		Pushed:  map[string]int{},
		PRs:     map[string]PR{},
		nextPR:  1,
	}
}

func (m *MemDriver) EnsureRepo(ctx context.Context) error {
	return m.ErrEnsure
}

func (m *MemDriver) CreateBranch(ctx context.Context, name string) error {
	if m.ErrBranch != nil {
		return m.ErrBranch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.Branches {
		if b == name {
			return nil
		}
	}
	m.Branches = append(m.Branches, name)
	return nil
}

func (m *MemDriver) CommitAll(ctx context.Context, branch, message string) (string, error) {
	if m.ErrCommit != nil {
		return "", m.ErrCommit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitSeq++
	m.Commits[branch] = append(m.Commits[branch], message)
	return fmt.Sprintf("%040d", m.commitSeq), nil
}

func (m *MemDriver) Push(ctx context.Context, branch string) error {
	if m.ErrPush != nil {
		return m.ErrPush
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pushed[branch]++
	return nil
}

func (m *MemDriver) OpenPR(ctx context.Context, spec PRSpec) (PR, error) {
	if m.ErrOpenPR != nil {
		return PR{}, m.ErrOpenPR
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.PRs[spec.Branch]; ok {
		return existing, nil
	}
	pr := PR{
		Number: m.nextPR,
		URL:    fmt.Sprintf("forge://mem/pull/%d", m.nextPR),
		Branch: spec.Branch,
		Title:  spec.Title,
	}
	m.nextPR++
	m.PRs[spec.Branch] = pr
	return pr, nil
}

// PRCount returns how many PRs were opened.
func (m *MemDriver) PRCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PRs)
}
