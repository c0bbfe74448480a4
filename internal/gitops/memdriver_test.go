package gitops

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMemDriverBranchIdempotent(t *testing.T) {
	m := NewMemDriver()
	ctx := context.Background()

	if err := m.CreateBranch(ctx, "forge/task_001"); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}
	if err := m.CreateBranch(ctx, "forge/task_001"); err != nil {
		t.Fatalf("repeat CreateBranch failed: %v", err)
	}
	if len(m.Branches) != 1 || m.Branches[0] != "forge/task_001" {
		t.Errorf("Branches = %v, want exactly one forge/task_001", m.Branches)
	}
}

func TestMemDriverCommitSequence(t *testing.T) {
	m := NewMemDriver()
	ctx := context.Background()

	first, err := m.CommitAll(ctx, "forge/task_001", "implement shortener")
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	second, err := m.CommitAll(ctx, "forge/task_001", "address feedback")
	if err != nil {
		t.Fatalf("second CommitAll failed: %v", err)
	}

	if want := fmt.Sprintf("%040d", 1); first != want {
		t.Errorf("first sha = %q, want %q", first, want)
	}
	if want := fmt.Sprintf("%040d", 2); second != want {
		t.Errorf("second sha = %q, want %q", second, want)
	}
	got := m.Commits["forge/task_001"]
	if len(got) != 2 || got[0] != "implement shortener" || got[1] != "address feedback" {
		t.Errorf("Commits = %v, want both messages in order", got)
	}
}

func TestMemDriverPushCounts(t *testing.T) {
	m := NewMemDriver()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := m.Push(ctx, "forge/task_001"); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	if err := m.Push(ctx, "forge/task_002"); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if m.Pushed["forge/task_001"] != 2 || m.Pushed["forge/task_002"] != 1 {
		t.Errorf("Pushed = %v, want {forge/task_001: 2, forge/task_002: 1}", m.Pushed)
	}
}

func TestMemDriverOpenPRIdempotentPerBranch(t *testing.T) {
	m := NewMemDriver()
	ctx := context.Background()

	first, err := m.OpenPR(ctx, PRSpec{Branch: "forge/task_001", Title: "Implement: shortener"})
	if err != nil {
		t.Fatalf("OpenPR failed: %v", err)
	}
	if first.Number != 1 || first.URL != "forge://mem/pull/1" {
		t.Errorf("first PR = %+v, want number 1 at forge://mem/pull/1", first)
	}

	again, err := m.OpenPR(ctx, PRSpec{Branch: "forge/task_001", Title: "a different title"})
	if err != nil {
		t.Fatalf("repeat OpenPR failed: %v", err)
	}
	if again.Number != 1 || again.Title != "Implement: shortener" {
		t.Errorf("repeat OpenPR = %+v, want the original PR back", again)
	}

	second, err := m.OpenPR(ctx, PRSpec{Branch: "forge/task_002", Title: "Add tests"})
	if err != nil {
		t.Fatalf("OpenPR for second branch failed: %v", err)
	}
	if second.Number != 2 || second.URL != "forge://mem/pull/2" {
		t.Errorf("second PR = %+v, want number 2", second)
	}

	if m.PRCount() != 2 {
		t.Errorf("PRCount() = %d, want 2", m.PRCount())
	}
}

func TestMemDriverErrorInjection(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("forced failure")

	m := NewMemDriver()
	m.ErrEnsure = boom
	m.ErrBranch = boom
	m.ErrCommit = boom
	m.ErrPush = boom
	m.ErrOpenPR = boom

	if err := m.EnsureRepo(ctx); !errors.Is(err, boom) {
		t.Errorf("EnsureRepo error = %v, want forced failure", err)
	}
	if err := m.CreateBranch(ctx, "b"); !errors.Is(err, boom) {
		t.Errorf("CreateBranch error = %v, want forced failure", err)
	}
	if _, err := m.CommitAll(ctx, "b", "m"); !errors.Is(err, boom) {
		t.Errorf("CommitAll error = %v, want forced failure", err)
	}
	if err := m.Push(ctx, "b"); !errors.Is(err, boom) {
		t.Errorf("Push error = %v, want forced failure", err)
	}
	if _, err := m.OpenPR(ctx, PRSpec{Branch: "b"}); !errors.Is(err, boom) {
		t.Errorf("OpenPR error = %v, want forced failure", err)
	}

	if len(m.Branches) != 0 || len(m.Commits) != 0 || m.PRCount() != 0 {
		t.Error("failed operations should not mutate driver state")
	}
}
