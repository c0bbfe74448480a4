package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoforge/internal/logging"
)

func init() {
	logging.SetTestMode(true)
}

const cleanImpl = `// Package shortener maps long URLs to short codes.
// Implements: build a url shortener.
package shortener

// Store is the single source of truth for short codes.
type Store struct {
	codes map[string]string
}

// Shorten returns the code for a url.
func (s *Store) Shorten(url string) string {
	if code, ok := s.codes[url]; ok {
		return code
	}
	return ""
}
`

const cleanTest = `package shortener

import "testing"

func TestShorten(t *testing.T) {
	s := &Store{codes: map[string]string{"https://example.com": "ex1"}}
	if got := s.Shorten("https://example.com"); got != "ex1" {
		t.Fatalf("got %q", got)
	}
}
`

const cleanReadme = `# shortener

Maps long URLs to short codes.
`

func cleanRequest() Request {
	return Request{
		TaskID:      "task_001",
		Description: "Implement: build a url shortener",
		AcceptanceCriteria: []string{
			"Implements: build a url shortener",
			"Produces at least one source file",
		},
		Files: map[string]string{
			"shortener.go":      cleanImpl,
			"shortener_test.go": cleanTest,
			"README.md":         cleanReadme,
		},
		Iteration: 1,
	}
}

// criterionScoresSum checks the structural invariant that the per-criterion
// scores always add up to the total.
func criterionScoresSum(t *testing.T, result Result) {
	t.Helper()
	sum := 0
	for _, s := range result.CriterionScores {
		sum += s
	}
	assert.Equal(t, result.Score, sum, "criterion scores must sum to the total")
}

func TestCriterionMaximaSumTo100(t *testing.T) {
	total := MaxCodeQuality + MaxTestCoverage + MaxSecurity + MaxDocumentation + MaxAcceptanceCriteria
	require.Equal(t, 100, total)
}

func TestReviewApprovesCleanChange(t *testing.T) {
	r := NewPRReviewer(DefaultApprovalThreshold, nil)
	result := r.Review(cleanRequest())

	require.True(t, result.Approved, "clean change should be approved: %v", result.BlockingIssues)
	assert.Equal(t, 100, result.Score)
	assert.Empty(t, result.BlockingIssues)
	assert.Equal(t, MaxCodeQuality, result.CriterionScores["code_quality"])
	assert.Equal(t, MaxTestCoverage, result.CriterionScores["test_coverage"])
	assert.Equal(t, MaxSecurity, result.CriterionScores["security"])
	assert.Equal(t, MaxDocumentation, result.CriterionScores["documentation"])
	assert.Equal(t, MaxAcceptanceCriteria, result.CriterionScores["acceptance_criteria"])
	criterionScoresSum(t, result)
}

func TestReviewBlocksChangeWithoutTests(t *testing.T) {
	r := NewPRReviewer(DefaultApprovalThreshold, nil)
	req := Request{
		TaskID: "task_001",
		Files:  map[string]string{"shortener.go": cleanImpl},
	}
	result := r.Review(req)

	require.False(t, result.Approved)
	assert.Equal(t, 0, result.CriterionScores["test_coverage"])
	assert.Contains(t, result.BlockingIssues, "test_coverage: change includes no tests")
	criterionScoresSum(t, result)

	// The structured entry carries the testing category, not the
	// criterion name.
	var found bool
	for _, e := range result.Entries {
		if e.Severity == "blocking" && e.Category == "testing" {
			found = true
		}
	}
	assert.True(t, found, "expected a blocking entry in the testing category: %+v", result.Entries)
}

func TestReviewEmptyChange(t *testing.T) {
	r := NewPRReviewer(DefaultApprovalThreshold, nil)
	result := r.Review(Request{TaskID: "task_001"})

	require.False(t, result.Approved)
	assert.Equal(t, 0, result.CriterionScores["code_quality"])
	assert.Equal(t, 0, result.CriterionScores["test_coverage"])
	assert.Contains(t, result.BlockingIssues, "code_quality: change contains no files")
	criterionScoresSum(t, result)
}

func TestReviewPinnedScoreCannotBypassBlocking(t *testing.T) {
	// Pinning test_coverage to its maximum keeps the configured score but
	// the missing-tests blocker still rejects the change.
	r := NewPRReviewer(DefaultApprovalThreshold, map[string]int{"test_coverage": MaxTestCoverage})
	req := Request{
		TaskID: "task_001",
		Files:  map[string]string{"shortener.go": cleanImpl},
	}
	result := r.Review(req)

	assert.Equal(t, MaxTestCoverage, result.CriterionScores["test_coverage"])
	require.False(t, result.Approved, "a pinned score must not bypass blocking issues")
	assert.NotEmpty(t, result.BlockingIssues)
	criterionScoresSum(t, result)
}

func TestReviewPinnedScoresAreClamped(t *testing.T) {
	r := NewPRReviewer(DefaultApprovalThreshold, map[string]int{
		"code_quality": 999,
		"security":     -5,
	})
	result := r.Review(cleanRequest())

	assert.Equal(t, MaxCodeQuality, result.CriterionScores["code_quality"], "pins clamp to the criterion max")
	assert.Equal(t, 0, result.CriterionScores["security"], "negative pins clamp to zero")
	criterionScoresSum(t, result)
}

func TestReviewThresholdBoundary(t *testing.T) {
	// 30+25+20+5+0 = 80: approval is >=, so exactly 80 passes.
	at := NewPRReviewer(DefaultApprovalThreshold, map[string]int{
		"documentation":       5,
		"acceptance_criteria": 0,
	})
	resultAt := at.Review(cleanRequest())
	assert.Equal(t, 80, resultAt.Score)
	assert.True(t, resultAt.Approved, "a score of exactly 80 meets the gate")

	// 30+25+20+4+0 = 79 misses it.
	under := NewPRReviewer(DefaultApprovalThreshold, map[string]int{
		"documentation":       4,
		"acceptance_criteria": 0,
	})
	resultUnder := under.Review(cleanRequest())
	assert.Equal(t, 79, resultUnder.Score)
	assert.False(t, resultUnder.Approved)
}

func TestReviewSecurityFindings(t *testing.T) {
	r := NewPRReviewer(DefaultApprovalThreshold, nil)
	req := cleanRequest()
	req.Files["config.go"] = `package shortener

var password = "hunter2"
`
	result := r.Review(req)

	require.False(t, result.Approved)
	assert.Equal(t, MaxSecurity-10, result.CriterionScores["security"])
	require.Len(t, result.BlockingIssues, 1)
	assert.Contains(t, result.BlockingIssues[0], "hardcoded credential pattern")
	assert.Contains(t, result.BlockingIssues[0], "config.go")
	criterionScoresSum(t, result)
}

func TestNewPRReviewerThresholdFallback(t *testing.T) {
	r := NewPRReviewer(0, nil)
	assert.Equal(t, DefaultApprovalThreshold, r.threshold)
	r = NewPRReviewer(-3, nil)
	assert.Equal(t, DefaultApprovalThreshold, r.threshold)
	r = NewPRReviewer(90, nil)
	assert.Equal(t, 90, r.threshold)
}

func TestPassThroughReviewer(t *testing.T) {
	r := PassThroughReviewer{}
	result := r.Review(Request{TaskID: "task_001"})

	require.True(t, result.Approved)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, []string{"auto-approved: review gate disabled"}, result.Feedback)
	assert.Empty(t, result.BlockingIssues)
	assert.Equal(t, MaxCodeQuality, result.CriterionScores["code_quality"])
	assert.Equal(t, MaxAcceptanceCriteria, result.CriterionScores["acceptance_criteria"])
	criterionScoresSum(t, result)
}

func TestFeedbackSummaryOrdering(t *testing.T) {
	result := Result{
		Feedback:       []string{"code_quality: 2 unresolved TODO/FIXME markers"},
		BlockingIssues: []string{"test_coverage: change includes no tests"},
		Suggestions:    []string{"documentation: add a README or design note"},
	}
	summary := result.FeedbackSummary()
	require.Len(t, summary, 3)
	assert.Equal(t, "[blocking] test_coverage: change includes no tests", summary[0])
	assert.Equal(t, "code_quality: 2 unresolved TODO/FIXME markers", summary[1])
	assert.Equal(t, "[suggestion] documentation: add a README or design note", summary[2])
}

func TestResultString(t *testing.T) {
	approved := Result{Approved: true, Score: 85}
	assert.Equal(t, "APPROVED score=85 blocking=0", approved.String())

	rejected := Result{Score: 60, BlockingIssues: []string{"a", "b"}}
	assert.Equal(t, "REJECTED score=60 blocking=2", rejected.String())
}

func TestFileClassification(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantTest bool
		wantDoc  bool
		wantCode bool
	}{
		{"go test", "shortener_test.go", true, false, false},
		{"python test prefix", "test_main.py", true, false, false},
		{"nested python test", "src/test_main.py", true, false, false},
		{"js spec", "app.spec.ts", true, false, false},
		{"js test", "main.test.js", true, false, false},
		{"contest is not a test", "contest.go", false, false, true},
		{"markdown", "README.md", false, true, false},
		{"rst", "guide.rst", false, true, false},
		{"txt uppercase", "NOTES.TXT", false, true, false},
		{"plain go", "main.go", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTest, isTestFile(tt.path), "isTestFile")
			assert.Equal(t, tt.wantDoc, isDocFile(tt.path), "isDocFile")
			assert.Equal(t, tt.wantCode, isCodeFile(tt.path), "isCodeFile")
		})
	}
}

func BenchmarkPRReviewerReview(b *testing.B) {
	r := NewPRReviewer(DefaultApprovalThreshold, nil)
	req := cleanRequest()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Review(req)
	}
}
