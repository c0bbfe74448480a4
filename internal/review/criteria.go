package review

import (
	"fmt"
	"strings"
)

// evaluateCodeQuality deducts points for markers of rushed code. An
// empty change can satisfy nothing, so it scores zero and blocks.
func evaluateCodeQuality(req Request, max int) criterionResult {
	if len(req.Files) == 0 {
		return criterionResult{
			Score:    0,
			Blocking: []string{"change contains no files"},
		}
	}

	score := max
	var cr criterionResult

	todoCount := 0
	longLineFiles := 0
	uncommented := 0
	oversized := 0
	for _, name := range sortedFileNames(req) {
		content := req.Files[name]
		lines := strings.Split(content, "\n")
		hasLongLine := false
		comments := 0
		for _, line := range lines {
			upper := strings.ToUpper(line)
			todoCount += strings.Count(upper, "TODO") + strings.Count(upper, "FIXME")
			if len(line) > 120 {
				hasLongLine = true
			}
			if isCommentLine(line) {
				comments++
			}
		}
		if hasLongLine {
			longLineFiles++
		}
		if isCodeFile(name) && comments == 0 && len(lines) > 5 {
			uncommented++
		}
		if len(lines) > 400 {
			oversized++
		}
	}

	if todoCount > 0 {
		d := min(todoCount*2, 10)
		score -= d
		cr.Feedback = append(cr.Feedback, fmt.Sprintf("%d unresolved TODO/FIXME markers", todoCount))
	}
	if longLineFiles > 0 {
		score -= min(longLineFiles, 5)
		cr.Suggestions = append(cr.Suggestions, fmt.Sprintf("%d files contain lines over 120 characters", longLineFiles))
	}
	if uncommented > 0 {
		score -= min(uncommented*3, 9)
		cr.Feedback = append(cr.Feedback, fmt.Sprintf("%d code files have no comments", uncommented))
	}
	if oversized > 0 {
		score -= min(oversized*3, 6)
		cr.Suggestions = append(cr.Suggestions, fmt.Sprintf("%d files exceed 400 lines, consider splitting", oversized))
	}

	cr.Score = score
	return cr
}

// evaluateTestCoverage blocks any change that ships without tests.
func evaluateTestCoverage(req Request, max int) criterionResult {
	testFiles := 0
	codeFiles := 0
	trivialTests := 0
	for _, name := range sortedFileNames(req) {
		switch {
		case isTestFile(name):
			testFiles++
			if len(strings.TrimSpace(req.Files[name])) < 30 {
				trivialTests++
			}
		case isCodeFile(name):
			codeFiles++
		}
	}

	if testFiles == 0 {
		return criterionResult{
			Score:    0,
			Blocking: []string{"change includes no tests"},
		}
	}

	score := max - 5
	var cr criterionResult
	if codeFiles == 0 || testFiles*2 >= codeFiles {
		score = max
	} else {
		cr.Suggestions = append(cr.Suggestions,
			fmt.Sprintf("only %d test files for %d code files", testFiles, codeFiles))
	}
	if trivialTests > 0 {
		score -= 10
		cr.Feedback = append(cr.Feedback, fmt.Sprintf("%d test files look trivial", trivialTests))
	}
	cr.Score = score
	return cr
}

// Patterns that make a change unmergeable versus ones that just cost
// points.
var (
	criticalSecurityPatterns = []string{
		"begin rsa private key",
		"begin openssh private key",
		"begin pgp private key",
		`password = "`,
		`password="`,
		`api_key = "`,
		`api_key="`,
		`secret_key = "`,
		`secret_key="`,
	}
	warningSecurityPatterns = []string{
		"md5(",
		"eval(",
		"math/rand.seed(",
		"insecureskipverify: true",
	}
)

func evaluateSecurity(req Request, max int) criterionResult {
	score := max
	var cr criterionResult
	for _, name := range sortedFileNames(req) {
		lower := strings.ToLower(req.Files[name])
		for _, p := range criticalSecurityPatterns {
			if strings.Contains(lower, p) {
				score -= 10
				cr.Blocking = append(cr.Blocking,
					fmt.Sprintf("%s contains a hardcoded credential pattern (%q)", name, strings.TrimSpace(p)))
			}
		}
		for _, p := range warningSecurityPatterns {
			if strings.Contains(lower, p) {
				score -= 5
				cr.Feedback = append(cr.Feedback, fmt.Sprintf("%s uses a risky construct (%q)", name, p))
			}
		}
	}
	cr.Score = score
	return cr
}

// evaluateDocumentation wants both a doc file and inline comments, and
// degrades gracefully when only one is present.
func evaluateDocumentation(req Request, max int) criterionResult {
	hasDocFile := false
	commentLines := 0
	for _, name := range sortedFileNames(req) {
		if isDocFile(name) {
			if len(strings.TrimSpace(req.Files[name])) > 0 {
				hasDocFile = true
			}
			continue
		}
		for _, line := range strings.Split(req.Files[name], "\n") {
			if isCommentLine(line) {
				commentLines++
			}
		}
	}

	var cr criterionResult
	switch {
	case hasDocFile && commentLines > 0:
		cr.Score = max
	case commentLines > 0:
		cr.Score = max - 4
		cr.Suggestions = append(cr.Suggestions, "add a README or design note")
	case hasDocFile:
		cr.Score = max - 4
		cr.Suggestions = append(cr.Suggestions, "add inline comments to the code")
	default:
		cr.Score = max / 3
		cr.Feedback = append(cr.Feedback, "change is undocumented")
	}
	return cr
}

// evaluateAcceptanceCriteria matches each criterion's significant words
// against the submitted content. Any unmet criterion blocks the merge.
func evaluateAcceptanceCriteria(req Request, max int) criterionResult {
	if len(req.AcceptanceCriteria) == 0 {
		return criterionResult{Score: max}
	}

	var combined strings.Builder
	for _, name := range sortedFileNames(req) {
		combined.WriteString(strings.ToLower(req.Files[name]))
		combined.WriteByte('\n')
		combined.WriteString(strings.ToLower(name))
		combined.WriteByte('\n')
	}
	content := combined.String()

	met := 0
	var cr criterionResult
	for i, criterion := range req.AcceptanceCriteria {
		if criterionMet(criterion, content) {
			met++
			continue
		}
		cr.Blocking = append(cr.Blocking, fmt.Sprintf("criterion %d not met: %s", i+1, criterion))
	}

	total := len(req.AcceptanceCriteria)
	cr.Score = (max*met + total/2) / total
	if met < total {
		cr.Feedback = append(cr.Feedback, fmt.Sprintf("%d of %d acceptance criteria satisfied", met, total))
	}
	return cr
}

var stopwords = map[string]bool{
	"with": true, "that": true, "this": true, "from": true, "have": true,
	"will": true, "must": true, "should": true, "code": true, "file": true,
	"files": true, "least": true, "into": true, "when": true, "then": true,
}

// criterionMet requires at least half of a criterion's significant words
// to appear in the change.
func criterionMet(criterion, content string) bool {
	var words []string
	for _, raw := range strings.FieldsFunc(strings.ToLower(criterion), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if len(raw) >= 4 && !stopwords[raw] {
			words = append(words, raw)
		}
	}
	if len(words) == 0 {
		return true
	}
	found := 0
	for _, w := range words {
		if strings.Contains(content, w) {
			found++
		}
	}
	return found*2 >= len(words)
}

func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"//", "#", "/*", "*", "--", "\"\"\"", "'''"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
