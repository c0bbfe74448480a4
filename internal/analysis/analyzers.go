package analysis

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Analyzer findings keep their reported caps small so one noisy file
// cannot drown out the rest of the workspace.
const perFileFindingCap = 3

// Duplicate blocks start counting at this many matching normalized lines.
const dupBlockLines = 6

// PerformanceAnalyzer looks for algorithmic red flags inside loops and
// call sites worth caching.
type PerformanceAnalyzer struct{}

func (a *PerformanceAnalyzer) Name() string { return "performance" }

func (a *PerformanceAnalyzer) Analyze(ctx context.Context, target Target) ([]Improvement, error) {
	var findings []Improvement
	for _, file := range target.SortedPaths() {
		if !isSourcePath(file) {
			continue
		}
		scan := scanLoops(target.Files[file])
		for i, nest := range scan.Nested {
			if i >= perFileFindingCap {
				break
			}
			priority, impact := PriorityMedium, ImpactMedium
			if nest.Depth >= 3 {
				priority, impact = PriorityHigh, ImpactHigh
			}
			findings = append(findings, Improvement{
				Category:       CategoryPerformance,
				Title:          "Reduce nested loop depth",
				Description:    fmt.Sprintf("%s nests a loop %d deep; consider restructuring the inner traversal", file, nest.Depth),
				ProposedChange: "replace the inner traversal with a precomputed lookup or extract it into its own pass",
				Rationale:      "nested traversals turn linear input growth into quadratic runtime",
				TargetFile:     file,
				TargetLine:     nest.Line,
				Priority:       priority,
				Impact:         impact,
				Effort:         EffortMedium,
			})
		}
		for i, line := range scan.Queries {
			if i >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryPerformance,
				Title:          "Batch queries issued in a loop",
				Description:    fmt.Sprintf("%s issues a query per iteration; fetch the set once instead", file),
				ProposedChange: "hoist the query out of the loop or batch the keys into one round trip",
				Rationale:      "a query per element costs a round trip per element",
				TargetFile:     file,
				TargetLine:     line,
				Priority:       PriorityHigh,
				Impact:         ImpactHigh,
				Effort:         EffortMedium,
			})
		}
		for i, line := range scan.Concat {
			if i >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryPerformance,
				Title:          "Avoid string concatenation in a loop",
				Description:    fmt.Sprintf("%s builds a string with += inside a loop; use a builder", file),
				ProposedChange: "accumulate into a string builder and render once after the loop",
				Rationale:      "+= reallocates the whole string every iteration",
				TargetFile:     file,
				TargetLine:     line,
				Priority:       PriorityMedium,
				Impact:         ImpactHigh,
				Effort:         EffortSmall,
			})
		}
		for i, line := range scan.Appends {
			if i >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryPerformance,
				Title:          "Preallocate the collection grown in a loop",
				Description:    fmt.Sprintf("%s grows a collection element by element; size it up front", file),
				ProposedChange: "allocate with the known capacity before the loop",
				Rationale:      "repeated growth reallocates and copies the backing storage",
				TargetFile:     file,
				TargetLine:     line,
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortTrivial,
			})
		}
		for i, line := range scan.Sleeps {
			if i >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryPerformance,
				Title:          "Remove sleep inside a loop",
				Description:    fmt.Sprintf("%s sleeps inside a loop; prefer event-driven waits", file),
				ProposedChange: "block on the event the loop is polling for instead of sleeping",
				Rationale:      "polling trades latency for wasted wakeups in both directions",
				TargetFile:     file,
				TargetLine:     line,
				Priority:       PriorityHigh,
				Impact:         ImpactHigh,
				Effort:         EffortTrivial,
			})
		}
		if expr, line, count := repeatedCalls(strings.Split(target.Files[file], "\n")); count >= 3 {
			findings = append(findings, Improvement{
				Category:       CategoryPerformance,
				Title:          "Cache repeated call",
				Description:    fmt.Sprintf("%s evaluates %s %d times; compute it once", file, expr, count),
				ProposedChange: "bind the result to a local and reuse it",
				Rationale:      "identical calls with identical arguments are paying for the same work repeatedly",
				TargetFile:     file,
				TargetLine:     line,
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortSmall,
			})
		}
	}
	return findings, nil
}

// repeatedCalls finds the call expression repeated most often in a file
// and its first 1-based line. Ties keep the earliest expression.
func repeatedCalls(lines []string) (expr string, first, count int) {
	type seen struct {
		first int
		count int
	}
	counts := map[string]*seen{}
	for n, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if isCommentLine(trimmed) {
			continue
		}
		for _, call := range callExprs(trimmed) {
			s, ok := counts[call]
			if !ok {
				counts[call] = &seen{first: n + 1, count: 1}
				continue
			}
			s.count++
		}
	}
	for e, s := range counts {
		if s.count > count || (s.count == count && (first == 0 || s.first < first)) {
			expr, first, count = e, s.first, s.count
		}
	}
	return expr, first, count
}

// callExprs extracts simple call expressions from one line: a dotted
// identifier followed by arguments with no nested calls. Short calls
// and obviously side-effecting callees are skipped.
func callExprs(line string) []string {
	var exprs []string
	for i := 0; i < len(line); i++ {
		if line[i] != '(' {
			continue
		}
		start := i
		for start > 0 && (isIdentChar(line[start-1]) || line[start-1] == '.') {
			start--
		}
		if start == i || !isDottedIdent(line[start:i]) {
			continue
		}
		end := strings.IndexByte(line[i:], ')')
		if end < 0 {
			continue
		}
		end += i
		args := line[i+1 : end]
		if strings.TrimSpace(args) == "" || strings.Contains(args, "(") {
			continue
		}
		callee := strings.ToLower(line[start:i])
		if branchKeywords[callee] || sideEffectCallee(callee) {
			continue
		}
		if e := line[start : end+1]; len(e) >= 10 {
			exprs = append(exprs, e)
		}
	}
	return exprs
}

var branchKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true,
	"return": true, "func": true, "def": true, "catch": true, "except": true,
}

func isDottedIdent(s string) bool {
	for _, part := range strings.Split(s, ".") {
		if !isIdent(part) {
			return false
		}
	}
	return true
}

func sideEffectCallee(lower string) bool {
	for _, verb := range []string{"print", "log", "write", "append", "push", "send", "emit", "add"} {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// CodeQualityAnalyzer flags maintenance debt: markers, bulk, branching,
// duplication, and dead bindings.
type CodeQualityAnalyzer struct{}

func (a *CodeQualityAnalyzer) Name() string { return "code_quality" }

func (a *CodeQualityAnalyzer) Analyze(ctx context.Context, target Target) ([]Improvement, error) {
	var findings []Improvement
	for _, file := range target.SortedPaths() {
		if !isSourcePath(file) {
			continue
		}
		lines := strings.Split(target.Files[file], "\n")

		todos := 0
		for n, line := range lines {
			upper := strings.ToUpper(line)
			if strings.Contains(upper, "TODO") || strings.Contains(upper, "FIXME") {
				if todos < perFileFindingCap {
					findings = append(findings, Improvement{
						Category:       CategoryCodeQuality,
						Title:          "Resolve TODO marker",
						Description:    fmt.Sprintf("%s carries an unresolved TODO or FIXME", file),
						ProposedChange: "implement the deferred work or file it as a tracked task and drop the marker",
						Rationale:      "markers that outlive the change they annotate stop meaning anything",
						TargetFile:     file,
						TargetLine:     n + 1,
						Priority:       PriorityLow,
						Impact:         ImpactLow,
						Effort:         EffortTrivial,
					})
				}
				todos++
			}
		}

		if len(lines) > 400 {
			findings = append(findings, Improvement{
				Category:       CategoryCodeQuality,
				Title:          "Split oversized file",
				Description:    fmt.Sprintf("%s is %d lines; break it into focused units", file, len(lines)),
				ProposedChange: "move each distinct responsibility into its own file",
				Rationale:      "smaller units keep reviews and merges local",
				TargetFile:     file,
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortMedium,
			})
		}

		longReported, branchReported := 0, 0
		for _, span := range scanFunctions(target.Files[file]) {
			if span.Lines > 50 && longReported < perFileFindingCap {
				findings = append(findings, Improvement{
					Category:       CategoryCodeQuality,
					Title:          "Shorten " + span.Name,
					Description:    fmt.Sprintf("%s spans %d lines in %s; extract the phases it runs through", span.Name, span.Lines, file),
					ProposedChange: "split the body into named helpers, one per phase",
					Rationale:      "a function that does not fit on a screen hides its own flow",
					TargetFile:     file,
					TargetLine:     span.StartLine,
					Priority:       PriorityMedium,
					Impact:         ImpactMedium,
					Effort:         EffortMedium,
				})
				longReported++
			}
			if span.Branches > 10 && branchReported < perFileFindingCap {
				priority, impact := PriorityMedium, ImpactMedium
				if span.Branches > 15 {
					priority, impact = PriorityHigh, ImpactHigh
				}
				findings = append(findings, Improvement{
					Category:       CategoryCodeQuality,
					Title:          "Reduce branching in " + span.Name,
					Description:    fmt.Sprintf("%s takes %d branch points in %s", span.Name, span.Branches, file),
					ProposedChange: "flatten the decision tree with early returns or a dispatch table",
					Rationale:      "every branch multiplies the paths a reader and a test must cover",
					TargetFile:     file,
					TargetLine:     span.StartLine,
					Priority:       priority,
					Impact:         impact,
					Effort:         EffortMedium,
				})
				branchReported++
			}
		}

		importReported := 0
		for _, ref := range scanImports(lines) {
			if wordCount(lines, ref.Name, ref.Line) > 0 {
				continue
			}
			if importReported >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryCodeQuality,
				Title:          "Remove unused import " + ref.Name,
				Description:    fmt.Sprintf("%s imports %s and never uses it", file, ref.Name),
				ProposedChange: "delete the import",
				Rationale:      "dead imports misstate what the file depends on",
				TargetFile:     file,
				TargetLine:     ref.Line,
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortTrivial,
			})
			importReported++
		}

		localReported := 0
		for _, ref := range unusedLocals(lines) {
			if localReported >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryCodeQuality,
				Title:          "Remove unused variable " + ref.Name,
				Description:    fmt.Sprintf("%s binds %s and never reads it", file, ref.Name),
				ProposedChange: "drop the binding or use the value it holds",
				Rationale:      "a binding nothing reads is either dead code or a missed bug",
				TargetFile:     file,
				TargetLine:     ref.Line,
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortTrivial,
			})
			localReported++
		}

		if line, count := firstHeavyDuplicate(lines); count >= 3 {
			findings = append(findings, Improvement{
				Category:       CategoryCodeQuality,
				Title:          "Extract repeated logic",
				Description:    fmt.Sprintf("%s repeats the same statement %d times", file, count),
				ProposedChange: "pull the repeated statement into a named helper",
				Rationale:      "a single definition keeps the copies from drifting apart",
				TargetFile:     file,
				TargetLine:     line,
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortSmall,
			})
		}
	}

	for i, dup := range duplicateBlocks(target) {
		if i >= perFileFindingCap {
			break
		}
		priority, impact := PriorityMedium, ImpactMedium
		if dup.Size >= 2*dupBlockLines {
			priority, impact = PriorityHigh, ImpactHigh
		}
		desc := fmt.Sprintf("%s and %s:%d share %d matching lines", dup.File, dup.OtherFile, dup.OtherLine, dup.Size)
		if dup.Sites > 2 {
			desc += fmt.Sprintf(" across %d sites", dup.Sites)
		}
		findings = append(findings, Improvement{
			Category:       CategoryCodeQuality,
			Title:          "Deduplicate repeated block",
			Description:    desc,
			ProposedChange: "extract the shared block into one helper both sites call",
			Rationale:      "copies of a block accumulate divergent fixes",
			TargetFile:     dup.File,
			TargetLine:     dup.Line,
			Priority:       priority,
			Impact:         impact,
			Effort:         EffortMedium,
		})
	}
	return findings, nil
}

// firstHeavyDuplicate finds the most repeated non-trivial line and its
// first 1-based position.
func firstHeavyDuplicate(lines []string) (firstLine, count int) {
	type seen struct {
		first int
		count int
	}
	counts := map[string]*seen{}
	for n, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if len(trimmed) < 20 || isCommentLine(trimmed) {
			continue
		}
		s, ok := counts[trimmed]
		if !ok {
			counts[trimmed] = &seen{first: n + 1, count: 1}
			continue
		}
		s.count++
	}
	for _, s := range counts {
		if s.count > count || (s.count == count && (firstLine == 0 || s.first < firstLine)) {
			count = s.count
			firstLine = s.first
		}
	}
	return firstLine, count
}

// unusedLocals reports := bindings whose name never recurs anywhere
// else in the file.
func unusedLocals(lines []string) []nameRef {
	var refs []nameRef
	for n, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || isCommentLine(trimmed) || !isPlainBindingLine(trimmed) {
			continue
		}
		name := identPrefix(trimmed)
		if len(name) < 2 || startsUpper(name) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(name):])
		if !strings.HasPrefix(rest, ":=") {
			continue
		}
		if wordCount(lines, name, 0) == 1 {
			refs = append(refs, nameRef{Name: name, Line: n + 1})
		}
	}
	return refs
}

// isPlainBindingLine rejects lines where := belongs to a statement
// header or a multi-assignment.
func isPlainBindingLine(trimmed string) bool {
	for _, prefix := range []string{"for ", "if ", "go ", "defer ", "switch ", "select ", "case "} {
		if strings.HasPrefix(trimmed, prefix) {
			return false
		}
	}
	if idx := strings.Index(trimmed, ":="); idx >= 0 && strings.Contains(trimmed[:idx], ",") {
		return false
	}
	return true
}

// blockDup is one repeated block across the artifact set.
type blockDup struct {
	File      string
	Line      int
	OtherFile string
	OtherLine int
	Size      int
	Sites     int
}

// duplicateBlocks finds runs of at least dupBlockLines matching
// normalized lines that occur more than once across the artifact set,
// reported once per block from its first site.
func duplicateBlocks(target Target) []blockDup {
	type normLine struct {
		text string
		line int
	}
	var order []string
	norm := map[string][]normLine{}
	for _, file := range target.SortedPaths() {
		if !isSourcePath(file) {
			continue
		}
		var nl []normLine
		for n, raw := range strings.Split(target.Files[file], "\n") {
			trimmed := strings.TrimSpace(raw)
			if len(trimmed) < 3 || isCommentLine(trimmed) {
				continue
			}
			nl = append(nl, normLine{text: trimmed, line: n + 1})
		}
		if len(nl) >= dupBlockLines {
			order = append(order, file)
			norm[file] = nl
		}
	}

	type site struct {
		file string
		idx  int
	}
	keyAt := func(file string, i int) string {
		nl := norm[file]
		parts := make([]string, dupBlockLines)
		for k := range parts {
			parts[k] = nl[i+k].text
		}
		return strings.Join(parts, "\n")
	}
	occ := map[string][]site{}
	for _, file := range order {
		for i := 0; i+dupBlockLines <= len(norm[file]); i++ {
			key := keyAt(file, i)
			occ[key] = append(occ[key], site{file: file, idx: i})
		}
	}

	covered := map[string]int{}
	var dups []blockDup
	for _, file := range order {
		for i := 0; i+dupBlockLines <= len(norm[file]); i++ {
			sites := occ[keyAt(file, i)]
			if len(sites) < 2 || sites[0].file != file || sites[0].idx != i {
				continue
			}
			a, b := sites[0], sites[1]
			if a.file == b.file && b.idx-a.idx < dupBlockLines {
				continue
			}
			if i < covered[file] {
				continue
			}
			size := dupBlockLines
			for a.idx+size < len(norm[a.file]) && b.idx+size < len(norm[b.file]) &&
				norm[a.file][a.idx+size].text == norm[b.file][b.idx+size].text {
				size++
			}
			covered[a.file] = a.idx + size
			if b.idx+size > covered[b.file] {
				covered[b.file] = b.idx + size
			}
			dups = append(dups, blockDup{
				File:      a.file,
				Line:      norm[a.file][a.idx].line,
				OtherFile: b.file,
				OtherLine: norm[b.file][b.idx].line,
				Size:      size,
				Sites:     len(sites),
			})
		}
	}
	return dups
}

// TestingAnalyzer checks that behavior ships with coverage and that the
// coverage actually asserts something.
type TestingAnalyzer struct{}

func (a *TestingAnalyzer) Name() string { return "testing" }

func (a *TestingAnalyzer) Analyze(ctx context.Context, target Target) ([]Improvement, error) {
	var testFiles []string
	testSet := map[string]bool{}
	var codeFiles []string
	for _, file := range target.SortedPaths() {
		switch {
		case isTestPath(file):
			testFiles = append(testFiles, file)
			testSet[file] = true
		case isSourcePath(file):
			codeFiles = append(codeFiles, file)
		}
	}

	var findings []Improvement
	if len(testFiles) == 0 && len(codeFiles) > 0 {
		findings = append(findings, Improvement{
			Category:       CategoryTesting,
			Title:          "Add automated tests",
			Description:    "the workspace has no test files at all",
			ProposedChange: "add a test file per behavior-bearing source file, covering the happy path and one failure",
			Rationale:      "untested behavior regresses silently",
			Priority:       PriorityHigh,
			Impact:         ImpactHigh,
			Effort:         EffortMedium,
		})
		return findings, nil
	}

	reported := 0
	for _, file := range codeFiles {
		if hasSiblingTest(file, testSet) {
			continue
		}
		if reported >= perFileFindingCap {
			break
		}
		findings = append(findings, Improvement{
			Category:       CategoryTesting,
			Title:          "Add tests for " + file,
			Description:    fmt.Sprintf("%s has no matching test file", file),
			ProposedChange: "add a sibling test file exercising its exported behavior",
			Rationale:      "per-file coverage keeps failures attributable",
			TargetFile:     file,
			Priority:       PriorityMedium,
			Impact:         ImpactMedium,
			Effort:         EffortSmall,
		})
		reported++
	}

	type spanAt struct {
		file string
		span funcSpan
	}
	var covered, raisers []spanAt
	coverReported := 0
	for _, file := range codeFiles {
		for _, span := range scanFunctions(target.Files[file]) {
			if !span.Exported || span.Test {
				continue
			}
			if !referencedInTests(span.Name, target, testFiles) {
				if coverReported >= perFileFindingCap {
					continue
				}
				priority, impact := PriorityMedium, ImpactMedium
				if sensitivePath(file) {
					priority, impact = PriorityHigh, ImpactHigh
				}
				findings = append(findings, Improvement{
					Category:       CategoryTesting,
					Title:          "Cover " + span.Name + " with tests",
					Description:    fmt.Sprintf("no test references %s from %s", span.Name, file),
					ProposedChange: "add a test naming the function and asserting its observable result",
					Rationale:      "public behavior nobody calls in a test can change without anyone noticing",
					TargetFile:     file,
					TargetLine:     span.StartLine,
					Priority:       priority,
					Impact:         impact,
					Effort:         EffortSmall,
				})
				coverReported++
				continue
			}
			if len(span.Params) > 0 {
				covered = append(covered, spanAt{file: file, span: span})
			}
			if span.Raises {
				raisers = append(raisers, spanAt{file: file, span: span})
			}
		}
	}

	edgeReported := 0
	for _, c := range covered {
		if edgeReported >= perFileFindingCap {
			break
		}
		if edgeCasesTested(c.span.Name, target, testFiles) {
			continue
		}
		findings = append(findings, Improvement{
			Category:       CategoryTesting,
			Title:          "Exercise edge cases of " + c.span.Name,
			Description:    fmt.Sprintf("%s takes %s but its tests never probe empty, zero, or negative inputs", c.span.Name, strings.Join(c.span.Params, ", ")),
			ProposedChange: "add cases feeding each parameter its boundary values",
			Rationale:      "boundary inputs are where handwritten handling slips first",
			TargetFile:     c.file,
			TargetLine:     c.span.StartLine,
			Priority:       PriorityMedium,
			Impact:         ImpactMedium,
			Effort:         EffortSmall,
		})
		edgeReported++
	}

	negReported := 0
	for _, r := range raisers {
		if negReported >= perFileFindingCap {
			break
		}
		if failureTested(r.span.Name, target, testFiles) {
			continue
		}
		priority, impact := PriorityMedium, ImpactMedium
		if sensitivePath(r.file) {
			priority, impact = PriorityHigh, ImpactHigh
		}
		findings = append(findings, Improvement{
			Category:       CategoryTesting,
			Title:          "Test failure paths of " + r.span.Name,
			Description:    fmt.Sprintf("%s can fail but its tests only exercise success", r.span.Name),
			ProposedChange: "feed it the inputs that make it fail and assert on the failure",
			Rationale:      "the failure path is the one users meet when something is already wrong",
			TargetFile:     r.file,
			TargetLine:     r.span.StartLine,
			Priority:       priority,
			Impact:         impact,
			Effort:         EffortSmall,
		})
		negReported++
	}

	assertReported := 0
	for _, file := range testFiles {
		content := target.Files[file]
		for _, span := range scanFunctions(content) {
			if !span.Test || span.Asserts > 0 {
				continue
			}
			if assertReported >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryTesting,
				Title:          "Assert outcomes in " + span.Name,
				Description:    fmt.Sprintf("%s runs code but asserts nothing", span.Name),
				ProposedChange: "assert on the values the exercised code produces",
				Rationale:      "a test without assertions only proves the code does not crash",
				TargetFile:     file,
				TargetLine:     span.StartLine,
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortSmall,
			})
			assertReported++
		}
		lower := strings.ToLower(content)
		mocks := strings.Count(lower, "mock") + strings.Count(lower, "stub") + strings.Count(lower, "fake")
		asserts := 0
		for _, line := range strings.Split(lower, "\n") {
			if isAssertion(line) {
				asserts++
			}
		}
		if mocks >= 4 && asserts < 2 {
			findings = append(findings, Improvement{
				Category:       CategoryTesting,
				Title:          "Verify mocked interactions",
				Description:    fmt.Sprintf("%s leans on mocks without verifying what they received", file),
				ProposedChange: "assert on the calls the mocks recorded, or drop the mocks and test the real thing",
				Rationale:      "unverified mocks pass no matter what the code does",
				TargetFile:     file,
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortMedium,
			})
		}
	}

	for _, file := range testFiles {
		if len(strings.TrimSpace(target.Files[file])) < 30 {
			findings = append(findings, Improvement{
				Category:       CategoryTesting,
				Title:          "Strengthen trivial test",
				Description:    fmt.Sprintf("%s barely asserts anything", file),
				ProposedChange: "assert on observable output rather than just running the code",
				Rationale:      "tests that cannot fail protect nothing",
				TargetFile:     file,
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortSmall,
			})
		}
	}
	return findings, nil
}

// hasSiblingTest reports whether a code file has a test next to it,
// matching foo.go to foo_test.go and src/x.py to test_x.py style names.
func hasSiblingTest(file string, testFiles map[string]bool) bool {
	dir, base := path.Split(file)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	candidates := []string{
		dir + stem + "_test" + ext,
		dir + "test_" + base,
	}
	for _, c := range candidates {
		if testFiles[c] {
			return true
		}
	}
	return false
}

func sensitivePath(file string) bool {
	lower := strings.ToLower(file)
	for _, marker := range []string{"api", "route", "service", "controller", "auth"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func referencedInTests(name string, target Target, testFiles []string) bool {
	for _, file := range testFiles {
		if wordCount(strings.Split(target.Files[file], "\n"), name, 0) > 0 {
			return true
		}
	}
	return false
}

// failureTested reports whether some test file that mentions the name
// also talks about failure.
func failureTested(name string, target Target, testFiles []string) bool {
	for _, file := range testFiles {
		content := target.Files[file]
		if wordCount(strings.Split(content, "\n"), name, 0) == 0 {
			continue
		}
		lower := strings.ToLower(content)
		for _, token := range []string{"err", "raises", "panic", "invalid", "fail"} {
			if strings.Contains(lower, token) {
				return true
			}
		}
	}
	return false
}

// edgeCasesTested reports whether some test file that mentions the name
// also feeds boundary-looking inputs anywhere.
func edgeCasesTested(name string, target Target, testFiles []string) bool {
	for _, file := range testFiles {
		content := target.Files[file]
		if wordCount(strings.Split(content, "\n"), name, 0) == 0 {
			continue
		}
		lower := strings.ToLower(content)
		for _, token := range []string{`""`, "''", "(0", "-1", "empty", "none", "zero", "negative", "blank"} {
			if strings.Contains(lower, token) {
				return true
			}
		}
	}
	return false
}

// DocumentationAnalyzer wants a README, commented code, and doc text
// that keeps up with signatures.
type DocumentationAnalyzer struct{}

func (a *DocumentationAnalyzer) Name() string { return "documentation" }

func (a *DocumentationAnalyzer) Analyze(ctx context.Context, target Target) ([]Improvement, error) {
	var readmes []string
	for _, file := range target.SortedPaths() {
		if strings.HasPrefix(strings.ToLower(path.Base(file)), "readme") {
			readmes = append(readmes, file)
		}
	}

	var findings []Improvement
	if len(readmes) == 0 && len(target.Files) > 0 {
		findings = append(findings, Improvement{
			Category:       CategoryDocumentation,
			Title:          "Add a README",
			Description:    "the workspace has no top-level README describing usage",
			ProposedChange: "write a README covering what the project does and how to run it",
			Rationale:      "the README is the first file anyone opens",
			Priority:       PriorityMedium,
			Impact:         ImpactMedium,
			Effort:         EffortSmall,
		})
	}

	reported := 0
	for _, file := range target.SortedPaths() {
		if !isSourcePath(file) || isTestPath(file) {
			continue
		}
		lines := strings.Split(target.Files[file], "\n")
		if len(lines) <= 5 {
			continue
		}
		comments := 0
		for _, line := range lines {
			if isCommentLine(strings.TrimSpace(line)) {
				comments++
			}
		}
		if comments == 0 && reported < perFileFindingCap {
			findings = append(findings, Improvement{
				Category:       CategoryDocumentation,
				Title:          "Document " + file,
				Description:    fmt.Sprintf("%s has no comments", file),
				ProposedChange: "comment the non-obvious decisions and invariants",
				Rationale:      "the code says what; only comments can say what must stay true",
				TargetFile:     file,
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortTrivial,
			})
			reported++
		}
	}

	var apiNames []string
	typeReported, fnReported, paramReported, returnReported := 0, 0, 0, 0
	for _, file := range target.SortedPaths() {
		if !isSourcePath(file) || isTestPath(file) {
			continue
		}
		content := target.Files[file]
		for _, ts := range scanTypes(content) {
			if !ts.Exported {
				continue
			}
			if ts.Doc == "" && typeReported < perFileFindingCap {
				findings = append(findings, Improvement{
					Category:       CategoryDocumentation,
					Title:          "Document type " + ts.Name,
					Description:    fmt.Sprintf("%s defines %s without saying what it represents", file, ts.Name),
					ProposedChange: "add a doc comment naming what one value of the type stands for",
					Rationale:      "types are the vocabulary of the codebase; undefined words spread confusion",
					TargetFile:     file,
					TargetLine:     ts.StartLine,
					Priority:       PriorityHigh,
					Impact:         ImpactMedium,
					Effort:         EffortTrivial,
				})
				typeReported++
			}
		}
		for _, span := range scanFunctions(content) {
			if !span.Exported || span.Test {
				continue
			}
			apiNames = append(apiNames, span.Name)
			if span.Doc == "" {
				if fnReported < perFileFindingCap {
					priority := PriorityMedium
					if span.Branches > 10 {
						priority = PriorityHigh
					}
					findings = append(findings, Improvement{
						Category:       CategoryDocumentation,
						Title:          "Document " + span.Name,
						Description:    fmt.Sprintf("%s exports %s without a doc comment", file, span.Name),
						ProposedChange: "state what the function does and what the caller gets back",
						Rationale:      "callers read the doc line before the body",
						TargetFile:     file,
						TargetLine:     span.StartLine,
						Priority:       priority,
						Impact:         ImpactMedium,
						Effort:         EffortTrivial,
					})
					fnReported++
				}
				continue
			}
			if missing := undocumentedParams(span); len(missing) > 0 && paramReported < perFileFindingCap {
				findings = append(findings, Improvement{
					Category:       CategoryDocumentation,
					Title:          "Document parameters of " + span.Name,
					Description:    fmt.Sprintf("the doc for %s never mentions %s", span.Name, strings.Join(missing, ", ")),
					ProposedChange: "name each parameter in the doc and say what it controls",
					Rationale:      "undocumented parameters get guessed at call sites",
					TargetFile:     file,
					TargetLine:     span.StartLine,
					Priority:       PriorityMedium,
					Impact:         ImpactLow,
					Effort:         EffortTrivial,
				})
				paramReported++
			}
			if span.ReturnsValue && !strings.Contains(strings.ToLower(span.Doc), "return") && returnReported < perFileFindingCap {
				findings = append(findings, Improvement{
					Category:       CategoryDocumentation,
					Title:          "Describe the return value of " + span.Name,
					Description:    fmt.Sprintf("%s returns a value its doc never describes", span.Name),
					ProposedChange: "say what comes back and what the caller should do with it",
					Rationale:      "a return value with no contract invites misuse",
					TargetFile:     file,
					TargetLine:     span.StartLine,
					Priority:       PriorityMedium,
					Impact:         ImpactLow,
					Effort:         EffortTrivial,
				})
				returnReported++
			}
		}
	}

	if len(readmes) > 0 && len(apiNames) > 0 {
		var readmeText strings.Builder
		for _, file := range readmes {
			readmeText.WriteString(strings.ToLower(target.Files[file]))
			readmeText.WriteString("\n")
		}
		readmeLines := strings.Split(readmeText.String(), "\n")
		missing := 0
		for _, name := range apiNames {
			if wordCount(readmeLines, strings.ToLower(name), 0) == 0 {
				missing++
			}
		}
		if missing > 0 {
			findings = append(findings, Improvement{
				Category:       CategoryDocumentation,
				Title:          "Mention the new API in the README",
				Description:    fmt.Sprintf("%d exported functions never appear in the README", missing),
				ProposedChange: "add a usage section covering the entry points this change introduced",
				Rationale:      "a README that trails the API teaches the old interface",
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortSmall,
			})
		}
	}
	return findings, nil
}

// undocumentedParams lists the span's parameters its doc never names.
// Single-letter parameters are not held against the doc.
func undocumentedParams(span funcSpan) []string {
	docLines := strings.Split(span.Doc, "\n")
	var missing []string
	for _, p := range span.Params {
		if len(p) < 2 {
			continue
		}
		if wordCount(docLines, p, 0) == 0 {
			missing = append(missing, p)
		}
	}
	return missing
}

// UXAnalyzer judges the change from the user's side of the screen:
// error message quality, leftover debug output, silent long-running
// work, unchecked input, and missing usage help.
type UXAnalyzer struct{}

func (a *UXAnalyzer) Name() string { return "ux" }

func (a *UXAnalyzer) Analyze(ctx context.Context, target Target) ([]Improvement, error) {
	var findings []Improvement
	hasMain := false
	hasUsage := false

	for _, file := range target.SortedPaths() {
		if !isSourcePath(file) {
			continue
		}
		content := target.Files[file]
		lower := strings.ToLower(content)
		if strings.Contains(content, "func main(") || strings.Contains(lower, "def main(") {
			hasMain = true
		}
		if strings.Contains(lower, "usage") || strings.Contains(lower, "--help") || strings.Contains(lower, "help=") {
			hasUsage = true
		}

		lines := strings.Split(content, "\n")
		debugReported := 0
		terseReported := 0
		for n, line := range lines {
			trimmed := strings.TrimSpace(line)
			if isCommentLine(trimmed) {
				continue
			}
			if isDebugPrint(trimmed) && debugReported < perFileFindingCap {
				findings = append(findings, Improvement{
					Category:       CategoryUX,
					Title:          "Remove debug output",
					Description:    fmt.Sprintf("%s prints debug text directly to stdout", file),
					ProposedChange: "route the line through the logger or delete it",
					Rationale:      "stray prints corrupt the program's real output",
					TargetFile:     file,
					TargetLine:     n + 1,
					Priority:       PriorityMedium,
					Impact:         ImpactLow,
					Effort:         EffortTrivial,
				})
				debugReported++
			}
			if msg, ok := terseErrorMessage(trimmed); ok && terseReported < perFileFindingCap {
				findings = append(findings, Improvement{
					Category:       CategoryUX,
					Title:          "Improve error message",
					Description:    fmt.Sprintf("%s raises %q, which gives the user nothing to act on", file, msg),
					ProposedChange: "name the failing input and what the user should do about it",
					Rationale:      "an error the user cannot act on is a dead end",
					TargetFile:     file,
					TargetLine:     n + 1,
					Priority:       PriorityHigh,
					Impact:         ImpactMedium,
					Effort:         EffortTrivial,
				})
				terseReported++
			}
		}

		longReported := 0
		for _, span := range scanFunctions(content) {
			if !longRunningName(span.Name) || !span.HasLoop || span.Logs {
				continue
			}
			if longReported >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryUX,
				Title:          "Log progress in " + span.Name,
				Description:    fmt.Sprintf("%s looks long-running but reports nothing while it works", span.Name),
				ProposedChange: "log a progress line per unit of work, or at least on start and finish",
				Rationale:      "silence during long work reads as a hang",
				TargetFile:     file,
				TargetLine:     span.StartLine,
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortSmall,
			})
			longReported++
		}

		inputReported := 0
		for _, line := range unvalidatedInputs(lines) {
			if inputReported >= perFileFindingCap {
				break
			}
			findings = append(findings, Improvement{
				Category:       CategoryUX,
				Title:          "Validate user input",
				Description:    fmt.Sprintf("%s reads input and uses it unchecked", file),
				ProposedChange: "reject empty or malformed input with a message naming what was expected",
				Rationale:      "unvalidated input turns typos into stack traces",
				TargetFile:     file,
				TargetLine:     line,
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortSmall,
			})
			inputReported++
		}
	}

	if hasMain && !hasUsage {
		findings = append(findings, Improvement{
			Category:       CategoryUX,
			Title:          "Add usage help",
			Description:    "the entry point offers no usage text or --help flag",
			ProposedChange: "print usage on --help and on argument errors",
			Rationale:      "discoverability should not require reading the source",
			Priority:       PriorityMedium,
			Impact:         ImpactMedium,
			Effort:         EffortSmall,
		})
	}
	return findings, nil
}

func isDebugPrint(line string) bool {
	return strings.Contains(line, "fmt.Println(") ||
		strings.Contains(line, "console.log(") ||
		strings.HasPrefix(line, "print(")
}

// terseErrorMessage extracts an error literal shorter than 12 characters.
func terseErrorMessage(line string) (string, bool) {
	for _, marker := range []string{`errors.New("`, `fmt.Errorf("`} {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(marker):]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			continue
		}
		if msg := rest[:end]; len(msg) > 0 && len(msg) < 12 {
			return msg, true
		}
	}
	return "", false
}

func longRunningName(name string) bool {
	lower := strings.ToLower(name)
	for _, verb := range []string{"process", "download", "upload", "sync", "migrate", "import", "export", "batch"} {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// unvalidatedInputs finds lines that read user input with no validation
// in the two lines around them.
func unvalidatedInputs(lines []string) []int {
	var hits []int
	for n := range lines {
		trimmed := strings.TrimSpace(lines[n])
		if isCommentLine(trimmed) || !readsUserInput(trimmed) {
			continue
		}
		if validationNearby(lines, n) {
			continue
		}
		hits = append(hits, n+1)
	}
	return hits
}

func readsUserInput(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range []string{"input(", "readline(", "readstring(", "prompt("} {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		if idx == 0 || !isIdentChar(lower[idx-1]) {
			return true
		}
	}
	return false
}

func validationNearby(lines []string, n int) bool {
	from, to := n-2, n+2
	if from < 0 {
		from = 0
	}
	if to >= len(lines) {
		to = len(lines) - 1
	}
	for i := from; i <= to; i++ {
		lower := strings.ToLower(lines[i])
		for _, token := range []string{"if ", "err", "valid", "try", "except", "strip(", "len(", "parse"} {
			if strings.Contains(lower, token) {
				return true
			}
		}
	}
	return false
}

// ArchitectureAnalyzer looks at the shape of the tree and at how
// responsibilities cluster inside it.
type ArchitectureAnalyzer struct{}

func (a *ArchitectureAnalyzer) Name() string { return "architecture" }

func (a *ArchitectureAnalyzer) Analyze(ctx context.Context, target Target) ([]Improvement, error) {
	var findings []Improvement
	dirCounts := map[string]int{}

	ownerSpans := map[string][]funcSpan{}
	ownerFile := map[string]string{}
	var ownerOrder []string
	typeSwitchReported := 0

	var sourceFiles []string
	for _, file := range target.SortedPaths() {
		dirCounts[path.Dir(file)]++
		if !isSourcePath(file) {
			continue
		}
		sourceFiles = append(sourceFiles, file)
		content := target.Files[file]
		spans := scanFunctions(content)

		if len(spans) > 10 {
			findings = append(findings, Improvement{
				Category:       CategoryArchitecture,
				Title:          "Split responsibilities of " + file,
				Description:    fmt.Sprintf("%s defines %d functions; it likely mixes concerns", file, len(spans)),
				ProposedChange: "group the functions by concern and move each group to its own unit",
				Rationale:      "a file that does everything couples everything",
				TargetFile:     file,
				Priority:       PriorityMedium,
				Impact:         ImpactHigh,
				Effort:         EffortLarge,
			})
		}
		if strings.Count(file, "/") > 4 {
			findings = append(findings, Improvement{
				Category:       CategoryArchitecture,
				Title:          "Flatten deep directory nesting",
				Description:    fmt.Sprintf("%s sits %d levels deep", file, strings.Count(file, "/")),
				ProposedChange: "collapse single-child directories along the path",
				Rationale:      "deep paths hide structure instead of expressing it",
				TargetFile:     file,
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortMedium,
			})
		}

		lower := strings.ToLower(content)
		checks := strings.Count(content, ".(type)") +
			strings.Count(lower, "isinstance(") +
			strings.Count(lower, "typeof ")
		if checks >= 2 && typeSwitchReported < perFileFindingCap {
			findings = append(findings, Improvement{
				Category:       CategoryArchitecture,
				Title:          "Replace type switches with polymorphism",
				Description:    fmt.Sprintf("%s branches on concrete types %d times", file, checks),
				ProposedChange: "move the per-type behavior onto the types behind one interface",
				Rationale:      "every new type means editing every type switch",
				TargetFile:     file,
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortMedium,
			})
			typeSwitchReported++
		}

		for _, span := range spans {
			if span.Owner == "" {
				continue
			}
			if _, ok := ownerSpans[span.Owner]; !ok {
				ownerOrder = append(ownerOrder, span.Owner)
				ownerFile[span.Owner] = file
			}
			ownerSpans[span.Owner] = append(ownerSpans[span.Owner], span)
		}
	}

	for _, owner := range ownerOrder {
		public := 0
		families := map[string]bool{}
		ctors := map[string]bool{}
		for _, span := range ownerSpans[owner] {
			if span.Exported {
				public++
			}
			if fam := concernFamily(span.Name); fam != "" {
				families[fam] = true
			}
			for _, c := range span.Constructors {
				ctors[c] = true
			}
		}
		if public > 10 {
			findings = append(findings, Improvement{
				Category:       CategoryArchitecture,
				Title:          "Break up " + owner,
				Description:    fmt.Sprintf("%s exposes %d public methods; it has become a god object", owner, public),
				ProposedChange: "carve the method set into collaborators with single responsibilities",
				Rationale:      "everything depends on a god object, so everything breaks with it",
				TargetFile:     ownerFile[owner],
				Priority:       PriorityHigh,
				Impact:         ImpactHigh,
				Effort:         EffortLarge,
			})
		}
		if len(families) >= 3 {
			names := make([]string, 0, len(families))
			for fam := range families {
				names = append(names, fam)
			}
			sort.Strings(names)
			findings = append(findings, Improvement{
				Category:       CategoryArchitecture,
				Title:          "Separate concerns of " + owner,
				Description:    fmt.Sprintf("%s mixes %s responsibilities", owner, strings.Join(names, ", ")),
				ProposedChange: "move each concern family onto its own collaborator",
				Rationale:      "a type with several reasons to change gets changed for all of them",
				TargetFile:     ownerFile[owner],
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortLarge,
			})
		}
		if len(ownerSpans[owner]) == 1 && ownerSpans[owner][0].Name == "__init__" {
			findings = append(findings, Improvement{
				Category:       CategoryArchitecture,
				Title:          "Make " + owner + " a dataclass",
				Description:    fmt.Sprintf("%s only defines __init__; it is a plain data holder", owner),
				ProposedChange: "declare it as a record-style construct instead of a hand-written constructor",
				Rationale:      "a hand-rolled data holder restates what a record declares in one line",
				TargetFile:     ownerFile[owner],
				Priority:       PriorityLow,
				Impact:         ImpactLow,
				Effort:         EffortTrivial,
			})
		}
		if len(ctors) > 3 {
			findings = append(findings, Improvement{
				Category:       CategoryArchitecture,
				Title:          "Inject dependencies into " + owner,
				Description:    fmt.Sprintf("%s constructs %d collaborators itself", owner, len(ctors)),
				ProposedChange: "accept the collaborators as constructor arguments",
				Rationale:      "a type that builds its own dependencies cannot be tested apart from them",
				TargetFile:     ownerFile[owner],
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortMedium,
			})
		}
	}

	cycleReported := 0
	stems := make(map[string]string, len(sourceFiles))
	imports := make(map[string][]string, len(sourceFiles))
	for _, file := range sourceFiles {
		base := strings.ToLower(path.Base(file))
		stems[file] = strings.TrimSuffix(base, path.Ext(base))
		imports[file] = scanImportTargets(target.Files[file])
	}
	for i, fa := range sourceFiles {
		for _, fb := range sourceFiles[i+1:] {
			if cycleReported >= perFileFindingCap {
				break
			}
			if importsStem(imports[fa], stems[fb]) && importsStem(imports[fb], stems[fa]) {
				findings = append(findings, Improvement{
					Category:       CategoryArchitecture,
					Title:          "Break the import cycle with " + fb,
					Description:    fmt.Sprintf("%s and %s import each other", fa, fb),
					ProposedChange: "move the shared piece into a module both can import",
					Rationale:      "cyclic modules can only be understood and loaded together",
					TargetFile:     fa,
					Priority:       PriorityHigh,
					Impact:         ImpactHigh,
					Effort:         EffortMedium,
				})
				cycleReported++
			}
		}
	}

	for dir, count := range dirCounts {
		if count > 20 {
			findings = append(findings, Improvement{
				Category:       CategoryArchitecture,
				Title:          "Split crowded package " + dir,
				Description:    fmt.Sprintf("%s holds %d files", dir, count),
				ProposedChange: "partition the directory by subdomain",
				Rationale:      "crowded packages accumulate incidental dependencies",
				TargetFile:     dir,
				Priority:       PriorityMedium,
				Impact:         ImpactMedium,
				Effort:         EffortLarge,
			})
		}
	}
	return findings, nil
}

func importsStem(targets []string, stem string) bool {
	for _, t := range targets {
		if t == stem {
			return true
		}
	}
	return false
}

// concernVerbs buckets method-name verbs into concern families.
var concernVerbs = map[string]string{
	"get": "read", "fetch": "read", "read": "read", "load": "read", "query": "read", "list": "read",
	"set": "write", "save": "write", "store": "write", "write": "write", "update": "write", "put": "write",
	"parse": "decode", "decode": "decode", "unmarshal": "decode",
	"format": "encode", "render": "encode", "encode": "encode", "marshal": "encode",
	"send": "transport", "publish": "transport", "post": "transport", "dispatch": "transport", "emit": "transport",
	"validate": "validate", "check": "validate", "verify": "validate", "ensure": "validate",
	"create": "construct", "make": "construct", "build": "construct", "new": "construct",
	"delete": "cleanup", "remove": "cleanup", "clear": "cleanup", "drop": "cleanup", "close": "cleanup",
	"handle": "execute", "process": "execute", "run": "execute", "execute": "execute", "apply": "execute",
	"open": "lifecycle", "connect": "lifecycle", "start": "lifecycle", "stop": "lifecycle", "init": "lifecycle",
}

// concernFamily maps a method name to the family its leading verb
// suggests, or "" when the verb is not a known concern.
func concernFamily(name string) string {
	return concernVerbs[strings.ToLower(leadingWord(name))]
}

// leadingWord takes the first camelCase or snake_case word of a name.
func leadingWord(name string) string {
	if idx := strings.IndexByte(name, '_'); idx > 0 {
		return name[:idx]
	}
	for i := 1; i < len(name); i++ {
		if name[i] >= 'A' && name[i] <= 'Z' {
			return name[:i]
		}
	}
	return name
}
