package analysis

import (
	"path"
	"strings"
)

// Line-scanning machinery shared by the analyzers. Everything here
// judges artifact text by line shape alone: prefixes, indentation, and
// brace depth. Nothing is parsed into a tree and nothing is executed.

// loopNest marks a loop statement that starts inside another loop.
// Depth counts enclosing loops plus the loop itself.
type loopNest struct {
	Line  int
	Depth int
}

// loopScan is what a walk over one file's loops saw. All line numbers
// are 1-based.
type loopScan struct {
	Nested  []loopNest
	Concat  []int
	Sleeps  []int
	Queries []int
	Appends []int
}

// scanLoops walks a file with an indent stack, recording nested loop
// starts and the suspect statements inside loop bodies.
func scanLoops(content string) loopScan {
	var scan loopScan
	var stack []int
	for n, raw := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		indent := indentOf(raw)
		for len(stack) > 0 && indent <= stack[len(stack)-1] {
			stack = stack[:len(stack)-1]
		}
		lower := strings.ToLower(trimmed)
		if isLoopStart(lower) {
			if len(stack) > 0 {
				scan.Nested = append(scan.Nested, loopNest{Line: n + 1, Depth: len(stack) + 1})
			}
			stack = append(stack, indent)
			continue
		}
		if len(stack) == 0 {
			continue
		}
		if strings.Contains(trimmed, "+=") && strings.Contains(trimmed, `"`) {
			scan.Concat = append(scan.Concat, n+1)
		}
		if strings.Contains(lower, "sleep(") {
			scan.Sleeps = append(scan.Sleeps, n+1)
		}
		if hasQueryCall(lower) {
			scan.Queries = append(scan.Queries, n+1)
		}
		if hasAppendCall(lower) {
			scan.Appends = append(scan.Appends, n+1)
		}
	}
	return scan
}

func isLoopStart(lower string) bool {
	return strings.HasPrefix(lower, "for ") || strings.HasPrefix(lower, "for(") ||
		strings.HasPrefix(lower, "while ") || strings.HasPrefix(lower, "while(")
}

var queryMarkers = []string{
	".query(", ".queryrow(", ".exec(", ".execute(",
	".fetchone(", ".fetchall(", "select * from", "insert into ",
}

func hasQueryCall(lower string) bool {
	for _, m := range queryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func hasAppendCall(lower string) bool {
	return strings.Contains(lower, "append(") || strings.Contains(lower, ".push(")
}

// funcSpan is one recognized function and the line-level facts the
// analyzers judge it by. Go and Python declarations are parsed from
// line shape; multi-line signatures are skipped.
type funcSpan struct {
	Name         string
	Owner        string // receiver type or enclosing class, "" for free functions
	StartLine    int    // 1-based signature line
	Lines        int    // span length including the signature
	Params       []string
	Doc          string // comment block above the signature, or the docstring under it
	Exported     bool
	Test         bool
	Python       bool
	Branches     int
	HasLoop      bool
	Logs         bool
	Raises       bool
	Asserts      int
	ReturnsValue bool
	Constructors []string // distinct constructor-style calls, in order of first use
}

// scanFunctions describes every function the scanner can recognize in
// one file.
func scanFunctions(content string) []funcSpan {
	lines := strings.Split(content, "\n")
	var spans []funcSpan

	type classFrame struct {
		name   string
		indent int
	}
	var classes []classFrame

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || isCommentLine(trimmed) {
			continue
		}
		indent := indentOf(lines[i])
		for len(classes) > 0 && indent <= classes[len(classes)-1].indent {
			classes = classes[:len(classes)-1]
		}
		if name, ok := parseClassHeader(trimmed); ok {
			classes = append(classes, classFrame{name: name, indent: indent})
			continue
		}

		span, ok := parseFuncHeader(trimmed)
		if !ok {
			continue
		}
		span.StartLine = i + 1
		if span.Owner == "" && len(classes) > 0 {
			span.Owner = classes[len(classes)-1].name
		}
		span.Doc = docAbove(lines, i)
		end := spanEnd(lines, i, indent, span.Python)
		span.Lines = end - i + 1

		seen := map[string]bool{}
		for j := i; j <= end; j++ {
			body := strings.TrimSpace(lines[j])
			if body == "" || isCommentLine(body) {
				continue
			}
			lower := strings.ToLower(body)
			span.Branches += countBranches(lower)
			if isLoopStart(lower) {
				span.HasLoop = true
			}
			if hasLogCall(lower) {
				span.Logs = true
			}
			if raisesError(lower) {
				span.Raises = true
			}
			if isAssertion(lower) {
				span.Asserts++
			}
			if span.Python && !span.ReturnsValue && returnsValueLine(body) {
				span.ReturnsValue = true
			}
			for _, c := range constructorCalls(body) {
				if !seen[c] {
					seen[c] = true
					span.Constructors = append(span.Constructors, c)
				}
			}
		}
		if span.Python && span.Doc == "" {
			span.Doc = docstringBelow(lines, i, end)
		}
		spans = append(spans, span)
	}
	return spans
}

func parseFuncHeader(trimmed string) (funcSpan, bool) {
	switch {
	case strings.HasPrefix(trimmed, "func "):
		return parseGoFunc(trimmed)
	case strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def "):
		return parsePyFunc(trimmed)
	case strings.HasPrefix(trimmed, "function "):
		return parseJSFunc(trimmed)
	}
	return funcSpan{}, false
}

func parseGoFunc(trimmed string) (funcSpan, bool) {
	rest := strings.TrimPrefix(trimmed, "func ")
	var span funcSpan
	if strings.HasPrefix(rest, "(") {
		close := strings.IndexByte(rest, ')')
		if close < 0 {
			return funcSpan{}, false
		}
		fields := strings.Fields(rest[1:close])
		if len(fields) > 0 {
			span.Owner = strings.TrimLeft(fields[len(fields)-1], "*")
		}
		rest = strings.TrimSpace(rest[close+1:])
	}
	open := strings.IndexByte(rest, '(')
	if open <= 0 {
		return funcSpan{}, false
	}
	span.Name = strings.TrimSpace(rest[:open])
	if !isIdent(span.Name) {
		return funcSpan{}, false
	}
	inner, after, ok := splitParams(rest[open:])
	if !ok {
		return funcSpan{}, false
	}
	span.Params = goParamNames(inner)
	after = strings.TrimSpace(after)
	if idx := strings.IndexByte(after, '{'); idx >= 0 {
		after = strings.TrimSpace(after[:idx])
	}
	span.ReturnsValue = after != ""
	span.Exported = startsUpper(span.Name)
	span.Test = strings.HasPrefix(span.Name, "Test") && len(span.Name) > 4
	return span, true
}

func parsePyFunc(trimmed string) (funcSpan, bool) {
	rest := strings.TrimPrefix(trimmed, "async ")
	rest = strings.TrimPrefix(rest, "def ")
	open := strings.IndexByte(rest, '(')
	if open <= 0 {
		return funcSpan{}, false
	}
	span := funcSpan{Name: strings.TrimSpace(rest[:open]), Python: true}
	if !isIdent(span.Name) {
		return funcSpan{}, false
	}
	inner, _, ok := splitParams(rest[open:])
	if !ok {
		return funcSpan{}, false
	}
	span.Params = pyParamNames(inner)
	span.Exported = !strings.HasPrefix(span.Name, "_")
	span.Test = strings.HasPrefix(span.Name, "test")
	return span, true
}

func parseJSFunc(trimmed string) (funcSpan, bool) {
	rest := strings.TrimPrefix(trimmed, "function ")
	open := strings.IndexByte(rest, '(')
	if open <= 0 {
		return funcSpan{}, false
	}
	span := funcSpan{Name: strings.TrimSpace(rest[:open])}
	if !isIdent(span.Name) {
		return funcSpan{}, false
	}
	inner, _, ok := splitParams(rest[open:])
	if !ok {
		return funcSpan{}, false
	}
	span.Params = pyParamNames(inner)
	span.Exported = true
	span.Test = strings.HasPrefix(strings.ToLower(span.Name), "test")
	return span, true
}

func parseClassHeader(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, "class ") {
		return "", false
	}
	name := identPrefix(strings.TrimPrefix(trimmed, "class "))
	if name == "" {
		return "", false
	}
	if strings.HasSuffix(trimmed, ":") || strings.Contains(trimmed, "(") || strings.Contains(trimmed, "{") {
		return name, true
	}
	return "", false
}

// splitParams takes a string starting at "(" and returns the text
// inside the matching parenthesis plus whatever follows it.
func splitParams(s string) (inner, after string, ok bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[1:i], s[i+1:], true
			}
		}
	}
	return "", "", false
}

var goBuiltinTypes = map[string]bool{
	"bool": true, "byte": true, "error": true, "float32": true, "float64": true,
	"int": true, "int32": true, "int64": true, "rune": true, "string": true,
	"uint": true, "uint32": true, "uint64": true, "any": true,
}

func goParamNames(inner string) []string {
	var names []string
	for _, seg := range strings.Split(inner, ",") {
		fields := strings.Fields(strings.TrimSpace(seg))
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		// A lone segment may be a bare type; lowercase idents are
		// accepted as names, known types and anything else are not.
		if len(fields) == 1 && (!isIdent(name) || startsUpper(name) || goBuiltinTypes[name]) {
			continue
		}
		if isIdent(name) && name != "_" {
			names = append(names, name)
		}
	}
	return names
}

func pyParamNames(inner string) []string {
	var names []string
	for _, seg := range strings.Split(inner, ",") {
		name := strings.TrimLeft(strings.TrimSpace(seg), "*")
		for _, cut := range []string{":", "="} {
			if idx := strings.Index(name, cut); idx >= 0 {
				name = name[:idx]
			}
		}
		name = strings.TrimSpace(name)
		if name == "" || name == "self" || name == "cls" || !isIdent(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// spanEnd finds the last line of a function body: brace depth for brace
// languages, the first line back at the signature's indent for Python.
func spanEnd(lines []string, start, headerIndent int, python bool) int {
	if python {
		for i := start + 1; i < len(lines); i++ {
			trimmed := strings.TrimSpace(lines[i])
			if trimmed == "" {
				continue
			}
			if indentOf(lines[i]) <= headerIndent {
				return i - 1
			}
		}
		return len(lines) - 1
	}
	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		for _, ch := range lines[i] {
			switch ch {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
	}
	return len(lines) - 1
}

// docAbove collects the comment block ending on the line directly above
// the signature.
func docAbove(lines []string, start int) string {
	var doc []string
	for i := start - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if !isCommentLine(trimmed) {
			break
		}
		doc = append([]string{trimmed}, doc...)
	}
	return strings.Join(doc, "\n")
}

// docstringBelow returns a Python docstring opening on the first body
// line, when there is one.
func docstringBelow(lines []string, start, end int) string {
	for i := start + 1; i <= end && i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		for _, q := range []string{`"""`, "'''"} {
			if !strings.HasPrefix(trimmed, q) {
				continue
			}
			if rest := trimmed[len(q):]; strings.Contains(rest, q) {
				return trimmed
			}
			var doc []string
			doc = append(doc, trimmed)
			for j := i + 1; j <= end && j < len(lines); j++ {
				doc = append(doc, strings.TrimSpace(lines[j]))
				if strings.Contains(lines[j], q) {
					return strings.Join(doc, "\n")
				}
			}
			return strings.Join(doc, "\n")
		}
		return ""
	}
	return ""
}

func countBranches(lower string) int {
	n := 0
	for _, kw := range []string{"if ", "if(", "for ", "for(", "while ", "while(", "case ", "elif ", "except", "catch", "switch "} {
		if strings.HasPrefix(lower, kw) || strings.Contains(lower, "else "+kw) {
			n++
			break
		}
	}
	return n + strings.Count(lower, "&&") + strings.Count(lower, "||")
}

func hasLogCall(lower string) bool {
	for _, m := range []string{"print(", "println", "printf", ".log(", "logger", "logging.", "log."} {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func raisesError(lower string) bool {
	for _, m := range []string{"raise ", "panic(", "throw ", "errors.new(", "fmt.errorf("} {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isAssertion(lower string) bool {
	for _, m := range []string{"assert", "require.", "t.error", "t.fatal", "t.fail", "expect(", ".tobe(", "should"} {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func returnsValueLine(trimmed string) bool {
	rest, ok := strings.CutPrefix(trimmed, "return ")
	return ok && strings.TrimSpace(rest) != ""
}

// constructorCalls lists constructor-shaped calls on one line: Go
// NewThing(...), Python/JS Thing(...) behind an assignment, and JS
// new Thing(...).
func constructorCalls(line string) []string {
	var calls []string
	for i := 0; i < len(line); i++ {
		if !strings.HasPrefix(line[i:], "New") {
			continue
		}
		if i > 0 && isIdentChar(line[i-1]) {
			continue
		}
		if name, end := callNameAt(line, i); name != "" && len(name) > 3 && startsUpper(name[3:]) {
			calls = append(calls, name)
			i = end
		}
	}
	for _, marker := range []string{"= ", "new "} {
		from := 0
		for {
			idx := strings.Index(line[from:], marker)
			if idx < 0 {
				break
			}
			at := from + idx + len(marker)
			from = at
			if at >= len(line) || !startsUpper(line[at:]) {
				continue
			}
			if name, _ := callNameAt(line, at); name != "" && !strings.HasPrefix(name, "New") {
				calls = append(calls, name)
			}
		}
	}
	return calls
}

// callNameAt reads an identifier beginning at i and reports it when a
// call parenthesis follows directly.
func callNameAt(line string, i int) (string, int) {
	j := i
	for j < len(line) && isIdentChar(line[j]) {
		j++
	}
	if j < len(line) && line[j] == '(' {
		return line[i:j], j
	}
	return "", i
}

// nameRef ties an identifier to the 1-based line that binds it.
type nameRef struct {
	Name string
	Line int
}

// scanImports lists the names a file binds through imports. Blank and
// dot imports are skipped.
func scanImports(lines []string) []nameRef {
	var refs []nameRef
	inBlock := false
	for n, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		switch {
		case inBlock:
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
				continue
			}
			if ref, ok := goImportSpec(trimmed, n+1); ok {
				refs = append(refs, ref)
			}
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case strings.HasPrefix(trimmed, "import "):
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "import "))
			if strings.Contains(rest, `"`) || strings.Contains(rest, "'") {
				if strings.Contains(rest, " from ") {
					continue
				}
				if ref, ok := goImportSpec(rest, n+1); ok {
					refs = append(refs, ref)
				}
				continue
			}
			for _, part := range strings.Split(rest, ",") {
				if name := pyBoundName(part); name != "" {
					refs = append(refs, nameRef{Name: name, Line: n + 1})
				}
			}
		case strings.HasPrefix(trimmed, "from ") && strings.Contains(trimmed, " import "):
			names := trimmed[strings.Index(trimmed, " import ")+len(" import "):]
			if strings.TrimSpace(names) == "*" {
				continue
			}
			for _, part := range strings.Split(names, ",") {
				if name := pyBoundName(part); name != "" {
					refs = append(refs, nameRef{Name: name, Line: n + 1})
				}
			}
		}
	}
	return refs
}

func goImportSpec(spec string, line int) (nameRef, bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" || isCommentLine(spec) {
		return nameRef{}, false
	}
	alias := ""
	if !strings.HasPrefix(spec, `"`) {
		fields := strings.Fields(spec)
		if len(fields) != 2 {
			return nameRef{}, false
		}
		alias, spec = fields[0], fields[1]
	}
	if alias == "_" || alias == "." {
		return nameRef{}, false
	}
	if alias == "" {
		leaf := strings.Trim(spec, `"'`)
		if idx := strings.LastIndexByte(leaf, '/'); idx >= 0 {
			leaf = leaf[idx+1:]
		}
		alias = identPrefix(leaf)
	}
	if !isIdent(alias) {
		return nameRef{}, false
	}
	return nameRef{Name: alias, Line: line}, true
}

// pyBoundName resolves "a.b as c" to c and "a.b" to a.
func pyBoundName(part string) string {
	part = strings.TrimSpace(part)
	if idx := strings.Index(part, " as "); idx >= 0 {
		return identPrefix(strings.TrimSpace(part[idx+len(" as "):]))
	}
	return identPrefix(part)
}

// scanImportTargets lists the module stems a file imports, lowercased,
// for matching against sibling artifacts.
func scanImportTargets(content string) []string {
	seen := map[string]bool{}
	var stems []string
	add := func(raw string) {
		raw = strings.Trim(strings.TrimSpace(raw), `"'`)
		raw = strings.TrimPrefix(raw, "./")
		if idx := strings.LastIndexByte(raw, '/'); idx >= 0 {
			raw = raw[idx+1:]
		}
		raw = strings.TrimLeft(raw, ".")
		if idx := strings.LastIndexByte(raw, '.'); idx >= 0 {
			raw = raw[idx+1:]
		}
		stem := strings.ToLower(identPrefix(raw))
		if stem != "" && !seen[stem] {
			seen[stem] = true
			stems = append(stems, stem)
		}
	}
	for _, raw := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(trimmed, "from ") && strings.Contains(trimmed, " import "):
			add(trimmed[len("from "):strings.Index(trimmed, " import ")])
		case strings.HasPrefix(trimmed, "import ") && !strings.Contains(trimmed, `"`):
			if idx := strings.Index(trimmed, " from "); idx >= 0 {
				add(trimmed[idx+len(" from "):])
				continue
			}
			for _, part := range strings.Split(strings.TrimPrefix(trimmed, "import "), ",") {
				if idx := strings.Index(part, " as "); idx >= 0 {
					part = part[:idx]
				}
				add(part)
			}
		case strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, `import(`):
			if ref, ok := goImportSpec(strings.TrimPrefix(trimmed, "import "), 0); ok {
				add(ref.Name)
			}
		}
		if idx := strings.Index(trimmed, "require("); idx >= 0 {
			arg := trimmed[idx+len("require("):]
			if end := strings.IndexAny(arg, ")"); end > 0 {
				add(arg[:end])
			}
		}
	}
	return stems
}

// typeSpan is one recognized type or class declaration.
type typeSpan struct {
	Name      string
	StartLine int
	Doc       string
	Exported  bool
}

// scanTypes finds Go struct declarations and Python/JS classes.
func scanTypes(content string) []typeSpan {
	lines := strings.Split(content, "\n")
	var types []typeSpan
	for i, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		var name string
		if rest, ok := strings.CutPrefix(trimmed, "type "); ok && strings.Contains(rest, " struct") {
			name = identPrefix(rest)
		} else if n, ok := parseClassHeader(trimmed); ok {
			name = n
		}
		if name == "" {
			continue
		}
		exported := startsUpper(name)
		if strings.HasPrefix(trimmed, "class ") {
			exported = !strings.HasPrefix(name, "_")
		}
		types = append(types, typeSpan{
			Name:      name,
			StartLine: i + 1,
			Doc:       docAbove(lines, i),
			Exported:  exported,
		})
	}
	return types
}

// wordCount counts whole-word occurrences of name, skipping one
// 1-based line (0 to skip nothing).
func wordCount(lines []string, name string, skipLine int) int {
	count := 0
	for n, line := range lines {
		if n+1 == skipLine {
			continue
		}
		from := 0
		for {
			idx := strings.Index(line[from:], name)
			if idx < 0 {
				break
			}
			at := from + idx
			before := at == 0 || !isIdentChar(line[at-1])
			afterIdx := at + len(name)
			after := afterIdx >= len(line) || !isIdentChar(line[afterIdx])
			if before && after {
				count++
			}
			from = afterIdx
		}
	}
	return count
}

func indentOf(raw string) int {
	return len(raw) - len(strings.TrimLeft(raw, " \t"))
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

func identPrefix(s string) string {
	i := 0
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	if i == 0 || (s[0] >= '0' && s[0] <= '9') {
		return ""
	}
	return s[:i]
}

func startsUpper(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

// Path classification shared by the analyzers. Doc and data files are
// not source; tests are source but classified separately.
func isSourcePath(file string) bool {
	lower := strings.ToLower(file)
	for _, ext := range []string{".md", ".rst", ".txt", ".json", ".yaml", ".yml", ".toml", ".lock"} {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	return true
}

func isTestPath(file string) bool {
	base := strings.ToLower(path.Base(file))
	return strings.Contains(base, "_test.") || strings.HasPrefix(base, "test_") ||
		strings.Contains(base, ".test.") || strings.Contains(base, ".spec.")
}

func isCommentLine(trimmed string) bool {
	for _, prefix := range []string{"//", "#", "/*", "*", "--"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
