package parse

import (
	"regexp"
	"strings"
)

var (
	pythonSymbolRe = regexp.MustCompile(`(?m)^\+.*?(?:def|class)\s+(\w+)`)
	goFuncRe       = regexp.MustCompile(`(?m)^\+\s*func\s+(?:\([^)]*\)\s*)?(\w+)`)
	goTypeRe       = regexp.MustCompile(`(?m)^\+\s*type\s+(\w+)`)
	jsSymbolRes    = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\+.*?(?:function|class)\s+(\w+)`),
		regexp.MustCompile(`(?m)^\+.*?(?:const|let|var)\s+(\w+)\s*=\s*(?:\(|function|class)`),
		regexp.MustCompile(`(?m)^\+.*?export\s+(?:function|class|const|let)\s+(\w+)`),
	}
)

// ChangedSymbols extracts function/type names introduced or touched by the
// added lines of a unified diff patch. Heuristic, by file extension.
func ChangedSymbols(patch, path string) []string {
	ext := ""
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = strings.ToLower(path[i+1:])
	}

	var symbols []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			symbols = append(symbols, name)
		}
	}

	switch ext {
	case "py":
		for _, m := range pythonSymbolRe.FindAllStringSubmatch(patch, -1) {
			add(m[1])
		}
	case "go":
		for _, m := range goFuncRe.FindAllStringSubmatch(patch, -1) {
			add(m[1])
		}
		for _, m := range goTypeRe.FindAllStringSubmatch(patch, -1) {
			add(m[1])
		}
	case "js", "jsx", "ts", "tsx":
		for _, re := range jsSymbolRes {
			for _, m := range re.FindAllStringSubmatch(patch, -1) {
				add(m[1])
			}
		}
	}
	return symbols
}

// FrameworkFor guesses the test framework to suggest for a file.
func FrameworkFor(path string) string {
	ext := ""
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = strings.ToLower(path[i+1:])
	}
	switch ext {
	case "py":
		return "pytest"
	case "js", "jsx", "ts", "tsx":
		return "jest"
	case "go":
		return "go test"
	default:
		return "unknown"
	}
}
