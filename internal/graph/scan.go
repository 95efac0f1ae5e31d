package graph

import (
	"regexp"
	"sort"
)

var specifierPatterns = []*regexp.Regexp{
	// require("x")
	regexp.MustCompile(`(?:^|[^.\w$])require\s*\(\s*(?:"([^"\n]+)"|'([^'\n]+)')\s*\)`),
	// import("x")
	regexp.MustCompile(`(?:^|[^.\w$])import\s*\(\s*(?:"([^"\n]+)"|'([^'\n]+)')\s*\)`),
	// import x from "x", import {a} from "x", import * as x from "x", import "x"
	regexp.MustCompile(`(?:^|[^.\w$])import\s*(?:[\w$*{}\s,]+?\s*from\s*)?(?:"([^"\n]+)"|'([^'\n]+)')`),
	// export * from "x", export {a} from "x"
	regexp.MustCompile(`(?:^|[^.\w$])export\s*(?:\*(?:\s*as\s+[\w$]+)?|\{[^}]*\})\s*from\s*(?:"([^"\n]+)"|'([^'\n]+)')`),
}

type found struct {
	pos       int
	specifier string
}

// Scan returns the dependency specifiers referenced by JavaScript source in
// the order they first appear. Specifiers inside comments and inside other
// string literals are ignored.
func Scan(code []byte) []string {
	src := maskSource(code)

	var hits []found
	for _, re := range specifierPatterns {
		for _, m := range re.FindAllSubmatchIndex(src, -1) {
			for g := 1; g*2+1 < len(m); g++ {
				if m[g*2] >= 0 {
					hits = append(hits, found{pos: m[g*2], specifier: string(src[m[g*2]:m[g*2+1]])})
					break
				}
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]bool, len(hits))
	var specs []string
	for _, h := range hits {
		if seen[h.specifier] {
			continue
		}
		seen[h.specifier] = true
		specs = append(specs, h.specifier)
	}
	return specs
}

// maskSource blanks comments and the contents of string and template
// literals, keeping byte offsets. Literals that are the argument of require,
// import or from stay intact so the specifier patterns only see real imports.
func maskSource(code []byte) []byte {
	out := make([]byte, len(code))
	copy(out, code)

	const (
		normal = iota
		lineComment
		blockComment
		quoted
	)

	state := normal
	var (
		quote byte
		keep  bool
	)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch state {
		case normal:
			switch {
			case c == '/' && i+1 < len(out) && out[i+1] == '/':
				state = lineComment
				out[i] = ' '
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				state = blockComment
				out[i] = ' '
				i++
				out[i] = ' '
			case c == '"' || c == '\'' || c == '`':
				state = quoted
				quote = c
				keep = c != '`' && isSpecifierPosition(out, i)
			}
		case lineComment:
			if c == '\n' {
				state = normal
			} else {
				out[i] = ' '
			}
		case blockComment:
			if c == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i] = ' '
				i++
				out[i] = ' '
				state = normal
			} else if c != '\n' {
				out[i] = ' '
			}
		case quoted:
			switch {
			case c == '\\':
				if !keep {
					out[i] = ' '
					if i+1 < len(out) && out[i+1] != '\n' {
						out[i+1] = ' '
					}
				}
				i++
			case c == quote:
				state = normal
			case c == '\n' && quote != '`':
				// unterminated string, recover at the line end
				state = normal
			case c != '\n' && !keep:
				out[i] = ' '
			}
		}
	}
	return out
}

// isSpecifierPosition reports whether the literal opening at i follows
// require(, import(, from or a bare import.
func isSpecifierPosition(src []byte, i int) bool {
	j := skipSpaceBack(src, i-1)
	if j >= 0 && src[j] == '(' {
		word := wordBefore(src, skipSpaceBack(src, j-1))
		return word == "require" || word == "import"
	}
	word := wordBefore(src, j)
	return word == "from" || word == "import"
}

func skipSpaceBack(src []byte, j int) int {
	for j >= 0 && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
		j--
	}
	return j
}

func wordBefore(src []byte, end int) string {
	start := end
	for start >= 0 && isIdent(src[start]) {
		start--
	}
	return string(src[start+1 : end+1])
}

func isIdent(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
