package config

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pattern is a regular expression read from the configuration. The webpack
// literal form /\.css$/i is accepted, slashes are stripped and the i flag is
// turned into (?i).
type Pattern struct {
	re  *regexp.Regexp
	raw string
}

// MustPattern compiles expr and panics on error, for defaults and tests.
func MustPattern(expr string) Pattern {
	p, err := ParsePattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePattern compiles a configuration pattern.
func ParsePattern(expr string) (Pattern, error) {
	raw := expr
	if len(expr) >= 2 && strings.HasPrefix(expr, "/") {
		if end := strings.LastIndex(expr, "/"); end > 0 {
			flags := expr[end+1:]
			expr = expr[1:end]
			if strings.Contains(flags, "i") {
				expr = "(?i)" + expr
			}
		}
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", raw, err)
	}

	return Pattern{re: re, raw: raw}, nil
}

// IsZero reports whether no pattern was configured.
func (p Pattern) IsZero() bool {
	return p.re == nil
}

// MatchString reports whether path matches. Paths are matched with forward
// slashes on every platform. An unset pattern never matches.
func (p Pattern) MatchString(path string) bool {
	if p.re == nil {
		return false
	}
	return p.re.MatchString(strings.ReplaceAll(path, "\\", "/"))
}

func (p Pattern) String() string {
	return p.raw
}

func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	var expr string
	if err := node.Decode(&expr); err != nil {
		return fmt.Errorf("line %d: pattern must be a string: %w", node.Line, err)
	}
	if expr == "" {
		*p = Pattern{}
		return nil
	}
	parsed, err := ParsePattern(expr)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*p = parsed
	return nil
}

func (p Pattern) MarshalYAML() (any, error) {
	return p.raw, nil
}
