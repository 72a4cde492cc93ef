// Package patch holds the text side of splice: find conditions, ordered
// replacement rules, placeholder tokens and the replacement engine that
// turns an edited factory source into a compiled factory.
package patch

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrBadPattern is returned for malformed /regexp/flags literals.
var ErrBadPattern = errors.New("patch: bad pattern")

// Matcher is either a literal substring or a regular expression. A pattern
// carries a global flag that sets the default replacement scope.
type Matcher struct {
	literal string
	re      *regexp.Regexp
	global  bool
}

// Literal matches s as a plain substring.
func Literal(s string) Matcher {
	return Matcher{literal: s}
}

// Regexp matches re; global makes replacements apply to every occurrence by default.
func Regexp(re *regexp.Regexp, global bool) Matcher {
	return Matcher{re: re, global: global}
}

// ParseMatcher reads "/expr/flags" as a pattern and anything else as a
// literal. Flags: g (global), i, m, s. A literal that starts with a slash,
// such as a URL path, is written with a leading backslash: `\/api/v1`.
func ParseMatcher(s string) (Matcher, error) {
	if strings.HasPrefix(s, `\/`) {
		return Literal(s[1:]), nil
	}
	if len(s) < 2 || s[0] != '/' {
		return Literal(s), nil
	}
	end := strings.LastIndex(s, "/")
	if end == 0 {
		return Literal(s), nil
	}
	expr, flags := s[1:end], s[end+1:]
	var global bool
	var inline string
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i', 'm', 's':
			inline += string(f)
		default:
			return Matcher{}, fmt.Errorf("%w: unknown flag %q in %s", ErrBadPattern, f, s)
		}
	}
	if inline != "" {
		expr = "(?" + inline + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Matcher{}, fmt.Errorf("%w: %s: %v", ErrBadPattern, s, err)
	}
	return Regexp(re, global), nil
}

// MustParse is ParseMatcher that panics on error.
func MustParse(s string) Matcher {
	m, err := ParseMatcher(s)
	if err != nil {
		panic(err)
	}
	return m
}

// IsPattern reports whether m is a regular expression.
func (m Matcher) IsPattern() bool { return m.re != nil }

// Global reports the pattern's match-all flag.
func (m Matcher) Global() bool { return m.global }

// FoundIn reports whether m occurs in text.
func (m Matcher) FoundIn(text string) bool {
	if m.re != nil {
		return m.re.MatchString(text)
	}
	return strings.Contains(text, m.literal)
}

// String renders m in the syntax ParseMatcher accepts.
func (m Matcher) String() string {
	if m.re == nil {
		return m.literal
	}
	s := "/" + m.re.String() + "/"
	if m.global {
		s += "g"
	}
	return s
}

// key distinguishes literals from patterns with the same text.
func (m Matcher) key() string {
	if m.re == nil {
		return "L:" + m.literal
	}
	return "P:" + m.String()
}

// Matches reports whether at least one of p's find values occurs in source.
func Matches(source string, p Patch) bool {
	for _, f := range p.Find {
		if f.FoundIn(source) {
			return true
		}
	}
	return false
}

func findKey(find []Matcher) string {
	keys := make([]string, 0, len(find))
	seen := make(map[string]bool, len(find))
	for _, f := range find {
		k := f.key()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x00")
}
