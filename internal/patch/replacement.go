package patch

import (
	"strings"
)

// Scope selects how many occurrences a rule rewrites.
type Scope int

const (
	// ScopeDefault follows the match pattern's global flag; literals rewrite the first occurrence.
	ScopeDefault Scope = iota
	ScopeFirst
	ScopeAll
)

// ReplaceFunc computes the replacement for one match. groups holds the
// captured groups in order; unmatched groups are empty.
type ReplaceFunc func(match string, groups ...string) string

// Replacement is one find/replace rule. When Func is set it wins over Text.
// Text may use $1 / ${name} templates when Match is a pattern. A group
// reference followed by name characters must be braced: $1x names the group
// "1x", so write ${1}x.
type Replacement struct {
	Match Matcher
	Text  string
	Func  ReplaceFunc
	Scope Scope
}

// Patch is an activation condition plus ordered replacement rules.
type Patch struct {
	Find         []Matcher
	Replacements []Replacement
	// Owner is the registrar the patch was registered by.
	Owner string
}

// all resolves the rule's effective scope.
func (r Replacement) all() bool {
	switch r.Scope {
	case ScopeAll:
		return true
	case ScopeFirst:
		return false
	}
	return r.Match.Global()
}

// ApplyTo rewrites text with r and reports whether the text changed.
func (r Replacement) ApplyTo(text string) (string, bool) {
	n := 1
	if r.all() {
		n = -1
	}

	var out string
	if r.Match.re == nil {
		out = r.applyLiteral(text, n)
	} else {
		out = r.applyPattern(text, n)
	}
	return out, out != text
}

func (r Replacement) applyLiteral(text string, n int) string {
	lit := r.Match.literal
	if lit == "" {
		return text
	}
	if r.Func == nil {
		return strings.Replace(text, lit, r.Text, n)
	}
	var b strings.Builder
	rest := text
	for n != 0 {
		i := strings.Index(rest, lit)
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		b.WriteString(r.Func(lit))
		rest = rest[i+len(lit):]
		n--
	}
	b.WriteString(rest)
	return b.String()
}

func (r Replacement) applyPattern(text string, n int) string {
	re := r.Match.re
	locs := re.FindAllStringSubmatchIndex(text, n)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(text[last:loc[0]])
		if r.Func != nil {
			groups := make([]string, 0, len(loc)/2-1)
			for g := 2; g < len(loc); g += 2 {
				if loc[g] < 0 {
					groups = append(groups, "")
					continue
				}
				groups = append(groups, text[loc[g]:loc[g+1]])
			}
			b.WriteString(r.Func(text[loc[0]:loc[1]], groups...))
		} else {
			b.Write(re.ExpandString(nil, r.Text, text, loc))
		}
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// RewriteResult reports what a chain of rules did to a text.
type RewriteResult struct {
	Text    string
	Changed int
	// NoOps holds the indexes of rules that changed nothing.
	NoOps []int
}

// Rewrite applies rules in order, each to the output of the previous one.
func Rewrite(text string, rules []Replacement) RewriteResult {
	res := RewriteResult{Text: text}
	for i, rule := range rules {
		out, changed := rule.ApplyTo(res.Text)
		if !changed {
			res.NoOps = append(res.NoOps, i)
			continue
		}
		res.Text = out
		res.Changed++
	}
	return res
}
