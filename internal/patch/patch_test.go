package patch

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splice/internal/host"
)

// recordingCompiler returns a factory exporting the compiled text.
type recordingCompiler struct {
	units []string
	fail  bool
}

func (c *recordingCompiler) CompileFactory(label, source string, _ []string) (host.FactoryFunc, error) {
	c.units = append(c.units, label+"\n"+source)
	if c.fail {
		return nil, errors.New("unexpected token")
	}
	return func(_ map[string]any, exports map[string]any, _ func(string) any) {
		exports["source"] = source
	}, nil
}

func TestParseMatcher(t *testing.T) {
	lit, err := ParseMatcher("foo(1)")
	require.NoError(t, err)
	assert.False(t, lit.IsPattern())
	assert.True(t, lit.FoundIn("return foo(1)+bar(2)"))

	pat, err := ParseMatcher("/playerIsRadio:([a-z])/g")
	require.NoError(t, err)
	assert.True(t, pat.IsPattern())
	assert.True(t, pat.Global())
	assert.Equal(t, "/playerIsRadio:([a-z])/g", pat.String())

	ci, err := ParseMatcher("/FOO/i")
	require.NoError(t, err)
	assert.True(t, ci.FoundIn("foo"))

	_, err = ParseMatcher("/x/q")
	assert.ErrorIs(t, err, ErrBadPattern)
	_, err = ParseMatcher("/(/")
	assert.ErrorIs(t, err, ErrBadPattern)

	// A lone slash is a literal.
	slash, err := ParseMatcher("/")
	require.NoError(t, err)
	assert.False(t, slash.IsPattern())
}

func TestMatches(t *testing.T) {
	p := Patch{Find: []Matcher{Literal("absent"), MustParse(`/bar\(\d\)/`)}}
	assert.True(t, Matches("function a(){return foo(1)+bar(2)}", p))
	assert.False(t, Matches("nothing here", p))
	assert.False(t, Matches("anything", Patch{}))
}

func TestReplacement_LiteralFirstOccurrence(t *testing.T) {
	src := "function a(){return foo(1)+bar(2)}"
	out, changed := Replacement{Match: Literal("foo(1)"), Text: "baz(1)"}.ApplyTo(src)
	assert.True(t, changed)
	assert.Equal(t, "function a(){return baz(1)+bar(2)}", out)
}

func TestReplacement_Scopes(t *testing.T) {
	src := "a a a"
	out, _ := Replacement{Match: Literal("a"), Text: "b"}.ApplyTo(src)
	assert.Equal(t, "b a a", out)

	out, _ = Replacement{Match: Literal("a"), Text: "b", Scope: ScopeAll}.ApplyTo(src)
	assert.Equal(t, "b b b", out)

	out, _ = Replacement{Match: MustParse("/a/g"), Text: "c"}.ApplyTo(src)
	assert.Equal(t, "c c c", out, "pattern global flag sets the default scope")

	out, _ = Replacement{Match: MustParse("/a/g"), Text: "c", Scope: ScopeFirst}.ApplyTo(src)
	assert.Equal(t, "c a a", out)
}

func TestReplacement_FuncWithGroups(t *testing.T) {
	src := "isPlayable(){const{a,b,playerIsRadio:c,d}=this.props;return c}"
	var gotMatch string
	var gotGroups []string
	r := Replacement{
		Match: Regexp(regexp.MustCompile(`playerIsRadio:([a-z])`), false),
		Func: func(match string, groups ...string) string {
			gotMatch = match
			gotGroups = groups
			return "radioFlag:false,x:" + groups[0]
		},
	}
	out, changed := r.ApplyTo(src)
	require.True(t, changed)
	assert.Equal(t, "isPlayable(){const{a,b,radioFlag:false,x:c,d}=this.props;return c}", out)
	assert.Equal(t, "playerIsRadio:c", gotMatch)
	assert.Equal(t, []string{"c"}, gotGroups)
}

func TestReplacement_FuncCalledPerMatch(t *testing.T) {
	calls := 0
	r := Replacement{Match: Literal("x"), Scope: ScopeAll, Func: func(m string, _ ...string) string {
		calls++
		return strings.ToUpper(m)
	}}
	out, _ := r.ApplyTo("x-x-x")
	assert.Equal(t, "X-X-X", out)
	assert.Equal(t, 3, calls)
}

func TestReplacement_TemplateExpansion(t *testing.T) {
	r := Replacement{Match: MustParse(`/(\w+)\((\d)\)/`), Text: "wrap($1, $2)"}
	out, _ := r.ApplyTo("call foo(1) now")
	assert.Equal(t, "call wrap(foo, 1) now", out)
}

func TestReplacement_BracedGroupBeforeNameCharacters(t *testing.T) {
	r := Replacement{Match: MustParse(`/(\w+)=1/`), Text: "${1}x=2"}
	out, _ := r.ApplyTo("a=1")
	assert.Equal(t, "ax=2", out)

	r.Text = "$1x=2"
	out, _ = r.ApplyTo("a=1")
	assert.Equal(t, "=2", out, "$1x refers to a group named 1x")
}

func TestParseMatcher_EscapedLeadingSlash(t *testing.T) {
	_, err := ParseMatcher("/api/v1")
	assert.ErrorIs(t, err, ErrBadPattern)

	m, err := ParseMatcher(`\/api/v1`)
	require.NoError(t, err)
	assert.False(t, m.IsPattern())
	assert.True(t, m.FoundIn(`fetch("/api/v1/users")`))

	f, err := ParseFile([]byte(`registrars: [{name: a, patches: [{find: ["\\/api/v1"], replacements: [{match: "\\/api/v1", replace: "/api/v2"}]}]}]`))
	require.NoError(t, err)
	regs, err := f.Registrations(NewPlaceholders("s"))
	require.NoError(t, err)
	res := Rewrite(`get("/api/v1/x")`, regs[0].Patches[0].Replacements)
	assert.Equal(t, `get("/api/v2/x")`, res.Text)
}

func TestReplacement_OptionalGroupIsEmpty(t *testing.T) {
	var groups []string
	r := Replacement{Match: MustParse(`/a(b)?(c)/`), Func: func(_ string, g ...string) string {
		groups = g
		return ""
	}}
	r.ApplyTo("ac")
	assert.Equal(t, []string{"", "c"}, groups)
}

func TestRewrite_Chaining(t *testing.T) {
	// Rule 2 only matches text produced by rule 1.
	rules := []Replacement{
		{Match: Literal("foo(1)"), Text: "stage1(1)"},
		{Match: Literal("stage1(1)"), Text: "stage2(1)"},
	}
	res := Rewrite("return foo(1)", rules)
	assert.Equal(t, "return stage2(1)", res.Text)
	assert.Equal(t, 2, res.Changed)
	assert.Empty(t, res.NoOps)
}

func TestRewrite_NoOpRulesContinue(t *testing.T) {
	rules := []Replacement{
		{Match: Literal("missing"), Text: "x"},
		{Match: Literal("foo"), Text: "bar"},
	}
	res := Rewrite("foo", rules)
	assert.Equal(t, "bar", res.Text)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, []int{0}, res.NoOps)
}

func TestRewrite_IdenticalReplacementIsNoChange(t *testing.T) {
	res := Rewrite("foo", []Replacement{{Match: Literal("foo"), Text: "foo"}})
	assert.Equal(t, 0, res.Changed)
}

func TestEngine_ApplyCompilesResolvedText(t *testing.T) {
	ph := NewPlaceholders("seed")
	rc := &recordingCompiler{}
	e := &Engine{Placeholders: ph, Compiler: rc}

	res, err := e.Apply(Request{
		Source: "func(){ foo() }",
		Replacements: []Replacement{
			{Match: Literal("foo()"), Text: ph.Data + `["hits"] = 1; foo()`},
		},
		ModuleID:  "42",
		Registrar: "radio",
	})
	require.NoError(t, err)
	assert.Equal(t, `func(){ rt.Data("radio")["hits"] = 1; foo() }`, res.Source)
	assert.False(t, ph.Contains(res.Source))
	require.Len(t, rc.units, 1)
	assert.True(t, strings.HasPrefix(rc.units[0], "splice:module 42 patched-by radio\n"))

	exports := map[string]any{}
	res.Factory(nil, exports, nil)
	assert.Equal(t, res.Source, exports["source"])
}

func TestEngine_ApplyFailsClosed(t *testing.T) {
	rc := &recordingCompiler{}
	e := &Engine{Placeholders: NewPlaceholders("s"), Compiler: rc}

	_, err := e.Apply(Request{
		Source:       "func(){}",
		Replacements: []Replacement{{Match: Literal("nope"), Text: "x"}, {Match: MustParse("/also-nope/"), Text: "y"}},
		ModuleID:     "1",
		Registrar:    "r",
	})
	assert.ErrorIs(t, err, ErrNoChange)
	assert.Empty(t, rc.units, "nothing may be compiled when no rule changed the text")

	rc.fail = true
	_, err = e.Apply(Request{
		Source:       "func(){}",
		Replacements: []Replacement{{Match: Literal("{}"), Text: "{ ( }"}},
		ModuleID:     "1",
		Registrar:    "r",
	})
	assert.ErrorIs(t, err, ErrCompile)
}

type panickingCompiler struct{}

func (panickingCompiler) CompileFactory(string, string, []string) (host.FactoryFunc, error) {
	panic("interpreter exploded")
}

func TestEngine_ApplyRecoversCompilerPanic(t *testing.T) {
	e := &Engine{Placeholders: NewPlaceholders("s"), Compiler: panickingCompiler{}}
	_, err := e.Apply(Request{
		Source:       "a",
		Replacements: []Replacement{{Match: Literal("a"), Text: "b"}},
	})
	assert.ErrorIs(t, err, ErrCompile)
}

func TestPlaceholders(t *testing.T) {
	a, b := RandomPlaceholders(), RandomPlaceholders()
	assert.NotEqual(t, a.Self, b.Self, "two engines must not share tokens")

	ph := NewPlaceholders("abc")
	text := ph.Self + "|" + ph.Functions + "|" + ph.Data + "|" + ph.Data
	got := ph.Resolve(text, "mod")
	assert.Equal(t, `rt.Self("mod")|rt.Functions("mod")|rt.Data("mod")|rt.Data("mod")`, got)
	assert.True(t, ph.Contains(text))
	assert.False(t, ph.Contains(got))

	assert.Equal(t, ph.Data+`["x"]`, ph.Expand(`{{data}}["x"]`))
}

func TestSet_MergesIdenticalFind(t *testing.T) {
	s := NewSet()
	r1 := Replacement{Match: Literal("a"), Text: "b"}
	r2 := Replacement{Match: Literal("c"), Text: "d"}

	assert.False(t, s.Add(Patch{Owner: "x", Find: []Matcher{Literal("a"), Literal("c")}, Replacements: []Replacement{r1}}))
	assert.True(t, s.Add(Patch{Owner: "x", Find: []Matcher{Literal("c"), Literal("a")}, Replacements: []Replacement{r2}}))
	// Same find, other owner: kept apart so placeholders resolve per registrar.
	assert.False(t, s.Add(Patch{Owner: "y", Find: []Matcher{Literal("a"), Literal("c")}, Replacements: []Replacement{r2}}))
	// A pattern with the same text is not the same find value as a literal.
	assert.False(t, s.Add(Patch{Owner: "x", Find: []Matcher{MustParse("/a/")}, Replacements: []Replacement{r1}}))

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Len(t, snap[0].Replacements, 2)
	assert.Equal(t, "y", snap[1].Owner)

	owners := func(ps []Patch) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Owner)
		}
		return out
	}
	if diff := cmp.Diff([]string{"x", "y", "x"}, owners(s.Matching("a"))); diff != "" {
		t.Errorf("Matching order mismatch (-want +got):\n%s", diff)
	}
}

const patchFile = `
registrars:
  - name: radio
    data:
      hits: 0
    patches:
      - find: ["playerIsRadio"]
        replacements:
          - match: "/playerIsRadio:([a-z])/"
            replace_expr: '"radioFlag:false,x:" + groups[0]'
          - match: "return c"
            replace: "{{data}}[\"hits\"] = 1; return c"
            all: true
`

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(patchFile))
	require.NoError(t, err)
	ph := NewPlaceholders("t")
	regs, err := f.Registrations(ph)
	require.NoError(t, err)
	require.Len(t, regs, 1)

	reg := regs[0]
	assert.Equal(t, "radio", reg.Name)
	assert.Equal(t, 0, reg.Data["hits"])
	require.Len(t, reg.Patches, 1)
	p := reg.Patches[0]
	assert.Equal(t, "radio", p.Owner)
	require.Len(t, p.Replacements, 2)
	assert.Equal(t, ScopeAll, p.Replacements[1].Scope)
	assert.Equal(t, ph.Data+`["hits"] = 1; return c`, p.Replacements[1].Text)

	res := Rewrite("isPlayable(){const{playerIsRadio:c}=p;return c}", p.Replacements)
	assert.Equal(t, "isPlayable(){const{radioFlag:false,x:c}=p;"+ph.Data+`["hits"] = 1; return c}`, res.Text)
}

func TestParseFile_Errors(t *testing.T) {
	_, err := ParseFile([]byte("registrars: [{patches: []}]"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	bad := []string{
		`registrars: [{name: a, patches: [{find: [], replacements: [{match: x, replace: y}]}]}]`,
		`registrars: [{name: a, patches: [{find: [x], replacements: []}]}]`,
		`registrars: [{name: a, patches: [{find: [x], replacements: [{match: x, replace: y, replace_expr: '"z"'}]}]}]`,
		`registrars: [{name: a, patches: [{find: [x], replacements: [{match: x, replace_expr: '1 +'}]}]}]`,
		`registrars: [{name: a, patches: [{find: ["/(/"], replacements: [{match: x, replace: y}]}]}]`,
	}
	for _, src := range bad {
		f, err := ParseFile([]byte(src))
		require.NoError(t, err)
		_, err = f.Registrations(NewPlaceholders("s"))
		assert.Error(t, err, src)
	}
}

func TestExprFunc_RuntimeErrorKeepsMatch(t *testing.T) {
	fn, err := ExprFunc(`groups[3]`)
	require.NoError(t, err)
	assert.Equal(t, "m", fn("m"))
}
