package compile

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traefik/yaegi/stdlib"
)

const sig = "func(module map[string]any, exports map[string]any, require func(string) any)"

func run(t *testing.T, y *Yaegi, src string, imports ...string) map[string]any {
	t.Helper()
	fn, err := y.CompileFactory("splice:module test", src, imports)
	require.NoError(t, err)
	exports := map[string]any{}
	fn(map[string]any{"exports": exports}, exports, func(id string) any { return "dep:" + id })
	return exports
}

func TestYaegi_CompileFactory(t *testing.T) {
	y := NewYaegi()
	exports := run(t, y, sig+` { exports["value"] = 40 + 2; exports["dep"] = require("x") }`)
	assert.Equal(t, 42, exports["value"])
	assert.Equal(t, "dep:x", exports["dep"])
}

func TestYaegi_CompileAndExecute(t *testing.T) {
	y := NewYaegi(WithEval(false))
	exports := run(t, y, sig+` { exports["upper"] = strings.ToUpper("abc") }`, "strings")
	assert.Equal(t, "ABC", exports["upper"])
}

func TestYaegi_RestrictedStdlibSkipsHelperKeys(t *testing.T) {
	var bare []string
	for key := range stdlib.Symbols {
		if !strings.Contains(key, "/") {
			bare = append(bare, key)
		}
	}
	require.NotEmpty(t, bare, "yaegi registers helper symbols outside any package path")

	y := NewYaegi()
	restricted := y.restrictedStdlib()
	for _, key := range bare {
		assert.NotContains(t, restricted, key)
	}
	assert.Contains(t, restricted, "strings/strings")
	assert.NotContains(t, restricted, "os/os")

	exports := run(t, y, sig+` { exports["ok"] = true }`)
	assert.Equal(t, true, exports["ok"])
}

func TestYaegi_ForbiddenImport(t *testing.T) {
	y := NewYaegi()
	_, err := y.CompileFactory("splice:module bad", sig+` {}`, []string{"os/exec"})
	assert.ErrorIs(t, err, ErrForbiddenImport)
}

func TestYaegi_EvaluationError(t *testing.T) {
	y := NewYaegi()
	_, err := y.CompileFactory("splice:module broken", sig+` { undefinedCall() }`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "splice:module broken")
}

func TestYaegi_RuntimeBinding(t *testing.T) {
	y := NewYaegi(WithRuntime(map[string]reflect.Value{
		"Greeting": reflect.ValueOf(func(name string) string { return "hi " + name }),
	}))
	exports := run(t, y, sig+` { exports["g"] = rt.Greeting("x") }`)
	assert.Equal(t, "hi x", exports["g"])

	// Units that never mention rt still compile.
	exports = run(t, y, sig+` { exports["n"] = 1 }`)
	assert.Equal(t, 1, exports["n"])
}

func TestYaegi_Wrap(t *testing.T) {
	y := NewYaegi(WithRuntime(map[string]reflect.Value{
		"Self": reflect.ValueOf(func(string) any { return nil }),
	}))
	unit := y.Wrap("splice:module 7 patched-by radio", sig+" {}", []string{"fmt"})
	assert.True(t, strings.HasPrefix(unit, "// splice:module 7 patched-by radio\npackage main"))
	assert.Contains(t, unit, `"fmt"`)
	assert.Contains(t, unit, `rt "splice/rt"`)
	assert.Contains(t, unit, "var _ = rt.Self")
	assert.Contains(t, unit, "func Factory(")
}

func TestYaegi_AllowedPackages(t *testing.T) {
	y := NewYaegi(WithAllowedPackages([]string{"strings", "fmt"}))
	assert.Equal(t, []string{"fmt", "strings"}, y.AllowedPackages())
}

func TestTreeSitterValidator(t *testing.T) {
	v := NewTreeSitterValidator()
	defer v.Close()

	y := NewYaegi()
	good := y.Wrap("ok", sig+` { exports["a"] = 1 }`, nil)
	require.NoError(t, v.Validate([]byte(good)))

	bad := y.Wrap("bad", sig+` { exports["a"] = ( }`, nil)
	err := v.Validate([]byte(bad))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyntax))
	var se *SyntaxError
	if assert.True(t, errors.As(err, &se)) {
		assert.Greater(t, se.Row, uint32(0))
	}
}

func TestYaegi_ValidatorRunsFirst(t *testing.T) {
	v := NewTreeSitterValidator()
	defer v.Close()
	y := NewYaegi(WithValidator(v))
	_, err := y.CompileFactory("splice:module 3", sig+` { exports["a"] = ( }`, nil)
	assert.ErrorIs(t, err, ErrSyntax)
}
