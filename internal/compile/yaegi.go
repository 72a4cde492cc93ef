// Package compile turns module source text into callable factories.
// The default backend interprets Go source with Yaegi; edited text can be
// syntax-checked with tree-sitter before it reaches the interpreter.
package compile

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"splice/internal/host"
	"splice/internal/logging"
)

var (
	// ErrForbiddenImport is returned when a unit imports a package outside the allowlist.
	ErrForbiddenImport = errors.New("compile: forbidden import")
	// ErrSignature is returned when the compiled value is not a factory.
	ErrSignature = errors.New("compile: factory has incorrect signature")
	// ErrTimeout is returned when interpreting a unit takes too long.
	ErrTimeout = errors.New("compile: timed out")
)

// Runtime package exposed to compiled units. Placeholder expressions resolve
// to calls into this package.
const (
	RuntimeImport = "splice/rt"
	RuntimeName   = "rt"
)

// =============================================================================
// YAEGI INTERPRETER BACKEND
// =============================================================================
// Each unit is interpreted in a fresh interpreter with a restricted stdlib:
//   - Only allowlisted stdlib imports (no os, os/exec, net, syscall, unsafe)
//   - The runtime package, when bound, is importable as "splice/rt"
//   - The unit is labelled so interpreter errors point at the module

// Yaegi compiles factory sources with the Yaegi interpreter.
type Yaegi struct {
	allowedPackages map[string]bool
	useEval         bool
	runtime         map[string]reflect.Value
	validator       Validator
	timeout         time.Duration
}

// Option configures a Yaegi backend.
type Option func(*Yaegi)

// WithEval selects single-pass Eval (true) or Compile+Execute (false).
func WithEval(useEval bool) Option {
	return func(y *Yaegi) { y.useEval = useEval }
}

// WithAllowedPackages replaces the stdlib allowlist.
func WithAllowedPackages(pkgs []string) Option {
	return func(y *Yaegi) {
		y.allowedPackages = make(map[string]bool, len(pkgs))
		for _, p := range pkgs {
			y.allowedPackages[p] = true
		}
	}
}

// WithRuntime binds the symbols exposed to units as package rt.
func WithRuntime(symbols map[string]reflect.Value) Option {
	return func(y *Yaegi) { y.runtime = symbols }
}

// WithValidator runs v over every unit before interpretation.
func WithValidator(v Validator) Option {
	return func(y *Yaegi) { y.validator = v }
}

// WithTimeout bounds how long a unit may take to interpret. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(y *Yaegi) { y.timeout = d }
}

// NewYaegi creates a Yaegi backend.
func NewYaegi(opts ...Option) *Yaegi {
	y := &Yaegi{
		allowedPackages: map[string]bool{
			"bytes":           true,
			"encoding/base64": true,
			"encoding/json":   true,
			"fmt":             true,
			"math":            true,
			"path":            true,
			"regexp":          true,
			"sort":            true,
			"strconv":         true,
			"strings":         true,
			"time":            true,
			"unicode":         true,
		},
		useEval: true,
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// CompileFactory interprets source (a function literal) and returns it as a
// factory function. Interpreter panics are converted to errors.
func (y *Yaegi) CompileFactory(label, source string, imports []string) (host.FactoryFunc, error) {
	if y.timeout <= 0 {
		return y.compile(label, source, imports)
	}

	type result struct {
		fn  host.FactoryFunc
		err error
	}
	done := make(chan result, 1)
	go func() {
		fn, err := y.compile(label, source, imports)
		done <- result{fn, err}
	}()

	select {
	case r := <-done:
		return r.fn, r.err
	case <-time.After(y.timeout):
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, label, y.timeout)
	}
}

func (y *Yaegi) compile(label, source string, imports []string) (fn host.FactoryFunc, err error) {
	defer func() {
		if r := recover(); r != nil {
			fn = nil
			err = fmt.Errorf("interpreter panic in %s: %v", label, r)
		}
	}()

	if err := y.validateImports(imports); err != nil {
		return nil, err
	}

	unit := y.Wrap(label, source, imports)
	if y.validator != nil {
		if err := y.validator.Validate([]byte(unit)); err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
	}

	i := interp.New(interp.Options{})
	if err := i.Use(y.restrictedStdlib()); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if y.runtime != nil {
		if err := i.Use(interp.Exports{RuntimeImport + "/" + RuntimeName: y.runtime}); err != nil {
			return nil, fmt.Errorf("failed to load runtime package: %w", err)
		}
	}

	if y.useEval {
		if _, err := i.Eval(unit); err != nil {
			return nil, fmt.Errorf("%s: evaluation failed: %w", label, err)
		}
	} else {
		prog, err := i.Compile(unit)
		if err != nil {
			return nil, fmt.Errorf("%s: compilation failed: %w", label, err)
		}
		if _, err := i.Execute(prog); err != nil {
			return nil, fmt.Errorf("%s: execution failed: %w", label, err)
		}
	}

	v, err := i.Eval("main.Factory")
	if err != nil {
		return nil, fmt.Errorf("%s: Factory not found: %w", label, err)
	}
	f, ok := v.Interface().(func(map[string]any, map[string]any, func(string) any))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignature, label)
	}
	logging.CompileDebug("compiled %s (%d bytes)", label, len(source))
	return host.FactoryFunc(f), nil
}

// Wrap builds the interpreted unit around a factory source.
func (y *Yaegi) Wrap(label, source string, imports []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// %s\npackage main\n\n", label)
	if len(imports) > 0 || y.runtime != nil {
		b.WriteString("import (\n")
		for _, pkg := range imports {
			fmt.Fprintf(&b, "\t%q\n", pkg)
		}
		if y.runtime != nil {
			fmt.Fprintf(&b, "\t%s %q\n", RuntimeName, RuntimeImport)
		}
		b.WriteString(")\n\n")
	}
	if y.runtime != nil {
		b.WriteString(y.runtimeAnchor())
	}
	fmt.Fprintf(&b, "var factory = %s\n\n", strings.TrimSpace(source))
	b.WriteString("func Factory(module map[string]any, exports map[string]any, require func(string) any) {\n")
	b.WriteString("\tfactory(module, exports, require)\n}\n")
	return b.String()
}

// runtimeAnchor keeps the rt import used when the source does not reference it.
func (y *Yaegi) runtimeAnchor() string {
	names := make([]string, 0, len(y.runtime))
	for name := range y.runtime {
		v := y.runtime[name]
		if v.Kind() == reflect.Func {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return fmt.Sprintf("var _ = %s.%s\n\n", RuntimeName, names[0])
}

// validateImports checks that the unit only imports allowed packages.
func (y *Yaegi) validateImports(imports []string) error {
	var forbidden []string
	for _, pkg := range imports {
		if !y.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: %v (allowed: %v)", ErrForbiddenImport, forbidden, y.AllowedPackages())
	}
	return nil
}

// AllowedPackages returns the sorted stdlib allowlist.
func (y *Yaegi) AllowedPackages() []string {
	var pkgs []string
	for pkg := range y.allowedPackages {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

func (y *Yaegi) restrictedStdlib() interp.Exports {
	restricted := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		// Keys look like "strings/strings" or "encoding/json/json"; yaegi
		// also registers "." for its own helpers.
		j := strings.LastIndex(key, "/")
		if j < 0 {
			continue
		}
		if y.allowedPackages[key[:j]] {
			restricted[key] = syms
		}
	}
	return restricted
}
