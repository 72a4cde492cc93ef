package patch

import (
	"errors"
	"fmt"

	"splice/internal/host"
	"splice/internal/logging"
)

var (
	// ErrNoChange is returned when no rule of a patch changed the source.
	ErrNoChange = errors.New("patch: no replacement changed the source")
	// ErrCompile is returned when the edited source does not compile.
	ErrCompile = errors.New("patch: edited source failed to compile")
)

// Request is one patch application against one module.
type Request struct {
	Source       string
	Replacements []Replacement
	ModuleID     string
	Registrar    string
	Imports      []string
}

// Result is a successfully applied patch.
type Result struct {
	Factory host.FactoryFunc
	Source  string
	Changed int
	NoOps   []int
}

// Engine applies patches and compiles their output.
type Engine struct {
	Placeholders Placeholders
	Compiler     host.Compiler
}

// Label is the synthetic source label attached to patched units.
func Label(moduleID, registrar string) string {
	return fmt.Sprintf("splice:module %s patched-by %s", moduleID, registrar)
}

// Apply runs the request's rules over its source in order. Rules that change
// nothing are logged and skipped; if none changed anything the attempt fails
// with ErrNoChange. Otherwise placeholders are resolved for the registrar and
// the text is compiled. Compiler errors and panics fail with ErrCompile.
func (e *Engine) Apply(req Request) (res Result, err error) {
	rw := Rewrite(req.Source, req.Replacements)
	for _, i := range rw.NoOps {
		logging.PatchWarn("module %s: rule %d of %s made no change (match %s)",
			req.ModuleID, i, req.Registrar, req.Replacements[i].Match)
	}
	if rw.Changed == 0 {
		return Result{}, fmt.Errorf("%w: module %s, registrar %s", ErrNoChange, req.ModuleID, req.Registrar)
	}

	text := e.Placeholders.Resolve(rw.Text, req.Registrar)

	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: module %s: panic: %v", ErrCompile, req.ModuleID, r)
		}
	}()
	fn, cerr := e.Compiler.CompileFactory(Label(req.ModuleID, req.Registrar), text, req.Imports)
	if cerr != nil {
		return Result{}, fmt.Errorf("%w: module %s: %w", ErrCompile, req.ModuleID, cerr)
	}

	return Result{
		Factory: fn,
		Source:  text,
		Changed: rw.Changed,
		NoOps:   rw.NoOps,
	}, nil
}
