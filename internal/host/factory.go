package host

import "fmt"

// FactoryFunc is the calling contract of a module factory. It fills exports
// (or replaces module["exports"]) and loads dependencies through require.
type FactoryFunc func(module map[string]any, exports map[string]any, require func(string) any)

// Factory is a callable module factory that can describe its own source text.
type Factory interface {
	Call(module map[string]any, exports map[string]any, require func(string) any)
	Source() string
}

// Importer is implemented by factories whose source needs stdlib imports.
type Importer interface {
	Imports() []string
}

// SourceFactory pairs a compiled function with the text it was built from.
type SourceFactory struct {
	src     string
	imports []string
	fn      FactoryFunc
}

// NewFactory builds a factory from source text and its compiled function.
func NewFactory(src string, fn FactoryFunc, imports ...string) *SourceFactory {
	return &SourceFactory{src: src, fn: fn, imports: imports}
}

// Call invokes the compiled function.
func (f *SourceFactory) Call(module map[string]any, exports map[string]any, require func(string) any) {
	f.fn(module, exports, require)
}

// Source returns the factory's source text.
func (f *SourceFactory) Source() string { return f.src }

// Imports returns the stdlib packages the source imports.
func (f *SourceFactory) Imports() []string { return f.imports }

func (f *SourceFactory) String() string {
	return fmt.Sprintf("factory(%d bytes)", len(f.src))
}

// ImportsOf returns f's imports if it declares any.
func ImportsOf(f Factory) []string {
	if im, ok := f.(Importer); ok {
		return im.Imports()
	}
	return nil
}

// Compiler turns labelled source text into a factory function.
type Compiler interface {
	CompileFactory(label, source string, imports []string) (FactoryFunc, error)
}
