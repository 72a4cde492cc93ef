package engine

import (
	"fmt"
	"time"

	"splice/internal/config"
	"splice/internal/detect"
	"splice/internal/host"
)

// Options configures an Engine.
type Options struct {
	// EnableCache keeps the source text of each examined factory by module id.
	EnableCache bool
	// UseEval selects single-pass Eval over Compile+Execute in the default compiler.
	UseEval bool
	// OnDetect runs when the loader is accepted, before runtime_detected fires.
	OnDetect func(*host.FactoryMap)
	// FilterFunc overrides the marker filter.
	FilterFunc detect.FilterFunc
	SlotNames  detect.SlotNames
	// Marker is the loader text the default filter looks for. Empty accepts any loader.
	Marker string
	// RetryOnRedefine re-examines a module whose factory is replaced after patching.
	RetryOnRedefine bool

	// Compiler overrides the default Yaegi backend.
	Compiler        host.Compiler
	Validate        bool
	AllowedPackages []string
	CompileTimeout  time.Duration
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		UseEval:         true,
		SlotNames:       detect.DefaultSlotNames(),
		Marker:          detect.DefaultMarker,
		Validate:        true,
		AllowedPackages: config.DefaultAllowedPackages(),
	}
}

// OptionsFromConfig maps a loaded configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := DefaultOptions()
	opts.EnableCache = cfg.Engine.EnableCache
	opts.UseEval = cfg.Engine.UseEval
	opts.RetryOnRedefine = cfg.Engine.RetryOnRedefine
	opts.SlotNames = detect.SlotNames{
		Modules: cfg.Detector.ModulesSlot,
		Cache:   cfg.Detector.CacheSlot,
	}
	opts.Marker = cfg.Detector.Marker
	opts.Validate = cfg.Compile.Validate
	if len(cfg.Compile.AllowedPackages) > 0 {
		opts.AllowedPackages = cfg.Compile.AllowedPackages
	}
	opts.CompileTimeout = cfg.GetCompileTimeout()

	if cfg.Detector.Filter != "" {
		f, err := detect.ExprFilter(cfg.Detector.Filter)
		if err != nil {
			return Options{}, fmt.Errorf("detector filter: %w", err)
		}
		var marker detect.FilterFunc
		if opts.Marker != "" {
			marker = detect.MarkerFilter(opts.Marker)
		}
		opts.FilterFunc = detect.All(marker, f)
	}
	return opts, nil
}

func (o Options) filter() detect.FilterFunc {
	switch {
	case o.FilterFunc != nil:
		return o.FilterFunc
	case o.Marker != "":
		return detect.MarkerFilter(o.Marker)
	default:
		return detect.All()
	}
}
