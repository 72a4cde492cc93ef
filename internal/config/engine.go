package config

// EngineConfig configures the patching engine.
type EngineConfig struct {
	// Cache stringified factory source per module id.
	EnableCache bool `yaml:"enable_cache"`
	// true: single-pass Eval of the labelled unit. false: Compile then Execute.
	UseEval bool `yaml:"use_eval"`
	// Re-examine a module whose factory is redefined after it was already patched.
	RetryOnRedefine bool `yaml:"retry_on_redefine"`
}

// DetectorConfig configures host runtime detection.
type DetectorConfig struct {
	ModulesSlot string `yaml:"modules_slot"`
	CacheSlot   string `yaml:"cache_slot"`
	// Substring every genuine runtime shell carries. Empty disables the marker check.
	Marker string `yaml:"marker"`
	// Optional expr-lang expression over {candidate, stack}; must evaluate to bool.
	Filter string `yaml:"filter"`
}
