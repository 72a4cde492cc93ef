package config

// CompileConfig configures the interpreter backend.
type CompileConfig struct {
	// Standard library packages module sources may import.
	AllowedPackages []string `yaml:"allowed_packages"`
	// Run the tree-sitter syntax check before handing text to the interpreter.
	Validate bool   `yaml:"validate"`
	Timeout  string `yaml:"timeout"`
}

// DefaultAllowedPackages returns the stdlib allowlist for module sources.
func DefaultAllowedPackages() []string {
	return []string{
		"bytes",
		"encoding/base64",
		"encoding/json",
		"fmt",
		"math",
		"path",
		"regexp",
		"sort",
		"strconv",
		"strings",
		"time",
		"unicode",
	}
}
