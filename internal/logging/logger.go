// Package logging provides config-driven categorized logging for splice.
// Every subsystem logs through a category so that noisy areas (intercept,
// patch) can be switched off without losing detector or registry output.
// Output is produced by a zap core; until Initialize or SetCore is called
// every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // CLI and engine lifecycle
	CategoryDetect    Category = "detect"    // Host runtime detection
	CategoryIntercept Category = "intercept" // Factory wrapping and lazy resolution
	CategoryPatch     Category = "patch"     // Matching and replacement
	CategoryCompile   Category = "compile"   // Interpreter and syntax validation
	CategoryRegistry  Category = "registry"  // Registrars and shared state
	CategoryEvents    Category = "events"    // Event dispatch
	CategoryBuffer    Category = "buffer"    // Pre-engine registration buffer
	CategoryHost      Category = "host"      // Module loader
	CategoryJournal   Category = "journal"   // Patch outcome journal
	CategoryWatch     Category = "watch"     // Bundle hot reload
)

// AllCategories lists every known category in declaration order.
var AllCategories = []Category{
	CategoryBoot,
	CategoryDetect,
	CategoryIntercept,
	CategoryPatch,
	CategoryCompile,
	CategoryRegistry,
	CategoryEvents,
	CategoryBuffer,
	CategoryHost,
	CategoryJournal,
	CategoryWatch,
}

// Config mirrors config.LoggingConfig to avoid circular imports.
type Config struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // empty = stderr
	Categories map[string]bool // per-category toggles, missing = enabled
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	base       *zap.Logger
	categories map[string]bool
	baseMu     sync.RWMutex
	closeFile  func() error
)

// Initialize builds the zap core described by cfg and installs it.
// Calling it again replaces the previous core.
func Initialize(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "", "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	var closer func() error
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.AddSync(f)
		closer = f.Close
	}

	install(zapcore.NewCore(enc, sink, level), cfg.Categories, closer)
	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s", level, cfg.Format)
	return nil
}

// SetCore installs an arbitrary zap core. Tests use it with zaptest/observer.
func SetCore(core zapcore.Core, cats map[string]bool) {
	install(core, cats, nil)
}

func install(core zapcore.Core, cats map[string]bool, closer func() error) {
	baseMu.Lock()
	if closeFile != nil {
		_ = closeFile()
	}
	base = zap.New(core)
	categories = cats
	closeFile = closer
	baseMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

// ParseLevel maps a config level name onto a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	baseMu.RLock()
	defer baseMu.RUnlock()

	if base == nil {
		return false
	}
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is not initialized or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	baseMu.RLock()
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	baseMu.RUnlock()
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// WithContext returns a logger that attaches the given key-value pairs to every entry.
func (l *Logger) WithContext(ctx map[string]interface{}) *Logger {
	if l.sugar == nil || len(ctx) == 0 {
		return l
	}
	kv := make([]interface{}, 0, len(ctx)*2)
	for k, v := range ctx {
		kv = append(kv, k, v)
	}
	return &Logger{category: l.category, sugar: l.sugar.With(kv...)}
}

// Sync flushes buffered entries and closes the log file, if any.
func Sync() error {
	baseMu.Lock()
	defer baseMu.Unlock()
	if base == nil {
		return nil
	}
	err := base.Sync()
	if closeFile != nil {
		if cerr := closeFile(); cerr != nil && err == nil {
			err = cerr
		}
		closeFile = nil
	}
	return err
}

// Reset drops the installed core; every logger becomes a no-op again.
func Reset() {
	baseMu.Lock()
	if closeFile != nil {
		_ = closeFile()
		closeFile = nil
	}
	base = nil
	categories = nil
	baseMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Detect(format string, args ...interface{})      { Get(CategoryDetect).Info(format, args...) }
func DetectDebug(format string, args ...interface{}) { Get(CategoryDetect).Debug(format, args...) }
func DetectWarn(format string, args ...interface{})  { Get(CategoryDetect).Warn(format, args...) }
func DetectError(format string, args ...interface{}) { Get(CategoryDetect).Error(format, args...) }

func InterceptDebug(format string, args ...interface{}) {
	Get(CategoryIntercept).Debug(format, args...)
}
func InterceptError(format string, args ...interface{}) {
	Get(CategoryIntercept).Error(format, args...)
}

func Patch(format string, args ...interface{})      { Get(CategoryPatch).Info(format, args...) }
func PatchDebug(format string, args ...interface{}) { Get(CategoryPatch).Debug(format, args...) }
func PatchWarn(format string, args ...interface{})  { Get(CategoryPatch).Warn(format, args...) }
func PatchError(format string, args ...interface{}) { Get(CategoryPatch).Error(format, args...) }

func CompileDebug(format string, args ...interface{}) { Get(CategoryCompile).Debug(format, args...) }

func Registry(format string, args ...interface{})      { Get(CategoryRegistry).Info(format, args...) }
func RegistryDebug(format string, args ...interface{}) { Get(CategoryRegistry).Debug(format, args...) }

func EventsDebug(format string, args ...interface{}) { Get(CategoryEvents).Debug(format, args...) }
func EventsError(format string, args ...interface{}) { Get(CategoryEvents).Error(format, args...) }

func BufferDebug(format string, args ...interface{}) { Get(CategoryBuffer).Debug(format, args...) }
func BufferWarn(format string, args ...interface{})  { Get(CategoryBuffer).Warn(format, args...) }

func Host(format string, args ...interface{})      { Get(CategoryHost).Info(format, args...) }
func HostDebug(format string, args ...interface{}) { Get(CategoryHost).Debug(format, args...) }

func JournalError(format string, args ...interface{}) { Get(CategoryJournal).Error(format, args...) }

func Watch(format string, args ...interface{})      { Get(CategoryWatch).Info(format, args...) }
func WatchDebug(format string, args ...interface{}) { Get(CategoryWatch).Debug(format, args...) }
func WatchError(format string, args ...interface{}) { Get(CategoryWatch).Error(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
