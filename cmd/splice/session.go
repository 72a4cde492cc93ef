package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"splice/internal/buffer"
	"splice/internal/compile"
	"splice/internal/config"
	"splice/internal/engine"
	"splice/internal/events"
	"splice/internal/host"
	"splice/internal/journal"
	"splice/internal/logging"
	"splice/internal/patch"
	"splice/internal/registry"
)

var (
	patchFiles []string
	entryID    string
)

// builtinFunctions is the catalog patch files pick registrar functions from.
var builtinFunctions = map[string]any{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"log":   func(msg string) { logging.Patch("patched code: %s", msg) },
}

// session is one engine with its patch files registered, optionally
// journaled, and (after load) a bundle installed on a fresh loader.
type session struct {
	cfg      *config.Config
	engine   *engine.Engine
	journal  *journal.Store
	compiler host.Compiler

	bundle  *host.Bundle
	runtime *host.Runtime

	mu      sync.Mutex
	outcome []events.Event
}

// newSession creates the engine and registers the patch files through a
// registration buffer, as a consumer loaded before the engine would.
func newSession(cfg *config.Config, files []string) (*session, error) {
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	copts := []compile.Option{
		compile.WithEval(cfg.Engine.UseEval),
		compile.WithTimeout(cfg.GetCompileTimeout()),
	}
	if len(cfg.Compile.AllowedPackages) > 0 {
		copts = append(copts, compile.WithAllowedPackages(cfg.Compile.AllowedPackages))
	}
	s := &session{
		cfg:      cfg,
		engine:   engine.New(opts),
		compiler: compile.NewYaegi(copts...),
	}

	buf := buffer.New()
	if _, err := buf.AddEventListener(events.ModulePatched, s.record); err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.journal = store
		if _, err := buf.AddEventListener(events.ModulePatched, store.Listener(s.engine.ID())); err != nil {
			s.Close()
			return nil, err
		}
	}

	for _, path := range files {
		if err := registerFile(buf, path, s.engine.Placeholders()); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := buf.Attach(s.engine); err != nil {
		s.Close()
		return nil, err
	}
	logger.Debug("session ready",
		zap.String("engine", s.engine.ID()),
		zap.Strings("registrars", s.engine.Registrars()),
		zap.Int("patches", len(s.engine.Patches())))
	return s, nil
}

func registerFile(buf *buffer.Buffer, path string, ph patch.Placeholders) error {
	f, err := patch.LoadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	regs, err := f.Registrations(ph)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, reg := range regs {
		fns, err := pickFunctions(reg.Functions)
		if err != nil {
			return fmt.Errorf("%s: registrar %s: %w", path, reg.Name, err)
		}
		opts := registry.Options{Name: reg.Name, Data: reg.Data, Functions: fns}
		if _, err := buf.Register(opts, reg.Patches...); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func pickFunctions(names []string) (map[string]any, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(names))
	for _, n := range names {
		fn, ok := builtinFunctions[n]
		if !ok {
			known := make([]string, 0, len(builtinFunctions))
			for k := range builtinFunctions {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unknown function %q (known: %s)", n, strings.Join(known, ", "))
		}
		out[n] = fn
	}
	return out, nil
}

// load starts the engine on fresh slots and installs the bundle's loader.
func (s *session) load(path string) error {
	b, err := host.LoadBundle(path)
	if err != nil {
		return err
	}
	slots := host.NewSlots()
	if err := s.engine.Start(slots); err != nil {
		return err
	}
	rt := b.NewRuntime(slots, host.WithSlotNames(s.cfg.Detector.ModulesSlot, s.cfg.Detector.CacheSlot))
	if err := b.Define(rt, s.compiler); err != nil {
		return err
	}
	if err := rt.Install(); err != nil {
		return err
	}
	for _, w := range s.engine.Diagnose() {
		logger.Warn("diagnostic", zap.String("warning", w))
	}
	s.bundle, s.runtime = b, rt
	return nil
}

// entry returns the module to require: the --entry flag or the bundle's.
func (s *session) entry() string {
	if entryID != "" {
		return entryID
	}
	return s.bundle.Entry
}

func (s *session) record(ev events.Event) {
	s.mu.Lock()
	s.outcome = append(s.outcome, ev)
	s.mu.Unlock()
}

// outcomes returns the module_patched events seen so far and clears them.
func (s *session) outcomes() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outcome
	s.outcome = nil
	return out
}

func (s *session) Close() {
	s.engine.Close()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			logger.Warn("failed to close journal", zap.Error(err))
		}
	}
}
