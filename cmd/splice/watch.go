package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"splice/internal/host"
	"splice/internal/watch"
)

// watchCmd runs a bundle and re-runs it whenever the bundle file changes
var watchCmd = &cobra.Command{
	Use:   "watch <bundle>",
	Short: "Run a bundle and redefine changed modules when the file changes",
	Long: `Runs the bundle like 'splice run', then watches the bundle file. Changed
modules are redefined on the live loader and the entry module is required
again.

A redefined module that was already patched runs unpatched unless
engine.retry_on_redefine is set.`,
	Args: cobra.ExactArgs(1),
	RunE: watchBundle,
}

func watchBundle(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(cfg, patchFiles)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.load(args[0]); err != nil {
		return err
	}
	if err := requireAndReport(s); err != nil {
		logger.Error("initial run failed", zap.Error(err))
	}

	w, err := watch.New(args[0], cfg.GetWatchDebounce(), func(ctx context.Context, path string) error {
		return s.reload(path)
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		st := w.Stats()
		logger.Info("watch stopped",
			zap.Int("events", st.Events),
			zap.Int("reloads", st.Reloads),
			zap.Int("errors", st.Errors))
		return nil
	})
	return g.Wait()
}

// reload redefines every module whose source changed, drops all cached
// instances so the graph executes again, and re-requires the entry.
func (s *session) reload(path string) error {
	next, err := host.LoadBundle(path)
	if err != nil {
		return err
	}

	changed := 0
	for _, m := range next.Modules {
		if prev, ok := s.bundle.Module(m.ID); ok && prev.Source == m.Source {
			continue
		}
		f, err := m.Compile(s.compiler)
		if err != nil {
			return err
		}
		s.runtime.Define(m.ID, f)
		changed++
	}
	logger.Info("bundle changed", zap.String("path", path), zap.Int("modules", changed))

	for _, m := range next.Modules {
		s.runtime.Reload(m.ID)
	}
	s.bundle = next
	if err := requireAndReport(s); err != nil {
		return fmt.Errorf("re-run after reload: %w", err)
	}
	return nil
}
