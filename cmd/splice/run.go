package main

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"splice/internal/events"
)

// runCmd loads a bundle with patches applied and requires its entry module
var runCmd = &cobra.Command{
	Use:   "run <bundle>",
	Short: "Load a bundle, apply patches, and print the entry module's exports",
	Long: `Installs the bundle's loader, registers every patch file, then requires
the entry module. Modules are patched lazily as the entry pulls them in.

Example:
  splice run app.yaml --patches radio.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBundle,
}

func runBundle(cmd *cobra.Command, args []string) error {
	s, err := newSession(cfg, patchFiles)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.load(args[0]); err != nil {
		return err
	}
	return requireAndReport(s)
}

// requireAndReport requires the entry module and prints its exports followed
// by the patch outcomes recorded since the last report.
func requireAndReport(s *session) error {
	id := s.entry()
	logger.Info("requiring entry module", zap.String("module", id))
	exports, err := s.engine.Require(id)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(printable(exports), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode exports of %s: %w", id, err)
	}
	fmt.Println(string(out))
	printOutcomes(s.outcomes())
	return nil
}

func printOutcomes(evs []events.Event) {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].ModuleID < evs[j].ModuleID })
	for _, ev := range evs {
		switch {
		case ev.Patched && ev.Err != nil:
			fmt.Println(color.YellowString("~ %s patched by %s (with failures: %v)", ev.ModuleID, strings.Join(ev.Applied, ", "), ev.Err))
		case ev.Patched:
			fmt.Println(color.GreenString("+ %s patched by %s", ev.ModuleID, strings.Join(ev.Applied, ", ")))
		case ev.Err != nil:
			fmt.Println(color.RedString("! %s not patched: %v", ev.ModuleID, ev.Err))
		case verbose:
			fmt.Printf("  %s unchanged\n", ev.ModuleID)
		}
	}
}

// printable replaces values JSON cannot encode (functions, channels) with
// their type name.
func printable(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = printable(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = printable(e)
		}
		return out
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("<%T>", v)
	}
	return v
}
