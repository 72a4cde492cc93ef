package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"splice/internal/diff"
	"splice/internal/engine"
	"splice/internal/host"
	"splice/internal/patch"
)

// checkCmd previews patches against a bundle without executing anything
var checkCmd = &cobra.Command{
	Use:   "check <bundle>",
	Short: "Preview patch results against a bundle without running it",
	Long: `Matches every registered patch against every module of the bundle,
applies and compiles the matching ones, and prints a line diff per module.
Patches whose find set matches no module are reported.

Exits non-zero if any patch failed to apply or compile.`,
	Args: cobra.ExactArgs(1),
	RunE: checkBundle,
}

func checkBundle(cmd *cobra.Command, args []string) error {
	s, err := newSession(cfg, patchFiles)
	if err != nil {
		return err
	}
	defer s.Close()

	b, err := host.LoadBundle(args[0])
	if err != nil {
		return err
	}

	failed := 0
	for _, m := range b.Modules {
		pv := s.engine.Preview(m.ID, m.Source, m.Imports)
		if !pv.Matched {
			continue
		}
		printPreview(pv)
		failed += len(pv.Failed)
	}

	for _, p := range unmatched(s.engine.Patches(), b) {
		fmt.Println(color.YellowString("? patch by %s matched no module (find: %s)", p.Owner, findText(p)))
	}
	if failed > 0 {
		return fmt.Errorf("%d patch(es) failed", failed)
	}
	return nil
}

func printPreview(pv engine.Preview) {
	bold := color.New(color.Bold)
	fmt.Println(bold.Sprintf("module %s", pv.ModuleID))
	if len(pv.Applied) > 0 {
		fmt.Printf("  applied: %s\n", strings.Join(pv.Applied, ", "))
	}
	for _, owner := range pv.Failed {
		fmt.Println(color.RedString("  failed: %s", owner))
	}
	if pv.Err != nil {
		fmt.Println(color.RedString("  %v", pv.Err))
	}
	printDiff(pv.Original, pv.Patched)
}

// printDiff writes the hunks of a module preview, colored by line kind.
func printDiff(before, after string) {
	hunks := diff.New(2).Hunks(before, after)
	if len(hunks) == 0 {
		return
	}
	added, removed := diff.Stat(hunks)
	fmt.Printf("  %s %s\n", color.GreenString("+%d", added), color.RedString("-%d", removed))
	for _, h := range hunks {
		fmt.Println(color.CyanString("%s", h.Header()))
		for _, l := range h.Lines {
			switch l.Kind {
			case diff.Added:
				fmt.Println(color.GreenString("%s", l))
			case diff.Removed:
				fmt.Println(color.RedString("%s", l))
			default:
				fmt.Println(l)
			}
		}
	}
}

func unmatched(patches []patch.Patch, b *host.Bundle) []patch.Patch {
	var out []patch.Patch
	for _, p := range patches {
		hit := false
		for _, m := range b.Modules {
			if patch.Matches(m.Source, p) {
				hit = true
				break
			}
		}
		if !hit {
			out = append(out, p)
		}
	}
	return out
}

func findText(p patch.Patch) string {
	parts := make([]string, len(p.Find))
	for i, m := range p.Find {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}
