package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"splice/internal/journal"
)

var journalLimit int

// journalCmd shows recorded patch outcomes
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recorded patch outcomes",
	Long: `Lists the module_patched outcomes recorded in the journal database,
newest first, followed by a summary. Recording is enabled with
journal.enabled in the config or the SPLICE_JOURNAL environment variable.`,
	Args: cobra.NoArgs,
	RunE: showJournal,
}

func showJournal(cmd *cobra.Command, args []string) error {
	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(journalLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No patch outcomes recorded.")
		return nil
	}

	for _, e := range entries {
		ts := e.CreatedAt.Local().Format("2006-01-02 15:04:05")
		switch {
		case e.Error != "":
			fmt.Println(color.RedString("%s  %-12s %s  %s", ts, e.ModuleID, shortID(e.EngineID), e.Error))
		case e.Patched:
			fmt.Println(color.GreenString("%s  %-12s %s  patched by %s", ts, e.ModuleID, shortID(e.EngineID), strings.Join(e.Applied, ", ")))
		default:
			fmt.Printf("%s  %-12s %s  unchanged\n", ts, e.ModuleID, shortID(e.EngineID))
		}
	}

	sum, err := store.Summarize()
	if err != nil {
		return err
	}
	fmt.Printf("\n%d module(s), %s, %s\n",
		sum.Modules,
		color.GreenString("%d patched", sum.Patched),
		color.RedString("%d failed", sum.Failed))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
