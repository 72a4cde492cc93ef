// Package diff computes line diffs between a module's original and patched
// source, grouped into unified-style hunks.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Kind is the role of a line in a diff.
type Kind int

const (
	Context Kind = iota // unchanged
	Added               // only in the patched text
	Removed             // only in the original text
)

// Line is one line of a diff. Old and New are 1-based line numbers in the
// original and patched text, 0 where the line is absent.
type Line struct {
	Kind Kind
	Text string
	Old  int
	New  int

	// lines of each side preceding this one
	oldAt, newAt int
}

// String renders the line with its unified diff prefix.
func (l Line) String() string {
	switch l.Kind {
	case Added:
		return "+ " + l.Text
	case Removed:
		return "- " + l.Text
	default:
		return "  " + l.Text
	}
}

// Hunk is a run of changes with surrounding context.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Lines              []Line
}

// Header renders the hunk's "@@ -a,b +c,d @@" range line.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
}

// Differ computes line diffs. Context is the number of unchanged lines kept
// around each change.
type Differ struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	Context int
}

// New creates a differ. context < 0 means 3.
func New(context int) *Differ {
	if context < 0 {
		context = 3
	}
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &Differ{dmp: dmp, Context: context}
}

// Lines returns every line of both texts in diff order.
func (d *Differ) Lines(before, after string) []Line {
	// Line-level reduction avoids changes that straddle newlines.
	a, b, table := d.dmp.DiffLinesToChars(before, after)
	diffs := d.dmp.DiffMain(a, b, false)
	diffs = d.dmp.DiffCleanupSemantic(diffs)
	diffs = d.dmp.DiffCharsToLines(diffs, table)

	var out []Line
	oldAt, newAt := 0, 0
	for _, df := range diffs {
		text := strings.TrimSuffix(df.Text, "\n")
		if text == "" && df.Text == "" {
			continue
		}
		for _, s := range strings.Split(text, "\n") {
			l := Line{Text: s, oldAt: oldAt, newAt: newAt}
			switch df.Type {
			case diffmatchpatch.DiffInsert:
				l.Kind = Added
				newAt++
				l.New = newAt
			case diffmatchpatch.DiffDelete:
				l.Kind = Removed
				oldAt++
				l.Old = oldAt
			default:
				l.Kind = Context
				oldAt++
				newAt++
				l.Old, l.New = oldAt, newAt
			}
			out = append(out, l)
		}
	}
	return out
}

// Hunks groups the diff of before and after into hunks. Changes separated by
// at most twice the context share a hunk. Identical texts yield none.
func (d *Differ) Hunks(before, after string) []Hunk {
	lines := d.Lines(before, after)
	var hunks []Hunk
	for i := 0; i < len(lines); {
		for i < len(lines) && lines[i].Kind == Context {
			i++
		}
		if i == len(lines) {
			break
		}

		start := i - d.Context
		if start < 0 {
			start = 0
		}
		end := i
		for end < len(lines) {
			if lines[end].Kind != Context {
				end++
				continue
			}
			run := end
			for run < len(lines) && lines[run].Kind == Context {
				run++
			}
			if run == len(lines) || run-end > 2*d.Context {
				end += d.Context
				if end > len(lines) {
					end = len(lines)
				}
				break
			}
			end = run
		}

		hunks = append(hunks, newHunk(lines[start:end]))
		i = end
	}
	return hunks
}

func newHunk(lines []Line) Hunk {
	h := Hunk{Lines: lines}
	for _, l := range lines {
		if l.Kind != Added {
			h.OldCount++
		}
		if l.Kind != Removed {
			h.NewCount++
		}
	}
	h.OldStart, h.NewStart = lines[0].oldAt+1, lines[0].newAt+1
	if h.OldCount == 0 {
		h.OldStart--
	}
	if h.NewCount == 0 {
		h.NewStart--
	}
	return h
}

// Unified renders a complete unified diff of name's original and patched text.
func (d *Differ) Unified(name, before, after string) string {
	hunks := d.Hunks(before, after)
	if len(hunks) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s (patched)\n", name, name)
	for _, h := range hunks {
		sb.WriteString(h.Header())
		sb.WriteByte('\n')
		for _, l := range h.Lines {
			sb.WriteString(l.String())
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Stat counts added and removed lines.
func Stat(hunks []Hunk) (added, removed int) {
	for _, h := range hunks {
		for _, l := range h.Lines {
			switch l.Kind {
			case Added:
				added++
			case Removed:
				removed++
			}
		}
	}
	return added, removed
}
