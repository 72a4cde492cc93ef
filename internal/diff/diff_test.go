package diff

import (
	"strings"
	"testing"
)

func TestLines_SingleReplacement(t *testing.T) {
	lines := New(3).Lines("a\nb\nc\n", "a\nB\nc\n")

	var got []string
	for _, l := range lines {
		got = append(got, l.String())
	}
	want := []string{"  a", "- b", "+ B", "  c"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	if lines[1].Old != 2 || lines[1].New != 0 {
		t.Errorf("removed line numbers = %d/%d, want 2/0", lines[1].Old, lines[1].New)
	}
	if lines[2].Old != 0 || lines[2].New != 2 {
		t.Errorf("added line numbers = %d/%d, want 0/2", lines[2].Old, lines[2].New)
	}
}

func TestHunks_IdenticalTexts(t *testing.T) {
	if hunks := New(3).Hunks("same\ntext\n", "same\ntext\n"); len(hunks) != 0 {
		t.Fatalf("expected no hunks, got %d", len(hunks))
	}
	if out := New(3).Unified("m", "x\n", "x\n"); out != "" {
		t.Fatalf("expected empty unified diff, got %q", out)
	}
}

func TestHunks_ContextAndHeader(t *testing.T) {
	before := "1\n2\n3\n4\n5\n6\n7\n8\n9\n"
	after := "1\n2\n3\n4\nfive\n6\n7\n8\n9\n"

	hunks := New(2).Hunks(before, after)
	if len(hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(hunks))
	}
	h := hunks[0]
	if got := h.Header(); got != "@@ -3,5 +3,5 @@" {
		t.Errorf("header = %q", got)
	}
	if len(h.Lines) != 6 {
		t.Errorf("expected 2+1+1+2 lines, got %d", len(h.Lines))
	}
}

func TestHunks_DistantChangesSplit(t *testing.T) {
	before := "a\n1\n2\n3\n4\n5\n6\n7\nz\n"
	after := "A\n1\n2\n3\n4\n5\n6\n7\nZ\n"

	if hunks := New(1).Hunks(before, after); len(hunks) != 2 {
		t.Fatalf("expected 2 hunks with context 1, got %d", len(hunks))
	}
	if hunks := New(4).Hunks(before, after); len(hunks) != 1 {
		t.Fatalf("expected changes to merge with context 4, got %d hunks", len(hunks))
	}
}

func TestHunks_PureInsertion(t *testing.T) {
	hunks := New(0).Hunks("a\nb\n", "a\nnew\nb\n")
	if len(hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(hunks))
	}
	if got := hunks[0].Header(); got != "@@ -1,0 +2,1 @@" {
		t.Errorf("header = %q", got)
	}
}

func TestUnified(t *testing.T) {
	out := New(1).Unified("main", "x := foo(1)\ny\n", "x := baz(1)\ny\n")
	for _, want := range []string{"--- main\n", "+++ main (patched)\n", "- x := foo(1)\n", "+ x := baz(1)\n", "  y\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("unified diff missing %q:\n%s", want, out)
		}
	}
}

func TestStat(t *testing.T) {
	added, removed := Stat(New(3).Hunks("a\nb\n", "a\nc\nd\n"))
	if added != 2 || removed != 1 {
		t.Fatalf("stat = +%d -%d, want +2 -1", added, removed)
	}
}

func TestLines_NoTrailingNewline(t *testing.T) {
	lines := New(3).Lines("a\nb", "a\nc")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}
	if lines[1].Kind != Removed || lines[1].Text != "b" {
		t.Errorf("unexpected line %v", lines[1])
	}
}
