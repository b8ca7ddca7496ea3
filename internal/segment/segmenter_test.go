package segment

import (
	"strings"
	"testing"
)

func pushAll(s *Segmenter, deltas []string) []Unit {
	var units []Unit
	for _, d := range deltas {
		if u, ok := s.Push(d); ok {
			units = append(units, u)
		}
	}
	if u, ok := s.Flush(); ok {
		units = append(units, u)
	}
	return units
}

func TestNoBoundaryYieldsSingleFinalUnit(t *testing.T) {
	var s Segmenter
	deltas := []string{"no", " punctuation", " at", " all"}
	for _, d := range deltas {
		if _, ok := s.Push(d); ok {
			t.Fatalf("unexpected flush on %q", d)
		}
	}
	u, ok := s.Flush()
	if !ok {
		t.Fatal("expected final unit")
	}
	if u.Text != strings.Join(deltas, "") || !u.Final {
		t.Fatalf("unexpected unit: %+v", u)
	}
}

func TestBoundaryFlushesWholeBuffer(t *testing.T) {
	var s Segmenter
	units := pushAll(&s, []string{"Hello", " world.", " Next part", " here"})
	if len(units) != 2 {
		t.Fatalf("unexpected units: %+v", units)
	}
	if units[0] != (Unit{Text: "Hello world."}) {
		t.Fatalf("unexpected first unit: %+v", units[0])
	}
	if units[1] != (Unit{Text: " Next part here", Final: true}) {
		t.Fatalf("unexpected second unit: %+v", units[1])
	}
}

func TestTrailingBoundaryDeltaIsNotFinal(t *testing.T) {
	var s Segmenter
	units := pushAll(&s, []string{"Hello", " world.", " Next part", " here?"})
	want := []Unit{{Text: "Hello world."}, {Text: " Next part here?"}}
	if len(units) != len(want) {
		t.Fatalf("unexpected units: %+v", units)
	}
	for i := range want {
		if units[i] != want[i] {
			t.Fatalf("unit %d: got %+v want %+v", i, units[i], want[i])
		}
	}
}

func TestBoundaryMidDeltaKeepsRemainderInUnit(t *testing.T) {
	var s Segmenter
	u, ok := s.Push("Done. And then")
	if !ok || u.Text != "Done. And then" {
		t.Fatalf("unexpected unit: %+v ok=%v", u, ok)
	}
	if _, ok := s.Flush(); ok {
		t.Fatal("buffer should be empty after flush")
	}
}

func TestWhitespaceTrailingBufferIsDropped(t *testing.T) {
	var s Segmenter
	units := pushAll(&s, []string{"One.", "  ", "\t"})
	if len(units) != 1 || units[0].Text != "One." {
		t.Fatalf("unexpected units: %+v", units)
	}
}

func TestWhitespaceBoundaryDoesNotFlush(t *testing.T) {
	var s Segmenter
	if _, ok := s.Push("\n"); ok {
		t.Fatal("whitespace-only buffer must not flush")
	}
	u, ok := s.Push("Hi!")
	if !ok || u.Text != "\nHi!" {
		t.Fatalf("unexpected unit: %+v ok=%v", u, ok)
	}
}

func TestHasBoundary(t *testing.T) {
	cases := map[string]bool{
		"a.":    true,
		"wow!":  true,
		"why?":  true,
		"x\ny":  true,
		"plain": false,
		"":      false,
	}
	for in, want := range cases {
		if got := HasBoundary(in); got != want {
			t.Fatalf("HasBoundary(%q): got %v want %v", in, got, want)
		}
	}
}
