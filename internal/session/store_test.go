package session

import (
	"testing"
	"time"
)

func TestRecordKeepsNewest(t *testing.T) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(Options{MaxEntries: 2, Now: func() time.Time { return clock }})

	s.Record(7, "ann", KindGenerate, "one")
	s.Record(7, "", KindArrange, "two")
	s.Record(7, "", KindGenerate, "three")
	s.Record(7, "", KindGenerate, "")

	got := s.Snapshot(7, "")
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Fatalf("Snapshot = %+v", got)
	}
	if !got[1].CreatedAt.Equal(clock) {
		t.Fatalf("CreatedAt = %v", got[1].CreatedAt)
	}

	got[0].Text = "mutated"
	if again := s.Snapshot(7, ""); again[0].Text != "two" {
		t.Fatal("Snapshot must return a copy")
	}
}

func TestLast(t *testing.T) {
	s := NewStore(Options{})
	if _, ok := s.Last(1, ""); ok {
		t.Fatal("Last on unknown user should be empty")
	}

	s.Record(1, "", KindGenerate, "base")
	s.Record(1, "", KindWorld, "world")

	if e, ok := s.Last(1, ""); !ok || e.Text != "world" {
		t.Fatalf("Last any = %+v, %v", e, ok)
	}
	if e, ok := s.Last(1, KindGenerate); !ok || e.Text != "base" {
		t.Fatalf("Last generate = %+v, %v", e, ok)
	}
	if _, ok := s.Last(1, KindChaos); ok {
		t.Fatal("Last chaos should be empty")
	}

	s.Clear(1)
	if got := s.Snapshot(1, ""); len(got) != 0 {
		t.Fatalf("after Clear = %+v", got)
	}
}
