package debounce

import (
	"testing"
	"time"
)

func TestAggregatorCoalescesBurst(t *testing.T) {
	flushed := make(chan Batch, 4)
	agg := New(Options{Delay: 30 * time.Millisecond, OnFlush: func(b Batch) { flushed <- b }})

	agg.Add(Event{Key: "tails", Name: "WRITE"})
	agg.Add(Event{Key: "tails", Name: "WRITE"})
	agg.Add(Event{Key: "tails", Name: "CHMOD"})

	select {
	case b := <-flushed:
		if b.Key != "tails" || b.Count != 3 || len(b.Names) != 2 {
			t.Fatalf("unexpected batch %+v", b)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a flush")
	}

	select {
	case b := <-flushed:
		t.Fatalf("expected a single flush, got another %+v", b)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestAggregatorSeparatesKeys(t *testing.T) {
	flushed := make(chan Batch, 4)
	agg := New(Options{Delay: 10 * time.Millisecond, OnFlush: func(b Batch) { flushed <- b }})

	agg.Add(Event{Key: "a"})
	agg.Add(Event{Key: "b"})
	agg.Add(Event{})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case b := <-flushed:
			got[b.Key] = true
		case <-time.After(time.Second):
			t.Fatal("expected two flushes")
		}
	}
	if !got["a"] || !got["b"] {
		t.Fatalf("expected both keys, got %v", got)
	}
}

func TestAggregatorStop(t *testing.T) {
	flushed := make(chan Batch, 1)
	agg := New(Options{Delay: 20 * time.Millisecond, OnFlush: func(b Batch) { flushed <- b }})

	agg.Add(Event{Key: "a"})
	agg.Stop()
	agg.Add(Event{Key: "b"})

	select {
	case b := <-flushed:
		t.Fatalf("expected no flush after stop, got %+v", b)
	case <-time.After(80 * time.Millisecond):
	}
}
