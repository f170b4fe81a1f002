package debounce

import (
	"sync"
	"time"
)

// Event is one notification for a key, e.g. a write to a watched file.
type Event struct {
	Key  string
	Name string
}

// Batch is what OnFlush receives once a key has been quiet for the delay.
type Batch struct {
	Key   string
	Names []string
	Count int
}

type Options struct {
	Delay   time.Duration
	OnFlush func(Batch)
}

// Aggregator coalesces bursts of events per key and flushes each key once
// the burst has settled.
type Aggregator struct {
	mu      sync.Mutex
	delay   time.Duration
	onFlush func(Batch)
	pending map[string]*pendingBatch
	stopped bool
}

type pendingBatch struct {
	batch Batch
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	delay := opts.Delay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}

	return &Aggregator{
		delay:   delay,
		onFlush: opts.OnFlush,
		pending: make(map[string]*pendingBatch),
	}
}

func (a *Aggregator) Add(ev Event) {
	if ev.Key == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}

	pb, ok := a.pending[ev.Key]
	if !ok {
		pb = &pendingBatch{batch: Batch{Key: ev.Key}}
		a.pending[ev.Key] = pb
	}
	pb.batch.Count++
	if ev.Name != "" && !contains(pb.batch.Names, ev.Name) {
		pb.batch.Names = append(pb.batch.Names, ev.Name)
	}

	if pb.timer != nil {
		pb.timer.Stop()
	}
	key := ev.Key
	pb.timer = time.AfterFunc(a.delay, func() {
		a.flush(key)
	})
}

// Stop cancels every pending flush. Later events are ignored.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	for key, pb := range a.pending {
		if pb.timer != nil {
			pb.timer.Stop()
		}
		delete(a.pending, key)
	}
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	pb, ok := a.pending[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	batch := pb.batch
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(batch)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
