// Package events provides a small fan-out broker for state-change notifications.
package events

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// MergeFunc folds next into prev, the newest value still queued for a
// subscriber. It returns false when the two must be delivered separately.
type MergeFunc[T any] func(prev, next T) (T, bool)

// Option configures a Broker.
type Option[T any] func(*Broker[T])

// WithMerge lets a subscriber that has fallen behind receive consecutive
// values folded into one instead of one by one.
func WithMerge[T any](fn MergeFunc[T]) Option[T] {
	return func(b *Broker[T]) { b.merge = fn }
}

// Broker fans published values out to every subscriber. Publish never blocks
// and never drops a value: each subscriber has its own queue, drained into
// its channel by a dedicated goroutine.
type Broker[T any] struct {
	mu     sync.Mutex
	name   string
	buffer int
	merge  MergeFunc[T]
	nextID int
	subs   map[int]*subscriber[T]
	merged int
	closed bool
}

// NewBroker creates a broker; name is only used in log lines.
func NewBroker[T any](name string, buffer int, opts ...Option[T]) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b := &Broker[T]{name: name, buffer: buffer, subs: make(map[int]*subscriber[T])}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber. The returned cancel func unregisters
// it and closes the channel; calling it more than once is safe.
func (b *Broker[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	sub := newSubscriber[T](b.buffer)
	b.subs[id] = sub
	go sub.pump()

	return sub.out, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}
}

// Publish queues v for every subscriber.
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		merged, behind := sub.push(v, b.merge)
		if merged {
			b.merged++
		}
		if behind {
			slog.Debug("Subscriber is falling behind, queueing events", "broker", b.name, "subscriber", id, "merged_total", b.merged)
		}
	}
}

// Merged returns how many values were folded into an earlier queued value.
func (b *Broker[T]) Merged() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.merged
}

// Close unregisters every subscriber. Values already queued are still
// delivered, then each channel is closed. Later subscriptions receive an
// already-closed channel.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.finish()
	}
}

type subscriber[T any] struct {
	out  chan T
	quit chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []T
	finished bool
	stopped  bool
	lagging  bool
}

func newSubscriber[T any](buffer int) *subscriber[T] {
	s := &subscriber[T]{out: make(chan T, buffer), quit: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// push queues v, folding it into the newest queued value when merge allows.
// behind reports that the queue just stopped being empty.
func (s *subscriber[T]) push(v T, merge MergeFunc[T]) (merged, behind bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.finished {
		return false, false
	}
	if n := len(s.pending); n > 0 && merge != nil {
		if folded, ok := merge(s.pending[n-1], v); ok {
			s.pending[n-1] = folded
			return true, false
		}
	}
	s.pending = append(s.pending, v)
	// The pump moves one value at a time into out; a second queued value
	// means out is full.
	if len(s.pending) > 1 && !s.lagging {
		s.lagging = true
		behind = true
	}
	s.cond.Signal()
	return false, behind
}

func (s *subscriber[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.finished && !s.stopped {
			s.lagging = false
			s.cond.Wait()
		}
		if s.stopped || len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		v := s.pending[0]
		var zero T
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.quit:
			return
		}
	}
}

// stop discards anything queued and closes the channel.
func (s *subscriber[T]) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.pending = nil
	close(s.quit)
	s.cond.Signal()
}

// finish closes the channel once everything queued has been delivered.
func (s *subscriber[T]) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.cond.Signal()
}
