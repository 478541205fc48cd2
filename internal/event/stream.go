// Package event provides small in-process broadcast streams used by the
// orchestrator to publish progress, state, schedule, and catalog changes.
//
// Two flavors exist: Value retains the most recent publication and replays it
// to new subscribers; Feed delivers only publications that happen after
// subscribing. Publishes run on the publisher's goroutine and never block on a
// slow subscriber. Ordering is guaranteed within a single stream only.
package event

import "sync"

// subscriberBuffer is the channel capacity handed to each subscriber. A
// subscriber that falls further behind than this loses events rather than
// stalling the publisher.
const subscriberBuffer = 16

// Value is a broadcast stream with replay-of-last-value semantics: a new
// subscriber immediately receives the current value (if one has ever been
// published), then all future publications.
type Value[T any] struct {
	mu   sync.Mutex
	last T
	set  bool
	subs map[chan T]struct{}
}

// NewValue creates an empty last-value stream.
func NewValue[T any]() *Value[T] {
	return &Value[T]{subs: make(map[chan T]struct{})}
}

// Publish records v as the current value and delivers it to every subscriber.
// If a subscriber's buffer is full, its oldest pending value is dropped so the
// latest one always lands.
func (s *Value[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = v
	s.set = true
	for ch := range s.subs {
		sendLatest(ch, v)
	}
}

// Get returns the current value and whether one has ever been published.
func (s *Value[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.set
}

// Subscribe registers a new subscriber. The returned channel receives the
// current value first (when one exists), then future publications. The cancel
// function removes the subscription and closes the channel.
func (s *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	if s.set {
		ch <- s.last
	}
	s.mu.Unlock()
	return ch, func() { s.unsubscribe(ch) }
}

func (s *Value[T]) unsubscribe(ch chan T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// sendLatest delivers v without blocking, evicting the oldest buffered value
// if the channel is full.
func sendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Feed is a fire-only broadcast stream: subscribers see only events published
// after they subscribe. Events to a subscriber with a full buffer are dropped.
type Feed[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
}

// NewFeed creates an empty fire-only stream.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[chan T]struct{})}
}

// Publish delivers v to every current subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The cancel function removes the
// subscription and closes the channel.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}
