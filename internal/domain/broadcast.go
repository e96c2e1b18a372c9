package domain

import (
	"log"
	"sync"
)

// Subscription is one peer's outbound event queue. Events for the same
// Domain arrive in the order they were applied on that Domain's dispatcher.
type Subscription struct {
	token string
	ch    chan CallbackInfo
	seq   uint64
	dead  bool
}

// Events is the peer's ordered callback stream. The channel is closed on
// unsubscribe or when the peer falls too far behind.
func (s *Subscription) Events() <-chan CallbackInfo {
	return s.ch
}

func (s *Subscription) Token() string {
	return s.token
}

// Broadcaster fans events out to every subscribed peer. Publishing only
// enqueues onto per-subscriber buffers; delivery to the wire is the
// subscriber pump's job, so a slow peer never blocks a Domain's dispatcher.
type Broadcaster struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	queueSize int
}

func NewBroadcaster(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Broadcaster{
		subs:      map[string]*Subscription{},
		queueSize: queueSize,
	}
}

// Subscribe registers a peer keyed by its session token. Resubscribing with
// the same token replaces the previous queue.
func (b *Broadcaster) Subscribe(token string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[token]; ok {
		old.dead = true
		close(old.ch)
	}
	sub := &Subscription{
		token: token,
		ch:    make(chan CallbackInfo, b.queueSize),
	}
	b.subs[token] = sub
	return sub
}

// Unsubscribe drops a peer. Events already queued are discarded with the
// channel; consumers are idempotent on their own IDs.
func (b *Broadcaster) Unsubscribe(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[token]; ok {
		delete(b.subs, token)
		sub.dead = true
		close(sub.ch)
	}
}

// UnsubscribeIf drops a peer only while sub is still the registered
// subscription for its token. A teardown racing a re-subscribe with the same
// token must not kill the replacement queue.
func (b *Broadcaster) UnsubscribeIf(token string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.subs[token]; ok && current == sub {
		delete(b.subs, token)
		sub.dead = true
		close(sub.ch)
	}
}

// Publish enqueues ev for every live subscriber in registration-independent
// but per-subscriber FIFO order. A subscriber whose queue is full is retired
// rather than blocking the publishing dispatcher.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for token, sub := range b.subs {
		if sub.dead {
			continue
		}
		sub.seq++
		select {
		case sub.ch <- CallbackInfo{Seq: sub.seq, Event: ev}:
		default:
			log.Printf("[BROADCAST] subscriber %s queue full, retiring", shortToken(token))
			delete(b.subs, token)
			sub.dead = true
			close(sub.ch)
		}
	}
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
