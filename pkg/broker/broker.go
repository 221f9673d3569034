// Package broker manages live subscriptions per conversation and fans
// out newly committed messages to every active subscriber in log order.
//
// Delivery is at-most-once and best-effort: a subscriber that cannot
// keep up is torn down and must resubscribe from its last seen id.
// Durability lives in the message log, not here.
package broker

import (
	"context"
	"sync"

	"chatrelay/pkg/errs"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/msglog"
)

type Broker struct {
	log *msglog.Log

	buffer      int
	replayBatch int

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{} // convID -> set
	closed bool
}

// Options tune the broker; zero values fall back to safe defaults.
type Options struct {
	// SubscriberBuffer is how many undelivered messages a subscriber may
	// lag before it is dropped.
	SubscriberBuffer int
	// ReplayBatch bounds each catch-up read against the log.
	ReplayBatch int
}

func New(log *msglog.Log, opts Options) *Broker {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 256
	}
	if opts.ReplayBatch <= 0 {
		opts.ReplayBatch = 500
	}
	return &Broker{
		log:         log,
		buffer:      opts.SubscriberBuffer,
		replayBatch: opts.ReplayBatch,
		subs:        make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription is one live listener on a conversation. Consume from C()
// and watch Done(); after Done is closed no further message will be
// pushed (one in-flight delivery may still land in C's buffer).
type Subscription struct {
	convID string

	// in receives post-commit notifications; out is what the consumer
	// reads. The pump goroutine is the only sender on out, so out can be
	// closed safely when the subscription ends.
	in  chan models.Message
	out chan models.Message

	done     chan struct{}
	stopOnce sync.Once

	broker *Broker
}

// C is the ordered message feed: replayed history first, then live
// appends, no gaps, no duplicates.
func (s *Subscription) C() <-chan models.Message { return s.out }

// Done is closed when the subscription ends, whether by Cancel or by
// the broker dropping a subscriber that fell behind.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel tears the subscription down. Idempotent and safe after the
// feed already closed.
func (s *Subscription) Cancel() {
	s.broker.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Subscribe registers a live listener and starts its delivery pump: all
// messages with id > sinceID are replayed from the log in order, then
// the feed switches to live fan-out with the switch-over point exactly
// sinceID-exclusive.
//
// The subscription is registered before replay starts, so a message
// committed at any point after Subscribe is either seen by the replay
// read or buffered live; duplicates across the boundary are suppressed
// by id.
func (b *Broker) Subscribe(ctx context.Context, convID string, sinceID uint64) (*Subscription, error) {
	s := &Subscription{
		convID: convID,
		in:     make(chan models.Message, b.buffer),
		out:    make(chan models.Message, b.buffer),
		done:   make(chan struct{}),
		broker: b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errs.New(errs.Unavailable, "broker shut down")
	}
	set, ok := b.subs[convID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[convID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()
	subsActive.Inc()

	go b.pump(ctx, s, sinceID)
	return s, nil
}

// Unsubscribe cancels a subscription. Idempotent; safe to call multiple
// times or after the channel already closed.
func (b *Broker) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	s.Cancel()
}

// Notify fans a freshly committed message out to every live subscriber
// of its conversation. Called by the log after the durable commit, in
// commit order. Never blocks: a subscriber whose buffer is full is
// dropped.
func (b *Broker) Notify(m models.Message) {
	b.mu.RLock()
	var dead []*Subscription
	for s := range b.subs[m.ConversationID] {
		select {
		case s.in <- m:
		default:
			dead = append(dead, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range dead {
		logger.Warn("subscriber_dropped", "conversation", m.ConversationID, "reason", "buffer full")
		subsDropped.Inc()
		s.Cancel()
	}
}

// pump owns the out channel: it replays history, then forwards live
// notifications, filtering anything at or below the replay boundary.
func (b *Broker) pump(ctx context.Context, s *Subscription, sinceID uint64) {
	defer close(s.out)
	defer s.Cancel()

	lastID := sinceID
	for {
		msgs, err := b.log.Read(ctx, s.convID, lastID, b.replayBatch)
		if err != nil {
			logger.Warn("replay_failed", "conversation", s.convID, "error", err)
			return
		}
		for _, m := range msgs {
			select {
			case s.out <- m:
				lastID = m.ID
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		if len(msgs) < b.replayBatch {
			break
		}
	}

	for {
		select {
		case m := <-s.in:
			if m.ID <= lastID {
				continue // already covered by replay
			}
			select {
			case s.out <- m:
				lastID = m.ID
				delivered.Inc()
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	set, ok := b.subs[s.convID]
	if ok {
		if _, present := set[s]; present {
			delete(set, s)
			subsActive.Dec()
			if len(set) == 0 {
				delete(b.subs, s.convID)
			}
		}
	}
	b.mu.Unlock()
}

// Close tears down every subscription; used at shutdown.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	var all []*Subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()
	for _, s := range all {
		s.stop()
		subsActive.Dec()
	}
}
