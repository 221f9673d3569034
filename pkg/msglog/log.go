// Package msglog is the append-only ordered message log per
// conversation: the single source of truth for ordering. All mutation
// goes through Append, which serializes per conversation and notifies
// the broker only after the durable commit.
package msglog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chatrelay/pkg/errs"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

// Notifier receives each message after it is durably committed. A
// subscriber must never observe a message a crash could roll back.
type Notifier interface {
	Notify(msg models.Message)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(models.Message)

func (f NotifierFunc) Notify(m models.Message) { f(m) }

type Log struct {
	store    *store.Store
	notifier Notifier

	appendTimeout time.Duration
	maxBytes      int64

	// convMu serializes append+notify per conversation so subscribers
	// observe notifications in commit order.
	mu     sync.Mutex
	convMu map[string]*sync.Mutex
}

// Options tune the log; zero values fall back to safe defaults.
type Options struct {
	AppendTimeout   time.Duration
	MaxMessageBytes int64
}

func New(st *store.Store, opts Options) *Log {
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = 5 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	return &Log{
		store:         st,
		appendTimeout: opts.AppendTimeout,
		maxBytes:      opts.MaxMessageBytes,
		convMu:        make(map[string]*sync.Mutex),
	}
}

func (l *Log) lockConv(convID string) *sync.Mutex {
	l.mu.Lock()
	mu, ok := l.convMu[convID]
	if !ok {
		mu = &sync.Mutex{}
		l.convMu[convID] = mu
	}
	l.mu.Unlock()
	mu.Lock()
	return mu
}

// SetNotifier wires the broker in after construction (the broker needs
// the log for replay, so the two are linked post-build).
func (l *Log) SetNotifier(n Notifier) { l.notifier = n }

// Append validates, durably appends and then notifies. Validation
// failures reject before any state mutation; a timed-out durable write
// reports Unavailable and applies nothing.
func (l *Log) Append(ctx context.Context, convID, senderID, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, errs.New(errs.EmptyMessage, "message text is empty")
	}
	if int64(len(text)) > l.maxBytes {
		return models.Message{}, errs.New(errs.InvalidInput, "message text too large")
	}

	conv, err := l.store.GetConversation(convID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Message{}, errs.New(errs.NotFound, "conversation not found")
	} else if err != nil {
		return models.Message{}, errs.Wrap(errs.Unavailable, "reading conversation", err)
	}
	if !conv.HasParticipant(senderID) {
		return models.Message{}, errs.New(errs.NotAuthorized, "sender is not a participant")
	}

	m := models.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Text:           text,
	}
	wctx, cancel := context.WithTimeout(ctx, l.appendTimeout)
	defer cancel()

	// The conversation lock spans commit and notification so concurrent
	// senders cannot notify out of commit order. Notification itself is
	// non-blocking, so the lock is held only for the durable write.
	mu := l.lockConv(convID)
	defer mu.Unlock()

	if err := l.store.AppendMessage(wctx, &m); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Message{}, errs.Wrap(errs.Unavailable, "append timed out", err)
		}
		return models.Message{}, errs.Wrap(errs.Unavailable, "append failed", err)
	}
	logger.Debug("message_appended", "conversation", convID, "id", m.ID, "sender", senderID)

	// Notify strictly after the durable commit.
	if l.notifier != nil {
		l.notifier.Notify(m)
	}
	return m, nil
}

// Read returns up to limit messages with id > afterID in canonical
// (createdAt, id) order. The sequence is finite and restartable: call
// again with the last seen id to resume.
func (l *Log) Read(ctx context.Context, convID string, afterID uint64, limit int) ([]models.Message, error) {
	if _, err := l.store.GetConversation(convID); errors.Is(err, store.ErrNotFound) {
		return nil, errs.New(errs.NotFound, "conversation not found")
	} else if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "reading conversation", err)
	}
	msgs, err := l.store.ListMessages(convID, afterID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "reading messages", err)
	}
	return msgs, nil
}

// Delete tombstones a message. Only the original sender may delete.
func (l *Log) Delete(ctx context.Context, convID string, msgID uint64, requesterID string) error {
	m, err := l.store.GetMessage(convID, msgID)
	if errors.Is(err, store.ErrNotFound) {
		return errs.New(errs.NotFound, "message not found")
	} else if err != nil {
		return errs.Wrap(errs.Unavailable, "reading message", err)
	}
	if m.Deleted {
		return errs.New(errs.NotFound, "message not found")
	}
	if m.SenderID != requesterID {
		return errs.New(errs.NotAuthorized, "only the sender may delete a message")
	}
	if err := l.store.TombstoneMessage(convID, msgID); err != nil {
		return errs.Wrap(errs.Unavailable, "deleting message", err)
	}
	logger.Info("message_deleted", "conversation", convID, "id", msgID, "requester", requesterID)
	return nil
}
