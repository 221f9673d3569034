// Package store is the durable layer: a Pebble keyspace ordered by
// (conversation, message id) so history reads are prefix range scans and
// append order is the stored order.
//
// Keyspace:
//
//	user:<id>                 user profile JSON
//	cred:<email>              credential record JSON
//	conv:<id>:meta            conversation JSON
//	conv:<id>:msg:<%020d id>  message JSON, id zero-padded so byte order
//	                          equals numeric order
//	conv:<id>:seq             last assigned message id, big-endian uint64
//	convdir:<a>|<b>           direct-conversation index (sorted pair -> id)
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// ErrNotFound is returned for absent keys. It wraps pebble's sentinel so
// callers only depend on this package.
var ErrNotFound = pebble.ErrNotFound

// Store owns the Pebble handle and the per-conversation append state.
// It is constructed once at startup and passed to each component; there
// is no package-global handle.
type Store struct {
	db *pebble.DB

	mu    sync.Mutex
	convs map[string]*convState
}

// convState serializes appends for one conversation and carries the
// monotonic clamp for created timestamps.
type convState struct {
	mu     sync.Mutex
	loaded bool
	lastID uint64
	lastTS int64
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Store{db: db, convs: make(map[string]*convState)}, nil
}

// Close closes the underlying Pebble DB.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_closed")
	return err
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

func userKey(id string) []byte       { return []byte("user:" + id) }
func credKey(email string) []byte    { return []byte("cred:" + email) }
func convMetaKey(id string) []byte   { return []byte("conv:" + id + ":meta") }
func convSeqKey(id string) []byte    { return []byte("conv:" + id + ":seq") }
func msgPrefix(convID string) []byte { return []byte("conv:" + convID + ":msg:") }

func msgKey(convID string, id uint64) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d", convID, id))
}

func directKey(pair []string) []byte {
	return []byte("convdir:" + pair[0] + "|" + pair[1])
}

func (s *Store) getJSON(key []byte, v any) error {
	b, closer, err := s.db.Get(key)
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(b, v)
}

func (s *Store) setJSON(key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Set(key, b, pebble.Sync)
}

// --- users and credentials ---

// PutUser upserts a user profile record.
func (s *Store) PutUser(u models.User) error {
	return s.setJSON(userKey(u.ID), u)
}

// GetUser loads a user profile, ErrNotFound when absent.
func (s *Store) GetUser(id string) (models.User, error) {
	var u models.User
	err := s.getJSON(userKey(id), &u)
	return u, err
}

// PutCredential stores the credential record for an email.
func (s *Store) PutCredential(c models.Credential) error {
	return s.setJSON(credKey(c.Email), c)
}

// GetCredential loads the credential record for an email.
func (s *Store) GetCredential(email string) (models.Credential, error) {
	var c models.Credential
	err := s.getJSON(credKey(email), &c)
	return c, err
}

// --- conversations ---

// PutConversation upserts conversation metadata.
func (s *Store) PutConversation(c models.Conversation) error {
	return s.setJSON(convMetaKey(c.ID), c)
}

// GetConversation loads conversation metadata, ErrNotFound when absent.
func (s *Store) GetConversation(id string) (models.Conversation, error) {
	var c models.Conversation
	err := s.getJSON(convMetaKey(id), &c)
	return c, err
}

// ListConversations returns all conversation metadata records.
func (s *Store) ListConversations() ([]models.Conversation, error) {
	prefix := []byte("conv:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var c models.Conversation
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("invalid conversation record %s: %w", iter.Key(), err)
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// SetDirectIndex records the conversation id for a sorted participant
// pair so 1:1 chats deduplicate.
func (s *Store) SetDirectIndex(pair []string, convID string) error {
	return s.db.Set(directKey(pair), []byte(convID), pebble.Sync)
}

// GetDirectIndex returns the conversation id for a sorted participant
// pair, ErrNotFound when no direct conversation exists yet.
func (s *Store) GetDirectIndex(pair []string) (string, error) {
	b, closer, err := s.db.Get(directKey(pair))
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(append([]byte(nil), b...)), nil
}

// --- messages ---

// state returns the append state for a conversation, creating it lazily.
func (s *Store) state(convID string) *convState {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.convs[convID]
	if !ok {
		cs = &convState{}
		s.convs[convID] = cs
	}
	return cs
}

// load initializes lastID/lastTS from disk. Caller holds cs.mu.
func (s *Store) load(cs *convState, convID string) error {
	if cs.loaded {
		return nil
	}
	b, closer, err := s.db.Get(convSeqKey(convID))
	switch {
	case err == nil:
		cs.lastID = binary.BigEndian.Uint64(b)
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
		cs.lastID = 0
	default:
		return err
	}
	if cs.lastID > 0 {
		var m models.Message
		if err := s.getJSON(msgKey(convID, cs.lastID), &m); err == nil {
			cs.lastTS = m.CreatedTS
		}
	}
	cs.loaded = true
	return nil
}

// AppendMessage assigns the next id and created timestamp and commits
// both the message and the advanced sequence in one synced atomic batch.
// Appends to the same conversation are serialized; the assigned ids are
// strictly increasing and created timestamps never decrease (id is the
// tie-break). The write either lands whole or not at all.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cs := s.state(m.ConversationID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := s.load(cs, m.ConversationID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id := cs.lastID + 1
	ts := time.Now().UTC().UnixNano()
	if ts < cs.lastTS {
		ts = cs.lastTS
	}
	m.ID = id
	m.CreatedTS = ts

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], id)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(msgKey(m.ConversationID, id), data, nil); err != nil {
		return err
	}
	if err := batch.Set(convSeqKey(m.ConversationID), seq[:], nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("append_commit_failed", "conversation", m.ConversationID, "error", err)
		return err
	}
	cs.lastID = id
	cs.lastTS = ts
	appendsTotal.Inc()
	return nil
}

// ListMessages returns up to limit non-tombstoned messages with id >
// afterID in ascending id order. limit <= 0 means no bound.
func (s *Store) ListMessages(convID string, afterID uint64, limit int) ([]models.Message, error) {
	if afterID == math.MaxUint64 {
		// afterID+1 would wrap to zero and replay the whole log
		return nil, nil
	}
	prefix := msgPrefix(convID)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(msgKey(convID, afterID+1)); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message record %s: %w", iter.Key(), err)
		}
		if m.Deleted {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	readsTotal.Inc()
	return out, iter.Error()
}

// GetMessage loads one message by id, tombstoned or not.
func (s *Store) GetMessage(convID string, id uint64) (models.Message, error) {
	var m models.Message
	err := s.getJSON(msgKey(convID, id), &m)
	return m, err
}

// TombstoneMessage marks a message deleted in place. The id stays
// allocated so readers and subscribers keep a stable order.
func (s *Store) TombstoneMessage(convID string, id uint64) error {
	cs := s.state(convID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var m models.Message
	if err := s.getJSON(msgKey(convID, id), &m); err != nil {
		return err
	}
	m.Deleted = true
	m.DeletedTS = time.Now().UTC().UnixNano()
	m.Text = ""
	return s.setJSON(msgKey(convID, id), m)
}

// HardDeleteMessage removes a message record entirely. Terminal, no undo.
func (s *Store) HardDeleteMessage(convID string, id uint64) error {
	return s.db.Delete(msgKey(convID, id), pebble.Sync)
}

// Scan walks every key with the given prefix in byte order and calls fn
// with each key/value pair. An empty prefix walks the whole keyspace.
// Iteration stops at the first error from fn.
func (s *Store) Scan(prefix string, fn func(key string, value []byte) error) error {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		if err := fn(string(iter.Key()), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Tombstone identifies one soft-deleted message for the retention sweep.
type Tombstone struct {
	ConversationID string
	ID             uint64
	DeletedTS      int64
}

// ListTombstones scans the whole message keyspace for tombstones deleted
// before cutoff (ns), returning at most limit of them.
func (s *Store) ListTombstones(cutoff int64, limit int) ([]Tombstone, error) {
	prefix := []byte("conv:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Tombstone
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.Contains(iter.Key(), []byte(":msg:")) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if !m.Deleted || m.DeletedTS >= cutoff {
			continue
		}
		out = append(out, Tombstone{ConversationID: m.ConversationID, ID: m.ID, DeletedTS: m.DeletedTS})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}
