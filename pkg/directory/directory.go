// Package directory tracks which users participate in which conversation
// and owns the per-user profile records.
package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/errs"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

type Service struct {
	store *store.Store

	mu     sync.Mutex
	pairMu map[string]*sync.Mutex
}

func New(st *store.Store) *Service {
	return &Service{store: st, pairMu: make(map[string]*sync.Mutex)}
}

// lockPair serializes direct-conversation creation per participant pair
// so two concurrent requests for the same pair cannot both miss the
// index and create separate conversations.
func (s *Service) lockPair(key string) *sync.Mutex {
	s.mu.Lock()
	mu, ok := s.pairMu[key]
	if !ok {
		mu = &sync.Mutex{}
		s.pairMu[key] = mu
	}
	s.mu.Unlock()
	mu.Lock()
	return mu
}

// EnsureDefault creates the singleton public room if absent. Called once
// at startup; DefaultConversation afterwards is a plain read.
func (s *Service) EnsureDefault(ctx context.Context) error {
	_, err := s.store.GetConversation(models.DefaultConversationID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	now := time.Now().UTC().UnixNano()
	c := models.Conversation{
		ID:        models.DefaultConversationID,
		Kind:      models.ConvPublic,
		CreatedTS: now,
		UpdatedTS: now,
	}
	if err := s.store.PutConversation(c); err != nil {
		return err
	}
	logger.Info("default_conversation_created", "id", c.ID)
	return nil
}

// DefaultConversation returns the public room. Deterministic: always the
// same id.
func (s *Service) DefaultConversation(ctx context.Context) (models.Conversation, error) {
	c, err := s.store.GetConversation(models.DefaultConversationID)
	if errors.Is(err, store.ErrNotFound) {
		if err := s.EnsureDefault(ctx); err != nil {
			return models.Conversation{}, errs.Wrap(errs.Unavailable, "creating default conversation", err)
		}
		c, err = s.store.GetConversation(models.DefaultConversationID)
		if err != nil {
			return models.Conversation{}, errs.Wrap(errs.Unavailable, "reading default conversation", err)
		}
		return c, nil
	} else if err != nil {
		return models.Conversation{}, errs.Wrap(errs.Unavailable, "reading default conversation", err)
	}
	return c, nil
}

// CreateConversation creates a conversation for the given participant
// set. Two-participant (direct) sets deduplicate: asking again for the
// same pair returns the existing conversation. Groups always create new.
// The creator must be in the set.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, participantIDs []string) (models.Conversation, error) {
	ids := models.CanonicalParticipants(participantIDs)
	if len(ids) < 2 {
		return models.Conversation{}, errs.New(errs.InvalidInput, "a conversation needs at least two participants")
	}
	found := false
	for _, id := range ids {
		if id == creatorID {
			found = true
			break
		}
	}
	if !found {
		return models.Conversation{}, errs.New(errs.NotAuthorized, "creator must participate in the conversation")
	}
	for _, id := range ids {
		if _, err := s.store.GetUser(id); errors.Is(err, store.ErrNotFound) {
			return models.Conversation{}, errs.New(errs.NotFound, "unknown participant "+id)
		} else if err != nil {
			return models.Conversation{}, errs.Wrap(errs.Unavailable, "reading participant", err)
		}
	}

	kind := models.ConvGroup
	if len(ids) == 2 {
		kind = models.ConvDirect
		mu := s.lockPair(strings.Join(ids, "|"))
		defer mu.Unlock()
		existing, err := s.store.GetDirectIndex(ids)
		if err == nil {
			c, gerr := s.store.GetConversation(existing)
			if gerr == nil {
				return c, nil
			}
			if !errors.Is(gerr, store.ErrNotFound) {
				return models.Conversation{}, errs.Wrap(errs.Unavailable, "reading conversation", gerr)
			}
			// stale index entry; fall through and recreate
		} else if !errors.Is(err, store.ErrNotFound) {
			return models.Conversation{}, errs.Wrap(errs.Unavailable, "reading direct index", err)
		}
	}

	now := time.Now().UTC().UnixNano()
	c := models.Conversation{
		ID:             uuid.NewString(),
		Kind:           kind,
		ParticipantIDs: ids,
		CreatedTS:      now,
		UpdatedTS:      now,
	}
	if err := s.store.PutConversation(c); err != nil {
		return models.Conversation{}, errs.Wrap(errs.Unavailable, "storing conversation", err)
	}
	if kind == models.ConvDirect {
		if err := s.store.SetDirectIndex(ids, c.ID); err != nil {
			return models.Conversation{}, errs.Wrap(errs.Unavailable, "storing direct index", err)
		}
	}
	logger.Info("conversation_created", "id", c.ID, "kind", kind, "participants", len(ids))
	return c, nil
}

// GetConversation loads one conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	c, err := s.store.GetConversation(id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Conversation{}, errs.New(errs.NotFound, "conversation not found")
	} else if err != nil {
		return models.Conversation{}, errs.Wrap(errs.Unavailable, "reading conversation", err)
	}
	return c, nil
}

// ListParticipants returns the participant set of a conversation.
func (s *Service) ListParticipants(ctx context.Context, convID string) ([]string, error) {
	c, err := s.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), c.ParticipantIDs...), nil
}

// GetProfile loads a user profile.
func (s *Service) GetProfile(ctx context.Context, userID string) (models.User, error) {
	u, err := s.store.GetUser(userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, errs.New(errs.NotFound, "user not found")
	} else if err != nil {
		return models.User{}, errs.Wrap(errs.Unavailable, "reading user", err)
	}
	return u, nil
}

// ProfileUpdate carries the fields of a partial profile update. Nil
// means "leave unchanged"; a pointer to the empty string clears.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	AvatarRef   *string `json:"avatar_ref,omitempty"`
}

// UpdateProfile applies a partial update to the subject's own profile,
// creating the record if absent. Only the subject may write it.
func (s *Service) UpdateProfile(ctx context.Context, callerID, userID string, upd ProfileUpdate) (models.User, error) {
	if callerID != userID {
		return models.User{}, errs.New(errs.NotAuthorized, "profiles may only be updated by their owner")
	}
	u, err := s.store.GetUser(userID)
	if errors.Is(err, store.ErrNotFound) {
		u = models.User{ID: userID, CreatedTS: time.Now().UTC().UnixNano()}
	} else if err != nil {
		return models.User{}, errs.Wrap(errs.Unavailable, "reading user", err)
	}
	if upd.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*upd.DisplayName)
	}
	if upd.AvatarRef != nil {
		u.AvatarRef = *upd.AvatarRef
	}
	u.UpdatedTS = time.Now().UTC().UnixNano()
	if err := s.store.PutUser(u); err != nil {
		return models.User{}, errs.Wrap(errs.Unavailable, "storing user", err)
	}
	logger.Info("profile_updated", "user", userID)
	return u, nil
}

// ListContacts returns the users sharing at least one conversation with
// the caller.
func (s *Service) ListContacts(ctx context.Context, userID string) ([]models.User, error) {
	convs, err := s.store.ListConversations()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "listing conversations", err)
	}
	seen := map[string]struct{}{}
	var out []models.User
	for _, c := range convs {
		if c.Kind == models.ConvPublic || !c.HasParticipant(userID) {
			continue
		}
		for _, id := range c.ParticipantIDs {
			if id == userID {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			u, err := s.store.GetUser(id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			} else if err != nil {
				return nil, errs.Wrap(errs.Unavailable, "reading user", err)
			}
			out = append(out, u)
		}
	}
	return out, nil
}
