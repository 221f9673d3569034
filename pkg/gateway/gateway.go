// Package gateway is the boundary a client UI talks to. It translates
// user actions into identity / directory / log operations, hands live
// feeds out as broker subscriptions, and passes typed errors through
// without reinterpretation. It holds no state beyond the subscription
// handles it returns.
package gateway

import (
	"context"
	"strings"

	"chatrelay/pkg/broker"
	"chatrelay/pkg/directory"
	"chatrelay/pkg/errs"
	"chatrelay/pkg/identity"
	"chatrelay/pkg/models"
	"chatrelay/pkg/msglog"
)

type Gateway struct {
	identity  *identity.Service
	directory *directory.Service
	log       *msglog.Log
	broker    *broker.Broker
}

func New(id *identity.Service, dir *directory.Service, log *msglog.Log, br *broker.Broker) *Gateway {
	return &Gateway{identity: id, directory: dir, log: log, broker: br}
}

// Authorize resolves a session token to a user id.
func (g *Gateway) Authorize(token string) (string, error) {
	return g.identity.ValidateSession(token)
}

// SendMessage appends text to a conversation on behalf of userID.
func (g *Gateway) SendMessage(ctx context.Context, userID, convID, text string) (models.Message, error) {
	if strings.TrimSpace(convID) == "" {
		return models.Message{}, errs.New(errs.InvalidInput, "conversation id required")
	}
	return g.log.Append(ctx, convID, userID, text)
}

// OpenConversation subscribes userID to a conversation's live feed,
// replaying everything after sinceID first. The caller owns the
// returned subscription and must close it via CloseConversation.
func (g *Gateway) OpenConversation(ctx context.Context, userID, convID string, sinceID uint64) (*broker.Subscription, error) {
	conv, err := g.directory.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.New(errs.NotAuthorized, "not a participant of this conversation")
	}
	return g.broker.Subscribe(ctx, convID, sinceID)
}

// CloseConversation cancels a live feed. Idempotent.
func (g *Gateway) CloseConversation(sub *broker.Subscription) {
	g.broker.Unsubscribe(sub)
}

// History reads a page of a conversation's log for userID.
func (g *Gateway) History(ctx context.Context, userID, convID string, afterID uint64, limit int) ([]models.Message, error) {
	conv, err := g.directory.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.New(errs.NotAuthorized, "not a participant of this conversation")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return g.log.Read(ctx, convID, afterID, limit)
}

// DeleteMessage tombstones one of the caller's own messages.
func (g *Gateway) DeleteMessage(ctx context.Context, userID, convID string, msgID uint64) error {
	return g.log.Delete(ctx, convID, msgID, userID)
}

// StartConversation creates (or dedups) a conversation for the given
// participant set, always including the caller.
func (g *Gateway) StartConversation(ctx context.Context, userID string, participantIDs []string) (models.Conversation, error) {
	return g.directory.CreateConversation(ctx, userID, append(participantIDs, userID))
}

// DefaultConversation returns the public room.
func (g *Gateway) DefaultConversation(ctx context.Context) (models.Conversation, error) {
	return g.directory.DefaultConversation(ctx)
}

// Participants lists a conversation's participant set.
func (g *Gateway) Participants(ctx context.Context, convID string) ([]string, error) {
	return g.directory.ListParticipants(ctx, convID)
}

// UpdateProfile applies a partial update to the caller's own profile.
func (g *Gateway) UpdateProfile(ctx context.Context, userID string, upd directory.ProfileUpdate) (models.User, error) {
	return g.directory.UpdateProfile(ctx, userID, userID, upd)
}

// Profile loads any user's profile.
func (g *Gateway) Profile(ctx context.Context, userID string) (models.User, error) {
	return g.directory.GetProfile(ctx, userID)
}

// ListContacts returns users sharing a conversation with the caller.
func (g *Gateway) ListContacts(ctx context.Context, userID string) ([]models.User, error) {
	return g.directory.ListContacts(ctx, userID)
}
