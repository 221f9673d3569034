package models

import "sort"

// Conversation kinds. The public room is the single default conversation
// every identity may post to; direct conversations are deduplicated by
// participant pair, groups are not.
const (
	ConvPublic = "public"
	ConvDirect = "direct"
	ConvGroup  = "group"
)

// DefaultConversationID addresses the singleton public room.
const DefaultConversationID = "lobby"

// Conversation is an addressable message thread with a participant set.
// ParticipantIDs are stored canonically sorted so the set has a single
// stored form.
type Conversation struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`
	CreatedTS      int64    `json:"created_ts,omitempty"`
	UpdatedTS      int64    `json:"updated_ts,omitempty"`
}

// HasParticipant reports membership. The public room admits everyone.
func (c Conversation) HasParticipant(userID string) bool {
	if c.Kind == ConvPublic {
		return true
	}
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CanonicalParticipants returns a sorted, de-duplicated copy of ids.
func CanonicalParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
