package models

// Message is one appended chat message. ID is assigned by the log at
// append time and is monotonically increasing within a conversation;
// CreatedTS (ns) is non-decreasing with ID as the tie-break, so
// (CreatedTS, ID) is the canonical total order.
type Message struct {
	ID             uint64 `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text,omitempty"`
	CreatedTS      int64  `json:"created_ts"`
	// Deleted marks a tombstoned message; the retention sweeper hard
	// deletes these after the configured period.
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`
}
