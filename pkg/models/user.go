package models

// User is a stable identity plus its mutable profile fields. Credential
// records live in a separate keyspace; a User never carries secrets.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	// AvatarRef points at an object-store URL; empty when unset.
	AvatarRef string `json:"avatar_ref,omitempty"`
	CreatedTS int64  `json:"created_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
}

// Name returns the display name, falling back to the id when unset.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

// Credential is the stored record backing email/secret authentication.
type Credential struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	// Argon2id parameters and derived key; salt and hash are base64.
	Salt    string `json:"salt"`
	Hash    string `json:"hash"`
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
	KeyLen  uint32 `json:"key_len"`
}
