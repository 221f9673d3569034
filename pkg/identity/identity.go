// Package identity maps opaque client sessions to stable user ids:
// anonymous identities, email/secret registration and login, session
// validation, sign-out.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"chatrelay/pkg/errs"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Service is the identity store. Credential mismatches and duplicate
// registrations come back as typed errors and are never retried here.
type Service struct {
	store  *store.Store
	tokens *TokenManager

	mu      sync.Mutex
	emailMu map[string]*sync.Mutex
}

func New(st *store.Store, tokens *TokenManager) *Service {
	return &Service{store: st, tokens: tokens, emailMu: make(map[string]*sync.Mutex)}
}

// lockEmail serializes registrations per address so two concurrent
// registers of the same email cannot both pass the existence check.
func (s *Service) lockEmail(email string) *sync.Mutex {
	s.mu.Lock()
	mu, ok := s.emailMu[email]
	if !ok {
		mu = &sync.Mutex{}
		s.emailMu[email] = mu
	}
	s.mu.Unlock()
	mu.Lock()
	return mu
}

// Session is the result of a successful authentication.
type Session struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// Anonymous issues a fresh identity with a collision-resistant id, so
// every anonymous caller gets a previously unseen user.
func (s *Service) Anonymous(ctx context.Context) (Session, error) {
	u := models.User{
		ID:        uuid.NewString(),
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	u.UpdatedTS = u.CreatedTS
	if err := s.store.PutUser(u); err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "storing user", err)
	}
	tok, err := s.tokens.Generate(u.ID)
	if err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "issuing session", err)
	}
	logger.Info("anonymous_identity_issued", "user", u.ID)
	return Session{User: u, Token: tok}, nil
}

// Register creates a credential-backed identity. Duplicate emails fail
// with AccountExists; nothing is written in that case.
func (s *Service) Register(ctx context.Context, email, secret string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Session{}, errs.New(errs.InvalidInput, "invalid email")
	}
	if secret == "" {
		return Session{}, errs.New(errs.InvalidInput, "empty secret")
	}
	mu := s.lockEmail(email)
	defer mu.Unlock()
	if _, err := s.store.GetCredential(email); err == nil {
		return Session{}, errs.New(errs.AccountExists, "account already registered")
	} else if !errors.Is(err, store.ErrNotFound) {
		return Session{}, errs.Wrap(errs.Unavailable, "reading credentials", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "generating salt", err)
	}
	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	u := models.User{
		ID:        uuid.NewString(),
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	u.UpdatedTS = u.CreatedTS
	cred := models.Credential{
		UserID:  u.ID,
		Email:   email,
		Salt:    base64.RawStdEncoding.EncodeToString(salt),
		Hash:    base64.RawStdEncoding.EncodeToString(hash),
		Time:    argonTime,
		Memory:  argonMemory,
		Threads: argonThreads,
		KeyLen:  argonKeyLen,
	}
	if err := s.store.PutUser(u); err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "storing user", err)
	}
	if err := s.store.PutCredential(cred); err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "storing credential", err)
	}
	tok, err := s.tokens.Generate(u.ID)
	if err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "issuing session", err)
	}
	logger.Info("account_registered", "user", u.ID)
	return Session{User: u, Token: tok}, nil
}

// Login verifies an email/secret pair against the stored credential.
func (s *Service) Login(ctx context.Context, email, secret string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	cred, err := s.store.GetCredential(email)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, errs.New(errs.InvalidCredentials, "invalid email or secret")
	} else if err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "reading credentials", err)
	}
	salt, serr := base64.RawStdEncoding.DecodeString(cred.Salt)
	want, herr := base64.RawStdEncoding.DecodeString(cred.Hash)
	if serr != nil || herr != nil {
		return Session{}, errs.New(errs.InvalidCredentials, "invalid email or secret")
	}
	got := argon2.IDKey([]byte(secret), salt, cred.Time, cred.Memory, cred.Threads, cred.KeyLen)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		logger.Warn("login_rejected", "email", email)
		return Session{}, errs.New(errs.InvalidCredentials, "invalid email or secret")
	}

	u, err := s.store.GetUser(cred.UserID)
	if errors.Is(err, store.ErrNotFound) {
		// credential without profile: recreate the record (upsert semantics)
		u = models.User{ID: cred.UserID, CreatedTS: time.Now().UTC().UnixNano()}
		u.UpdatedTS = u.CreatedTS
		if err := s.store.PutUser(u); err != nil {
			return Session{}, errs.Wrap(errs.Unavailable, "storing user", err)
		}
	} else if err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "reading user", err)
	}
	tok, err := s.tokens.Generate(u.ID)
	if err != nil {
		return Session{}, errs.Wrap(errs.Unavailable, "issuing session", err)
	}
	logger.Info("login_ok", "user", u.ID)
	return Session{User: u, Token: tok}, nil
}

// ValidateSession resolves a session token to its user id. Failures are
// terminal for the call; the caller must re-authenticate.
func (s *Service) ValidateSession(token string) (string, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// SignOut invalidates the session. Idempotent.
func (s *Service) SignOut(token string) {
	s.tokens.Revoke(token)
}
