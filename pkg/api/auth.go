package api

import (
	"encoding/json"
	"net/http"

	"chatrelay/pkg/errs"
	"chatrelay/pkg/identity"
	"chatrelay/pkg/utils"
)

type credentialsBody struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

// authAnonymous issues a fresh anonymous identity and session.
func (s *Server) authAnonymous(w http.ResponseWriter, r *http.Request) {
	sess, err := s.identity.Anonymous(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sess)
}

func (s *Server) authRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errs.New(errs.InvalidInput, "invalid json"))
		return
	}
	sess, err := s.identity.Register(r.Context(), body.Email, body.Secret)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sess)
}

func (s *Server) authLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errs.New(errs.InvalidInput, "invalid json"))
		return
	}
	sess, err := s.identity.Login(r.Context(), body.Email, body.Secret)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sess)
}

// authSignOut invalidates the presented session token. Idempotent, so
// it succeeds even without a valid session.
func (s *Server) authSignOut(w http.ResponseWriter, r *http.Request) {
	if tok, err := identity.BearerToken(r.Header.Get("Authorization")); err == nil {
		s.identity.SignOut(tok)
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "signed out"})
}
