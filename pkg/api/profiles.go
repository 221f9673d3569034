package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/directory"
	"chatrelay/pkg/errs"
	"chatrelay/pkg/utils"
)

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.gw.Profile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, user)
}

// updateProfile applies a partial update to the caller's own profile.
// Absent fields are left untouched.
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var upd directory.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeErr(w, errs.New(errs.InvalidInput, "invalid json"))
		return
	}
	user, err := s.gw.UpdateProfile(r.Context(), UserID(r.Context()), upd)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, user)
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	users, err := s.gw.ListContacts(r.Context(), UserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"contacts": users})
}

func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, errs.Wrap(errs.InvalidInput, "read body", err))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	url, err := s.blobs.Put(data, contentType)
	if err != nil {
		writeErr(w, err)
		return
	}
	ref := url
	user, err := s.gw.UpdateProfile(r.Context(), UserID(r.Context()), directory.ProfileUpdate{AvatarRef: &ref})
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, user)
}

// getAvatar streams the caller's current avatar blob.
func (s *Server) getAvatar(w http.ResponseWriter, r *http.Request) {
	user, err := s.gw.Profile(r.Context(), UserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	if user.AvatarRef == "" {
		writeErr(w, errs.New(errs.NotFound, "no avatar set"))
		return
	}
	data, contentType, err := s.blobs.Get(user.AvatarRef)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
