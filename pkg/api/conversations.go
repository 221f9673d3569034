package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatrelay/pkg/errs"
	"chatrelay/pkg/utils"
)

type createConversationBody struct {
	ParticipantIDs []string `json:"participant_ids"`
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var body createConversationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errs.New(errs.InvalidInput, "invalid json"))
		return
	}
	conv, err := s.gw.StartConversation(r.Context(), UserID(r.Context()), body.ParticipantIDs)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (s *Server) defaultConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.gw.DefaultConversation(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (s *Server) listParticipants(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	ids, err := s.gw.Participants(r.Context(), convID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string][]string{"participant_ids": ids})
}

type sendMessageBody struct {
	Text string `json:"text"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var body sendMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, errs.New(errs.InvalidInput, "invalid json"))
		return
	}
	msg, err := s.gw.SendMessage(r.Context(), UserID(r.Context()), convID, body.Text)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

// history returns committed messages after the optional ?after= id,
// capped by ?limit=.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	afterID, err := parseUint(r.URL.Query().Get("after"))
	if err != nil {
		writeErr(w, errs.New(errs.InvalidInput, "invalid after parameter"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeErr(w, errs.New(errs.InvalidInput, "invalid limit parameter"))
			return
		}
	}
	msgs, err := s.gw.History(r.Context(), UserID(r.Context()), convID, afterID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msgID, err := parseUint(vars["msgID"])
	if err != nil || msgID == 0 {
		writeErr(w, errs.New(errs.InvalidInput, "invalid message id"))
		return
	}
	if err := s.gw.DeleteMessage(r.Context(), UserID(r.Context()), vars["id"], msgID); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func parseUint(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
