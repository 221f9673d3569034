package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/blob"
	"chatrelay/pkg/broker"
	"chatrelay/pkg/config"
	"chatrelay/pkg/directory"
	"chatrelay/pkg/gateway"
	"chatrelay/pkg/identity"
	"chatrelay/pkg/models"
	"chatrelay/pkg/msglog"
	"chatrelay/pkg/store"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tokens := identity.NewTokenManager("test-secret", time.Hour)
	ident := identity.New(st, tokens)
	dir := directory.New(st)
	require.NoError(t, dir.EnsureDefault(context.Background()))

	log := msglog.New(st, msglog.Options{})
	br := broker.New(log, broker.Options{})
	log.SetNotifier(br)
	t.Cleanup(br.Close)

	blobs, err := blob.NewFSStore(t.TempDir(), 0)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Security.RateLimit.RPS = 10000
	cfg.Security.RateLimit.Burst = 10000

	gw := gateway.New(ident, dir, log, br)
	srv := httptest.NewServer(NewServer(gw, ident, blobs, cfg, st.Ready).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any, out any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	if out != nil && res.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res
}

func newSession(t *testing.T, srv *httptest.Server) identity.Session {
	t.Helper()
	var sess identity.Session
	res := doJSON(t, "POST", srv.URL+"/v1/auth/anonymous", "", nil, &sess)
	require.Equal(t, 200, res.StatusCode)
	require.NotEmpty(t, sess.Token)
	return sess
}

func TestHealthAndReady(t *testing.T) {
	srv := setupServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, 200, res.StatusCode, path)
	}
}

func TestAuthFlow(t *testing.T) {
	srv := setupServer(t)

	var sess identity.Session
	res := doJSON(t, "POST", srv.URL+"/v1/auth/register", "", map[string]string{
		"email": "a@example.com", "secret": "hunter2",
	}, &sess)
	require.Equal(t, 200, res.StatusCode)

	res = doJSON(t, "POST", srv.URL+"/v1/auth/register", "", map[string]string{
		"email": "a@example.com", "secret": "other",
	}, nil)
	assert.Equal(t, 409, res.StatusCode)

	var login identity.Session
	res = doJSON(t, "POST", srv.URL+"/v1/auth/login", "", map[string]string{
		"email": "a@example.com", "secret": "hunter2",
	}, &login)
	require.Equal(t, 200, res.StatusCode)
	assert.Equal(t, sess.User.ID, login.User.ID)

	res = doJSON(t, "POST", srv.URL+"/v1/auth/login", "", map[string]string{
		"email": "a@example.com", "secret": "nope",
	}, nil)
	assert.Equal(t, 401, res.StatusCode)

	// sign out kills the session
	res = doJSON(t, "POST", srv.URL+"/v1/auth/signout", login.Token, nil, nil)
	require.Equal(t, 200, res.StatusCode)
	res = doJSON(t, "GET", srv.URL+"/v1/conversations/default", login.Token, nil, nil)
	assert.Equal(t, 401, res.StatusCode)
}

func TestRequestsWithoutSessionRejected(t *testing.T) {
	srv := setupServer(t)
	res := doJSON(t, "GET", srv.URL+"/v1/conversations/default", "", nil, nil)
	assert.Equal(t, 401, res.StatusCode)
	res = doJSON(t, "GET", srv.URL+"/v1/conversations/default", "garbage", nil, nil)
	assert.Equal(t, 401, res.StatusCode)
}

func TestSendAndReadMessages(t *testing.T) {
	srv := setupServer(t)
	sess := newSession(t, srv)

	var conv models.Conversation
	res := doJSON(t, "GET", srv.URL+"/v1/conversations/default", sess.Token, nil, &conv)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, models.DefaultConversationID, conv.ID)

	msgsURL := srv.URL + "/v1/conversations/" + conv.ID + "/messages"
	for i := 0; i < 3; i++ {
		var m models.Message
		res = doJSON(t, "POST", msgsURL, sess.Token, map[string]string{"text": fmt.Sprintf("hello %d", i)}, &m)
		require.Equal(t, 200, res.StatusCode)
		assert.Equal(t, uint64(i+1), m.ID)
		assert.Equal(t, sess.User.ID, m.SenderID)
	}

	var page struct {
		Messages []models.Message `json:"messages"`
	}
	res = doJSON(t, "GET", msgsURL+"?after=1", sess.Token, nil, &page)
	require.Equal(t, 200, res.StatusCode)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, uint64(2), page.Messages[0].ID)
	assert.Equal(t, "hello 1", page.Messages[0].Text)
}

func TestSendMessageValidation(t *testing.T) {
	srv := setupServer(t)
	sess := newSession(t, srv)
	msgsURL := srv.URL + "/v1/conversations/lobby/messages"

	res := doJSON(t, "POST", msgsURL, sess.Token, map[string]string{"text": "   "}, nil)
	assert.Equal(t, 400, res.StatusCode)

	res = doJSON(t, "POST", srv.URL+"/v1/conversations/missing/messages", sess.Token, map[string]string{"text": "hi"}, nil)
	assert.Equal(t, 404, res.StatusCode)
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	srv := setupServer(t)
	alice := newSession(t, srv)
	bob := newSession(t, srv)

	var m models.Message
	msgsURL := srv.URL + "/v1/conversations/lobby/messages"
	res := doJSON(t, "POST", msgsURL, alice.Token, map[string]string{"text": "mine"}, &m)
	require.Equal(t, 200, res.StatusCode)

	delURL := fmt.Sprintf("%s/%d", msgsURL, m.ID)
	res = doJSON(t, "DELETE", delURL, bob.Token, nil, nil)
	assert.Equal(t, 403, res.StatusCode)
	res = doJSON(t, "DELETE", delURL, alice.Token, nil, nil)
	assert.Equal(t, 200, res.StatusCode)
	res = doJSON(t, "DELETE", delURL, alice.Token, nil, nil)
	assert.Equal(t, 404, res.StatusCode)
}

func TestConversationLifecycle(t *testing.T) {
	srv := setupServer(t)
	alice := newSession(t, srv)
	bob := newSession(t, srv)

	var conv models.Conversation
	res := doJSON(t, "POST", srv.URL+"/v1/conversations", alice.Token, map[string][]string{
		"participant_ids": {bob.User.ID},
	}, &conv)
	require.Equal(t, 200, res.StatusCode)
	assert.Equal(t, models.ConvDirect, conv.Kind)

	// bob can post, a stranger cannot
	carol := newSession(t, srv)
	msgsURL := srv.URL + "/v1/conversations/" + conv.ID + "/messages"
	res = doJSON(t, "POST", msgsURL, bob.Token, map[string]string{"text": "hi"}, nil)
	assert.Equal(t, 200, res.StatusCode)
	res = doJSON(t, "POST", msgsURL, carol.Token, map[string]string{"text": "hi"}, nil)
	assert.Equal(t, 403, res.StatusCode)

	var parts struct {
		ParticipantIDs []string `json:"participant_ids"`
	}
	res = doJSON(t, "GET", srv.URL+"/v1/conversations/"+conv.ID+"/participants", alice.Token, nil, &parts)
	require.Equal(t, 200, res.StatusCode)
	assert.ElementsMatch(t, []string{alice.User.ID, bob.User.ID}, parts.ParticipantIDs)

	// contacts reflect shared membership
	var contacts struct {
		Contacts []models.User `json:"contacts"`
	}
	res = doJSON(t, "GET", srv.URL+"/v1/contacts", alice.Token, nil, &contacts)
	require.Equal(t, 200, res.StatusCode)
	require.Len(t, contacts.Contacts, 1)
	assert.Equal(t, bob.User.ID, contacts.Contacts[0].ID)
}

func TestProfileUpdateAndAvatar(t *testing.T) {
	srv := setupServer(t)
	sess := newSession(t, srv)

	var u models.User
	res := doJSON(t, "PATCH", srv.URL+"/v1/profile", sess.Token, map[string]string{"display_name": "Neo"}, &u)
	require.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "Neo", u.DisplayName)

	res = doJSON(t, "GET", srv.URL+"/v1/profile/"+sess.User.ID, sess.Token, nil, &u)
	require.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "Neo", u.DisplayName)

	// avatar upload roundtrip
	req, err := http.NewRequest("POST", srv.URL+"/v1/profile/avatar", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	req.Header.Set("Content-Type", "image/png")
	avRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer avRes.Body.Close()
	require.Equal(t, 200, avRes.StatusCode)

	req, err = http.NewRequest("GET", srv.URL+"/v1/profile/avatar", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	getRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer getRes.Body.Close()
	require.Equal(t, 200, getRes.StatusCode)
	assert.Equal(t, "image/png", getRes.Header.Get("Content-Type"))
}

func TestLiveWebsocketReplayAndLive(t *testing.T) {
	srv := setupServer(t)
	sess := newSession(t, srv)

	msgsURL := srv.URL + "/v1/conversations/lobby/messages"
	for i := 0; i < 3; i++ {
		res := doJSON(t, "POST", msgsURL, sess.Token, map[string]string{"text": fmt.Sprintf("old %d", i)}, nil)
		require.Equal(t, 200, res.StatusCode)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/conversations/lobby/live?since=1"
	hdr := http.Header{"Authorization": {"Bearer " + sess.Token}}
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.NoError(t, err)
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	// replayed backlog after since=1
	readMsg := func() models.Message {
		var m models.Message
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
	assert.Equal(t, uint64(2), readMsg().ID)
	assert.Equal(t, uint64(3), readMsg().ID)

	// a live append arrives on the same feed
	res2 := doJSON(t, "POST", msgsURL, sess.Token, map[string]string{"text": "fresh"}, nil)
	require.Equal(t, 200, res2.StatusCode)
	m := readMsg()
	assert.Equal(t, uint64(4), m.ID)
	assert.Equal(t, "fresh", m.Text)
}

func TestLiveRejectsNonParticipant(t *testing.T) {
	srv := setupServer(t)
	alice := newSession(t, srv)
	bob := newSession(t, srv)

	var conv models.Conversation
	res := doJSON(t, "POST", srv.URL+"/v1/conversations", alice.Token, map[string][]string{
		"participant_ids": {alice.User.ID, bob.User.ID},
	}, &conv)
	require.Equal(t, 200, res.StatusCode)

	carol := newSession(t, srv)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/conversations/" + conv.ID + "/live"
	hdr := http.Header{"Authorization": {"Bearer " + carol.Token}}
	_, dres, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.Error(t, err)
	require.NotNil(t, dres)
	defer dres.Body.Close()
	assert.Equal(t, 403, dres.StatusCode)
}
