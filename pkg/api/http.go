// Package api is the HTTP and websocket surface in front of the
// gateway. Every handler resolves the session first, delegates to the
// gateway, and maps typed errors to statuses in one place.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay/pkg/blob"
	"chatrelay/pkg/config"
	"chatrelay/pkg/errs"
	"chatrelay/pkg/gateway"
	"chatrelay/pkg/identity"
	"chatrelay/pkg/utils"
)

// Server bundles the services the handlers need. Constructed once by
// the app; no package-level state.
type Server struct {
	gw       *gateway.Gateway
	identity *identity.Service
	blobs    blob.Store
	cfg      *config.Config
	limiter  *limiterPool
	ready    func() bool
}

func NewServer(gw *gateway.Gateway, id *identity.Service, blobs blob.Store, cfg *config.Config, ready func() bool) *Server {
	return &Server{
		gw:       gw,
		identity: id,
		blobs:    blobs,
		cfg:      cfg,
		limiter:  newLimiterPool(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst),
		ready:    ready,
	}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.requestMetrics)

	// authentication endpoints issue sessions and need none
	v1.HandleFunc("/auth/anonymous", s.authAnonymous).Methods(http.MethodPost)
	v1.HandleFunc("/auth/register", s.authRegister).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", s.authLogin).Methods(http.MethodPost)
	v1.HandleFunc("/auth/signout", s.authSignOut).Methods(http.MethodPost)

	authed := v1.NewRoute().Subrouter()
	authed.Use(s.requireSession, s.rateLimit)

	authed.HandleFunc("/conversations", s.createConversation).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/default", s.defaultConversation).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/participants", s.listParticipants).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/messages", s.sendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/{id}/messages", s.history).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id}/messages/{msgID}", s.deleteMessage).Methods(http.MethodDelete)
	authed.HandleFunc("/conversations/{id}/live", s.live).Methods(http.MethodGet)

	authed.HandleFunc("/contacts", s.listContacts).Methods(http.MethodGet)
	authed.HandleFunc("/profile/{id}", s.getProfile).Methods(http.MethodGet)
	authed.HandleFunc("/profile", s.updateProfile).Methods(http.MethodPatch)
	authed.HandleFunc("/profile/avatar", s.uploadAvatar).Methods(http.MethodPost)
	authed.HandleFunc("/profile/avatar", s.getAvatar).Methods(http.MethodGet)

	return s.cors(r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeErr maps a service error to its HTTP response.
func writeErr(w http.ResponseWriter, err error) {
	utils.JSONError(w, errs.HTTPStatus(err), errs.Message(err))
}
