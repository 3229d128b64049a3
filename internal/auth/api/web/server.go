// Package web exposes the passkey authentication surface as a JSON API.
package web

import (
	"log"
	"net/http"
	"time"

	"github.com/palaverhq/palaver/internal/auth/ceremony"
	"github.com/palaverhq/palaver/internal/auth/passkey"
	"github.com/palaverhq/palaver/internal/auth/session"
	"github.com/palaverhq/palaver/internal/auth/storage"
	"github.com/palaverhq/palaver/internal/auth/user"
	"github.com/palaverhq/palaver/internal/platform/id"
	"github.com/palaverhq/palaver/internal/platform/obs"
)

// Server wires the authentication handlers into an HTTP mux.
type Server struct {
	config      passkey.Config
	ceremonies  *ceremony.Service
	sessions    *session.Manager
	users       storage.UserStore
	credentials storage.CredentialStore
	logger      *log.Logger

	clock func() time.Time
	newID func() (string, error)
}

// NewServer builds the authentication API server.
func NewServer(config passkey.Config, ceremonies *ceremony.Service, sessions *session.Manager, users storage.UserStore, credentials storage.CredentialStore, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		config:      config,
		ceremonies:  ceremonies,
		sessions:    sessions,
		users:       users,
		credentials: credentials,
		logger:      logger,
		clock:       time.Now,
		newID:       id.NewID,
	}
}

// Handler returns the instrumented route tree. Additional surfaces (such as
// messaging) register their routes on the same mux via extra.
func (s *Server) Handler(extra ...func(mux *http.ServeMux)) http.Handler {
	h := newHandlers(s)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register/start", h.handleRegisterStart)
	mux.HandleFunc("POST /api/auth/register/finish", h.handleRegisterFinish)
	mux.HandleFunc("POST /api/auth/login/start", h.handleLoginStart)
	mux.HandleFunc("POST /api/auth/login/finish", h.handleLoginFinish)
	mux.HandleFunc("POST /api/auth/admin/login/finish", h.handleAdminLoginFinish)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/session", h.handleSession)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", obs.Handler())

	for _, register := range extra {
		register(mux)
	}
	return obs.Instrument(mux)
}

// relyingParty resolves the relying party identity for an incoming request.
func (s *Server) relyingParty(r *http.Request) passkey.RelyingParty {
	return s.config.RelyingPartyFor(r.Host, isSecureRequest(r))
}

// Authenticate resolves the acting user for a request. Other surfaces mount
// this so session semantics stay in one place.
func (s *Server) Authenticate(r *http.Request) (user.User, error) {
	token, ok := readSessionToken(r)
	if !ok {
		return user.User{}, session.ErrInvalid
	}
	return s.sessions.Resolve(r.Context(), token)
}
