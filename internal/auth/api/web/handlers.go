package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/palaverhq/palaver/internal/auth/session"
	"github.com/palaverhq/palaver/internal/auth/storage"
	"github.com/palaverhq/palaver/internal/auth/user"
	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
	"github.com/palaverhq/palaver/internal/platform/obs"
)

type handlers struct {
	server *Server
}

func newHandlers(server *Server) handlers {
	return handlers{server: server}
}

func (h handlers) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	if !h.server.config.RegistrationEnabled {
		h.writeJSONError(w, apperrors.New(apperrors.CodeRegistrationDisabled, "registration is disabled"))
		return
	}
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeJSONError(w, apperrors.New(apperrors.CodeMalformedInput, "invalid json body"))
		return
	}

	owner, err := h.registrationUser(r, payload.Username, payload.Email)
	if err != nil {
		h.writeJSONError(w, err)
		return
	}
	creation, err := h.server.ceremonies.IssueRegistrationChallenge(r.Context(), h.server.relyingParty(r), owner)
	if err != nil {
		h.writeJSONError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"user_id": owner.ID, "public_key": creation})
}

// registrationUser resolves or creates the user a registration challenge
// binds to. A username whose previous registration never finished (no
// credentials on record) is reused rather than rejected as taken.
func (h handlers) registrationUser(r *http.Request, username string, email string) (user.User, error) {
	normalized, err := user.NormalizeCreateUserInput(user.CreateUserInput{Username: username, Email: email})
	if err != nil {
		return user.User{}, err
	}

	existing, err := h.server.users.GetUserByUsername(r.Context(), normalized.Username)
	switch {
	case err == nil:
		credentials, err := h.server.credentials.ListCredentialsByUser(r.Context(), existing.ID)
		if err != nil {
			return user.User{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "list credentials", err)
		}
		if len(credentials) > 0 {
			return user.User{}, apperrors.New(apperrors.CodeUsernameTaken, "username is already taken")
		}
		return existing, nil
	case errors.Is(err, storage.ErrNotFound):
		created, err := user.CreateUser(normalized, h.server.clock, h.server.newID)
		if err != nil {
			return user.User{}, err
		}
		if err := h.server.users.PutUser(r.Context(), created); err != nil {
			return user.User{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "store user", err)
		}
		return created, nil
	default:
		return user.User{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "look up username", err)
	}
}

func (h handlers) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	credential, ok := h.decodeCredential(w, r)
	if !ok {
		return
	}
	result, err := h.server.ceremonies.VerifyRegistration(r.Context(), h.server.relyingParty(r), credential)
	if err != nil {
		obs.ObserveCeremony("registration", "rejected")
		h.writeJSONError(w, err)
		return
	}
	obs.ObserveCeremony("registration", "verified")
	writeSessionCookie(w, r, result.Session.Token)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       result.User.ID,
		"credential_id": result.CredentialID,
		"token":         result.Session.Token,
	})
}

func (h handlers) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeJSONError(w, apperrors.New(apperrors.CodeMalformedInput, "invalid json body"))
		return
	}

	// Unknown usernames fall back to a discoverable challenge so the endpoint
	// does not reveal which names exist.
	var owner *user.User
	if payload.Username != "" {
		found, err := h.server.users.GetUserByUsername(r.Context(), payload.Username)
		if err == nil {
			owner = &found
		} else if !errors.Is(err, storage.ErrNotFound) {
			h.writeJSONError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "look up username", err))
			return
		}
	}
	assertion, err := h.server.ceremonies.IssueAuthenticationChallenge(r.Context(), h.server.relyingParty(r), owner)
	if err != nil {
		h.writeJSONError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"public_key": assertion})
}

func (h handlers) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	h.finishLogin(w, r, false)
}

func (h handlers) handleAdminLoginFinish(w http.ResponseWriter, r *http.Request) {
	h.finishLogin(w, r, true)
}

func (h handlers) finishLogin(w http.ResponseWriter, r *http.Request, requireAdmin bool) {
	credential, ok := h.decodeCredential(w, r)
	if !ok {
		return
	}
	result, err := h.server.ceremonies.VerifyAuthentication(r.Context(), h.server.relyingParty(r), credential, requireAdmin)
	if err != nil {
		obs.ObserveCeremony("login", "rejected")
		h.writeJSONError(w, err)
		return
	}
	obs.ObserveCeremony("login", "verified")
	writeSessionCookie(w, r, result.Session.Token)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": result.User.ID,
		"token":   result.Session.Token,
	})
}

func (h handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, hasToken := readSessionToken(r)
	if hasToken && !hasSameOriginProof(r) {
		h.writeJSONError(w, apperrors.New(apperrors.CodeForbidden, "cross-origin logout is not allowed"))
		return
	}
	clearSessionCookie(w, r)
	if hasToken {
		if err := h.server.sessions.Destroy(r.Context(), token); err != nil {
			h.writeJSONError(w, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (h handlers) handleSession(w http.ResponseWriter, r *http.Request) {
	token, ok := readSessionToken(r)
	if !ok {
		h.writeJSONError(w, session.ErrInvalid)
		return
	}
	resolved, err := h.server.sessions.Resolve(r.Context(), token)
	if err != nil {
		h.writeJSONError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  resolved.ID,
		"username": resolved.Username,
		"role":     resolved.Role,
		"level":    resolved.Level,
	})
}

func (h handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h handlers) writeJSONError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.server.logger.Printf("auth api error: %v", err)
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]any{"code": code, "error": message})
}

func (h handlers) decodeCredential(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var payload struct {
		Credential json.RawMessage `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.Credential) == 0 {
		h.writeJSONError(w, apperrors.New(apperrors.CodeMalformedInput, "credential is required"))
		return nil, false
	}
	return payload.Credential, true
}
