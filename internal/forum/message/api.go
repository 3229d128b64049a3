package message

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/palaverhq/palaver/internal/auth/user"
	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
)

// AuthenticateFunc resolves the acting user for a request. The auth service
// owns session semantics; this package only consumes the resolved principal.
type AuthenticateFunc func(r *http.Request) (user.User, error)

// API exposes the message service as JSON endpoints.
type API struct {
	service      *Service
	authenticate AuthenticateFunc
	logger       *log.Logger
}

// NewAPI builds the message API.
func NewAPI(service *Service, authenticate AuthenticateFunc, logger *log.Logger) *API {
	if logger == nil {
		logger = log.Default()
	}
	return &API{service: service, authenticate: authenticate, logger: logger}
}

// RegisterRoutes mounts the message endpoints on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/uploads", a.handleRequestUpload)
	mux.HandleFunc("POST /api/messages", a.handleSend)
	mux.HandleFunc("GET /api/messages", a.handleList)
	mux.HandleFunc("GET /api/messages/{id}", a.handleGet)
}

type messageJSON struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	RecipientID   string    `json:"recipient_id"`
	Kind          string    `json:"kind"`
	Text          string    `json:"text,omitempty"`
	ObjectKey     string    `json:"object_key,omitempty"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toMessageJSON(m Message) messageJSON {
	return messageJSON{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Kind:        string(m.Content.Kind),
		Text:        m.Content.Text,
		ObjectKey:   m.Content.ObjectKey,
		CreatedAt:   m.CreatedAt,
	}
}

func (a *API) handleRequestUpload(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authenticate(r)
	if err != nil {
		a.writeJSONError(w, err)
		return
	}
	slot, err := a.service.RequestUploadSlot(r.Context(), principal)
	if err != nil {
		a.writeJSONError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"object_key": slot.ObjectKey,
		"upload_url": slot.UploadURL,
		"grant":      slot.Grant,
	})
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authenticate(r)
	if err != nil {
		a.writeJSONError(w, err)
		return
	}
	var payload struct {
		RecipientID string `json:"recipient_id"`
		Kind        string `json:"kind"`
		Text        string `json:"text"`
		ObjectKey   string `json:"object_key"`
		UploadGrant string `json:"upload_grant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.writeJSONError(w, apperrors.New(apperrors.CodeMalformedInput, "invalid json body"))
		return
	}
	if payload.Kind == "" {
		payload.Kind = string(ContentKindInline)
	}

	sent, err := a.service.Send(r.Context(), principal, SendInput{
		RecipientID: payload.RecipientID,
		Content: Content{
			Kind:      ContentKind(payload.Kind),
			Text:      payload.Text,
			ObjectKey: payload.ObjectKey,
		},
		UploadGrant: payload.UploadGrant,
	})
	if err != nil {
		a.writeJSONError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toMessageJSON(sent))
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authenticate(r)
	if err != nil {
		a.writeJSONError(w, err)
		return
	}
	listed, err := a.service.List(r.Context(), principal, 0)
	if err != nil {
		a.writeJSONError(w, err)
		return
	}
	items := make([]messageJSON, 0, len(listed))
	for _, m := range listed {
		items = append(items, toMessageJSON(m))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"messages": items})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authenticate(r)
	if err != nil {
		a.writeJSONError(w, err)
		return
	}
	view, err := a.service.Get(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		a.writeJSONError(w, err)
		return
	}
	item := toMessageJSON(view.Message)
	item.AttachmentURL = view.AttachmentURL
	a.writeJSON(w, http.StatusOK, item)
}

func (*API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *API) writeJSONError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	message := err.Error()
	if status >= http.StatusInternalServerError {
		a.logger.Printf("message api error: %v", err)
		message = "internal error"
	}
	a.writeJSON(w, status, map[string]any{"code": code, "error": message})
}
