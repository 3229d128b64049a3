package message

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/palaverhq/palaver/internal/auth/user"
	"github.com/palaverhq/palaver/internal/forum/uploadgrant"
	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
	"github.com/palaverhq/palaver/internal/platform/id"
)

// ErrForbidden indicates the acting user may not read the message.
var ErrForbidden = apperrors.New(apperrors.CodeForbidden, "user may not access this message")

// Signer presigns object storage operations for attachment bodies.
type Signer interface {
	PresignPut(ctx context.Context, key string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// NewKeyFunc mints object keys for upload slots.
type NewKeyFunc func() string

// UploadSlot is a reserved attachment destination.
type UploadSlot struct {
	ObjectKey string
	UploadURL string
	Grant     string
}

// SendInput describes a message to send on behalf of the acting user.
type SendInput struct {
	RecipientID string
	Content     Content
	// UploadGrant proves the acting user owns the uploaded object. Required
	// for stored content, ignored for inline.
	UploadGrant string
}

// View is a message resolved for a reader, with a short-lived download URL
// when the body lives in object storage.
type View struct {
	Message
	AttachmentURL string
}

// Service sends and reads direct messages.
//
// Every operation takes the acting user explicitly. There is no ambient
// request identity; handlers resolve the session and pass the principal down.
type Service struct {
	store  Store
	signer Signer
	grants uploadgrant.Config
	newKey NewKeyFunc
	clock  func() time.Time
	newID  func() (string, error)
}

// NewService builds the message service. signer may be nil when object
// storage is not configured; stored-content operations then fail cleanly.
func NewService(store Store, signer Signer, grants uploadgrant.Config, newKey NewKeyFunc) *Service {
	return &Service{
		store:  store,
		signer: signer,
		grants: grants,
		newKey: newKey,
		clock:  time.Now,
		newID:  id.NewID,
	}
}

// RequestUploadSlot reserves an object key for principal and returns the
// presigned upload URL plus the grant to present when sending.
func (s *Service) RequestUploadSlot(ctx context.Context, principal user.User) (UploadSlot, error) {
	if s.signer == nil || s.newKey == nil {
		return UploadSlot{}, apperrors.New(apperrors.CodeStoreUnavailable, "attachments are not configured")
	}
	key := s.newKey()
	uploadURL, err := s.signer.PresignPut(ctx, key)
	if err != nil {
		return UploadSlot{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "presign upload", err)
	}
	grant, err := uploadgrant.Issue(principal.ID, key, s.grants)
	if err != nil {
		return UploadSlot{}, err
	}
	return UploadSlot{ObjectKey: key, UploadURL: uploadURL, Grant: grant}, nil
}

// Send delivers a message from principal to the recipient.
//
// Stored content requires the upload grant issued with the slot, binding the
// object to the sender. A grant for another user or another key is rejected.
func (s *Service) Send(ctx context.Context, principal user.User, input SendInput) (Message, error) {
	if strings.TrimSpace(input.RecipientID) == "" {
		return Message{}, apperrors.New(apperrors.CodeMalformedInput, "recipient is required")
	}
	if err := input.Content.Validate(); err != nil {
		return Message{}, err
	}
	if input.Content.Kind == ContentKindStored {
		if s.signer == nil {
			return Message{}, apperrors.New(apperrors.CodeStoreUnavailable, "attachments are not configured")
		}
		claims, err := uploadgrant.Validate(input.UploadGrant, principal.ID, s.grants)
		if err != nil {
			return Message{}, err
		}
		if claims.ObjectKey != input.Content.ObjectKey {
			return Message{}, apperrors.New(apperrors.CodeGrantInvalid, "upload grant does not match the object key")
		}
	}

	messageID, err := s.newID()
	if err != nil {
		return Message{}, err
	}
	m := Message{
		ID:          messageID,
		SenderID:    principal.ID,
		RecipientID: input.RecipientID,
		Content:     input.Content,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.store.PutMessage(ctx, m); err != nil {
		return Message{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "store message", err)
	}
	return m, nil
}

// Get returns a message for principal. Only the sender, the recipient, and
// administrators may read it.
func (s *Service) Get(ctx context.Context, principal user.User, messageID string) (View, error) {
	found, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return View{}, err
		}
		return View{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load message", err)
	}
	if found.SenderID != principal.ID && found.RecipientID != principal.ID && !user.IsAdmin(principal) {
		return View{}, ErrForbidden
	}

	view := View{Message: found}
	if found.Content.Kind == ContentKindStored {
		if s.signer == nil {
			return View{}, apperrors.New(apperrors.CodeStoreUnavailable, "attachments are not configured")
		}
		url, err := s.signer.PresignGet(ctx, found.Content.ObjectKey)
		if err != nil {
			return View{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "presign download", err)
		}
		view.AttachmentURL = url
	}
	return view, nil
}

// List returns principal's sent and received messages, newest first.
func (s *Service) List(ctx context.Context, principal user.User, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	listed, err := s.store.ListMessagesForUser(ctx, principal.ID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "list messages", err)
	}
	return listed, nil
}
