// Package message implements direct messages between forum users.
package message

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
)

// MaxInlineBytes caps inline message bodies. Longer content goes through
// object storage as a stored attachment.
const MaxInlineBytes = 4096

// ErrNotFound indicates an absent message.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "message not found")

// ContentKind tags the two content representations.
type ContentKind string

const (
	// ContentKindInline carries the body text in the message row.
	ContentKindInline ContentKind = "inline"
	// ContentKindStored references an attachment body in object storage.
	ContentKindStored ContentKind = "stored"
)

// Content is a tagged variant: exactly one of Text or ObjectKey is meaningful,
// selected by Kind. Consumers switch on Kind rather than probing fields.
type Content struct {
	Kind      ContentKind
	Text      string
	ObjectKey string
}

// InlineContent builds inline text content.
func InlineContent(text string) Content {
	return Content{Kind: ContentKindInline, Text: text}
}

// StoredContent builds content referencing an uploaded object.
func StoredContent(objectKey string) Content {
	return Content{Kind: ContentKindStored, ObjectKey: objectKey}
}

// Validate checks the variant invariants.
func (c Content) Validate() error {
	switch c.Kind {
	case ContentKindInline:
		if strings.TrimSpace(c.Text) == "" {
			return apperrors.New(apperrors.CodeMalformedInput, "message text is required")
		}
		if len(c.Text) > MaxInlineBytes {
			return apperrors.New(apperrors.CodeMalformedInput, "message text exceeds the inline limit")
		}
		if c.ObjectKey != "" {
			return apperrors.New(apperrors.CodeMalformedInput, "inline content cannot carry an object key")
		}
	case ContentKindStored:
		if strings.TrimSpace(c.ObjectKey) == "" {
			return apperrors.New(apperrors.CodeMalformedInput, "object key is required")
		}
		if c.Text != "" {
			return apperrors.New(apperrors.CodeMalformedInput, "stored content cannot carry inline text")
		}
	default:
		return apperrors.New(apperrors.CodeMalformedInput, "unknown content kind")
	}
	return nil
}

// Message is a direct message between two users.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Content     Content
	CreatedAt   time.Time
}

// Store persists messages.
type Store interface {
	PutMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, messageID string) (Message, error)
	// ListMessagesForUser returns messages the user sent or received, newest
	// first, up to limit.
	ListMessagesForUser(ctx context.Context, userID string, limit int) ([]Message, error)
}
