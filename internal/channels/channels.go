// Package channels declares the outbound transport capabilities consumed by
// the dispatcher, plus logging implementations for environments without a
// provider.
package channels

import (
	"context"
	"errors"

	"github.com/spec-kit/crm-service/internal/domain"
)

// ErrRequiresTemplate is returned when a free-form WhatsApp send is attempted
// outside the customer service window.
var ErrRequiresTemplate = errors.New("whatsapp service window elapsed; template required")

// EmailMessage is an outbound email. InReplyTo and ThreadID keep the reply in
// the provider thread.
type EmailMessage struct {
	From        string
	To          string
	Subject     string
	HTMLBody    string
	TextBody    string
	InReplyTo   string
	ThreadID    string
	Attachments []domain.Attachment
}

// EmailResult carries provider identifiers for a sent email.
type EmailResult struct {
	MessageID string
	ThreadID  string
}

// EmailSender sends email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) (EmailResult, error)
}

// TemplateComponent is one parameter block of a WhatsApp template.
type TemplateComponent struct {
	Type       string   `json:"type"`
	Parameters []string `json:"parameters,omitempty"`
}

// WhatsAppMessage is an outbound WhatsApp message. A non-empty Template
// selects a template send; Body is ignored then.
type WhatsAppMessage struct {
	To                 string
	Body               string
	Template           string
	TemplateLanguage   string
	TemplateComponents []TemplateComponent
}

// WhatsAppResult carries the provider message id.
type WhatsAppResult struct {
	ID string
}

// WhatsAppSender sends WhatsApp messages.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, msg WhatsAppMessage) (WhatsAppResult, error)
}
