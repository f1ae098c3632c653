package dto

import (
	"time"

	"github.com/spec-kit/crm-service/internal/service"
)

// EmailWebhookRequest is pushed by the mail provider for each received email.
type EmailWebhookRequest struct {
	MessageID         string          `json:"message_id" validate:"required"`
	InternetMessageID string          `json:"internet_message_id"`
	ThreadID          string          `json:"thread_id"`
	FromName          string          `json:"from_name"`
	FromEmail         string          `json:"from_email" validate:"required,email"`
	Subject           string          `json:"subject"`
	Text              string          `json:"text"`
	HTML              string          `json:"html"`
	Attachments       []AttachmentDTO `json:"attachments" validate:"dive"`
	ReceivedAt        *time.Time      `json:"received_at"`
}

// WhatsAppWebhookRequest is one inbound WhatsApp message.
type WhatsAppWebhookRequest struct {
	MessageID   string          `json:"message_id" validate:"required"`
	From        string          `json:"from" validate:"required"`
	ProfileName string          `json:"profile_name"`
	Text        string          `json:"text"`
	Attachments []AttachmentDTO `json:"attachments" validate:"dive"`
	Timestamp   *time.Time      `json:"timestamp"`
}

// ContactFormRequest is a website contact form submission.
type ContactFormRequest struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name" validate:"required"`
	Email       string     `json:"email" validate:"omitempty,email"`
	Phone       string     `json:"phone" validate:"required_without=Email"`
	Company     string     `json:"company"`
	Subject     string     `json:"subject"`
	Message     string     `json:"message" validate:"required"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

// QuoteFormRequest is a website quote request.
type QuoteFormRequest struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name" validate:"required"`
	Email       string     `json:"email" validate:"omitempty,email"`
	Phone       string     `json:"phone" validate:"required_without=Email"`
	Company     string     `json:"company"`
	ProductType string     `json:"product_type"`
	Quantity    string     `json:"quantity"`
	Budget      string     `json:"budget"`
	Timeline    string     `json:"timeline"`
	Details     string     `json:"details"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

// EmailThreadImport is an email captured by the previous inbox.
type EmailThreadImport struct {
	ID                string     `json:"id" validate:"required"`
	ThreadID          string     `json:"thread_id"`
	MessageID         string     `json:"message_id"`
	InternetMessageID string     `json:"internet_message_id"`
	FromName          string     `json:"from_name"`
	FromEmail         string     `json:"from_email" validate:"required,email"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	BodyHTML          string     `json:"body_html"`
	ReceivedAt        *time.Time `json:"received_at"`
}

// ImportRequest carries a batch of legacy records.
type ImportRequest struct {
	ContactForms []ContactFormRequest `json:"contact_forms" validate:"dive"`
	QuoteForms   []QuoteFormRequest   `json:"quote_forms" validate:"dive"`
	EmailThreads []EmailThreadImport  `json:"email_threads" validate:"dive"`
}

// Record converts the submission.
func (r ContactFormRequest) Record() service.ContactFormRecord {
	return service.ContactFormRecord{
		ID:          r.ID,
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Company:     r.Company,
		Subject:     r.Subject,
		Message:     r.Message,
		SubmittedAt: timeOrZero(r.SubmittedAt),
	}
}

// Record converts the quote request.
func (r QuoteFormRequest) Record() service.QuoteFormRecord {
	return service.QuoteFormRecord{
		ID:          r.ID,
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Company:     r.Company,
		ProductType: r.ProductType,
		Quantity:    r.Quantity,
		Budget:      r.Budget,
		Timeline:    r.Timeline,
		Details:     r.Details,
		SubmittedAt: timeOrZero(r.SubmittedAt),
	}
}

// Record converts the email.
func (r EmailThreadImport) Record() service.EmailThreadRecord {
	return service.EmailThreadRecord{
		ID:                r.ID,
		ThreadID:          r.ThreadID,
		MessageID:         r.MessageID,
		InternetMessageID: r.InternetMessageID,
		FromName:          r.FromName,
		FromEmail:         r.FromEmail,
		Subject:           r.Subject,
		Body:              r.Body,
		BodyHTML:          r.BodyHTML,
		ReceivedAt:        timeOrZero(r.ReceivedAt),
	}
}

// Records flattens the batch in submission order: forms first, then email.
func (r ImportRequest) Records() []service.LegacyRecord {
	out := make([]service.LegacyRecord, 0, len(r.ContactForms)+len(r.QuoteForms)+len(r.EmailThreads))
	for _, c := range r.ContactForms {
		out = append(out, c.Record())
	}
	for _, q := range r.QuoteForms {
		out = append(out, q.Record())
	}
	for _, e := range r.EmailThreads {
		out = append(out, e.Record())
	}
	return out
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
