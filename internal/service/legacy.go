package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/domain"
)

// Source reference types for imported records.
const (
	SourceContactForm = "contact_form"
	SourceQuoteForm   = "quote_form"
	SourceEmailThread = "email_thread"
)

// LegacyRecord is a record from the previous contact system. Each variant
// knows how to turn itself into an inbound event.
type LegacyRecord interface {
	Normalize() InboundEvent
	legacy()
}

// ContactFormRecord is a website contact form submission.
type ContactFormRecord struct {
	ID          string
	Name        string
	Email       string
	Phone       string
	Company     string
	Subject     string
	Message     string
	SubmittedAt time.Time
}

// QuoteFormRecord is a website quote request.
type QuoteFormRecord struct {
	ID          string
	Name        string
	Email       string
	Phone       string
	Company     string
	ProductType string
	Quantity    string
	Budget      string
	Timeline    string
	Details     string
	SubmittedAt time.Time
}

// EmailThreadRecord is an email thread captured by the previous inbox.
type EmailThreadRecord struct {
	ID                string
	ThreadID          string
	MessageID         string
	InternetMessageID string
	FromName          string
	FromEmail         string
	Subject           string
	Body              string
	BodyHTML          string
	ReceivedAt        time.Time
}

func (ContactFormRecord) legacy() {}
func (QuoteFormRecord) legacy()   {}
func (EmailThreadRecord) legacy() {}

// Normalize maps the submission onto a contact form event.
func (r ContactFormRecord) Normalize() InboundEvent {
	return InboundEvent{
		Channel:    domain.ChannelContactForm,
		Sender:     domain.SenderSnapshot{Name: r.Name, Email: r.Email, Phone: r.Phone, Company: r.Company},
		Subject:    firstNonEmpty(strings.TrimSpace(r.Subject), "Contact form: "+firstNonEmpty(r.Name, r.Email)),
		Content:    r.Message,
		SourceRef:  &domain.SourceRef{Type: SourceContactForm, ID: r.ID},
		Tags:       []string{"imported", SourceContactForm},
		ReceivedAt: r.SubmittedAt,
	}
}

// Normalize folds the structured quote fields into the message body.
func (r QuoteFormRecord) Normalize() InboundEvent {
	var b strings.Builder
	field := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	field("Product type", r.ProductType)
	field("Quantity", r.Quantity)
	field("Budget", r.Budget)
	field("Timeline", r.Timeline)
	if d := strings.TrimSpace(r.Details); d != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(d)
	}
	subject := "Quote request"
	if r.ProductType != "" {
		subject += ": " + r.ProductType
	}
	return InboundEvent{
		Channel:    domain.ChannelQuoteForm,
		Sender:     domain.SenderSnapshot{Name: r.Name, Email: r.Email, Phone: r.Phone, Company: r.Company},
		Subject:    subject,
		Content:    strings.TrimSpace(b.String()),
		SourceRef:  &domain.SourceRef{Type: SourceQuoteForm, ID: r.ID},
		Tags:       []string{"imported", SourceQuoteForm},
		ReceivedAt: r.SubmittedAt,
	}
}

// Normalize keeps the provider ids so live deliveries of the same mail dedup
// against the import.
func (r EmailThreadRecord) Normalize() InboundEvent {
	return InboundEvent{
		Channel:     domain.ChannelEmail,
		Sender:      domain.SenderSnapshot{Name: r.FromName, Email: r.FromEmail},
		Subject:     r.Subject,
		Content:     r.Body,
		ContentHTML: r.BodyHTML,
		Meta: domain.ChannelMetadata{
			EmailMessageID:    r.MessageID,
			InternetMessageID: r.InternetMessageID,
			EmailThreadID:     r.ThreadID,
		},
		SourceRef:  &domain.SourceRef{Type: SourceEmailThread, ID: r.ID},
		Tags:       []string{"imported", SourceEmailThread},
		ReceivedAt: r.ReceivedAt,
	}
}

// ImportSummary counts the outcome of a legacy import.
type ImportSummary struct {
	Created  int      `json:"created"`
	Appended int      `json:"appended"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportLegacy ingests legacy records. Records already imported are
// skipped by their source reference; a failing record does not stop the run.
func (s *ConversationService) ImportLegacy(ctx context.Context, actor domain.Actor, records []LegacyRecord) ImportSummary {
	var summary ImportSummary
	for _, record := range records {
		event := record.Normalize()
		result, err := s.CreateConversation(ctx, actor, event)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s/%s: %v", event.SourceRef.Type, event.SourceRef.ID, err))
			s.logger.Warn("legacy import failed",
				zap.String("source_type", event.SourceRef.Type),
				zap.String("source_id", event.SourceRef.ID),
				zap.Error(err))
			continue
		}
		switch result.Outcome {
		case outcomeSkipped:
			summary.Skipped++
		case outcomeAppended:
			summary.Appended++
		default:
			summary.Created++
		}
	}
	s.logger.Info("legacy import finished",
		zap.Int("created", summary.Created),
		zap.Int("appended", summary.Appended),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary
}
