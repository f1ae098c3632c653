package handlers

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-service/internal/api/dto"
	"github.com/spec-kit/crm-service/internal/auth"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/service"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// WebhookSecretHeader carries the shared secret on channel callbacks.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhooksHandler ingests events pushed by channel integrations.
type WebhooksHandler struct {
	conversations *service.ConversationService
	secret        string
}

// NewWebhooksHandler constructs handler. An empty secret accepts every call.
func NewWebhooksHandler(conversations *service.ConversationService, secret string) *WebhooksHandler {
	return &WebhooksHandler{conversations: conversations, secret: secret}
}

// VerifySecret rejects callbacks without the shared secret.
func (h *WebhooksHandler) VerifySecret(c *fiber.Ctx) error {
	if h.secret == "" {
		return c.Next()
	}
	got := c.Get(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		return apperrors.NewUnauthorized("invalid webhook secret")
	}
	return c.Next()
}

// Email POST /webhooks/email.
func (h *WebhooksHandler) Email(c *fiber.Ctx) error {
	var req dto.EmailWebhookRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	event := service.InboundEvent{
		Channel:     domain.ChannelEmail,
		Sender:      domain.SenderSnapshot{Name: req.FromName, Email: req.FromEmail},
		Subject:     req.Subject,
		Content:     req.Text,
		ContentHTML: req.HTML,
		Attachments: dto.ToAttachments(req.Attachments),
		Meta: domain.ChannelMetadata{
			EmailMessageID:    req.MessageID,
			InternetMessageID: req.InternetMessageID,
			EmailThreadID:     req.ThreadID,
		},
	}
	if req.ReceivedAt != nil {
		event.ReceivedAt = *req.ReceivedAt
	}
	return h.ingest(c, event)
}

// WhatsApp POST /webhooks/whatsapp.
func (h *WebhooksHandler) WhatsApp(c *fiber.Ctx) error {
	var req dto.WhatsAppWebhookRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	phone := domain.NormalizePhone(req.From)
	if phone == "" {
		return apperrors.NewValidationError("invalid sender phone", map[string]any{"from": req.From})
	}
	event := service.InboundEvent{
		Channel:     domain.ChannelWhatsApp,
		Sender:      domain.SenderSnapshot{Name: req.ProfileName, Phone: phone},
		Content:     req.Text,
		Attachments: dto.ToAttachments(req.Attachments),
		Meta: domain.ChannelMetadata{
			WhatsAppMessageID: req.MessageID,
			WhatsAppPhone:     phone,
		},
	}
	if req.Timestamp != nil {
		event.ReceivedAt = *req.Timestamp
	}
	return h.ingest(c, event)
}

// ContactForm POST /webhooks/contact-form.
func (h *WebhooksHandler) ContactForm(c *fiber.Ctx) error {
	var req dto.ContactFormRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.ingest(c, live(req.Record().Normalize()))
}

// QuoteForm POST /webhooks/quote-form.
func (h *WebhooksHandler) QuoteForm(c *fiber.Ctx) error {
	var req dto.QuoteFormRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.ingest(c, live(req.Record().Normalize()))
}

// Import POST /imports/legacy. Operators replay records from the previous
// contact system; already imported records are skipped.
func (h *WebhooksHandler) Import(c *fiber.Ctx) error {
	var req dto.ImportRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	records := req.Records()
	if len(records) == 0 {
		return apperrors.NewValidationError("no records to import", nil)
	}
	summary := h.conversations.ImportLegacy(c.UserContext(), auth.ActorFromContext(c), records)
	return c.JSON(fiber.Map{"data": summary})
}

func (h *WebhooksHandler) ingest(c *fiber.Ctx, event service.InboundEvent) error {
	result, err := h.conversations.Ingest(c.UserContext(), domain.WebhookActor(event.Channel), event)
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if result.Skipped {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"data": conversationResult(result)})
}

// live drops the import tag that form normalization adds.
func live(event service.InboundEvent) service.InboundEvent {
	tags := make([]string, 0, len(event.Tags))
	for _, t := range event.Tags {
		if !strings.EqualFold(t, "imported") {
			tags = append(tags, t)
		}
	}
	event.Tags = tags
	return event
}
