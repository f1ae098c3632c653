package dto

import (
	"time"

	"github.com/spec-kit/crm-service/internal/domain"
)

// SenderDTO is the external party on a conversation.
type SenderDTO struct {
	Name    string `json:"name"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
}

// AttachmentDTO describes a file already uploaded to storage.
type AttachmentDTO struct {
	FileName   string `json:"file_name" validate:"required"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes" validate:"gte=0"`
	StorageKey string `json:"storage_key"`
	URL        string `json:"url" validate:"omitempty,url"`
}

// ChannelMetaDTO carries provider identifiers.
type ChannelMetaDTO struct {
	EmailMessageID    string `json:"email_message_id"`
	InternetMessageID string `json:"internet_message_id"`
	EmailThreadID     string `json:"email_thread_id"`
	WhatsAppMessageID string `json:"whatsapp_message_id"`
	WhatsAppPhone     string `json:"whatsapp_phone"`
}

// SourceRefDTO points at a legacy record.
type SourceRefDTO struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// CreateConversationRequest payload for manual conversation entry.
type CreateConversationRequest struct {
	Channel     string          `json:"channel" validate:"required,oneof=email whatsapp contact_form quote_form manual"`
	Sender      SenderDTO       `json:"sender"`
	Subject     string          `json:"subject" validate:"max=300"`
	Content     string          `json:"content"`
	ContentHTML string          `json:"content_html"`
	Direction   string          `json:"direction" validate:"omitempty,oneof=inbound outbound"`
	Attachments []AttachmentDTO `json:"attachments" validate:"dive"`
	Meta        ChannelMetaDTO  `json:"meta"`
	SourceRef   *SourceRefDTO   `json:"source_ref"`
	Tags        []string        `json:"tags"`
	AssignedTo  *string         `json:"assigned_to"`
}

// AddMessageRequest payload.
type AddMessageRequest struct {
	Direction   string          `json:"direction" validate:"required,oneof=inbound outbound"`
	Channel     string          `json:"channel" validate:"omitempty,oneof=email whatsapp contact_form quote_form manual"`
	Content     string          `json:"content"`
	ContentHTML string          `json:"content_html"`
	Sender      SenderDTO       `json:"sender"`
	Attachments []AttachmentDTO `json:"attachments" validate:"dive"`
	Keys        ChannelMetaDTO  `json:"keys"`
	AIGenerated bool            `json:"ai_generated"`
	Approved    bool            `json:"approved"`
	AlreadySent bool            `json:"already_sent"`
}

// UpdateMessageRequest edits a draft.
type UpdateMessageRequest struct {
	Content     *string          `json:"content"`
	ContentHTML *string          `json:"content_html"`
	Status      *string          `json:"status" validate:"omitempty,oneof=draft pending_approval"`
	Attachments *[]AttachmentDTO `json:"attachments"`
}

// SnoozeRequest payload.
type SnoozeRequest struct {
	Until time.Time `json:"until" validate:"required"`
}

// AssignRequest payload. A null assignee clears the assignment.
type AssignRequest struct {
	AssignedTo *string `json:"assigned_to"`
}

// ConvertRequest links a conversation to an existing case.
type ConvertRequest struct {
	CaseID string `json:"case_id" validate:"required"`
}

// TemplateDTO selects a WhatsApp template.
type TemplateDTO struct {
	Name       string                 `json:"name" validate:"required"`
	Language   string                 `json:"language"`
	Components []TemplateComponentDTO `json:"components"`
}

// TemplateComponentDTO is one template parameter block.
type TemplateComponentDTO struct {
	Type       string   `json:"type" validate:"required"`
	Parameters []string `json:"parameters"`
}

// RecipientDTO overrides the conversation addressee.
type RecipientDTO struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

// SendMessageRequest approves and sends a draft.
type SendMessageRequest struct {
	Channels    []string        `json:"channels" validate:"required,min=1,dive,oneof=email whatsapp manual"`
	Recipient   RecipientDTO    `json:"recipient"`
	Attachments []AttachmentDTO `json:"attachments" validate:"dive"`
	Subject     string          `json:"subject"`
	Template    *TemplateDTO    `json:"template"`
}

// DraftReplyRequest asks for an AI-drafted reply.
type DraftReplyRequest struct {
	Instructions string `json:"instructions" validate:"max=2000"`
}

// ToAttachments converts request attachments.
func ToAttachments(in []AttachmentDTO) []domain.Attachment {
	if in == nil {
		return nil
	}
	out := make([]domain.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, domain.Attachment{
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			SizeBytes:  a.SizeBytes,
			StorageKey: a.StorageKey,
			URL:        a.URL,
		})
	}
	return out
}

// ToSender converts the sender block.
func (s SenderDTO) ToSender() domain.SenderSnapshot {
	return domain.SenderSnapshot{Name: s.Name, Email: s.Email, Phone: s.Phone, Company: s.Company}
}

// ToMeta converts the provider ids.
func (m ChannelMetaDTO) ToMeta() domain.ChannelMetadata {
	return domain.ChannelMetadata{
		EmailMessageID:    m.EmailMessageID,
		InternetMessageID: m.InternetMessageID,
		EmailThreadID:     m.EmailThreadID,
		WhatsAppMessageID: m.WhatsAppMessageID,
		WhatsAppPhone:     m.WhatsAppPhone,
	}
}

// ToKeys converts the provider ids into message keys.
func (m ChannelMetaDTO) ToKeys() domain.MessageKeys {
	return domain.MessageKeys{
		EmailMessageID:    m.EmailMessageID,
		InternetMessageID: m.InternetMessageID,
		EmailThreadID:     m.EmailThreadID,
		WhatsAppMessageID: m.WhatsAppMessageID,
	}
}

// ConversationResponse is the API view of a conversation.
type ConversationResponse struct {
	ID            string                    `json:"id"`
	CustomerID    *string                   `json:"customer_id"`
	Sender        domain.SenderSnapshot     `json:"sender"`
	Channel       domain.Channel            `json:"channel"`
	ChannelMeta   domain.ChannelMetadata    `json:"channel_meta"`
	Subject       string                    `json:"subject"`
	Preview       string                    `json:"preview"`
	Status        domain.ConversationStatus `json:"status"`
	ReplyStatus   domain.ReplyStatus        `json:"reply_status"`
	AssignedTo    *string                   `json:"assigned_to"`
	Tags          []string                  `json:"tags"`
	MessageCount  int                       `json:"message_count"`
	UnreadCount   int                       `json:"unread_count"`
	LinkedCaseID  *string                   `json:"linked_case_id"`
	SourceRef     *domain.SourceRef         `json:"source_ref,omitempty"`
	SnoozedUntil  *time.Time                `json:"snoozed_until"`
	LastInboundAt *time.Time                `json:"last_inbound_at"`
	LastMessageAt *time.Time                `json:"last_message_at"`
	ClosedAt      *time.Time                `json:"closed_at"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// MessageResponse is the API view of a message.
type MessageResponse struct {
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversation_id"`
	Direction      domain.MessageDirection `json:"direction"`
	Channel        domain.Channel          `json:"channel"`
	Content        string                  `json:"content"`
	ContentHTML    string                  `json:"content_html,omitempty"`
	Status         domain.MessageStatus    `json:"status,omitempty"`
	Sender         domain.SenderSnapshot   `json:"sender"`
	Attachments    []domain.Attachment     `json:"attachments"`
	Keys           domain.MessageKeys      `json:"keys"`
	AIGenerated    bool                    `json:"ai_generated"`
	IsRead         bool                    `json:"is_read"`
	SentChannels   []domain.Channel        `json:"sent_channels,omitempty"`
	SendErrors     []domain.ChannelError   `json:"send_errors,omitempty"`
	Delivery       domain.DeliveryRefs     `json:"delivery"`
	SentAt         *time.Time              `json:"sent_at,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// NewConversationResponse maps a conversation.
func NewConversationResponse(c *domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:            c.ID,
		CustomerID:    c.CustomerID,
		Sender:        c.Sender,
		Channel:       c.Channel,
		ChannelMeta:   c.ChannelMeta,
		Subject:       c.Subject,
		Preview:       c.Preview,
		Status:        c.Status,
		ReplyStatus:   c.ReplyStatus,
		AssignedTo:    c.AssignedTo,
		Tags:          nonNil(c.Tags),
		MessageCount:  c.MessageCount,
		UnreadCount:   c.UnreadCount,
		LinkedCaseID:  c.LinkedCaseID,
		SourceRef:     c.SourceRef,
		SnoozedUntil:  c.SnoozedUntil,
		LastInboundAt: c.LastInboundAt,
		LastMessageAt: c.LastMessageAt,
		ClosedAt:      c.ClosedAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// NewMessageResponse maps a message.
func NewMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      m.Direction,
		Channel:        m.Channel,
		Content:        m.Content,
		ContentHTML:    m.ContentHTML,
		Status:         m.Status,
		Sender:         m.Sender,
		Attachments:    nonNil(m.Attachments),
		Keys:           m.Keys,
		AIGenerated:    m.AIGenerated,
		IsRead:         m.IsRead,
		SentChannels:   m.SentChannels,
		SendErrors:     m.SendErrors,
		Delivery:       m.Delivery,
		SentAt:         m.SentAt,
		CreatedAt:      m.CreatedAt,
	}
}

// NewMessageResponses maps a message list.
func NewMessageResponses(msgs []domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessageResponse(&msgs[i]))
	}
	return out
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
