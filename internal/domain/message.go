package domain

import "time"

// MessageDirection tells whether a message came from or went to the customer.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageStatus applies to outbound messages only. Inbound messages carry
// the empty status.
type MessageStatus string

const (
	MessageStatusNone            MessageStatus = ""
	MessageStatusDraft           MessageStatus = "draft"
	MessageStatusPendingApproval MessageStatus = "pending_approval"
	MessageStatusSent            MessageStatus = "sent"
)

// Editable reports whether an operator may still change or delete the message.
func (s MessageStatus) Editable() bool {
	return s == MessageStatusDraft || s == MessageStatusPendingApproval
}

// CanMoveMessage validates an operator-driven outbound status change.
// Sending is handled by the dispatcher and is not a plain status edit.
func CanMoveMessage(from, to MessageStatus) bool {
	switch from {
	case MessageStatusDraft:
		return to == MessageStatusDraft || to == MessageStatusPendingApproval
	case MessageStatusPendingApproval:
		return to == MessageStatusDraft || to == MessageStatusPendingApproval
	}
	return false
}

// Attachment describes a file carried by a message.
type Attachment struct {
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	URL        string `json:"url,omitempty"`
}

// MessageKeys are channel-native identifiers used for dedup.
type MessageKeys struct {
	EmailMessageID    string `json:"email_message_id,omitempty"`
	InternetMessageID string `json:"internet_message_id,omitempty"`
	EmailThreadID     string `json:"email_thread_id,omitempty"`
	WhatsAppMessageID string `json:"whatsapp_message_id,omitempty"`
}

// ChannelError is the per-channel failure retained on a sent message.
type ChannelError struct {
	Channel          Channel `json:"channel"`
	Code             string  `json:"code"`
	Message          string  `json:"message"`
	RequiresTemplate bool    `json:"requires_template,omitempty"`
}

// DeliveryRefs holds provider identifiers returned by outbound sends.
type DeliveryRefs struct {
	EmailMessageID    string `json:"email_message_id,omitempty"`
	EmailThreadID     string `json:"email_thread_id,omitempty"`
	WhatsAppMessageID string `json:"whatsapp_message_id,omitempty"`
	WhatsAppTemplate  string `json:"whatsapp_template,omitempty"`
}

// Message is one unit of communication inside a conversation.
type Message struct {
	ID             string
	ConversationID string
	Direction      MessageDirection
	Channel        Channel
	Content        string
	ContentHTML    string
	Status         MessageStatus
	Sender         SenderSnapshot
	Attachments    []Attachment
	Keys           MessageKeys
	AIGenerated    bool
	IsRead         bool
	ReadAt         *time.Time
	SentChannels   []Channel
	SendErrors     []ChannelError
	Delivery       DeliveryRefs
	SentAt         *time.Time
	SentBy         *string
	CreatedBy      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SendOutcome is the delivery metadata stamped on a message once sent.
type SendOutcome struct {
	SentChannels []Channel
	SendErrors   []ChannelError
	Delivery     DeliveryRefs
	SentAt       time.Time
	SentBy       *string
}
