package domain

import "time"

// Channel identifies where a conversation or message originated.
type Channel string

const (
	ChannelEmail       Channel = "email"
	ChannelWhatsApp    Channel = "whatsapp"
	ChannelContactForm Channel = "contact_form"
	ChannelQuoteForm   Channel = "quote_form"
	ChannelManual      Channel = "manual"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelContactForm, ChannelQuoteForm, ChannelManual:
		return true
	}
	return false
}

// ConversationStatus enumerates lifecycle states for conversations.
type ConversationStatus string

const (
	ConversationStatusOpen      ConversationStatus = "open"
	ConversationStatusPending   ConversationStatus = "pending"
	ConversationStatusSnoozed   ConversationStatus = "snoozed"
	ConversationStatusClosed    ConversationStatus = "closed"
	ConversationStatusConverted ConversationStatus = "converted"
)

// ReplyStatus indicates whose turn it is to respond.
type ReplyStatus string

const (
	ReplyStatusAwaitingUs       ReplyStatus = "awaiting_us"
	ReplyStatusAwaitingCustomer ReplyStatus = "awaiting_customer"
)

// SenderSnapshot is frozen at creation so history survives customer edits.
type SenderSnapshot struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
}

// ChannelMetadata carries provider identifiers used for dedup and reply threading.
type ChannelMetadata struct {
	EmailMessageID    string `json:"email_message_id,omitempty"`
	InternetMessageID string `json:"internet_message_id,omitempty"`
	EmailThreadID     string `json:"email_thread_id,omitempty"`
	WhatsAppMessageID string `json:"whatsapp_message_id,omitempty"`
	WhatsAppPhone     string `json:"whatsapp_phone,omitempty"`
}

// SourceRef points at a record in the legacy contact system.
type SourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Conversation is one thread with one external party.
type Conversation struct {
	ID            string
	CustomerID    *string
	Sender        SenderSnapshot
	Channel       Channel
	ChannelMeta   ChannelMetadata
	Subject       string
	Preview       string
	Status        ConversationStatus
	ReplyStatus   ReplyStatus
	AssignedTo    *string
	Tags          []string
	MessageCount  int
	UnreadCount   int
	LinkedCaseID  *string
	SourceRef     *SourceRef
	SnoozedUntil  *time.Time
	LastInboundAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt *time.Time
	ClosedAt      *time.Time
}

// ConversationEvent drives the conversation state machine.
type ConversationEvent string

const (
	ConversationEventInbound       ConversationEvent = "inbound_message"
	ConversationEventOutboundSent  ConversationEvent = "outbound_sent"
	ConversationEventSnooze        ConversationEvent = "snooze"
	ConversationEventSnoozeExpired ConversationEvent = "snooze_expired"
	ConversationEventClose         ConversationEvent = "close"
	ConversationEventReopen        ConversationEvent = "reopen"
	ConversationEventConvert       ConversationEvent = "convert"
	ConversationEventCaseDeleted   ConversationEvent = "case_deleted"
)

var conversationTransitions = map[ConversationEvent]map[ConversationStatus]ConversationStatus{
	ConversationEventInbound: {
		ConversationStatusOpen:      ConversationStatusOpen,
		ConversationStatusPending:   ConversationStatusOpen,
		ConversationStatusSnoozed:   ConversationStatusOpen,
		ConversationStatusClosed:    ConversationStatusOpen,
		ConversationStatusConverted: ConversationStatusConverted,
	},
	ConversationEventOutboundSent: {
		ConversationStatusOpen:      ConversationStatusPending,
		ConversationStatusPending:   ConversationStatusPending,
		ConversationStatusSnoozed:   ConversationStatusPending,
		ConversationStatusClosed:    ConversationStatusPending,
		ConversationStatusConverted: ConversationStatusConverted,
	},
	ConversationEventSnooze: {
		ConversationStatusOpen:    ConversationStatusSnoozed,
		ConversationStatusPending: ConversationStatusSnoozed,
		ConversationStatusSnoozed: ConversationStatusSnoozed,
	},
	ConversationEventSnoozeExpired: {
		ConversationStatusSnoozed: ConversationStatusOpen,
	},
	ConversationEventClose: {
		ConversationStatusOpen:    ConversationStatusClosed,
		ConversationStatusPending: ConversationStatusClosed,
		ConversationStatusSnoozed: ConversationStatusClosed,
	},
	ConversationEventReopen: {
		ConversationStatusClosed:  ConversationStatusOpen,
		ConversationStatusSnoozed: ConversationStatusOpen,
	},
	ConversationEventConvert: {
		ConversationStatusOpen:    ConversationStatusConverted,
		ConversationStatusPending: ConversationStatusConverted,
		ConversationStatusSnoozed: ConversationStatusConverted,
		ConversationStatusClosed:  ConversationStatusConverted,
	},
	// Deleting the linked case detaches the conversation and puts it back
	// in the inbox. This is the only way out of converted.
	ConversationEventCaseDeleted: {
		ConversationStatusConverted: ConversationStatusOpen,
	},
}

// NextConversationStatus applies event to current. ok is false when the
// event is not allowed from current.
func NextConversationStatus(current ConversationStatus, event ConversationEvent) (next ConversationStatus, ok bool) {
	next, ok = conversationTransitions[event][current]
	return next, ok
}

// ReplyStatusAfter returns the reply status implied by event, if any.
func ReplyStatusAfter(event ConversationEvent) (ReplyStatus, bool) {
	switch event {
	case ConversationEventInbound:
		return ReplyStatusAwaitingUs, true
	case ConversationEventOutboundSent:
		return ReplyStatusAwaitingCustomer, true
	}
	return "", false
}

// IsTerminal reports whether the status only changes through case deletion.
func (s ConversationStatus) IsTerminal() bool {
	return s == ConversationStatusConverted
}

// Valid reports whether s is a known conversation status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationStatusOpen, ConversationStatusPending, ConversationStatusSnoozed,
		ConversationStatusClosed, ConversationStatusConverted:
		return true
	}
	return false
}
