package domain

import "time"

// ActivityType names the fact an activity records.
type ActivityType string

const (
	ActivityConversationCreated   ActivityType = "conversation_created"
	ActivityConversationDeleted   ActivityType = "conversation_deleted"
	ActivityDuplicateSkipped      ActivityType = "duplicate_skipped"
	ActivityMessageReceived       ActivityType = "message_received"
	ActivityMessageDrafted        ActivityType = "message_drafted"
	ActivityMessageUpdated        ActivityType = "message_updated"
	ActivityMessageDeleted        ActivityType = "message_deleted"
	ActivityMessageSent           ActivityType = "message_sent"
	ActivityMessageSendFailed     ActivityType = "message_send_failed"
	ActivityConversationRead      ActivityType = "conversation_read"
	ActivityConversationClosed    ActivityType = "conversation_closed"
	ActivityConversationSnoozed   ActivityType = "conversation_snoozed"
	ActivityConversationReopened  ActivityType = "conversation_reopened"
	ActivityConversationAssigned  ActivityType = "conversation_assigned"
	ActivityConversationConverted ActivityType = "conversation_converted"
	ActivityCaseCreated           ActivityType = "case_created"
	ActivityCaseUpdated           ActivityType = "case_updated"
	ActivityCaseStatusChanged     ActivityType = "case_status_changed"
	ActivityCaseDeleted           ActivityType = "case_deleted"
	ActivityQuoteAdded            ActivityType = "quote_added"
	ActivityQuoteUpdated          ActivityType = "quote_updated"
	ActivityQuoteRejected         ActivityType = "quote_rejected"
	ActivityQuoteDeleted          ActivityType = "quote_deleted"
)

// Activity is an immutable fact record.
type Activity struct {
	ID             string
	Type           ActivityType
	ConversationID *string
	CaseID         *string
	CustomerID     *string
	PerformedBy    string
	Metadata       map[string]any
	CreatedAt      time.Time
}
