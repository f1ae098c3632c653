package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/observability"
	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

const (
	previewLength     = 160
	maxMutateAttempts = 3
	outcomeCreated    = "created"
	outcomeAppended   = "appended"
	outcomeSkipped    = "skipped"
)

// InboundEvent is a normalized contact event from any channel.
type InboundEvent struct {
	Channel     domain.Channel
	Sender      domain.SenderSnapshot
	Subject     string
	Content     string
	ContentHTML string
	Attachments []domain.Attachment
	Meta        domain.ChannelMetadata
	SourceRef   *domain.SourceRef
	Tags        []string
	AssignedTo  *string
	// Direction of the initiating message; inbound when empty.
	Direction  domain.MessageDirection
	ReceivedAt time.Time
	// NoCustomerCreate leaves the conversation unowned when no customer matches.
	NoCustomerCreate bool
}

func (e InboundEvent) messageInput() MessageInput {
	direction := e.Direction
	if direction == "" {
		direction = domain.DirectionInbound
	}
	return MessageInput{
		Direction:   direction,
		Channel:     e.Channel,
		Content:     e.Content,
		ContentHTML: e.ContentHTML,
		Sender:      e.Sender,
		Attachments: e.Attachments,
		Keys: domain.MessageKeys{
			EmailMessageID:    e.Meta.EmailMessageID,
			InternetMessageID: e.Meta.InternetMessageID,
			EmailThreadID:     e.Meta.EmailThreadID,
			WhatsAppMessageID: e.Meta.WhatsAppMessageID,
		},
		CreatedAt: e.ReceivedAt,
	}
}

// ConversationResult is the outcome of creating or ingesting an event.
type ConversationResult struct {
	Conversation *domain.Conversation
	Message      *domain.Message
	Outcome      string
	Skipped      bool
	Reason       string
}

// MessageInput describes a message to append.
type MessageInput struct {
	Direction   domain.MessageDirection
	Channel     domain.Channel
	Content     string
	ContentHTML string
	Sender      domain.SenderSnapshot
	Attachments []domain.Attachment
	Keys        domain.MessageKeys
	AIGenerated bool
	// Approved marks an AI-authored outbound message as reviewed.
	Approved bool
	// AlreadySent records an outbound message delivered outside the dispatcher.
	AlreadySent bool
	CreatedAt   time.Time
}

// MessageResult is the outcome of appending a message.
type MessageResult struct {
	Message      *domain.Message
	Conversation *domain.Conversation
	Skipped      bool
	Reason       string
}

// MessagePatch edits an outbound message that has not been sent.
type MessagePatch struct {
	Content     *string
	ContentHTML *string
	Status      *domain.MessageStatus
	Attachments *[]domain.Attachment
}

// ConversationService owns conversation state and the message sub-ledger.
type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	customers     *CustomerResolver
	activities    *ActivityRecorder
	logger        *zap.Logger
	now           Clock
}

// ConversationDependencies bundles collaborators for the conversation service.
type ConversationDependencies struct {
	ConversationRepo repository.ConversationRepository
	MessageRepo      repository.MessageRepository
	Customers        *CustomerResolver
	Activities       *ActivityRecorder
	Logger           *zap.Logger
	Clock            Clock
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	return &ConversationService{
		conversations: deps.ConversationRepo,
		messages:      deps.MessageRepo,
		customers:     deps.Customers,
		activities:    deps.Activities,
		logger:        loggerOrNop(deps.Logger),
		now:           clockOrNow(deps.Clock),
	}
}

// CreateConversation resolves the customer, claims the event's natural keys
// and stores the conversation with its initiating message. A duplicate event
// returns the stored conversation with Skipped set.
func (s *ConversationService) CreateConversation(ctx context.Context, actor domain.Actor, event InboundEvent) (*ConversationResult, error) {
	if !event.Channel.Valid() {
		return nil, apperrors.NewValidationError("unknown channel", map[string]any{"channel": event.Channel})
	}
	event.Sender.Email = domain.NormalizeEmail(event.Sender.Email)
	event.Sender.Phone = domain.NormalizePhone(event.Sender.Phone)
	at := event.ReceivedAt
	if at.IsZero() {
		at = s.now()
		event.ReceivedAt = at
	}

	customerID, err := s.customers.Resolve(ctx, ResolveInput{
		Email:        event.Sender.Email,
		Phone:        event.Sender.Phone,
		FallbackName: event.Sender.Name,
		Company:      event.Sender.Company,
		AutoCreate:   !event.NoCustomerCreate,
	})
	if err != nil {
		return nil, err
	}

	meta := event.Meta
	if event.Channel == domain.ChannelWhatsApp {
		meta.WhatsAppPhone = whatsappThread(event)
	}
	conv := &domain.Conversation{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		Sender:      event.Sender,
		Channel:     event.Channel,
		ChannelMeta: meta,
		Subject:     strings.TrimSpace(event.Subject),
		Preview:     stringPreview(event.Content, previewLength),
		Status:      domain.ConversationStatusOpen,
		ReplyStatus: domain.ReplyStatusAwaitingUs,
		AssignedTo:  event.AssignedTo,
		Tags:        event.Tags,
		SourceRef:   event.SourceRef,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if conv.Subject == "" {
		conv.Subject = stringPreview(event.Content, 80)
	}

	keys := conversationKeys(event)
	if err := s.conversations.Create(ctx, conv, keys.keys); err != nil {
		dup, ok := repository.AsDuplicate(err)
		if !ok {
			return nil, apperrors.MapError(err)
		}
		reason := keys.reason(dup.Key)
		if reason == reasonWhatsAppThread || reason == reasonEmailThread {
			// Another delivery created this thread first.
			return s.appendToThread(ctx, actor, dup.ExistingID, event)
		}
		return s.skipConversation(ctx, actor, dup.ExistingID, event.Channel, reason)
	}

	s.customers.ApplyStats(ctx, derefString(customerID), domain.CustomerStatsDelta{TotalConversations: 1, LastContactAt: &at})
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityConversationCreated,
		ConversationID: conv.ID,
		CustomerID:     derefString(customerID),
		Actor:          actor,
		Metadata: map[string]any{
			"channel": string(conv.Channel),
			"subject": conv.Subject,
		},
	})
	observability.RecordIngest(string(event.Channel), outcomeCreated)
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("channel", string(conv.Channel)))

	result := &ConversationResult{Conversation: conv, Outcome: outcomeCreated}
	if strings.TrimSpace(event.Content) == "" && len(event.Attachments) == 0 {
		return result, nil
	}
	msgResult, err := s.AddMessage(ctx, actor, conv.ID, event.messageInput())
	if err != nil {
		return nil, err
	}
	result.Message = msgResult.Message
	result.Conversation = msgResult.Conversation
	// A concurrent redelivery appended the initiating message first.
	result.Skipped = msgResult.Skipped
	result.Reason = msgResult.Reason
	return result, nil
}

func (s *ConversationService) skipConversation(ctx context.Context, actor domain.Actor, existingID string, channel domain.Channel, reason string) (*ConversationResult, error) {
	existing, err := s.conversations.GetByID(ctx, existingID)
	if err != nil {
		return nil, repoErr(err, "conversation", ids("conversation_id", existingID))
	}
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityDuplicateSkipped,
		ConversationID: existing.ID,
		CustomerID:     derefString(existing.CustomerID),
		Actor:          actor,
		Metadata:       map[string]any{"reason": reason, "level": "conversation"},
	})
	observability.RecordIngest(string(channel), outcomeSkipped)
	return &ConversationResult{Conversation: existing, Outcome: outcomeSkipped, Skipped: true, Reason: reason}, nil
}

func (s *ConversationService) appendToThread(ctx context.Context, actor domain.Actor, conversationID string, event InboundEvent) (*ConversationResult, error) {
	msgResult, err := s.AddMessage(ctx, actor, conversationID, event.messageInput())
	if err != nil {
		return nil, err
	}
	outcome := outcomeAppended
	if msgResult.Skipped {
		outcome = outcomeSkipped
	} else {
		observability.RecordIngest(string(event.Channel), outcomeAppended)
	}
	return &ConversationResult{
		Conversation: msgResult.Conversation,
		Message:      msgResult.Message,
		Outcome:      outcome,
		Skipped:      msgResult.Skipped,
		Reason:       msgResult.Reason,
	}, nil
}

// Ingest is the webhook entry point. A redelivered message is skipped, a
// follow-up on a known thread is appended to it, anything else starts a
// new conversation.
func (s *ConversationService) Ingest(ctx context.Context, actor domain.Actor, event InboundEvent) (*ConversationResult, error) {
	if !event.Channel.Valid() {
		return nil, apperrors.NewValidationError("unknown channel", map[string]any{"channel": event.Channel})
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.now()
	}

	input := event.messageInput()
	msgKeys := messageKeys(input.Keys)
	for _, key := range msgKeys.keys.Unique {
		msgID, err := s.conversations.LookupKey(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if result, ok := s.skipKnownMessage(ctx, actor, msgID, event.Channel, msgKeys.reason(key)); ok {
			return result, nil
		}
	}

	if key := threadKey(event); key != "" {
		convID, err := s.conversations.LookupKey(ctx, key)
		switch {
		case err == nil:
			result, appendErr := s.appendToThread(ctx, actor, convID, event)
			if appendErr == nil || !apperrors.HasCode(appendErr, apperrors.CodeNotFound) {
				return result, appendErr
			}
			// Thread deleted after lookup; start over as a new conversation.
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.MapError(err)
		}
	}

	return s.CreateConversation(ctx, actor, event)
}

func (s *ConversationService) skipKnownMessage(ctx context.Context, actor domain.Actor, messageID string, channel domain.Channel, reason string) (*ConversationResult, bool) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, false
	}
	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, false
	}
	s.recordMessageSkip(ctx, actor, conv, msg, reason)
	observability.RecordIngest(string(channel), outcomeSkipped)
	return &ConversationResult{Conversation: conv, Message: msg, Outcome: outcomeSkipped, Skipped: true, Reason: reason}, true
}

func (s *ConversationService) recordMessageSkip(ctx context.Context, actor domain.Actor, conv *domain.Conversation, msg *domain.Message, reason string) {
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityDuplicateSkipped,
		ConversationID: conv.ID,
		CustomerID:     derefString(conv.CustomerID),
		Actor:          actor,
		Metadata:       map[string]any{"reason": reason, "level": "message", "message_id": msg.ID},
	})
}

// outboundStatus picks the initial status of an outbound message.
func outboundStatus(in MessageInput) domain.MessageStatus {
	switch {
	case in.AIGenerated && !in.Approved:
		return domain.MessageStatusPendingApproval
	case in.AlreadySent:
		return domain.MessageStatusSent
	default:
		return domain.MessageStatusDraft
	}
}

// AddMessage appends a message and updates the conversation counters and
// status atomically. A message whose channel ids were already stored is
// returned with Skipped set.
func (s *ConversationService) AddMessage(ctx context.Context, actor domain.Actor, conversationID string, in MessageInput) (*MessageResult, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, repoErr(err, "conversation", ids("conversation_id", conversationID))
	}
	if in.Direction != domain.DirectionInbound && in.Direction != domain.DirectionOutbound {
		return nil, apperrors.NewValidationError("message direction must be inbound or outbound", ids("conversation_id", conversationID))
	}
	if strings.TrimSpace(in.Content) == "" && strings.TrimSpace(in.ContentHTML) == "" && len(in.Attachments) == 0 {
		return nil, apperrors.NewValidationError("message content is required", ids("conversation_id", conversationID))
	}
	if in.Channel == "" {
		in.Channel = conv.Channel
	}
	at := in.CreatedAt
	if at.IsZero() {
		at = s.now()
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      in.Direction,
		Channel:        in.Channel,
		Content:        in.Content,
		ContentHTML:    in.ContentHTML,
		Sender:         in.Sender,
		Attachments:    in.Attachments,
		Keys:           in.Keys,
		AIGenerated:    in.AIGenerated,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if actor.Type == domain.ActorTypeOperator {
		msg.CreatedBy = strPtr(actor.ID)
	}
	if in.Direction == domain.DirectionOutbound {
		msg.Status = outboundStatus(in)
		if msg.Status == domain.MessageStatusSent {
			msg.SentAt = &at
			msg.SentBy = msg.CreatedBy
			msg.SentChannels = []domain.Channel{in.Channel}
		}
	}

	keys := messageKeys(in.Keys)
	if err := s.messages.Create(ctx, msg, keys.keys); err != nil {
		if dup, ok := repository.AsDuplicate(err); ok {
			return s.skipMessage(ctx, actor, conv, dup, keys.reason(dup.Key))
		}
		return nil, repoErr(err, "conversation", ids("conversation_id", conv.ID))
	}

	applied := messageApplied(conv, msg, at)
	updated, err := s.conversations.RecordMessage(ctx, conv.ID, applied)
	if err != nil {
		return nil, s.consistencyError(conv.ID, msg.ID, "message stored but conversation was not updated", err)
	}

	activityType := domain.ActivityMessageReceived
	if msg.Direction == domain.DirectionOutbound {
		activityType = domain.ActivityMessageDrafted
		if msg.Status == domain.MessageStatusSent {
			activityType = domain.ActivityMessageSent
		}
	} else {
		s.customers.ApplyStats(ctx, derefString(updated.CustomerID), domain.CustomerStatsDelta{LastContactAt: &at})
	}
	s.activities.Record(ctx, ActivityInput{
		Type:           activityType,
		ConversationID: conv.ID,
		CustomerID:     derefString(updated.CustomerID),
		Actor:          actor,
		Metadata: map[string]any{
			"message_id":   msg.ID,
			"direction":    string(msg.Direction),
			"channel":      string(msg.Channel),
			"status":       string(msg.Status),
			"ai_generated": msg.AIGenerated,
		},
	})
	return &MessageResult{Message: msg, Conversation: updated}, nil
}

func (s *ConversationService) skipMessage(ctx context.Context, actor domain.Actor, conv *domain.Conversation, dup *repository.DuplicateKeyError, reason string) (*MessageResult, error) {
	existing, err := s.messages.GetByID(ctx, dup.ExistingID)
	if err != nil {
		return nil, repoErr(err, "message", ids("message_id", dup.ExistingID))
	}
	owner := conv
	if existing.ConversationID != conv.ID {
		if other, err := s.conversations.GetByID(ctx, existing.ConversationID); err == nil {
			owner = other
		}
	}
	s.recordMessageSkip(ctx, actor, owner, existing, reason)
	observability.RecordIngest(string(existing.Channel), outcomeSkipped)
	return &MessageResult{Message: existing, Conversation: owner, Skipped: true, Reason: reason}, nil
}

// messageApplied computes the conversation side effects of storing msg.
func messageApplied(conv *domain.Conversation, msg *domain.Message, at time.Time) repository.MessageApplied {
	applied := repository.MessageApplied{
		MessageDelta: 1,
		At:           at,
		ThreadID:     msg.Keys.EmailThreadID,
	}
	var event domain.ConversationEvent
	switch {
	case msg.Direction == domain.DirectionInbound:
		event = domain.ConversationEventInbound
		applied.Inbound = true
		preview := stringPreview(firstNonEmpty(msg.Content, msg.ContentHTML), previewLength)
		applied.Preview = &preview
	case msg.Status == domain.MessageStatusSent:
		event = domain.ConversationEventOutboundSent
		preview := stringPreview(firstNonEmpty(msg.Content, msg.ContentHTML), previewLength)
		applied.Preview = &preview
	default:
		return applied
	}
	if next, ok := domain.NextConversationStatus(conv.Status, event); ok {
		applied.Status = &next
	}
	if reply, ok := domain.ReplyStatusAfter(event); ok {
		applied.ReplyStatus = &reply
	}
	return applied
}

// consistencyError logs the drift at the highest non-fatal severity and
// returns the structured error.
func (s *ConversationService) consistencyError(conversationID, messageID, msg string, cause error) error {
	observability.ConsistencyErrorsTotal.Inc()
	s.logger.Error(msg,
		zap.Bool("consistency_error", true),
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
		zap.Error(cause))
	return apperrors.NewConsistencyError(msg, ids("conversation_id", conversationID, "message_id", messageID), cause)
}

// GetConversation returns a conversation and its messages in creation order.
func (s *ConversationService) GetConversation(ctx context.Context, id string) (*domain.Conversation, []domain.Message, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, repoErr(err, "conversation", ids("conversation_id", id))
	}
	msgs, err := s.messages.ListByConversation(ctx, id)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	return conv, msgs, nil
}

// ListConversations returns the inbox view for the filter.
func (s *ConversationService) ListConversations(ctx context.Context, filter repository.ConversationFilter) ([]domain.Conversation, error) {
	convs, err := s.conversations.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return convs, nil
}

// MarkRead marks all inbound messages read and zeroes the unread counter.
func (s *ConversationService) MarkRead(ctx context.Context, actor domain.Actor, id string) (*domain.Conversation, error) {
	marked, err := s.conversations.MarkRead(ctx, id, s.now())
	if err != nil {
		return nil, repoErr(err, "conversation", ids("conversation_id", id))
	}
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "conversation", ids("conversation_id", id))
	}
	if marked > 0 {
		s.activities.Record(ctx, ActivityInput{
			Type:           domain.ActivityConversationRead,
			ConversationID: id,
			CustomerID:     derefString(conv.CustomerID),
			Actor:          actor,
			Metadata:       map[string]any{"marked": marked},
		})
	}
	return conv, nil
}

// mutate applies fn to a fresh copy of the conversation and writes it only
// if the status has not changed underneath, retrying on conflicts.
func (s *ConversationService) mutate(ctx context.Context, id string, fn func(conv *domain.Conversation) error) (*domain.Conversation, domain.ConversationStatus, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		conv, err := s.conversations.GetByID(ctx, id)
		if err != nil {
			return nil, "", repoErr(err, "conversation", ids("conversation_id", id))
		}
		previous := conv.Status
		if err := fn(conv); err != nil {
			return nil, previous, err
		}
		conv.UpdatedAt = s.now()
		err = s.conversations.Update(ctx, conv, previous)
		if err == nil {
			return conv, previous, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, previous, repoErr(err, "conversation", ids("conversation_id", id))
		}
		lastErr = err
	}
	return nil, "", repoErr(lastErr, "conversation", ids("conversation_id", id))
}

func (s *ConversationService) transition(ctx context.Context, actor domain.Actor, id string, event domain.ConversationEvent, activity domain.ActivityType, metadata map[string]any, apply func(conv *domain.Conversation, now time.Time)) (*domain.Conversation, error) {
	conv, previous, err := s.mutate(ctx, id, func(conv *domain.Conversation) error {
		next, ok := domain.NextConversationStatus(conv.Status, event)
		if !ok {
			return apperrors.NewInvalidTransition("conversation", conv.Status, event, ids("conversation_id", id))
		}
		conv.Status = next
		if apply != nil {
			apply(conv, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["from"] = string(previous)
	metadata["to"] = string(conv.Status)
	s.activities.Record(ctx, ActivityInput{
		Type:           activity,
		ConversationID: conv.ID,
		CustomerID:     derefString(conv.CustomerID),
		CaseID:         derefString(conv.LinkedCaseID),
		Actor:          actor,
		Metadata:       metadata,
	})
	return conv, nil
}

// Close closes an open, pending or snoozed conversation.
func (s *ConversationService) Close(ctx context.Context, actor domain.Actor, id string) (*domain.Conversation, error) {
	return s.transition(ctx, actor, id, domain.ConversationEventClose, domain.ActivityConversationClosed, nil,
		func(conv *domain.Conversation, now time.Time) {
			conv.ClosedAt = &now
			conv.SnoozedUntil = nil
		})
}

// Snooze hides a conversation until the given time.
func (s *ConversationService) Snooze(ctx context.Context, actor domain.Actor, id string, until time.Time) (*domain.Conversation, error) {
	if !until.After(s.now()) {
		return nil, apperrors.NewValidationError("snooze time must be in the future", ids("conversation_id", id))
	}
	return s.transition(ctx, actor, id, domain.ConversationEventSnooze, domain.ActivityConversationSnoozed,
		map[string]any{"until": until},
		func(conv *domain.Conversation, _ time.Time) {
			conv.SnoozedUntil = &until
		})
}

// Reopen moves a closed or snoozed conversation back to open.
func (s *ConversationService) Reopen(ctx context.Context, actor domain.Actor, id string) (*domain.Conversation, error) {
	return s.transition(ctx, actor, id, domain.ConversationEventReopen, domain.ActivityConversationReopened,
		map[string]any{"reason": "manual"},
		func(conv *domain.Conversation, _ time.Time) {
			conv.SnoozedUntil = nil
			conv.ClosedAt = nil
		})
}

// Assign sets or clears the operator responsible for the conversation.
func (s *ConversationService) Assign(ctx context.Context, actor domain.Actor, id string, assignee *string) (*domain.Conversation, error) {
	if assignee != nil && strings.TrimSpace(*assignee) == "" {
		assignee = nil
	}
	conv, _, err := s.mutate(ctx, id, func(conv *domain.Conversation) error {
		conv.AssignedTo = assignee
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityConversationAssigned,
		ConversationID: conv.ID,
		CustomerID:     derefString(conv.CustomerID),
		Actor:          actor,
		Metadata:       map[string]any{"assigned_to": derefString(assignee)},
	})
	return conv, nil
}

// ConvertToCase links the conversation to a case and makes it converted.
// Linking again to the same case is a no-op. The case side of the link is
// written by CaseService, which is the only caller.
func (s *ConversationService) ConvertToCase(ctx context.Context, actor domain.Actor, id, caseID string) (*domain.Conversation, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, apperrors.NewValidationError("case id is required", ids("conversation_id", id))
	}
	current, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "conversation", ids("conversation_id", id))
	}
	if current.LinkedCaseID != nil {
		if *current.LinkedCaseID == caseID {
			return current, nil
		}
		return nil, apperrors.NewConflict("conversation already linked to another case",
			ids("conversation_id", id, "case_id", *current.LinkedCaseID))
	}
	return s.transition(ctx, actor, id, domain.ConversationEventConvert, domain.ActivityConversationConverted,
		map[string]any{"case_id": caseID},
		func(conv *domain.Conversation, _ time.Time) {
			conv.LinkedCaseID = &caseID
			conv.SnoozedUntil = nil
		})
}

// DetachCase unlinks a deleted case and returns the conversation to the inbox.
func (s *ConversationService) DetachCase(ctx context.Context, actor domain.Actor, id, caseID string) (*domain.Conversation, error) {
	current, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "conversation", ids("conversation_id", id))
	}
	if current.LinkedCaseID == nil || *current.LinkedCaseID != caseID {
		return current, nil
	}
	return s.transition(ctx, actor, id, domain.ConversationEventCaseDeleted, domain.ActivityConversationReopened,
		map[string]any{"reason": "case_deleted", "case_id": caseID},
		func(conv *domain.Conversation, _ time.Time) {
			conv.LinkedCaseID = nil
		})
}

// CheckSnoozed reopens every conversation whose snooze has expired and
// returns how many were reopened.
func (s *ConversationService) CheckSnoozed(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.conversations.ListSnoozedDue(ctx, now)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	reopened := 0
	for _, conv := range due {
		if _, ok := domain.NextConversationStatus(conv.Status, domain.ConversationEventSnoozeExpired); !ok {
			continue
		}
		ok, err := s.conversations.ReopenSnoozed(ctx, conv.ID, now)
		if err != nil {
			s.logger.Warn("snooze reopen failed", zap.String("conversation_id", conv.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		reopened++
		observability.SnoozeReopenedTotal.Inc()
		s.activities.Record(ctx, ActivityInput{
			Type:           domain.ActivityConversationReopened,
			ConversationID: conv.ID,
			CustomerID:     derefString(conv.CustomerID),
			Actor:          domain.SystemActor,
			Metadata:       map[string]any{"reason": "snooze_expired", "snoozed_until": conv.SnoozedUntil},
		})
	}
	return reopened, nil
}

func (s *ConversationService) loadEditable(ctx context.Context, conversationID, messageID string) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, repoErr(err, "message", ids("conversation_id", conversationID, "message_id", messageID))
	}
	if msg.ConversationID != conversationID {
		return nil, apperrors.NewNotFound("message", ids("conversation_id", conversationID, "message_id", messageID))
	}
	if msg.Direction != domain.DirectionOutbound || !msg.Status.Editable() {
		return nil, apperrors.NewInvalidTransition("message", msg.Status, "edit",
			ids("conversation_id", conversationID, "message_id", messageID))
	}
	return msg, nil
}

// UpdateMessage edits a draft or pending message. Status may only move
// between draft and pending_approval here.
func (s *ConversationService) UpdateMessage(ctx context.Context, actor domain.Actor, conversationID, messageID string, patch MessagePatch) (*domain.Message, error) {
	msg, err := s.loadEditable(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil && !domain.CanMoveMessage(msg.Status, *patch.Status) {
		return nil, apperrors.NewInvalidTransition("message", msg.Status, *patch.Status,
			ids("conversation_id", conversationID, "message_id", messageID))
	}
	previous := msg.Status
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.ContentHTML != nil {
		msg.ContentHTML = *patch.ContentHTML
	}
	if patch.Attachments != nil {
		msg.Attachments = *patch.Attachments
	}
	if patch.Status != nil {
		msg.Status = *patch.Status
	}
	if strings.TrimSpace(msg.Content) == "" && strings.TrimSpace(msg.ContentHTML) == "" {
		return nil, apperrors.NewValidationError("message content is required", ids("message_id", messageID))
	}
	msg.UpdatedAt = s.now()
	if err := s.messages.UpdateDraft(ctx, msg); err != nil {
		return nil, repoErr(err, "message", ids("conversation_id", conversationID, "message_id", messageID))
	}
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityMessageUpdated,
		ConversationID: conversationID,
		Actor:          actor,
		Metadata: map[string]any{
			"message_id": messageID,
			"from":       string(previous),
			"to":         string(msg.Status),
		},
	})
	return msg, nil
}

// DeleteMessage removes a draft or pending message.
func (s *ConversationService) DeleteMessage(ctx context.Context, actor domain.Actor, conversationID, messageID string) error {
	if _, err := s.loadEditable(ctx, conversationID, messageID); err != nil {
		return err
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return repoErr(err, "message", ids("conversation_id", conversationID, "message_id", messageID))
	}
	if err := s.conversations.AdjustCounts(ctx, conversationID, -1, 0); err != nil {
		return s.consistencyError(conversationID, messageID, "message deleted but conversation count was not updated", err)
	}
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityMessageDeleted,
		ConversationID: conversationID,
		Actor:          actor,
		Metadata:       map[string]any{"message_id": messageID},
	})
	return nil
}

// DeleteConversation removes a conversation and its messages. A linked case
// is left in place; its source reference dangles.
func (s *ConversationService) DeleteConversation(ctx context.Context, actor domain.Actor, id string) error {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return repoErr(err, "conversation", ids("conversation_id", id))
	}
	if err := s.conversations.Delete(ctx, id); err != nil {
		return repoErr(err, "conversation", ids("conversation_id", id))
	}
	s.customers.ApplyStats(ctx, derefString(conv.CustomerID), domain.CustomerStatsDelta{TotalConversations: -1})
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityConversationDeleted,
		ConversationID: id,
		CustomerID:     derefString(conv.CustomerID),
		CaseID:         derefString(conv.LinkedCaseID),
		Actor:          actor,
		Metadata: map[string]any{
			"channel":       string(conv.Channel),
			"message_count": conv.MessageCount,
		},
	})
	return nil
}
