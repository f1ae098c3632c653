package memory

import (
	"context"
	"sort"
	"time"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
)

type conversationRepo struct{ st *state }

func cloneConversation(c domain.Conversation) *domain.Conversation {
	c.CustomerID = cloneString(c.CustomerID)
	c.AssignedTo = cloneString(c.AssignedTo)
	c.LinkedCaseID = cloneString(c.LinkedCaseID)
	c.Tags = cloneSlice(c.Tags)
	if c.SourceRef != nil {
		ref := *c.SourceRef
		c.SourceRef = &ref
	}
	c.SnoozedUntil = cloneTime(c.SnoozedUntil)
	c.LastInboundAt = cloneTime(c.LastInboundAt)
	c.LastMessageAt = cloneTime(c.LastMessageAt)
	c.ClosedAt = cloneTime(c.ClosedAt)
	return &c
}

func (r *conversationRepo) Create(_ context.Context, conv *domain.Conversation, keys repository.NaturalKeys) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err := r.st.claimKeys(conv.ID, keys); err != nil {
		return err
	}
	stored := *cloneConversation(*conv)
	stored.MessageCount = 0
	stored.UnreadCount = 0
	r.st.conversations[conv.ID] = stored
	return nil
}

func (r *conversationRepo) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	conv, ok := r.st.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (r *conversationRepo) LookupKey(_ context.Context, key string) (string, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	id, ok := r.st.keys[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return id, nil
}

func (r *conversationRepo) List(_ context.Context, filter repository.ConversationFilter) ([]domain.Conversation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var result []domain.Conversation
	for _, conv := range r.st.conversations {
		if !matchesConversation(conv, filter) {
			continue
		}
		result = append(result, *cloneConversation(conv))
	}
	sort.Slice(result, func(i, j int) bool {
		return activityTime(result[i]).After(activityTime(result[j]))
	})
	return page(result, filter.Limit, filter.Offset, 20), nil
}

func activityTime(c domain.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func matchesConversation(conv domain.Conversation, filter repository.ConversationFilter) bool {
	if filter.CustomerID != nil && (conv.CustomerID == nil || *conv.CustomerID != *filter.CustomerID) {
		return false
	}
	if filter.AssignedTo != nil && (conv.AssignedTo == nil || *conv.AssignedTo != *filter.AssignedTo) {
		return false
	}
	if len(filter.Statuses) > 0 && !contains(filter.Statuses, conv.Status) {
		return false
	}
	if len(filter.Channels) > 0 && !contains(filter.Channels, conv.Channel) {
		return false
	}
	if filter.ReplyStatus != nil && conv.ReplyStatus != *filter.ReplyStatus {
		return false
	}
	if filter.Tag != nil && !contains(conv.Tags, *filter.Tag) {
		return false
	}
	if filter.UnreadOnly && conv.UnreadCount == 0 {
		return false
	}
	return matchesTerm(filter.SearchTerm, conv.Subject, conv.Preview, conv.Sender.Email, conv.Sender.Name)
}

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

func (r *conversationRepo) Update(_ context.Context, conv *domain.Conversation, expected domain.ConversationStatus) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	stored, ok := r.st.conversations[conv.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != expected {
		return repository.ErrVersionConflict
	}
	next := *cloneConversation(*conv)
	next.MessageCount = stored.MessageCount
	next.UnreadCount = stored.UnreadCount
	next.Preview = stored.Preview
	next.LastMessageAt = stored.LastMessageAt
	next.LastInboundAt = stored.LastInboundAt
	next.Sender = stored.Sender
	next.Channel = stored.Channel
	next.SourceRef = stored.SourceRef
	next.CreatedAt = stored.CreatedAt
	next.ReplyStatus = stored.ReplyStatus
	next.ChannelMeta = stored.ChannelMeta
	r.st.conversations[conv.ID] = next
	return nil
}

func (r *conversationRepo) RecordMessage(_ context.Context, id string, applied repository.MessageApplied) (*domain.Conversation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	conv, ok := r.st.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	conv.MessageCount += applied.MessageDelta
	conv.UnreadCount = r.st.unreadFor(id)
	if applied.Status != nil && conv.Status != domain.ConversationStatusConverted {
		conv.Status = *applied.Status
		if conv.Status != domain.ConversationStatusClosed {
			conv.ClosedAt = nil
		}
		if conv.Status != domain.ConversationStatusSnoozed {
			conv.SnoozedUntil = nil
		}
	}
	if applied.ReplyStatus != nil {
		conv.ReplyStatus = *applied.ReplyStatus
	}
	if applied.Preview != nil {
		conv.Preview = *applied.Preview
	}
	conv.LastMessageAt = laterOf(conv.LastMessageAt, applied.At)
	if applied.Inbound {
		conv.LastInboundAt = laterOf(conv.LastInboundAt, applied.At)
	}
	if applied.ThreadID != "" && conv.ChannelMeta.EmailThreadID == "" {
		conv.ChannelMeta.EmailThreadID = applied.ThreadID
	}
	conv.UpdatedAt = applied.At
	r.st.conversations[id] = conv
	return cloneConversation(conv), nil
}

func (r *conversationRepo) AdjustCounts(_ context.Context, id string, messageDelta, unreadDelta int) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	conv, ok := r.st.conversations[id]
	if !ok {
		return repository.ErrNotFound
	}
	conv.MessageCount = max(conv.MessageCount+messageDelta, 0)
	conv.UnreadCount = max(conv.UnreadCount+unreadDelta, 0)
	r.st.conversations[id] = conv
	return nil
}

func (r *conversationRepo) MarkRead(_ context.Context, id string, at time.Time) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	conv, ok := r.st.conversations[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	marked := 0
	for msgID, msg := range r.st.messages {
		if msg.ConversationID != id || msg.Direction != domain.DirectionInbound || msg.IsRead {
			continue
		}
		msg.IsRead = true
		msg.ReadAt = cloneTime(&at)
		r.st.messages[msgID] = msg
		marked++
	}
	conv.UnreadCount = r.st.unreadFor(id)
	conv.UpdatedAt = at
	r.st.conversations[id] = conv
	return marked, nil
}

func (r *conversationRepo) ListSnoozedDue(_ context.Context, now time.Time) ([]domain.Conversation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var result []domain.Conversation
	for _, conv := range r.st.conversations {
		if snoozedDue(conv, now) {
			result = append(result, *cloneConversation(conv))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SnoozedUntil.Before(*result[j].SnoozedUntil) })
	return result, nil
}

func snoozedDue(conv domain.Conversation, now time.Time) bool {
	return conv.Status == domain.ConversationStatusSnoozed && conv.SnoozedUntil != nil && !conv.SnoozedUntil.After(now)
}

func (r *conversationRepo) ReopenSnoozed(_ context.Context, id string, now time.Time) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	conv, ok := r.st.conversations[id]
	if !ok || !snoozedDue(conv, now) {
		return false, nil
	}
	conv.Status = domain.ConversationStatusOpen
	conv.SnoozedUntil = nil
	conv.UpdatedAt = now
	r.st.conversations[id] = conv
	return true, nil
}

func (r *conversationRepo) Delete(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.conversations[id]; !ok {
		return repository.ErrNotFound
	}
	owned := map[string]bool{id: true}
	for msgID, msg := range r.st.messages {
		if msg.ConversationID == id {
			owned[msgID] = true
			delete(r.st.messages, msgID)
		}
	}
	r.st.dropKeys(owned)
	delete(r.st.conversations, id)
	return nil
}

// unreadFor must be called with the lock held.
func (st *state) unreadFor(conversationID string) int {
	unread := 0
	for _, msg := range st.messages {
		if msg.ConversationID == conversationID && msg.Direction == domain.DirectionInbound && !msg.IsRead {
			unread++
		}
	}
	return unread
}
