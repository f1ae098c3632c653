package memory

import (
	"context"
	"sort"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
)

type messageRepo struct{ st *state }

func cloneMessage(m domain.Message) *domain.Message {
	m.Attachments = cloneSlice(m.Attachments)
	m.SentChannels = cloneSlice(m.SentChannels)
	m.SendErrors = cloneSlice(m.SendErrors)
	m.ReadAt = cloneTime(m.ReadAt)
	m.SentAt = cloneTime(m.SentAt)
	m.SentBy = cloneString(m.SentBy)
	m.CreatedBy = cloneString(m.CreatedBy)
	return &m
}

func (r *messageRepo) Create(_ context.Context, msg *domain.Message, keys repository.NaturalKeys) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.conversations[msg.ConversationID]; !ok {
		return repository.ErrNotFound
	}
	if err := r.st.claimKeys(msg.ID, keys); err != nil {
		return err
	}
	r.st.messages[msg.ID] = *cloneMessage(*msg)
	return nil
}

func (r *messageRepo) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	msg, ok := r.st.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (r *messageRepo) ListByConversation(_ context.Context, conversationID string) ([]domain.Message, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var result []domain.Message
	for _, msg := range r.st.messages {
		if msg.ConversationID == conversationID {
			result = append(result, *cloneMessage(msg))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// editable must be called with the lock held.
func (r *messageRepo) editable(id string) (domain.Message, error) {
	msg, ok := r.st.messages[id]
	if !ok {
		return domain.Message{}, repository.ErrNotFound
	}
	if msg.Direction != domain.DirectionOutbound || !msg.Status.Editable() {
		return domain.Message{}, repository.ErrNotEditable
	}
	return msg, nil
}

func (r *messageRepo) UpdateDraft(_ context.Context, msg *domain.Message) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	stored, err := r.editable(msg.ID)
	if err != nil {
		return err
	}
	stored.Content = msg.Content
	stored.ContentHTML = msg.ContentHTML
	stored.Status = msg.Status
	stored.Attachments = cloneSlice(msg.Attachments)
	stored.UpdatedAt = msg.UpdatedAt
	r.st.messages[msg.ID] = stored
	return nil
}

func (r *messageRepo) MarkSent(_ context.Context, id string, outcome domain.SendOutcome) (*domain.Message, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	stored, err := r.editable(id)
	if err != nil {
		return nil, err
	}
	sentAt := outcome.SentAt
	stored.Status = domain.MessageStatusSent
	stored.SentChannels = cloneSlice(outcome.SentChannels)
	stored.SendErrors = cloneSlice(outcome.SendErrors)
	stored.Delivery = outcome.Delivery
	stored.SentAt = &sentAt
	stored.SentBy = cloneString(outcome.SentBy)
	stored.UpdatedAt = sentAt
	r.st.messages[id] = stored
	return cloneMessage(stored), nil
}

func (r *messageRepo) Delete(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, err := r.editable(id); err != nil {
		return err
	}
	delete(r.st.messages, id)
	r.st.dropKeys(map[string]bool{id: true})
	return nil
}
