// Package memory is an in-process Store with the same contract as the
// Postgres repositories. It backs tests and local runs without POSTGRES_DSN.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
)

// Store groups the in-memory repositories. All of them share one lock so
// multi-record operations are atomic like their SQL transactions.
type Store struct {
	Customers     repository.CustomerRepository
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Cases         repository.CaseRepository
	Activities    repository.ActivityRepository
	Operators     repository.OperatorRepository

	st *state
}

type state struct {
	mu            sync.Mutex
	customers     map[string]domain.Customer
	conversations map[string]domain.Conversation
	messages      map[string]domain.Message
	cases         map[string]domain.Case
	activities    []domain.Activity
	operators     map[string]domain.Operator
	keys          map[string]string
	caseSeq       int
}

// New returns an empty store.
func New() *Store {
	st := &state{
		customers:     map[string]domain.Customer{},
		conversations: map[string]domain.Conversation{},
		messages:      map[string]domain.Message{},
		cases:         map[string]domain.Case{},
		operators:     map[string]domain.Operator{},
		keys:          map[string]string{},
	}
	return &Store{
		Customers:     &customerRepo{st: st},
		Conversations: &conversationRepo{st: st},
		Messages:      &messageRepo{st: st},
		Cases:         &caseRepo{st: st},
		Activities:    &activityRepo{st: st},
		Operators:     &operatorRepo{st: st},
		st:            st,
	}
}

// CountMessages returns the number of stored messages for a conversation and
// how many of them are unread inbound messages.
func (s *Store) CountMessages(conversationID string) (total, unread int) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, m := range s.st.messages {
		if m.ConversationID != conversationID {
			continue
		}
		total++
		if m.Direction == domain.DirectionInbound && !m.IsRead {
			unread++
		}
	}
	return total, unread
}

// CountConversations returns the number of stored conversations.
func (s *Store) CountConversations() int {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return len(s.st.conversations)
}

// claimKeys must be called with the lock held. Unique keys are checked
// before any key is written so a rejected create leaves no trace.
func (st *state) claimKeys(recordID string, keys repository.NaturalKeys) error {
	for _, key := range keys.Unique {
		if owner, ok := st.keys[key]; ok {
			return &repository.DuplicateKeyError{Key: key, ExistingID: owner}
		}
	}
	for _, key := range keys.Unique {
		st.keys[key] = recordID
	}
	return nil
}

func (st *state) dropKeys(recordIDs map[string]bool) {
	for key, owner := range st.keys {
		if recordIDs[owner] {
			delete(st.keys, key)
		}
	}
}

func page[T any](items []T, limit, offset, def int) []T {
	if limit <= 0 {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func matchesTerm(term *string, fields ...string) bool {
	if term == nil || strings.TrimSpace(*term) == "" {
		return true
	}
	needle := strings.ToLower(strings.TrimSpace(*term))
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func laterOf(current *time.Time, at time.Time) *time.Time {
	if current == nil || at.After(*current) {
		return &at
	}
	return current
}
