package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
)

type caseRepo struct{ st *state }

func cloneCase(c domain.Case) *domain.Case {
	c.SourceConversationID = cloneString(c.SourceConversationID)
	c.AssignedTo = cloneString(c.AssignedTo)
	if c.HoldFromStatus != nil {
		hold := *c.HoldFromStatus
		c.HoldFromStatus = &hold
	}
	c.Tags = cloneSlice(c.Tags)
	c.Products = cloneSlice(c.Products)
	c.Quotes = cloneSlice(c.Quotes)
	for i := range c.Quotes {
		c.Quotes[i].ValidUntil = cloneTime(c.Quotes[i].ValidUntil)
	}
	c.StatusHistory = cloneSlice(c.StatusHistory)
	c.ExpectedCloseDate = cloneTime(c.ExpectedCloseDate)
	c.ActualCloseDate = cloneTime(c.ActualCloseDate)
	c.ClosedAt = cloneTime(c.ClosedAt)
	return &c
}

func (r *caseRepo) Create(_ context.Context, c *domain.Case) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if c.CaseNumber == "" {
		r.st.caseSeq++
		c.CaseNumber = fmt.Sprintf("CASE-%06d", r.st.caseSeq)
	}
	c.Version = 1
	r.st.cases[c.ID] = *cloneCase(*c)
	return nil
}

func (r *caseRepo) GetByID(_ context.Context, id string) (*domain.Case, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCase(c), nil
}

func (r *caseRepo) List(_ context.Context, filter repository.CaseFilter) ([]domain.Case, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var result []domain.Case
	for _, c := range r.st.cases {
		if matchesCase(c, filter) {
			result = append(result, *cloneCase(c))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	if filter.NoLimit {
		return result, nil
	}
	return page(result, filter.Limit, filter.Offset, 50), nil
}

func matchesCase(c domain.Case, filter repository.CaseFilter) bool {
	if filter.CustomerID != nil && c.CustomerID != *filter.CustomerID {
		return false
	}
	if filter.SourceConversationID != nil && (c.SourceConversationID == nil || *c.SourceConversationID != *filter.SourceConversationID) {
		return false
	}
	if filter.AssignedTo != nil && (c.AssignedTo == nil || *c.AssignedTo != *filter.AssignedTo) {
		return false
	}
	if len(filter.Statuses) > 0 && !contains(filter.Statuses, c.Status) {
		return false
	}
	if filter.Type != nil && c.Type != *filter.Type {
		return false
	}
	if filter.Priority != nil && c.Priority != *filter.Priority {
		return false
	}
	if filter.CreatedFrom != nil && c.CreatedAt.Before(*filter.CreatedFrom) {
		return false
	}
	if filter.CreatedTo != nil && !c.CreatedAt.Before(*filter.CreatedTo) {
		return false
	}
	return matchesTerm(filter.SearchTerm, c.Title, c.Description, c.CaseNumber)
}

func (r *caseRepo) Update(_ context.Context, c *domain.Case, history []domain.StatusHistoryEntry) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	stored, ok := r.st.cases[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != c.Version {
		return repository.ErrVersionConflict
	}
	next := *cloneCase(*c)
	next.CaseNumber = stored.CaseNumber
	next.CreatedAt = stored.CreatedAt
	next.CreatedBy = stored.CreatedBy
	next.StatusHistory = append(cloneSlice(stored.StatusHistory), history...)
	next.Version = stored.Version + 1
	r.st.cases[c.ID] = next

	c.StatusHistory = cloneSlice(next.StatusHistory)
	c.Version = next.Version
	return nil
}

func (r *caseRepo) Delete(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.cases[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.st.cases, id)
	return nil
}
