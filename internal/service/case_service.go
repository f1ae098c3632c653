package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/observability"
	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// CaseInput describes a new case.
type CaseInput struct {
	CustomerID        string
	Title             string
	Description       string
	Type              domain.CaseType
	Priority          domain.CasePriority
	AssignedTo        *string
	Tags              []string
	Financials        domain.Financials
	Products          []domain.CaseProduct
	ExpectedCloseDate *time.Time
	Note              string

	sourceConversationID *string
}

// CasePatch is a partial update. Status changes go through the pipeline
// rules and append to the status history.
type CasePatch struct {
	Title             *string
	Description       *string
	Type              *domain.CaseType
	Priority          *domain.CasePriority
	AssignedTo        *string
	Tags              *[]string
	EstimatedValue    *float64
	FinalValue        *float64
	Currency          *string
	Products          *[]domain.CaseProduct
	ExpectedCloseDate *time.Time
	Status            *domain.CaseStatus
	Note              string
}

// QuoteInput describes a quote to append to a case.
type QuoteInput struct {
	Amount     float64
	Currency   string
	ValidUntil *time.Time
	Status     domain.QuoteStatus
	Notes      string
}

// QuotePatch is a partial quote update.
type QuotePatch struct {
	Amount     *float64
	Currency   *string
	ValidUntil *time.Time
	Status     *domain.QuoteStatus
	Notes      *string
}

// PipelineFilter narrows the board view.
type PipelineFilter struct {
	CustomerID    *string
	AssignedTo    *string
	Type          *domain.CaseType
	Priority      *domain.CasePriority
	SearchTerm    *string
	IncludeClosed bool
}

// PipelineColumn is one stage of the board.
type PipelineColumn struct {
	Status     domain.CaseStatus `json:"status"`
	Count      int               `json:"count"`
	TotalValue float64           `json:"total_value"`
	Cases      []domain.Case     `json:"cases"`
}

// StatisticsFilter narrows the aggregate view.
type StatisticsFilter struct {
	CustomerID  *string
	AssignedTo  *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// CaseStatistics aggregates the pipeline.
type CaseStatistics struct {
	Total          int                       `json:"total"`
	ByStatus       map[domain.CaseStatus]int `json:"by_status"`
	ByType         map[domain.CaseType]int   `json:"by_type"`
	TotalValue     float64                   `json:"total_value"`
	WonValue       float64                   `json:"won_value"`
	LostValue      float64                   `json:"lost_value"`
	PipelineValue  float64                   `json:"pipeline_value"`
	ConversionRate float64                   `json:"conversion_rate"`
	AverageWonDeal float64                   `json:"average_won_deal"`
}

// CaseService runs the sales pipeline.
type CaseService struct {
	cases         repository.CaseRepository
	conversations *ConversationService
	customers     *CustomerResolver
	activities    *ActivityRecorder
	logger        *zap.Logger
	now           Clock
}

// CaseDependencies bundles collaborators for the case service.
type CaseDependencies struct {
	CaseRepo      repository.CaseRepository
	Conversations *ConversationService
	Customers     *CustomerResolver
	Activities    *ActivityRecorder
	Logger        *zap.Logger
	Clock         Clock
}

// NewCaseService constructs the service.
func NewCaseService(deps CaseDependencies) *CaseService {
	return &CaseService{
		cases:         deps.CaseRepo,
		conversations: deps.Conversations,
		customers:     deps.Customers,
		activities:    deps.Activities,
		logger:        loggerOrNop(deps.Logger),
		now:           clockOrNow(deps.Clock),
	}
}

func validCaseType(t domain.CaseType) bool {
	switch t {
	case domain.CaseTypeInquiry, domain.CaseTypeQuoteRequest, domain.CaseTypeSample,
		domain.CaseTypePrivateLabel, domain.CaseTypeCustomFormula, domain.CaseTypeOther:
		return true
	}
	return false
}

func validPriority(p domain.CasePriority) bool {
	switch p {
	case domain.CasePriorityLow, domain.CasePriorityMedium, domain.CasePriorityHigh, domain.CasePriorityUrgent:
		return true
	}
	return false
}

// CreateCase opens a case in the new stage for an existing customer.
func (s *CaseService) CreateCase(ctx context.Context, actor domain.Actor, in CaseInput) (*domain.Case, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, apperrors.NewValidationError("case title is required", nil)
	}
	if in.Type == "" {
		in.Type = domain.CaseTypeInquiry
	}
	if in.Priority == "" {
		in.Priority = domain.CasePriorityMedium
	}
	if !validCaseType(in.Type) || !validPriority(in.Priority) {
		return nil, apperrors.NewValidationError("invalid case type or priority",
			map[string]any{"type": in.Type, "priority": in.Priority})
	}
	if in.Financials.EstimatedValue < 0 {
		return nil, apperrors.NewValidationError("estimated value cannot be negative", nil)
	}
	if _, err := s.customers.Get(ctx, in.CustomerID); err != nil {
		return nil, err
	}

	now := s.now()
	if in.Financials.Currency == "" {
		in.Financials.Currency = "USD"
	}
	c := &domain.Case{
		ID:                   uuid.NewString(),
		CustomerID:           in.CustomerID,
		SourceConversationID: in.sourceConversationID,
		Title:                in.Title,
		Description:          strings.TrimSpace(in.Description),
		Type:                 in.Type,
		Status:               domain.CaseStatusNew,
		Priority:             in.Priority,
		AssignedTo:           in.AssignedTo,
		Tags:                 in.Tags,
		Financials:           domain.Financials{EstimatedValue: in.Financials.EstimatedValue, Currency: in.Financials.Currency},
		Products:             in.Products,
		ExpectedCloseDate:    in.ExpectedCloseDate,
		CreatedBy:            actor.String(),
		CreatedAt:            now,
		UpdatedAt:            now,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status:    domain.CaseStatusNew,
			ChangedBy: actor.String(),
			ChangedAt: now,
			Note:      firstNonEmpty(in.Note, "case created"),
		}},
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.customers.ApplyStats(ctx, c.CustomerID, c.StatsContribution())
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityCaseCreated,
		CaseID:         c.ID,
		CustomerID:     c.CustomerID,
		ConversationID: derefString(c.SourceConversationID),
		Actor:          actor,
		Metadata: map[string]any{
			"case_number": c.CaseNumber,
			"title":       c.Title,
			"type":        string(c.Type),
		},
	})
	s.logger.Info("case created", zap.String("case_id", c.ID), zap.String("case_number", c.CaseNumber))
	return c, nil
}

// CreateCaseFromConversation opens a case for the conversation's customer,
// records where it came from and links the conversation to it. The case is
// removed again if the conversation cannot be linked.
func (s *CaseService) CreateCaseFromConversation(ctx context.Context, actor domain.Actor, conversationID string, in CaseInput) (*domain.Case, *domain.Conversation, error) {
	conv, _, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv.LinkedCaseID != nil {
		return nil, nil, apperrors.NewConflict("conversation already linked to a case",
			ids("conversation_id", conv.ID, "case_id", *conv.LinkedCaseID))
	}

	if in.CustomerID == "" {
		in.CustomerID = derefString(conv.CustomerID)
	}
	if in.CustomerID == "" {
		customerID, err := s.customers.Resolve(ctx, ResolveInput{
			Email:        conv.Sender.Email,
			Phone:        conv.Sender.Phone,
			FallbackName: conv.Sender.Name,
			Company:      conv.Sender.Company,
			AutoCreate:   true,
		})
		if err != nil {
			return nil, nil, err
		}
		in.CustomerID = derefString(customerID)
	}
	if in.CustomerID == "" {
		return nil, nil, apperrors.NewValidationError("conversation has no identifiable customer",
			ids("conversation_id", conv.ID))
	}
	if strings.TrimSpace(in.Title) == "" {
		in.Title = firstNonEmpty(conv.Subject, "Case from "+string(conv.Channel))
	}
	if in.Type == "" && conv.Channel == domain.ChannelQuoteForm {
		in.Type = domain.CaseTypeQuoteRequest
	}
	in.Description = traceability(conv, in.Description)
	in.sourceConversationID = &conv.ID
	if in.Note == "" {
		in.Note = "created from conversation"
	}

	c, err := s.CreateCase(ctx, actor, in)
	if err != nil {
		return nil, nil, err
	}
	linked, err := s.conversations.ConvertToCase(ctx, actor, conv.ID, c.ID)
	if err != nil {
		s.logger.Warn("conversation link failed, removing case",
			zap.String("case_id", c.ID),
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		if delErr := s.cases.Delete(ctx, c.ID); delErr != nil {
			s.logger.Error("case compensation failed", zap.String("case_id", c.ID), zap.Error(delErr))
		} else {
			s.customers.ApplyStats(ctx, c.CustomerID, domain.CustomerStatsDelta{}.Sub(c.StatsContribution()))
		}
		return nil, nil, err
	}
	return c, linked, nil
}

// LinkConversation makes an existing conversation the source of an existing
// case and converts the conversation. A case has at most one source
// conversation; linking the same pair again is a no-op. The case link is
// rolled back when the conversation cannot be converted.
func (s *CaseService) LinkConversation(ctx context.Context, actor domain.Actor, caseID, conversationID string) (*domain.Case, *domain.Conversation, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, nil, apperrors.NewValidationError("case id is required", ids("conversation_id", conversationID))
	}
	conv, _, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv.LinkedCaseID != nil && *conv.LinkedCaseID != caseID {
		return nil, nil, apperrors.NewConflict("conversation already linked to another case",
			ids("conversation_id", conv.ID, "case_id", *conv.LinkedCaseID))
	}

	attached := false
	change, err := s.mutate(ctx, actor, caseID, func(c *domain.Case, _ time.Time) (*domain.StatusHistoryEntry, error) {
		attached = false
		if c.SourceConversationID != nil {
			if *c.SourceConversationID != conv.ID {
				return nil, apperrors.NewConflict("case already has a source conversation",
					ids("case_id", c.ID, "conversation_id", *c.SourceConversationID))
			}
			return nil, nil
		}
		source := conv.ID
		c.SourceConversationID = &source
		attached = true
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}

	linked, err := s.conversations.ConvertToCase(ctx, actor, conv.ID, caseID)
	if err != nil {
		if attached {
			s.logger.Warn("conversation link failed, clearing case source",
				zap.String("case_id", caseID),
				zap.String("conversation_id", conv.ID),
				zap.Error(err))
			_, undoErr := s.mutate(ctx, actor, caseID, func(c *domain.Case, _ time.Time) (*domain.StatusHistoryEntry, error) {
				if c.SourceConversationID != nil && *c.SourceConversationID == conv.ID {
					c.SourceConversationID = nil
				}
				return nil, nil
			})
			if undoErr != nil {
				s.logger.Error("case source rollback failed", zap.String("case_id", caseID), zap.Error(undoErr))
			}
		}
		return nil, nil, err
	}

	if attached {
		s.activities.Record(ctx, ActivityInput{
			Type:           domain.ActivityCaseUpdated,
			CaseID:         change.c.ID,
			CustomerID:     change.c.CustomerID,
			ConversationID: conv.ID,
			Actor:          actor,
			Metadata:       map[string]any{"fields": []string{"source_conversation_id"}},
		})
	}
	return change.c, linked, nil
}

func traceability(conv *domain.Conversation, description string) string {
	var b strings.Builder
	if d := strings.TrimSpace(description); d != "" {
		b.WriteString(d)
		b.WriteString("\n\n")
	}
	b.WriteString("Source conversation: ")
	b.WriteString(conv.ID)
	fmt.Fprintf(&b, "\nChannel: %s", conv.Channel)
	sender := firstNonEmpty(conv.Sender.Name, conv.Sender.Email, conv.Sender.Phone)
	if sender != "" {
		fmt.Fprintf(&b, "\nFrom: %s", sender)
		if conv.Sender.Email != "" && conv.Sender.Email != sender {
			fmt.Fprintf(&b, " <%s>", conv.Sender.Email)
		}
	}
	if conv.Subject != "" {
		fmt.Fprintf(&b, "\nSubject: %s", conv.Subject)
	}
	return b.String()
}

// GetCase returns one case.
func (s *CaseService) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "case", ids("case_id", id))
	}
	return c, nil
}

// ListCases returns cases matching the filter.
func (s *CaseService) ListCases(ctx context.Context, filter repository.CaseFilter) ([]domain.Case, error) {
	cases, err := s.cases.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return cases, nil
}

type caseChange struct {
	c          *domain.Case
	from       domain.CaseStatus
	transition *domain.StatusHistoryEntry
}

// mutate applies fn to a fresh copy of the case and writes it with the
// optimistic version check, retrying on conflicts. Customer aggregates are
// adjusted by the difference the change made.
func (s *CaseService) mutate(ctx context.Context, actor domain.Actor, id string, fn func(c *domain.Case, now time.Time) (*domain.StatusHistoryEntry, error)) (*caseChange, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		c, err := s.cases.GetByID(ctx, id)
		if err != nil {
			return nil, repoErr(err, "case", ids("case_id", id))
		}
		before := c.StatsContribution()
		from := c.Status
		now := s.now()
		entry, err := fn(c, now)
		if err != nil {
			return nil, err
		}
		c.UpdatedAt = now
		var history []domain.StatusHistoryEntry
		if entry != nil {
			history = append(history, *entry)
		}
		err = s.cases.Update(ctx, c, history)
		if errors.Is(err, repository.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, repoErr(err, "case", ids("case_id", id))
		}

		s.customers.ApplyStats(ctx, c.CustomerID, c.StatsContribution().Sub(before))
		if entry != nil {
			observability.RecordCaseTransition(string(from), string(c.Status))
			s.activities.Record(ctx, ActivityInput{
				Type:           domain.ActivityCaseStatusChanged,
				CaseID:         c.ID,
				CustomerID:     c.CustomerID,
				ConversationID: derefString(c.SourceConversationID),
				Actor:          actor,
				Metadata: map[string]any{
					"from": string(from),
					"to":   string(c.Status),
					"note": entry.Note,
				},
			})
		}
		return &caseChange{c: c, from: from, transition: entry}, nil
	}
	return nil, repoErr(lastErr, "case", ids("case_id", id))
}

// applyStatus moves c to status and returns the history entry to append.
func applyStatus(c *domain.Case, to domain.CaseStatus, actor domain.Actor, note string, now time.Time) *domain.StatusHistoryEntry {
	from := c.Status
	switch {
	case to == domain.CaseStatusOnHold:
		held := from
		c.HoldFromStatus = &held
	case from == domain.CaseStatusOnHold:
		c.HoldFromStatus = nil
	}
	if to.IsClosed() {
		c.ClosedAt = &now
		c.ActualCloseDate = &now
		if to == domain.CaseStatusWon && c.Financials.FinalValue == 0 {
			c.Financials.FinalValue = c.Financials.QuotedValue
		}
	} else if from.IsClosed() {
		c.ClosedAt = nil
		c.ActualCloseDate = nil
	}
	c.Status = to
	return &domain.StatusHistoryEntry{
		Status:         to,
		PreviousStatus: from,
		ChangedBy:      actor.String(),
		ChangedAt:      now,
		Note:           note,
	}
}

// advance applies the automatic pipeline move for a quote event, if any.
func advance(c *domain.Case, event domain.PipelineEvent, quoteID string, actor domain.Actor, now time.Time) *domain.StatusHistoryEntry {
	next, ok := domain.NextCaseStatus(c.Status, event)
	if !ok || next == c.Status {
		return nil
	}
	return applyStatus(c, next, actor, fmt.Sprintf("automatic: %s (quote %s)", event, quoteID), now)
}

func closedCaseError(c *domain.Case, action string) error {
	return apperrors.NewInvalidTransition("case", c.Status, action, ids("case_id", c.ID))
}

// UpdateCase patches a case. A closed case can only be changed by an admin.
func (s *CaseService) UpdateCase(ctx context.Context, actor domain.Actor, id string, patch CasePatch) (*domain.Case, error) {
	change, err := s.mutate(ctx, actor, id, func(c *domain.Case, now time.Time) (*domain.StatusHistoryEntry, error) {
		if c.Status.IsClosed() && !actor.IsAdmin() {
			return nil, closedCaseError(c, "update")
		}
		if err := applyCasePatch(c, patch); err != nil {
			return nil, err
		}
		if patch.Status == nil || *patch.Status == c.Status {
			return nil, nil
		}
		to := *patch.Status
		if !to.Valid() {
			return nil, apperrors.NewValidationError("unknown case status", map[string]any{"status": to})
		}
		allowed := domain.CanTransitionCase(c.Status, to, c.HoldFromStatus)
		if !allowed && c.Status.IsClosed() && actor.IsAdmin() {
			// Admin correction of a closed case.
			allowed = true
		}
		if !allowed {
			return nil, apperrors.NewInvalidTransition("case", c.Status, to, ids("case_id", c.ID))
		}
		return applyStatus(c, to, actor, patch.Note, now), nil
	})
	if err != nil {
		return nil, err
	}
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityCaseUpdated,
		CaseID:         change.c.ID,
		CustomerID:     change.c.CustomerID,
		ConversationID: derefString(change.c.SourceConversationID),
		Actor:          actor,
		Metadata:       map[string]any{"fields": patch.fields()},
	})
	return change.c, nil
}

func (p CasePatch) fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Title != nil, "title")
	add(p.Description != nil, "description")
	add(p.Type != nil, "type")
	add(p.Priority != nil, "priority")
	add(p.AssignedTo != nil, "assigned_to")
	add(p.Tags != nil, "tags")
	add(p.EstimatedValue != nil, "estimated_value")
	add(p.FinalValue != nil, "final_value")
	add(p.Currency != nil, "currency")
	add(p.Products != nil, "products")
	add(p.ExpectedCloseDate != nil, "expected_close_date")
	add(p.Status != nil, "status")
	return out
}

func applyCasePatch(c *domain.Case, p CasePatch) error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return apperrors.NewValidationError("case title is required", ids("case_id", c.ID))
		}
		c.Title = title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Type != nil {
		if !validCaseType(*p.Type) {
			return apperrors.NewValidationError("unknown case type", map[string]any{"type": *p.Type})
		}
		c.Type = *p.Type
	}
	if p.Priority != nil {
		if !validPriority(*p.Priority) {
			return apperrors.NewValidationError("unknown case priority", map[string]any{"priority": *p.Priority})
		}
		c.Priority = *p.Priority
	}
	if p.AssignedTo != nil {
		c.AssignedTo = strPtr(strings.TrimSpace(*p.AssignedTo))
	}
	if p.Tags != nil {
		c.Tags = *p.Tags
	}
	if p.EstimatedValue != nil {
		if *p.EstimatedValue < 0 {
			return apperrors.NewValidationError("estimated value cannot be negative", ids("case_id", c.ID))
		}
		c.Financials.EstimatedValue = *p.EstimatedValue
	}
	if p.FinalValue != nil {
		if *p.FinalValue < 0 {
			return apperrors.NewValidationError("final value cannot be negative", ids("case_id", c.ID))
		}
		c.Financials.FinalValue = *p.FinalValue
	}
	if p.Currency != nil {
		c.Financials.Currency = strings.ToUpper(strings.TrimSpace(*p.Currency))
	}
	if p.Products != nil {
		c.Products = *p.Products
	}
	if p.ExpectedCloseDate != nil {
		c.ExpectedCloseDate = p.ExpectedCloseDate
	}
	return nil
}

// AddQuoteToCase appends a quote, recomputes the quoted value and applies
// the automatic pipeline move for the quote's status.
func (s *CaseService) AddQuoteToCase(ctx context.Context, actor domain.Actor, caseID string, in QuoteInput) (*domain.Case, *domain.Quote, error) {
	if in.Status == "" {
		in.Status = domain.QuoteStatusDraft
	}
	if !in.Status.Valid() {
		return nil, nil, apperrors.NewValidationError("unknown quote status", map[string]any{"status": in.Status})
	}
	if in.Amount < 0 {
		return nil, nil, apperrors.NewValidationError("quote amount cannot be negative", ids("case_id", caseID))
	}

	var quote domain.Quote
	change, err := s.mutate(ctx, actor, caseID, func(c *domain.Case, now time.Time) (*domain.StatusHistoryEntry, error) {
		if c.Status.IsClosed() {
			return nil, closedCaseError(c, "add_quote")
		}
		quote = domain.Quote{
			ID:         uuid.NewString(),
			Amount:     in.Amount,
			Currency:   firstNonEmpty(strings.ToUpper(strings.TrimSpace(in.Currency)), c.Financials.Currency),
			ValidUntil: in.ValidUntil,
			Status:     in.Status,
			Notes:      in.Notes,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		c.Quotes = append(c.Quotes, quote)
		c.RecomputeQuotedValue()
		return s.quoteEvent(c, quote, actor, now), nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.recordQuote(ctx, actor, domain.ActivityQuoteAdded, change.c, quote)
	return change.c, &quote, nil
}

// quoteEvent applies the side effects of a quote entering its status.
func (s *CaseService) quoteEvent(c *domain.Case, quote domain.Quote, actor domain.Actor, now time.Time) *domain.StatusHistoryEntry {
	event, ok := domain.PipelineEventForQuote(quote.Status)
	if !ok {
		return nil
	}
	if event == domain.PipelineEventQuoteAccepted {
		c.Financials.FinalValue = quote.Amount
	}
	return advance(c, event, quote.ID, actor, now)
}

// UpdateCaseQuote patches a quote. Moving it to sent or accepted may advance
// the case; rejection is recorded without moving it.
func (s *CaseService) UpdateCaseQuote(ctx context.Context, actor domain.Actor, caseID, quoteID string, patch QuotePatch) (*domain.Case, *domain.Quote, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, nil, apperrors.NewValidationError("unknown quote status", map[string]any{"status": *patch.Status})
	}
	if patch.Amount != nil && *patch.Amount < 0 {
		return nil, nil, apperrors.NewValidationError("quote amount cannot be negative", ids("case_id", caseID, "quote_id", quoteID))
	}

	var (
		quote         domain.Quote
		statusChanged bool
	)
	change, err := s.mutate(ctx, actor, caseID, func(c *domain.Case, now time.Time) (*domain.StatusHistoryEntry, error) {
		idx := c.FindQuote(quoteID)
		if idx < 0 {
			return nil, apperrors.NewNotFound("quote", ids("case_id", caseID, "quote_id", quoteID))
		}
		if c.Status.IsClosed() && !actor.IsAdmin() {
			return nil, closedCaseError(c, "update_quote")
		}
		q := &c.Quotes[idx]
		if patch.Amount != nil {
			q.Amount = *patch.Amount
		}
		if patch.Currency != nil {
			q.Currency = strings.ToUpper(strings.TrimSpace(*patch.Currency))
		}
		if patch.ValidUntil != nil {
			q.ValidUntil = patch.ValidUntil
		}
		if patch.Notes != nil {
			q.Notes = *patch.Notes
		}
		statusChanged = patch.Status != nil && *patch.Status != q.Status
		if statusChanged {
			q.Status = *patch.Status
		}
		q.UpdatedAt = now
		quote = *q
		c.RecomputeQuotedValue()
		if !statusChanged || quote.Status == domain.QuoteStatusRejected {
			return nil, nil
		}
		return s.quoteEvent(c, quote, actor, now), nil
	})
	if err != nil {
		return nil, nil, err
	}
	activity := domain.ActivityQuoteUpdated
	if statusChanged && quote.Status == domain.QuoteStatusRejected {
		activity = domain.ActivityQuoteRejected
	}
	s.recordQuote(ctx, actor, activity, change.c, quote)
	return change.c, &quote, nil
}

// DeleteQuoteFromCase removes a quote and recomputes the quoted value.
func (s *CaseService) DeleteQuoteFromCase(ctx context.Context, actor domain.Actor, caseID, quoteID string) (*domain.Case, error) {
	var removed domain.Quote
	change, err := s.mutate(ctx, actor, caseID, func(c *domain.Case, _ time.Time) (*domain.StatusHistoryEntry, error) {
		idx := c.FindQuote(quoteID)
		if idx < 0 {
			return nil, apperrors.NewNotFound("quote", ids("case_id", caseID, "quote_id", quoteID))
		}
		if c.Status.IsClosed() && !actor.IsAdmin() {
			return nil, closedCaseError(c, "delete_quote")
		}
		removed = c.Quotes[idx]
		c.Quotes = append(c.Quotes[:idx], c.Quotes[idx+1:]...)
		c.RecomputeQuotedValue()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.recordQuote(ctx, actor, domain.ActivityQuoteDeleted, change.c, removed)
	return change.c, nil
}

func (s *CaseService) recordQuote(ctx context.Context, actor domain.Actor, activity domain.ActivityType, c *domain.Case, q domain.Quote) {
	s.activities.Record(ctx, ActivityInput{
		Type:           activity,
		CaseID:         c.ID,
		CustomerID:     c.CustomerID,
		ConversationID: derefString(c.SourceConversationID),
		Actor:          actor,
		Metadata: map[string]any{
			"quote_id":     q.ID,
			"amount":       q.Amount,
			"status":       string(q.Status),
			"quoted_value": c.Financials.QuotedValue,
			"case_status":  string(c.Status),
		},
	})
}

// DeleteCase removes a case, reverses its contribution to the customer
// aggregates and returns its source conversation to the inbox. A source
// conversation that no longer exists is skipped.
func (s *CaseService) DeleteCase(ctx context.Context, actor domain.Actor, id string) error {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return repoErr(err, "case", ids("case_id", id))
	}
	if err := s.cases.Delete(ctx, id); err != nil {
		return repoErr(err, "case", ids("case_id", id))
	}
	s.customers.ApplyStats(ctx, c.CustomerID, domain.CustomerStatsDelta{}.Sub(c.StatsContribution()))

	orphaned := false
	if c.SourceConversationID != nil {
		_, err := s.conversations.DetachCase(ctx, actor, *c.SourceConversationID, c.ID)
		switch {
		case apperrors.HasCode(err, apperrors.CodeNotFound):
			orphaned = true
			s.logger.Warn("deleted case had no source conversation",
				zap.String("case_id", c.ID),
				zap.String("conversation_id", *c.SourceConversationID))
		case err != nil:
			s.logger.Error("case deleted but conversation was not detached",
				zap.String("case_id", c.ID),
				zap.String("conversation_id", *c.SourceConversationID),
				zap.Error(err))
		}
	}
	s.activities.Record(ctx, ActivityInput{
		Type:           domain.ActivityCaseDeleted,
		CaseID:         c.ID,
		CustomerID:     c.CustomerID,
		ConversationID: derefString(c.SourceConversationID),
		Actor:          actor,
		Metadata: map[string]any{
			"case_number": c.CaseNumber,
			"status":      string(c.Status),
			"orphaned":    orphaned,
		},
	})
	return nil
}

// GetPipelineCases groups cases by stage for the board. Won and lost
// columns are present only when IncludeClosed is set.
func (s *CaseService) GetPipelineCases(ctx context.Context, filter PipelineFilter) ([]PipelineColumn, error) {
	var stages []domain.CaseStatus
	for _, stage := range domain.PipelineStages {
		if stage.IsClosed() && !filter.IncludeClosed {
			continue
		}
		stages = append(stages, stage)
	}
	cases, err := s.cases.List(ctx, repository.CaseFilter{
		CustomerID: filter.CustomerID,
		AssignedTo: filter.AssignedTo,
		Type:       filter.Type,
		Priority:   filter.Priority,
		SearchTerm: filter.SearchTerm,
		Statuses:   stages,
		NoLimit:    true,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	columns := make([]PipelineColumn, len(stages))
	index := make(map[domain.CaseStatus]int, len(stages))
	for i, stage := range stages {
		columns[i] = PipelineColumn{Status: stage, Cases: []domain.Case{}}
		index[stage] = i
	}
	for _, c := range cases {
		i, ok := index[c.Status]
		if !ok {
			continue
		}
		columns[i].Cases = append(columns[i].Cases, c)
		columns[i].Count++
		columns[i].TotalValue += c.DealValue()
	}
	return columns, nil
}

// GetCaseStatistics aggregates the cases matching the filter.
func (s *CaseService) GetCaseStatistics(ctx context.Context, filter StatisticsFilter) (*CaseStatistics, error) {
	cases, err := s.cases.List(ctx, repository.CaseFilter{
		CustomerID:  filter.CustomerID,
		AssignedTo:  filter.AssignedTo,
		CreatedFrom: filter.CreatedFrom,
		CreatedTo:   filter.CreatedTo,
		NoLimit:     true,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return summarize(cases), nil
}

func summarize(cases []domain.Case) *CaseStatistics {
	stats := &CaseStatistics{
		ByStatus: map[domain.CaseStatus]int{},
		ByType:   map[domain.CaseType]int{},
	}
	won, lost := 0, 0
	for i := range cases {
		c := &cases[i]
		stats.Total++
		stats.ByStatus[c.Status]++
		stats.ByType[c.Type]++
		value := c.DealValue()
		stats.TotalValue += value
		switch c.Status {
		case domain.CaseStatusWon:
			won++
			stats.WonValue += value
		case domain.CaseStatusLost:
			lost++
			stats.LostValue += value
		default:
			stats.PipelineValue += value
		}
	}
	if won+lost > 0 {
		stats.ConversionRate = float64(won) / float64(won+lost)
	}
	if won > 0 {
		stats.AverageWonDeal = stats.WonValue / float64(won)
	}
	return stats
}
