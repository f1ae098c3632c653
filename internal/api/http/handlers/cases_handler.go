package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-service/internal/api/dto"
	"github.com/spec-kit/crm-service/internal/auth"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
	"github.com/spec-kit/crm-service/internal/service"
)

// CasesHandler serves the sales pipeline.
type CasesHandler struct {
	cases *service.CaseService
}

// NewCasesHandler constructs handler.
func NewCasesHandler(cases *service.CaseService) *CasesHandler {
	return &CasesHandler{cases: cases}
}

// Create POST /cases.
func (h *CasesHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateCaseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	input := caseInput(req.CaseFields)
	input.CustomerID = req.CustomerID
	created, err := h.cases.CreateCase(c.UserContext(), auth.ActorFromContext(c), input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewCaseResponse(created)})
}

// CreateFromConversation POST /conversations/:id/case.
func (h *CasesHandler) CreateFromConversation(c *fiber.Ctx) error {
	var req dto.CreateCaseFromConversationRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	created, conv, err := h.cases.CreateCaseFromConversation(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), caseInput(req.CaseFields))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
		"case":         dto.NewCaseResponse(created),
		"conversation": dto.NewConversationResponse(conv),
	}})
}

// LinkConversation POST /conversations/:id/convert makes the conversation
// the source of an existing case.
func (h *CasesHandler) LinkConversation(c *fiber.Ctx) error {
	var req dto.ConvertRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	linked, conv, err := h.cases.LinkConversation(c.UserContext(), auth.ActorFromContext(c), req.CaseID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"case":         dto.NewCaseResponse(linked),
		"conversation": dto.NewConversationResponse(conv),
	}})
}

// List GET /cases.
func (h *CasesHandler) List(c *fiber.Ctx) error {
	filter := repository.CaseFilter{
		CustomerID:           optionalQuery(c, "customer_id"),
		SourceConversationID: optionalQuery(c, "conversation_id"),
		AssignedTo:           optionalQuery(c, "assigned_to"),
		SearchTerm:           optionalQuery(c, "q"),
		CreatedFrom:          parseTime(c.Query("created_from")),
		CreatedTo:            parseTime(c.Query("created_to")),
	}
	for _, s := range csvQuery(c, "status") {
		filter.Statuses = append(filter.Statuses, domain.CaseStatus(s))
	}
	if t := optionalQuery(c, "type"); t != nil {
		caseType := domain.CaseType(*t)
		filter.Type = &caseType
	}
	if p := optionalQuery(c, "priority"); p != nil {
		priority := domain.CasePriority(*p)
		filter.Priority = &priority
	}
	filter.Limit, filter.Offset = paging(c)

	cases, err := h.cases.ListCases(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCaseResponses(cases)})
}

// Get GET /cases/:id.
func (h *CasesHandler) Get(c *fiber.Ctx) error {
	found, err := h.cases.GetCase(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCaseResponse(found)})
}

// Update PATCH /cases/:id.
func (h *CasesHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateCaseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	patch := service.CasePatch{
		Title:             req.Title,
		Description:       req.Description,
		AssignedTo:        req.AssignedTo,
		Tags:              req.Tags,
		EstimatedValue:    req.EstimatedValue,
		FinalValue:        req.FinalValue,
		Currency:          req.Currency,
		ExpectedCloseDate: req.ExpectedCloseDate,
		Note:              req.Note,
	}
	if req.Type != nil {
		caseType := domain.CaseType(*req.Type)
		patch.Type = &caseType
	}
	if req.Priority != nil {
		priority := domain.CasePriority(*req.Priority)
		patch.Priority = &priority
	}
	if req.Status != nil {
		status := domain.CaseStatus(*req.Status)
		patch.Status = &status
	}
	if req.Products != nil {
		products := dto.ToProducts(*req.Products)
		patch.Products = &products
	}
	updated, err := h.cases.UpdateCase(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCaseResponse(updated)})
}

// Delete DELETE /cases/:id.
func (h *CasesHandler) Delete(c *fiber.Ctx) error {
	if err := h.cases.DeleteCase(c.UserContext(), auth.ActorFromContext(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddQuote POST /cases/:id/quotes.
func (h *CasesHandler) AddQuote(c *fiber.Ctx) error {
	var req dto.QuoteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	updated, quote, err := h.cases.AddQuoteToCase(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), service.QuoteInput{
		Amount:     req.Amount,
		Currency:   req.Currency,
		ValidUntil: req.ValidUntil,
		Status:     domain.QuoteStatus(req.Status),
		Notes:      req.Notes,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
		"case":  dto.NewCaseResponse(updated),
		"quote": quote,
	}})
}

// UpdateQuote PATCH /cases/:id/quotes/:quoteId.
func (h *CasesHandler) UpdateQuote(c *fiber.Ctx) error {
	var req dto.UpdateQuoteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	patch := service.QuotePatch{
		Amount:     req.Amount,
		Currency:   req.Currency,
		ValidUntil: req.ValidUntil,
		Notes:      req.Notes,
	}
	if req.Status != nil {
		status := domain.QuoteStatus(*req.Status)
		patch.Status = &status
	}
	updated, quote, err := h.cases.UpdateCaseQuote(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), c.Params("quoteId"), patch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"case":  dto.NewCaseResponse(updated),
		"quote": quote,
	}})
}

// DeleteQuote DELETE /cases/:id/quotes/:quoteId.
func (h *CasesHandler) DeleteQuote(c *fiber.Ctx) error {
	updated, err := h.cases.DeleteQuoteFromCase(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), c.Params("quoteId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCaseResponse(updated)})
}

// Pipeline GET /cases/pipeline.
func (h *CasesHandler) Pipeline(c *fiber.Ctx) error {
	filter := service.PipelineFilter{
		CustomerID:    optionalQuery(c, "customer_id"),
		AssignedTo:    optionalQuery(c, "assigned_to"),
		SearchTerm:    optionalQuery(c, "q"),
		IncludeClosed: c.QueryBool("include_closed", false),
	}
	if t := optionalQuery(c, "type"); t != nil {
		caseType := domain.CaseType(*t)
		filter.Type = &caseType
	}
	if p := optionalQuery(c, "priority"); p != nil {
		priority := domain.CasePriority(*p)
		filter.Priority = &priority
	}
	columns, err := h.cases.GetPipelineCases(c.UserContext(), filter)
	if err != nil {
		return err
	}
	out := make([]dto.PipelineColumnResponse, 0, len(columns))
	for _, col := range columns {
		cards := make([]dto.CaseCard, 0, len(col.Cases))
		for i := range col.Cases {
			cards = append(cards, dto.NewCaseCard(&col.Cases[i]))
		}
		out = append(out, dto.PipelineColumnResponse{
			Status:     col.Status,
			Count:      col.Count,
			TotalValue: col.TotalValue,
			Cases:      cards,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

// Statistics GET /cases/statistics.
func (h *CasesHandler) Statistics(c *fiber.Ctx) error {
	stats, err := h.cases.GetCaseStatistics(c.UserContext(), service.StatisticsFilter{
		CustomerID:  optionalQuery(c, "customer_id"),
		AssignedTo:  optionalQuery(c, "assigned_to"),
		CreatedFrom: parseTime(c.Query("created_from")),
		CreatedTo:   parseTime(c.Query("created_to")),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}

func caseInput(f dto.CaseFields) service.CaseInput {
	return service.CaseInput{
		Title:             f.Title,
		Description:       f.Description,
		Type:              domain.CaseType(f.Type),
		Priority:          domain.CasePriority(f.Priority),
		AssignedTo:        f.AssignedTo,
		Tags:              f.Tags,
		Financials:        domain.Financials{EstimatedValue: f.EstimatedValue, Currency: f.Currency},
		Products:          dto.ToProducts(f.Products),
		ExpectedCloseDate: f.ExpectedCloseDate,
		Note:              f.Note,
	}
}
