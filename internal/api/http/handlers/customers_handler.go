package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-service/internal/api/dto"
	"github.com/spec-kit/crm-service/internal/repository"
	"github.com/spec-kit/crm-service/internal/service"
)

// CustomersHandler serves customer records and the activity feed.
type CustomersHandler struct {
	customers  *service.CustomerResolver
	activities *service.ActivityRecorder
}

// NewCustomersHandler constructs handler.
func NewCustomersHandler(customers *service.CustomerResolver, activities *service.ActivityRecorder) *CustomersHandler {
	return &CustomersHandler{customers: customers, activities: activities}
}

// List GET /customers.
func (h *CustomersHandler) List(c *fiber.Ctx) error {
	filter := repository.CustomerFilter{SearchTerm: optionalQuery(c, "q")}
	filter.Limit, filter.Offset = paging(c)
	customers, err := h.customers.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.CustomerResponse, 0, len(customers))
	for i := range customers {
		items = append(items, dto.NewCustomerResponse(&customers[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /customers/:id.
func (h *CustomersHandler) Get(c *fiber.Ctx) error {
	customer, err := h.customers.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCustomerResponse(customer)})
}

// Update PATCH /customers/:id.
func (h *CustomersHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateCustomerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	customer, err := h.customers.UpdateIdentity(c.UserContext(), c.Params("id"), service.CustomerPatch{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCustomerResponse(customer)})
}

// Activities GET /activities?conversation_id=&case_id=&customer_id=.
func (h *CustomersHandler) Activities(c *fiber.Ctx) error {
	filter := repository.ActivityFilter{
		ConversationID: optionalQuery(c, "conversation_id"),
		CaseID:         optionalQuery(c, "case_id"),
		CustomerID:     optionalQuery(c, "customer_id"),
	}
	filter.Limit, filter.Offset = paging(c)
	activities, err := h.activities.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewActivityResponses(activities)})
}
