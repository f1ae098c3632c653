package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/crm-service/internal/api/http/handlers"
	"github.com/spec-kit/crm-service/internal/auth"
	"github.com/spec-kit/crm-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Conversations  *handlers.ConversationsHandler
	Cases          *handlers.CasesHandler
	Customers      *handlers.CustomersHandler
	Webhooks       *handlers.WebhooksHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	hooks := app.Group("/webhooks", cfg.Webhooks.VerifySecret)
	hooks.Post("/email", cfg.Webhooks.Email)
	hooks.Post("/whatsapp", cfg.Webhooks.WhatsApp)
	hooks.Post("/contact-form", cfg.Webhooks.ContactForm)
	hooks.Post("/quote-form", cfg.Webhooks.QuoteForm)

	api := app.Group("/api/v1")
	api.Post("/auth/login", cfg.Auth.Login)

	protected := api.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole())
	protected.Get("/auth/me", cfg.Auth.Me)

	admin := auth.RequireRole(domain.OperatorRoleAdmin)
	sales := auth.RequireRole(domain.OperatorRoleSales, domain.OperatorRoleAdmin)

	protected.Post("/operators", admin, cfg.Auth.CreateOperator)
	protected.Post("/imports/legacy", admin, cfg.Webhooks.Import)

	conv := protected.Group("/conversations")
	conv.Get("/", cfg.Conversations.List)
	conv.Post("/", cfg.Conversations.Create)
	conv.Get("/:id", cfg.Conversations.Get)
	conv.Delete("/:id", admin, cfg.Conversations.Delete)
	conv.Post("/:id/messages", cfg.Conversations.AddMessage)
	conv.Patch("/:id/messages/:messageId", cfg.Conversations.UpdateMessage)
	conv.Delete("/:id/messages/:messageId", cfg.Conversations.DeleteMessage)
	conv.Post("/:id/messages/:messageId/send", cfg.Conversations.SendMessage)
	conv.Post("/:id/draft", cfg.Conversations.DraftReply)
	conv.Post("/:id/read", cfg.Conversations.MarkRead)
	conv.Post("/:id/close", cfg.Conversations.Close)
	conv.Post("/:id/snooze", cfg.Conversations.Snooze)
	conv.Post("/:id/reopen", cfg.Conversations.Reopen)
	conv.Post("/:id/assign", cfg.Conversations.Assign)
	conv.Post("/:id/convert", cfg.Cases.LinkConversation)
	conv.Post("/:id/case", cfg.Cases.CreateFromConversation)

	cases := protected.Group("/cases")
	cases.Get("/", cfg.Cases.List)
	cases.Get("/pipeline", cfg.Cases.Pipeline)
	cases.Get("/statistics", cfg.Cases.Statistics)
	cases.Get("/:id", cfg.Cases.Get)
	cases.Post("/", sales, cfg.Cases.Create)
	cases.Patch("/:id", sales, cfg.Cases.Update)
	cases.Delete("/:id", admin, cfg.Cases.Delete)
	cases.Post("/:id/quotes", sales, cfg.Cases.AddQuote)
	cases.Patch("/:id/quotes/:quoteId", sales, cfg.Cases.UpdateQuote)
	cases.Delete("/:id/quotes/:quoteId", sales, cfg.Cases.DeleteQuote)

	customers := protected.Group("/customers")
	customers.Get("/", cfg.Customers.List)
	customers.Get("/:id", cfg.Customers.Get)
	customers.Patch("/:id", cfg.Customers.Update)

	protected.Get("/activities", cfg.Customers.Activities)
}
