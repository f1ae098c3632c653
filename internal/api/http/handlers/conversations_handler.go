package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/crm-service/internal/api/dto"
	"github.com/spec-kit/crm-service/internal/auth"
	"github.com/spec-kit/crm-service/internal/channels"
	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
	"github.com/spec-kit/crm-service/internal/service"
)

// ConversationsHandler serves the operator inbox.
type ConversationsHandler struct {
	conversations *service.ConversationService
	dispatcher    *service.OutboundDispatcher
	drafts        *service.DraftService
}

// NewConversationsHandler constructs handler.
func NewConversationsHandler(conversations *service.ConversationService, dispatcher *service.OutboundDispatcher, drafts *service.DraftService) *ConversationsHandler {
	return &ConversationsHandler{conversations: conversations, dispatcher: dispatcher, drafts: drafts}
}

// List GET /conversations.
func (h *ConversationsHandler) List(c *fiber.Ctx) error {
	filter := repository.ConversationFilter{
		CustomerID: optionalQuery(c, "customer_id"),
		AssignedTo: optionalQuery(c, "assigned_to"),
		Tag:        optionalQuery(c, "tag"),
		SearchTerm: optionalQuery(c, "q"),
		UnreadOnly: c.QueryBool("unread", false),
	}
	for _, s := range csvQuery(c, "status") {
		filter.Statuses = append(filter.Statuses, domain.ConversationStatus(s))
	}
	for _, ch := range csvQuery(c, "channel") {
		filter.Channels = append(filter.Channels, domain.Channel(ch))
	}
	if rs := optionalQuery(c, "reply_status"); rs != nil {
		status := domain.ReplyStatus(*rs)
		filter.ReplyStatus = &status
	}
	filter.Limit, filter.Offset = paging(c)

	convs, err := h.conversations.ListConversations(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.ConversationResponse, 0, len(convs))
	for i := range convs {
		items = append(items, dto.NewConversationResponse(&convs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Create POST /conversations. Operators log conversations that started
// outside an integrated channel, such as a phone call.
func (h *ConversationsHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateConversationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	event := service.InboundEvent{
		Channel:     domain.Channel(req.Channel),
		Sender:      req.Sender.ToSender(),
		Subject:     req.Subject,
		Content:     req.Content,
		ContentHTML: req.ContentHTML,
		Attachments: dto.ToAttachments(req.Attachments),
		Meta:        req.Meta.ToMeta(),
		Tags:        req.Tags,
		AssignedTo:  req.AssignedTo,
		Direction:   domain.MessageDirection(req.Direction),
	}
	if req.SourceRef != nil {
		event.SourceRef = &domain.SourceRef{Type: req.SourceRef.Type, ID: req.SourceRef.ID}
	}
	result, err := h.conversations.CreateConversation(c.UserContext(), auth.ActorFromContext(c), event)
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if result.Skipped {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"data": conversationResult(result)})
}

// Get GET /conversations/:id.
func (h *ConversationsHandler) Get(c *fiber.Ctx) error {
	conv, msgs, err := h.conversations.GetConversation(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"conversation": dto.NewConversationResponse(conv),
		"messages":     dto.NewMessageResponses(msgs),
	}})
}

// Delete DELETE /conversations/:id.
func (h *ConversationsHandler) Delete(c *fiber.Ctx) error {
	if err := h.conversations.DeleteConversation(c.UserContext(), auth.ActorFromContext(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddMessage POST /conversations/:id/messages.
func (h *ConversationsHandler) AddMessage(c *fiber.Ctx) error {
	var req dto.AddMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.conversations.AddMessage(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), service.MessageInput{
		Direction:   domain.MessageDirection(req.Direction),
		Channel:     domain.Channel(req.Channel),
		Content:     req.Content,
		ContentHTML: req.ContentHTML,
		Sender:      req.Sender.ToSender(),
		Attachments: dto.ToAttachments(req.Attachments),
		Keys:        req.Keys.ToKeys(),
		AIGenerated: req.AIGenerated,
		Approved:    req.Approved,
		AlreadySent: req.AlreadySent,
	})
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if result.Skipped {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"data": messageResult(result)})
}

// UpdateMessage PATCH /conversations/:id/messages/:messageId.
func (h *ConversationsHandler) UpdateMessage(c *fiber.Ctx) error {
	var req dto.UpdateMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	patch := service.MessagePatch{Content: req.Content, ContentHTML: req.ContentHTML}
	if req.Status != nil {
		status := domain.MessageStatus(*req.Status)
		patch.Status = &status
	}
	if req.Attachments != nil {
		attachments := dto.ToAttachments(*req.Attachments)
		patch.Attachments = &attachments
	}
	msg, err := h.conversations.UpdateMessage(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), c.Params("messageId"), patch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}

// DeleteMessage DELETE /conversations/:id/messages/:messageId.
func (h *ConversationsHandler) DeleteMessage(c *fiber.Ctx) error {
	if err := h.conversations.DeleteMessage(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), c.Params("messageId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SendMessage POST /conversations/:id/messages/:messageId/send.
func (h *ConversationsHandler) SendMessage(c *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	send := service.SendRequest{
		ConversationID: c.Params("id"),
		MessageID:      c.Params("messageId"),
		Recipient:      service.Recipient{Name: req.Recipient.Name, Email: req.Recipient.Email, Phone: req.Recipient.Phone},
		Attachments:    dto.ToAttachments(req.Attachments),
		Subject:        req.Subject,
	}
	for _, ch := range req.Channels {
		send.Channels = append(send.Channels, domain.Channel(ch))
	}
	if req.Template != nil {
		tpl := &service.WhatsAppTemplate{Name: req.Template.Name, Language: req.Template.Language}
		for _, comp := range req.Template.Components {
			tpl.Components = append(tpl.Components, channels.TemplateComponent{Type: comp.Type, Parameters: comp.Parameters})
		}
		send.WhatsAppTemplate = tpl
	}
	result, err := h.dispatcher.ApproveAndSend(c.UserContext(), auth.ActorFromContext(c), send)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"message":       dto.NewMessageResponse(result.Message),
		"conversation":  dto.NewConversationResponse(result.Conversation),
		"sent_channels": result.SentChannels,
		"send_errors":   result.Errors,
	}})
}

// DraftReply POST /conversations/:id/draft.
func (h *ConversationsHandler) DraftReply(c *fiber.Ctx) error {
	var req dto.DraftReplyRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	result, err := h.drafts.DraftReply(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), req.Instructions)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": messageResult(result)})
}

// MarkRead POST /conversations/:id/read.
func (h *ConversationsHandler) MarkRead(c *fiber.Ctx) error {
	conv, err := h.conversations.MarkRead(c.UserContext(), auth.ActorFromContext(c), c.Params("id"))
	return respondConversation(c, conv, err)
}

// Close POST /conversations/:id/close.
func (h *ConversationsHandler) Close(c *fiber.Ctx) error {
	conv, err := h.conversations.Close(c.UserContext(), auth.ActorFromContext(c), c.Params("id"))
	return respondConversation(c, conv, err)
}

// Snooze POST /conversations/:id/snooze.
func (h *ConversationsHandler) Snooze(c *fiber.Ctx) error {
	var req dto.SnoozeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	conv, err := h.conversations.Snooze(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), req.Until)
	return respondConversation(c, conv, err)
}

// Reopen POST /conversations/:id/reopen.
func (h *ConversationsHandler) Reopen(c *fiber.Ctx) error {
	conv, err := h.conversations.Reopen(c.UserContext(), auth.ActorFromContext(c), c.Params("id"))
	return respondConversation(c, conv, err)
}

// Assign POST /conversations/:id/assign.
func (h *ConversationsHandler) Assign(c *fiber.Ctx) error {
	var req dto.AssignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	conv, err := h.conversations.Assign(c.UserContext(), auth.ActorFromContext(c), c.Params("id"), req.AssignedTo)
	return respondConversation(c, conv, err)
}

func respondConversation(c *fiber.Ctx, conv *domain.Conversation, err error) error {
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewConversationResponse(conv)})
}

func conversationResult(r *service.ConversationResult) fiber.Map {
	out := fiber.Map{
		"conversation": dto.NewConversationResponse(r.Conversation),
		"outcome":      r.Outcome,
		"skipped":      r.Skipped,
	}
	if r.Message != nil {
		out["message"] = dto.NewMessageResponse(r.Message)
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	return out
}

func messageResult(r *service.MessageResult) fiber.Map {
	out := fiber.Map{
		"message": dto.NewMessageResponse(r.Message),
		"skipped": r.Skipped,
	}
	if r.Conversation != nil {
		out["conversation"] = dto.NewConversationResponse(r.Conversation)
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	return out
}
