package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/ai"
	"github.com/spec-kit/crm-service/internal/domain"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

const (
	draftHistoryLimit = 10
	draftSystemPrompt = "You are a sales assistant for a cosmetics manufacturer. " +
		"Write a concise, friendly reply to the customer's latest message. " +
		"Do not invent prices or lead times. Reply with the message body only."
)

// DraftService produces AI reply drafts that wait for operator approval.
type DraftService struct {
	conversations *ConversationService
	generator     ai.Generator
	logger        *zap.Logger
}

// NewDraftService constructs the service.
func NewDraftService(conversations *ConversationService, generator ai.Generator, logger *zap.Logger) *DraftService {
	return &DraftService{conversations: conversations, generator: generator, logger: loggerOrNop(logger)}
}

// DraftReply generates a reply from the recent thread and stores it as a
// pending_approval outbound message.
func (s *DraftService) DraftReply(ctx context.Context, actor domain.Actor, conversationID, instructions string) (*MessageResult, error) {
	conv, msgs, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	text, err := s.generator.Generate(ctx, buildDraftPrompt(conv, msgs, instructions), ai.Options{System: draftSystemPrompt})
	if errors.Is(err, ai.ErrDisabled) {
		return nil, apperrors.NewDomainError("AI_DISABLED", "reply drafting is not configured", 503, ids("conversation_id", conversationID))
	}
	if err != nil {
		s.logger.Warn("reply draft generation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewInternalError(errors.New("generator returned an empty draft"))
	}
	return s.conversations.AddMessage(ctx, actor, conversationID, MessageInput{
		Direction:   domain.DirectionOutbound,
		Channel:     conv.Channel,
		Content:     text,
		AIGenerated: true,
	})
}

func buildDraftPrompt(conv *domain.Conversation, msgs []domain.Message, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", conv.Channel)
	if conv.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", conv.Subject)
	}
	if name := firstNonEmpty(conv.Sender.Name, conv.Sender.Company); name != "" {
		fmt.Fprintf(&b, "Customer: %s\n", name)
	}
	b.WriteString("\nConversation:\n")
	start := 0
	if len(msgs) > draftHistoryLimit {
		start = len(msgs) - draftHistoryLimit
	}
	for _, m := range msgs[start:] {
		if m.Direction == domain.DirectionOutbound && m.Status != domain.MessageStatusSent {
			continue
		}
		who := "Customer"
		if m.Direction == domain.DirectionOutbound {
			who = "Us"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, strings.TrimSpace(firstNonEmpty(m.Content, m.ContentHTML)))
	}
	if i := strings.TrimSpace(instructions); i != "" {
		fmt.Fprintf(&b, "\nInstructions: %s\n", i)
	}
	return b.String()
}
