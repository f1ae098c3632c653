package channels

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogEmailSender logs emails instead of delivering them.
type LogEmailSender struct {
	logger *zap.Logger
}

// NewLogEmailSender returns a stub email transport.
func NewLogEmailSender(logger *zap.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) SendEmail(ctx context.Context, msg EmailMessage) (EmailResult, error) {
	if err := ctx.Err(); err != nil {
		return EmailResult{}, err
	}
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = "thread-" + uuid.NewString()
	}
	result := EmailResult{MessageID: "<" + uuid.NewString() + "@crm.local>", ThreadID: threadID}
	s.logger.Debug("sendEmailStub",
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("thread_id", threadID),
		zap.Int("attachments", len(msg.Attachments)))
	return result, nil
}

// LogWhatsAppSender logs WhatsApp messages instead of delivering them.
type LogWhatsAppSender struct {
	logger *zap.Logger
}

// NewLogWhatsAppSender returns a stub WhatsApp transport.
func NewLogWhatsAppSender(logger *zap.Logger) *LogWhatsAppSender {
	return &LogWhatsAppSender{logger: logger}
}

func (s *LogWhatsAppSender) SendWhatsApp(ctx context.Context, msg WhatsAppMessage) (WhatsAppResult, error) {
	if err := ctx.Err(); err != nil {
		return WhatsAppResult{}, err
	}
	s.logger.Debug("sendWhatsAppStub",
		zap.String("to", msg.To),
		zap.String("template", msg.Template),
		zap.Int("body_len", len(msg.Body)))
	return WhatsAppResult{ID: "wamid." + uuid.NewString()}, nil
}
