package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/config"
)

// AuditSink is the write-only audit log. Failures are reported to the caller
// but must never abort the operation that produced the event.
type AuditSink interface {
	Write(ctx context.Context, event Event) error
	Close()
}

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink backed by logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, event Event) error {
	s.logger.Info("audit",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("actor", event.Actor.ID),
		zap.Any("payload", event.Payload))
	return nil
}

func (s *LogSink) Close() {}

// NATSSink publishes audit events to a JetStream stream.
type NATSSink struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  *zap.Logger
}

// NewNATSSink connects to NATS and ensures the audit stream exists.
func NewNATSSink(ctx context.Context, cfg config.NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("crm-service-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	if _, err := js.Stream(ctx, cfg.Stream); err != nil {
		if _, err := js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        cfg.Stream,
			Subjects:    []string{cfg.Subject + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      365 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			DenyDelete:  true,
			DenyPurge:   true,
			Description: "CRM activity audit trail",
		}); err != nil {
			nc.Close()
			return nil, fmt.Errorf("create audit stream: %w", err)
		}
	}

	logger.Info("audit sink connected to nats", zap.String("stream", cfg.Stream))
	return &NATSSink{conn: nc, js: js, subject: cfg.Subject, logger: logger}, nil
}

func (s *NATSSink) Write(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", s.subject, event.Type)
	// The event id doubles as the JetStream dedup id so retried writes
	// are stored once.
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() {
	if s.conn != nil {
		_ = s.conn.Drain()
	}
}

// AttachAuditSink forwards every dispatched event to sink.
func AttachAuditSink(d Dispatcher, sink AuditSink) {
	d.SubscribeAll(func(ctx context.Context, event Event) error {
		return sink.Write(ctx, event)
	})
}
