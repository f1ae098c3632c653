package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-service/internal/domain"
)

// MessageRepository persists conversation messages.
type MessageRepository interface {
	// Create inserts the message and claims its natural keys atomically.
	Create(ctx context.Context, msg *domain.Message, keys NaturalKeys) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error)
	// UpdateDraft rewrites an outbound message that is still editable.
	UpdateDraft(ctx context.Context, msg *domain.Message) error
	// MarkSent stamps delivery metadata on an editable outbound message.
	MarkSent(ctx context.Context, id string, outcome domain.SendOutcome) (*domain.Message, error)
	// Delete removes an editable outbound message.
	Delete(ctx context.Context, id string) error
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds a pgx-backed message repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

const messageColumns = `id, conversation_id, direction, channel, content, content_html, status, sender, attachments,
        keys, ai_generated, is_read, read_at, sent_channels, send_errors, delivery, sent_at, sent_by,
        created_by, created_at, updated_at`

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message, keys NaturalKeys) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := claimKeys(ctx, tx, msg.ID, "message", keys); err != nil {
		return err
	}
	const query = `
        INSERT INTO messages (id, conversation_id, direction, channel, content, content_html, status, sender,
            attachments, keys, ai_generated, is_read, read_at, sent_channels, send_errors, delivery, sent_at,
            sent_by, created_by, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`
	if _, err := tx.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Direction,
		msg.Channel,
		msg.Content,
		msg.ContentHTML,
		msg.Status,
		msg.Sender,
		nonNil(msg.Attachments),
		msg.Keys,
		msg.AIGenerated,
		msg.IsRead,
		msg.ReadAt,
		nonNil(msg.SentChannels),
		nonNil(msg.SendErrors),
		msg.Delivery,
		msg.SentAt,
		msg.SentBy,
		msg.CreatedBy,
		msg.CreatedAt,
		msg.UpdatedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return msg, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func (r *messageRepository) UpdateDraft(ctx context.Context, msg *domain.Message) error {
	const query = `
        UPDATE messages SET content=$1, content_html=$2, status=$3, attachments=$4, updated_at=$5
        WHERE id=$6 AND direction='outbound' AND status IN ('draft','pending_approval')`
	cmd, err := r.pool.Exec(ctx, query,
		msg.Content,
		msg.ContentHTML,
		msg.Status,
		nonNil(msg.Attachments),
		msg.UpdatedAt,
		msg.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.missOrLocked(ctx, msg.ID)
	}
	return nil
}

func (r *messageRepository) MarkSent(ctx context.Context, id string, outcome domain.SendOutcome) (*domain.Message, error) {
	query := `
        UPDATE messages SET status='sent', sent_channels=$1, send_errors=$2, delivery=$3, sent_at=$4,
            sent_by=$5, updated_at=$4
        WHERE id=$6 AND direction='outbound' AND status IN ('draft','pending_approval')
        RETURNING ` + messageColumns
	msg, err := scanMessage(r.pool.QueryRow(ctx, query,
		nonNil(outcome.SentChannels),
		nonNil(outcome.SendErrors),
		outcome.Delivery,
		outcome.SentAt,
		outcome.SentBy,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missOrLocked(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *messageRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cmd, err := tx.Exec(ctx, `DELETE FROM messages WHERE id=$1 AND direction='outbound' AND status IN ('draft','pending_approval')`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.missOrLocked(ctx, id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM natural_keys WHERE record_id=$1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// missOrLocked distinguishes a missing message from one that left draft.
func (r *messageRepository) missOrLocked(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotEditable
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Direction,
		&msg.Channel,
		&msg.Content,
		&msg.ContentHTML,
		&msg.Status,
		&msg.Sender,
		&msg.Attachments,
		&msg.Keys,
		&msg.AIGenerated,
		&msg.IsRead,
		&msg.ReadAt,
		&msg.SentChannels,
		&msg.SendErrors,
		&msg.Delivery,
		&msg.SentAt,
		&msg.SentBy,
		&msg.CreatedBy,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

// nonNil keeps jsonb array columns from being written as null.
func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
