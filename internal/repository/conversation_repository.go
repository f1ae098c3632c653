package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-service/internal/domain"
)

// ConversationFilter captures inbox search parameters.
type ConversationFilter struct {
	CustomerID  *string
	AssignedTo  *string
	Statuses    []domain.ConversationStatus
	Channels    []domain.Channel
	ReplyStatus *domain.ReplyStatus
	Tag         *string
	UnreadOnly  bool
	SearchTerm  *string
	Limit       int
	Offset      int
}

// MessageApplied describes the conversation side effects of a message write.
// MessageDelta is an increment; the unread counter is recounted from the
// stored messages. Status never overrides converted.
type MessageApplied struct {
	MessageDelta int
	Status       *domain.ConversationStatus
	ReplyStatus  *domain.ReplyStatus
	Preview      *string
	At           time.Time
	Inbound      bool
	ThreadID     string
}

// ConversationRepository encapsulates conversation persistence.
type ConversationRepository interface {
	// Create writes the conversation and claims its natural keys in one
	// transaction. A taken unique key yields *DuplicateKeyError.
	Create(ctx context.Context, conv *domain.Conversation, keys NaturalKeys) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	// LookupKey resolves a natural key to its owning record id.
	LookupKey(ctx context.Context, key string) (string, error)
	List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error)
	// Update writes operator-editable fields if the stored status still
	// equals expected, else ErrVersionConflict. Counters, reply status and
	// channel metadata belong to RecordMessage and are never written here.
	Update(ctx context.Context, conv *domain.Conversation, expected domain.ConversationStatus) error
	RecordMessage(ctx context.Context, id string, applied MessageApplied) (*domain.Conversation, error)
	AdjustCounts(ctx context.Context, id string, messageDelta, unreadDelta int) error
	// MarkRead marks every unread inbound message read and lowers the
	// unread counter by the same amount. Returns the number marked.
	MarkRead(ctx context.Context, id string, at time.Time) (int, error)
	ListSnoozedDue(ctx context.Context, now time.Time) ([]domain.Conversation, error)
	// ReopenSnoozed moves a conversation from snoozed to open only if it is
	// still snoozed and due.
	ReopenSnoozed(ctx context.Context, id string, now time.Time) (bool, error)
	// Delete removes the conversation, its messages and their natural keys.
	Delete(ctx context.Context, id string) error
}

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository instantiates repository.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepository{pool: pool}
}

const conversationColumns = `id, customer_id, sender, channel, channel_meta, subject, preview, status, reply_status,
        assigned_to, tags, message_count, unread_count, linked_case_id, source_ref, snoozed_until,
        last_inbound_at, created_at, updated_at, last_message_at, closed_at`

func (r *conversationRepository) Create(ctx context.Context, conv *domain.Conversation, keys NaturalKeys) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := claimKeys(ctx, tx, conv.ID, "conversation", keys); err != nil {
		return err
	}

	const query = `
        INSERT INTO conversations (id, customer_id, sender, channel, channel_meta, subject, preview, status,
            reply_status, assigned_to, tags, message_count, unread_count, linked_case_id, source_ref,
            snoozed_until, last_inbound_at, created_at, updated_at, last_message_at, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,0,$12,$13,$14,$15,$16,$17,$18,$19)`
	if _, err := tx.Exec(ctx, query,
		conv.ID,
		conv.CustomerID,
		conv.Sender,
		conv.Channel,
		conv.ChannelMeta,
		conv.Subject,
		conv.Preview,
		conv.Status,
		conv.ReplyStatus,
		conv.AssignedTo,
		nonNil(conv.Tags),
		conv.LinkedCaseID,
		conv.SourceRef,
		conv.SnoozedUntil,
		conv.LastInboundAt,
		conv.CreatedAt,
		conv.UpdatedAt,
		conv.LastMessageAt,
		conv.ClosedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// claimKeys inserts unique keys first so a concurrent writer of the same
// key blocks on the index and then observes the conflict.
func claimKeys(ctx context.Context, tx pgx.Tx, recordID, kind string, keys NaturalKeys) error {
	const insertUnique = `
        INSERT INTO natural_keys (key, kind, record_id) VALUES ($1,$2,$3)
        ON CONFLICT (key) DO NOTHING`
	for _, key := range keys.Unique {
		cmd, err := tx.Exec(ctx, insertUnique, key, kind, recordID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			var existing string
			if err := tx.QueryRow(ctx, `SELECT record_id FROM natural_keys WHERE key=$1`, key).Scan(&existing); err != nil {
				return err
			}
			return &DuplicateKeyError{Key: key, ExistingID: existing}
		}
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return conv, nil
}

func (r *conversationRepository) LookupKey(ctx context.Context, key string) (string, error) {
	var recordID string
	if err := r.pool.QueryRow(ctx, `SELECT record_id FROM natural_keys WHERE key=$1`, key).Scan(&recordID); err != nil {
		return "", translate(err)
	}
	return recordID, nil
}

func (r *conversationRepository) List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Channels) > 0 {
		placeholders := make([]string, len(filter.Channels))
		for i, channel := range filter.Channels {
			args = append(args, channel)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("channel IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ReplyStatus != nil {
		args = append(args, *filter.ReplyStatus)
		clauses = append(clauses, fmt.Sprintf("reply_status=$%d", len(args)))
	}
	if filter.Tag != nil {
		args = append(args, *filter.Tag)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}
	if filter.UnreadOnly {
		clauses = append(clauses, "unread_count > 0")
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(*filter.SearchTerm))+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(subject) LIKE %s OR LOWER(preview) LIKE %s OR LOWER(sender->>'email') LIKE %s OR LOWER(sender->>'name') LIKE %s)",
			placeholder, placeholder, placeholder, placeholder))
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset, 20)
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE %s ORDER BY COALESCE(last_message_at, created_at) DESC LIMIT %d OFFSET %d`,
		conversationColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

func (r *conversationRepository) Update(ctx context.Context, conv *domain.Conversation, expected domain.ConversationStatus) error {
	const query = `
        UPDATE conversations SET customer_id=$1, subject=$2, status=$3, assigned_to=$4, tags=$5,
            linked_case_id=$6, snoozed_until=$7, closed_at=$8, updated_at=$9
        WHERE id=$10 AND status=$11`
	cmd, err := r.pool.Exec(ctx, query,
		conv.CustomerID,
		conv.Subject,
		conv.Status,
		conv.AssignedTo,
		nonNil(conv.Tags),
		conv.LinkedCaseID,
		conv.SnoozedUntil,
		conv.ClosedAt,
		conv.UpdatedAt,
		conv.ID,
		expected,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1)`, conv.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (r *conversationRepository) RecordMessage(ctx context.Context, id string, applied MessageApplied) (*domain.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialize with MarkRead so the recount below sees its writes.
	var exists string
	if err := tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, id).Scan(&exists); err != nil {
		return nil, translate(err)
	}
	query := `
        UPDATE conversations SET
            message_count = message_count + $1,
            unread_count = (SELECT count(*) FROM messages
                WHERE conversation_id=$8 AND direction='inbound' AND NOT is_read),
            status = CASE WHEN status = 'converted' OR $2::text IS NULL THEN status ELSE $2::text END,
            reply_status = COALESCE($3::text, reply_status),
            preview = COALESCE($4::text, preview),
            last_message_at = GREATEST(last_message_at, $5),
            last_inbound_at = CASE WHEN $6 THEN GREATEST(last_inbound_at, $5) ELSE last_inbound_at END,
            channel_meta = CASE WHEN $7::text <> '' AND COALESCE(channel_meta->>'email_thread_id','') = ''
                THEN jsonb_set(channel_meta, '{email_thread_id}', to_jsonb($7::text)) ELSE channel_meta END,
            closed_at = CASE WHEN status <> 'converted' AND $2::text IS NOT NULL AND $2::text <> 'closed' THEN NULL ELSE closed_at END,
            snoozed_until = CASE WHEN status <> 'converted' AND $2::text IS NOT NULL AND $2::text <> 'snoozed' THEN NULL ELSE snoozed_until END,
            updated_at = $5
        WHERE id=$8
        RETURNING ` + conversationColumns
	var status, reply *string
	if applied.Status != nil {
		s := string(*applied.Status)
		status = &s
	}
	if applied.ReplyStatus != nil {
		s := string(*applied.ReplyStatus)
		reply = &s
	}
	conv, err := scanConversation(tx.QueryRow(ctx, query,
		applied.MessageDelta,
		status,
		reply,
		applied.Preview,
		applied.At,
		applied.Inbound,
		applied.ThreadID,
		id,
	))
	if err != nil {
		return nil, translate(err)
	}
	return conv, tx.Commit(ctx)
}

func (r *conversationRepository) AdjustCounts(ctx context.Context, id string, messageDelta, unreadDelta int) error {
	const query = `
        UPDATE conversations SET message_count = GREATEST(message_count + $1, 0),
            unread_count = GREATEST(unread_count + $2, 0), updated_at = NOW()
        WHERE id=$3`
	cmd, err := r.pool.Exec(ctx, query, messageDelta, unreadDelta, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepository) MarkRead(ctx context.Context, id string, at time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the parent row so a concurrent inbound append cannot interleave.
	var exists string
	if err := tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, id).Scan(&exists); err != nil {
		return 0, translate(err)
	}
	cmd, err := tx.Exec(ctx, `
        UPDATE messages SET is_read=TRUE, read_at=$2
        WHERE conversation_id=$1 AND direction='inbound' AND NOT is_read`, id, at)
	if err != nil {
		return 0, err
	}
	marked := int(cmd.RowsAffected())
	if _, err := tx.Exec(ctx, `
        UPDATE conversations SET unread_count = (SELECT count(*) FROM messages
            WHERE conversation_id=$1 AND direction='inbound' AND NOT is_read), updated_at=$2 WHERE id=$1`,
		id, at); err != nil {
		return 0, err
	}
	return marked, tx.Commit(ctx)
}

func (r *conversationRepository) ListSnoozedDue(ctx context.Context, now time.Time) ([]domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE status='snoozed' AND snoozed_until IS NOT NULL AND snoozed_until <= $1
        ORDER BY snoozed_until ASC`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

func (r *conversationRepository) ReopenSnoozed(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `
        UPDATE conversations SET status='open', snoozed_until=NULL, updated_at=$2
        WHERE id=$1 AND status='snoozed' AND snoozed_until IS NOT NULL AND snoozed_until <= $2`
	cmd, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
        DELETE FROM natural_keys
        WHERE record_id=$1 OR record_id IN (SELECT id FROM messages WHERE conversation_id=$1)`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id=$1`, id); err != nil {
		return err
	}
	cmd, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := row.Scan(
		&conv.ID,
		&conv.CustomerID,
		&conv.Sender,
		&conv.Channel,
		&conv.ChannelMeta,
		&conv.Subject,
		&conv.Preview,
		&conv.Status,
		&conv.ReplyStatus,
		&conv.AssignedTo,
		&conv.Tags,
		&conv.MessageCount,
		&conv.UnreadCount,
		&conv.LinkedCaseID,
		&conv.SourceRef,
		&conv.SnoozedUntil,
		&conv.LastInboundAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
		&conv.LastMessageAt,
		&conv.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &conv, nil
}

func scanConversations(rows pgx.Rows) ([]domain.Conversation, error) {
	var result []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *conv)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return result, nil
}
