package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-service/internal/domain"
)

// ActivityFilter narrows the activity feed. All set fields must match.
type ActivityFilter struct {
	ConversationID *string
	CaseID         *string
	CustomerID     *string
	Limit          int
	Offset         int
}

// ActivityRepository appends and reads the audit trail. Activities are never
// updated or deleted.
type ActivityRepository interface {
	Create(ctx context.Context, activity *domain.Activity) error
	List(ctx context.Context, filter ActivityFilter) ([]domain.Activity, error)
}

type activityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository constructs repository.
func NewActivityRepository(pool *pgxpool.Pool) ActivityRepository {
	return &activityRepository{pool: pool}
}

func (r *activityRepository) Create(ctx context.Context, activity *domain.Activity) error {
	const query = `
        INSERT INTO activities (id, type, conversation_id, case_id, customer_id, performed_by, metadata, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	metadata := activity.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, query,
		activity.ID,
		activity.Type,
		activity.ConversationID,
		activity.CaseID,
		activity.CustomerID,
		activity.PerformedBy,
		metadata,
		activity.CreatedAt,
	)
	return err
}

func (r *activityRepository) List(ctx context.Context, filter ActivityFilter) ([]domain.Activity, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.ConversationID != nil {
		args = append(args, *filter.ConversationID)
		clauses = append(clauses, fmt.Sprintf("conversation_id=$%d", len(args)))
	}
	if filter.CaseID != nil {
		args = append(args, *filter.CaseID)
		clauses = append(clauses, fmt.Sprintf("case_id=$%d", len(args)))
	}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset, 100)
	query := fmt.Sprintf(`
        SELECT id, type, conversation_id, case_id, customer_id, performed_by, metadata, created_at
        FROM activities WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Activity
	for rows.Next() {
		var activity domain.Activity
		if err := rows.Scan(
			&activity.ID,
			&activity.Type,
			&activity.ConversationID,
			&activity.CaseID,
			&activity.CustomerID,
			&activity.PerformedBy,
			&activity.Metadata,
			&activity.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, activity)
	}
	return result, rows.Err()
}
