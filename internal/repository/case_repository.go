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

// CaseFilter captures pipeline search parameters.
type CaseFilter struct {
	CustomerID           *string
	SourceConversationID *string
	AssignedTo           *string
	Statuses             []domain.CaseStatus
	Type                 *domain.CaseType
	Priority             *domain.CasePriority
	CreatedFrom          *time.Time
	CreatedTo            *time.Time
	SearchTerm           *string
	Limit                int
	Offset               int
	// NoLimit returns every matching case; used by aggregate views.
	NoLimit bool
}

// CaseRepository persists cases.
type CaseRepository interface {
	// Create assigns CaseNumber when empty and sets Version to 1.
	Create(ctx context.Context, c *domain.Case) error
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	List(ctx context.Context, filter CaseFilter) ([]domain.Case, error)
	// Update writes c if its Version still matches the stored one and
	// appends history to the stored status history. On success c.Version
	// is incremented and c.StatusHistory reflects the stored ledger.
	Update(ctx context.Context, c *domain.Case, history []domain.StatusHistoryEntry) error
	Delete(ctx context.Context, id string) error
}

type caseRepository struct {
	pool *pgxpool.Pool
}

// NewCaseRepository wires a pgx-backed case repository.
func NewCaseRepository(pool *pgxpool.Pool) CaseRepository {
	return &caseRepository{pool: pool}
}

const caseColumns = `id, case_number, customer_id, source_conversation_id, title, description, type, status,
        hold_from_status, priority, assigned_to, tags, financials, products, quotes, status_history,
        expected_close_date, actual_close_date, closed_at, created_by, version, created_at, updated_at`

func (r *caseRepository) Create(ctx context.Context, c *domain.Case) error {
	const query = `
        INSERT INTO cases (id, case_number, customer_id, source_conversation_id, title, description, type,
            status, hold_from_status, priority, assigned_to, tags, financials, products, quotes,
            status_history, expected_close_date, actual_close_date, closed_at, created_by, version,
            created_at, updated_at)
        VALUES ($1, COALESCE(NULLIF($2,''), 'CASE-' || LPAD(nextval('case_number_seq')::text, 6, '0')),
            $3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,1,$21,$22)
        RETURNING case_number, version`
	return r.pool.QueryRow(ctx, query,
		c.ID,
		c.CaseNumber,
		c.CustomerID,
		c.SourceConversationID,
		c.Title,
		c.Description,
		c.Type,
		c.Status,
		c.HoldFromStatus,
		c.Priority,
		c.AssignedTo,
		nonNil(c.Tags),
		c.Financials,
		nonNil(c.Products),
		nonNil(c.Quotes),
		nonNil(c.StatusHistory),
		c.ExpectedCloseDate,
		c.ActualCloseDate,
		c.ClosedAt,
		c.CreatedBy,
		c.CreatedAt,
		c.UpdatedAt,
	).Scan(&c.CaseNumber, &c.Version)
}

func (r *caseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	c, err := scanCase(r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=$1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

func (r *caseRepository) List(ctx context.Context, filter CaseFilter) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.SourceConversationID != nil {
		args = append(args, *filter.SourceConversationID)
		clauses = append(clauses, fmt.Sprintf("source_conversation_id=$%d", len(args)))
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
	if filter.Type != nil {
		args = append(args, *filter.Type)
		clauses = append(clauses, fmt.Sprintf("type=$%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		clauses = append(clauses, fmt.Sprintf("priority=$%d", len(args)))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(*filter.SearchTerm))+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR LOWER(case_number) LIKE %s)",
			placeholder, placeholder, placeholder))
	}

	query := fmt.Sprintf(`SELECT %s FROM cases WHERE %s ORDER BY updated_at DESC`, caseColumns, strings.Join(clauses, " AND "))
	if !filter.NoLimit {
		limit, offset := pageBounds(filter.Limit, filter.Offset, 50)
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *caseRepository) Update(ctx context.Context, c *domain.Case, history []domain.StatusHistoryEntry) error {
	query := `
        UPDATE cases SET customer_id=$1, title=$2, description=$3, type=$4, status=$5, hold_from_status=$6,
            priority=$7, assigned_to=$8, tags=$9, financials=$10, products=$11, quotes=$12,
            status_history = status_history || $13::jsonb, expected_close_date=$14, actual_close_date=$15,
            closed_at=$16, source_conversation_id=$17, version = version + 1, updated_at=$18
        WHERE id=$19 AND version=$20
        RETURNING status_history, version`
	err := r.pool.QueryRow(ctx, query,
		c.CustomerID,
		c.Title,
		c.Description,
		c.Type,
		c.Status,
		c.HoldFromStatus,
		c.Priority,
		c.AssignedTo,
		nonNil(c.Tags),
		c.Financials,
		nonNil(c.Products),
		nonNil(c.Quotes),
		nonNil(history),
		c.ExpectedCloseDate,
		c.ActualCloseDate,
		c.ClosedAt,
		c.SourceConversationID,
		c.UpdatedAt,
		c.ID,
		c.Version,
	).Scan(&c.StatusHistory, &c.Version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id=$1)`, c.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (r *caseRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM cases WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	var c domain.Case
	if err := row.Scan(
		&c.ID,
		&c.CaseNumber,
		&c.CustomerID,
		&c.SourceConversationID,
		&c.Title,
		&c.Description,
		&c.Type,
		&c.Status,
		&c.HoldFromStatus,
		&c.Priority,
		&c.AssignedTo,
		&c.Tags,
		&c.Financials,
		&c.Products,
		&c.Quotes,
		&c.StatusHistory,
		&c.ExpectedCloseDate,
		&c.ActualCloseDate,
		&c.ClosedAt,
		&c.CreatedBy,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
