package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-service/internal/domain"
)

// OperatorRepository defines persistence access for dashboard operators.
type OperatorRepository interface {
	Create(ctx context.Context, op *domain.Operator) error
	GetByID(ctx context.Context, id string) (*domain.Operator, error)
	GetByEmail(ctx context.Context, email string) (*domain.Operator, error)
}

type operatorRepository struct {
	pool *pgxpool.Pool
}

// NewOperatorRepository returns a Postgres-backed implementation.
func NewOperatorRepository(pool *pgxpool.Pool) OperatorRepository {
	return &operatorRepository{pool: pool}
}

func (r *operatorRepository) Create(ctx context.Context, op *domain.Operator) error {
	const query = `
        INSERT INTO operators (id, name, email, password_hash, role, active, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`
	_, err := r.pool.Exec(ctx, query,
		op.ID,
		op.Name,
		op.Email,
		op.PasswordHash,
		op.Role,
		op.Active,
		op.CreatedAt,
	)
	if isUniqueViolation(err) {
		existing, lookupErr := r.GetByEmail(ctx, op.Email)
		if lookupErr != nil {
			return lookupErr
		}
		return &DuplicateKeyError{Key: "operator_email", ExistingID: existing.ID}
	}
	return err
}

func (r *operatorRepository) GetByID(ctx context.Context, id string) (*domain.Operator, error) {
	return r.fetch(ctx, `WHERE id=$1`, id)
}

func (r *operatorRepository) GetByEmail(ctx context.Context, email string) (*domain.Operator, error) {
	return r.fetch(ctx, `WHERE email=$1`, email)
}

func (r *operatorRepository) fetch(ctx context.Context, where string, arg any) (*domain.Operator, error) {
	query := `SELECT id, name, email, password_hash, role, active, created_at, updated_at FROM operators ` + where
	var op domain.Operator
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&op.ID,
		&op.Name,
		&op.Email,
		&op.PasswordHash,
		&op.Role,
		&op.Active,
		&op.CreatedAt,
		&op.UpdatedAt,
	); err != nil {
		return nil, translate(err)
	}
	return &op, nil
}
