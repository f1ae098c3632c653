package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-service/internal/domain"
)

// CustomerFilter captures customer search parameters.
type CustomerFilter struct {
	SearchTerm *string
	Limit      int
	Offset     int
}

// CustomerRepository encapsulates customer persistence.
type CustomerRepository interface {
	// Create fails with DuplicateKeyError when the email or phone is taken.
	Create(ctx context.Context, customer *domain.Customer) error
	Update(ctx context.Context, customer *domain.Customer) error
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
	FindByEmail(ctx context.Context, email string) (*domain.Customer, error)
	FindByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	List(ctx context.Context, filter CustomerFilter) ([]domain.Customer, error)
	IncrementStats(ctx context.Context, id string, delta domain.CustomerStatsDelta) error
}

type customerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository instantiates repository.
func NewCustomerRepository(pool *pgxpool.Pool) CustomerRepository {
	return &customerRepository{pool: pool}
}

const customerColumns = `id, name, email, phone, company, total_conversations, total_cases, open_cases,
        won_cases, lost_cases, total_value, last_contact_at, created_at, updated_at`

func (r *customerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	const query = `
        INSERT INTO customers (id, name, email, phone, company, created_at, updated_at)
        VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$6)`
	_, err := r.pool.Exec(ctx, query,
		customer.ID,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.Company,
		customer.CreatedAt,
	)
	if isUniqueViolation(err) {
		existing, lookupErr := r.findExisting(ctx, customer)
		if lookupErr != nil {
			return lookupErr
		}
		return &DuplicateKeyError{Key: "customer", ExistingID: existing.ID}
	}
	return err
}

func (r *customerRepository) findExisting(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	if customer.Email != "" {
		if existing, err := r.FindByEmail(ctx, customer.Email); err == nil {
			return existing, nil
		}
	}
	return r.FindByPhone(ctx, customer.Phone)
}

func (r *customerRepository) Update(ctx context.Context, customer *domain.Customer) error {
	const query = `
        UPDATE customers SET name=$1, email=NULLIF($2,''), phone=NULLIF($3,''), company=$4, updated_at=$5
        WHERE id=$6`
	cmd, err := r.pool.Exec(ctx, query,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.Company,
		customer.UpdatedAt,
		customer.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *customerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	return r.fetchSingle(ctx, `SELECT `+customerColumns+` FROM customers WHERE id=$1`, id)
}

func (r *customerRepository) FindByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return r.fetchSingle(ctx, `SELECT `+customerColumns+` FROM customers WHERE email=$1`, email)
}

func (r *customerRepository) FindByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return r.fetchSingle(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone=$1`, phone)
}

func (r *customerRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Customer, error) {
	customer, err := scanCustomer(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, translate(err)
	}
	return customer, nil
}

func (r *customerRepository) List(ctx context.Context, filter CustomerFilter) ([]domain.Customer, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(*filter.SearchTerm))+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(name) LIKE %s OR LOWER(COALESCE(email,'')) LIKE %s OR LOWER(company) LIKE %s)",
			placeholder, placeholder, placeholder))
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset, 50)
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		customerColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Customer
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *customer)
	}
	return result, rows.Err()
}

func (r *customerRepository) IncrementStats(ctx context.Context, id string, delta domain.CustomerStatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	const query = `
        UPDATE customers SET
            total_conversations = total_conversations + $1,
            total_cases = total_cases + $2,
            open_cases = open_cases + $3,
            won_cases = won_cases + $4,
            lost_cases = lost_cases + $5,
            total_value = total_value + $6,
            last_contact_at = GREATEST(last_contact_at, $7),
            updated_at = NOW()
        WHERE id=$8`
	cmd, err := r.pool.Exec(ctx, query,
		delta.TotalConversations,
		delta.TotalCases,
		delta.OpenCases,
		delta.WonCases,
		delta.LostCases,
		delta.TotalValue,
		delta.LastContactAt,
		id,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var (
		customer     domain.Customer
		email, phone *string
	)
	if err := row.Scan(
		&customer.ID,
		&customer.Name,
		&email,
		&phone,
		&customer.Company,
		&customer.Stats.TotalConversations,
		&customer.Stats.TotalCases,
		&customer.Stats.OpenCases,
		&customer.Stats.WonCases,
		&customer.Stats.LostCases,
		&customer.Stats.TotalValue,
		&customer.Stats.LastContactAt,
		&customer.CreatedAt,
		&customer.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if email != nil {
		customer.Email = *email
	}
	if phone != nil {
		customer.Phone = *phone
	}
	return &customer, nil
}

func pageBounds(limit, offset, def int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
