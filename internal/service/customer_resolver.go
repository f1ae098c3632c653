package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// ResolveInput carries the identifiers of an inbound contact.
type ResolveInput struct {
	Email        string
	Phone        string
	FallbackName string
	Company      string
	AutoCreate   bool
}

// CustomerResolver matches contacts to customers and manages customer identity.
type CustomerResolver struct {
	customers repository.CustomerRepository
	logger    *zap.Logger
	now       Clock
}

// CustomerDependencies bundles collaborators for the resolver.
type CustomerDependencies struct {
	CustomerRepo repository.CustomerRepository
	Logger       *zap.Logger
	Clock        Clock
}

// NewCustomerResolver constructs the resolver.
func NewCustomerResolver(deps CustomerDependencies) *CustomerResolver {
	return &CustomerResolver{
		customers: deps.CustomerRepo,
		logger:    loggerOrNop(deps.Logger),
		now:       clockOrNow(deps.Clock),
	}
}

// Resolve returns the id of the customer matching email, else phone. When
// nothing matches and AutoCreate is set a customer is created. A nil id with
// a nil error means the contact carried no usable identifier.
func (r *CustomerResolver) Resolve(ctx context.Context, in ResolveInput) (*string, error) {
	email := domain.NormalizeEmail(in.Email)
	phone := domain.NormalizePhone(in.Phone)
	if email == "" && phone == "" {
		return nil, nil
	}

	if id, err := r.lookup(ctx, email, phone); err != nil || id != nil {
		return id, err
	}
	if !in.AutoCreate {
		return nil, nil
	}

	now := r.now()
	name := strings.TrimSpace(in.FallbackName)
	if name == "" {
		name = firstNonEmpty(email, phone)
	}
	customer := &domain.Customer{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Phone:     phone,
		Company:   strings.TrimSpace(in.Company),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.customers.Create(ctx, customer); err != nil {
		// Lost a create race against the same contact.
		if dup, ok := repository.AsDuplicate(err); ok {
			return &dup.ExistingID, nil
		}
		return nil, apperrors.MapError(err)
	}
	r.logger.Info("customer created", zap.String("customer_id", customer.ID))
	return &customer.ID, nil
}

func (r *CustomerResolver) lookup(ctx context.Context, email, phone string) (*string, error) {
	if email != "" {
		c, err := r.customers.FindByEmail(ctx, email)
		if err == nil {
			return &c.ID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.MapError(err)
		}
	}
	if phone != "" {
		c, err := r.customers.FindByPhone(ctx, phone)
		if err == nil {
			return &c.ID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.MapError(err)
		}
	}
	return nil, nil
}

// Get returns a customer.
func (r *CustomerResolver) Get(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := r.customers.GetByID(ctx, id)
	if err != nil {
		return nil, repoErr(err, "customer", ids("customer_id", id))
	}
	return c, nil
}

// List returns customers matching the filter.
func (r *CustomerResolver) List(ctx context.Context, filter repository.CustomerFilter) ([]domain.Customer, error) {
	customers, err := r.customers.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return customers, nil
}

// CustomerPatch changes identity fields. Stats are never patched.
type CustomerPatch struct {
	Name    *string
	Email   *string
	Phone   *string
	Company *string
}

// UpdateIdentity edits a customer's identity fields.
func (r *CustomerResolver) UpdateIdentity(ctx context.Context, id string, patch CustomerPatch) (*domain.Customer, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		c.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		c.Email = domain.NormalizeEmail(*patch.Email)
	}
	if patch.Phone != nil {
		c.Phone = domain.NormalizePhone(*patch.Phone)
	}
	if patch.Company != nil {
		c.Company = strings.TrimSpace(*patch.Company)
	}
	if c.Name == "" {
		return nil, apperrors.NewValidationError("customer name is required", ids("customer_id", id))
	}
	c.UpdatedAt = r.now()
	if err := r.customers.Update(ctx, c); err != nil {
		return nil, repoErr(err, "customer", ids("customer_id", id))
	}
	return c, nil
}

// ApplyStats adds delta to the customer's aggregates. Failures are logged:
// the triggering record is already stored.
func (r *CustomerResolver) ApplyStats(ctx context.Context, customerID string, delta domain.CustomerStatsDelta) {
	if customerID == "" || delta.IsZero() {
		return
	}
	if err := r.customers.IncrementStats(ctx, customerID, delta); err != nil {
		r.logger.Error("customer stats update failed",
			zap.String("customer_id", customerID),
			zap.Any("delta", delta),
			zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
