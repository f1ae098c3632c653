package memory

import (
	"context"
	"sort"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
)

type customerRepo struct{ st *state }

func cloneCustomer(c domain.Customer) *domain.Customer {
	c.Stats.LastContactAt = cloneTime(c.Stats.LastContactAt)
	return &c
}

func (r *customerRepo) Create(_ context.Context, customer *domain.Customer) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.customers {
		if (customer.Email != "" && existing.Email == customer.Email) ||
			(customer.Phone != "" && existing.Phone == customer.Phone) {
			return &repository.DuplicateKeyError{Key: "customer", ExistingID: existing.ID}
		}
	}
	stored := *cloneCustomer(*customer)
	stored.UpdatedAt = stored.CreatedAt
	r.st.customers[customer.ID] = stored
	return nil
}

func (r *customerRepo) Update(_ context.Context, customer *domain.Customer) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	stored, ok := r.st.customers[customer.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, other := range r.st.customers {
		if id == customer.ID {
			continue
		}
		if (customer.Email != "" && other.Email == customer.Email) ||
			(customer.Phone != "" && other.Phone == customer.Phone) {
			return &repository.DuplicateKeyError{Key: "customer", ExistingID: other.ID}
		}
	}
	stored.Name = customer.Name
	stored.Email = customer.Email
	stored.Phone = customer.Phone
	stored.Company = customer.Company
	stored.UpdatedAt = customer.UpdatedAt
	r.st.customers[customer.ID] = stored
	return nil
}

func (r *customerRepo) GetByID(_ context.Context, id string) (*domain.Customer, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.customers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCustomer(c), nil
}

func (r *customerRepo) FindByEmail(_ context.Context, email string) (*domain.Customer, error) {
	return r.findBy(func(c domain.Customer) bool { return email != "" && c.Email == email })
}

func (r *customerRepo) FindByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	return r.findBy(func(c domain.Customer) bool { return phone != "" && c.Phone == phone })
}

func (r *customerRepo) findBy(match func(domain.Customer) bool) (*domain.Customer, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, c := range r.st.customers {
		if match(c) {
			return cloneCustomer(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *customerRepo) List(_ context.Context, filter repository.CustomerFilter) ([]domain.Customer, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var result []domain.Customer
	for _, c := range r.st.customers {
		if matchesTerm(filter.SearchTerm, c.Name, c.Email, c.Company) {
			result = append(result, *cloneCustomer(c))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return page(result, filter.Limit, filter.Offset, 50), nil
}

func (r *customerRepo) IncrementStats(_ context.Context, id string, delta domain.CustomerStatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.customers[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Stats.LastContactAt = cloneTime(c.Stats.LastContactAt)
	c.Stats.Apply(delta)
	r.st.customers[id] = c
	return nil
}
