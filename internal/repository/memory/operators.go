package memory

import (
	"context"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
)

type operatorRepo struct{ st *state }

func (r *operatorRepo) Create(_ context.Context, op *domain.Operator) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.operators {
		if existing.Email == op.Email {
			return &repository.DuplicateKeyError{Key: "operator_email", ExistingID: existing.ID}
		}
	}
	stored := *op
	stored.UpdatedAt = stored.CreatedAt
	r.st.operators[op.ID] = stored
	return nil
}

func (r *operatorRepo) GetByID(_ context.Context, id string) (*domain.Operator, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	op, ok := r.st.operators[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &op, nil
}

func (r *operatorRepo) GetByEmail(_ context.Context, email string) (*domain.Operator, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, op := range r.st.operators {
		if op.Email == email {
			found := op
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}
