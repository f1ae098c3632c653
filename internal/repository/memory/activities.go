package memory

import (
	"context"
	"sort"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/repository"
)

type activityRepo struct{ st *state }

func (r *activityRepo) Create(_ context.Context, activity *domain.Activity) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	stored := *activity
	stored.Metadata = make(map[string]any, len(activity.Metadata))
	for k, v := range activity.Metadata {
		stored.Metadata[k] = v
	}
	r.st.activities = append(r.st.activities, stored)
	return nil
}

func (r *activityRepo) List(_ context.Context, filter repository.ActivityFilter) ([]domain.Activity, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var result []domain.Activity
	for _, a := range r.st.activities {
		if filter.ConversationID != nil && (a.ConversationID == nil || *a.ConversationID != *filter.ConversationID) {
			continue
		}
		if filter.CaseID != nil && (a.CaseID == nil || *a.CaseID != *filter.CaseID) {
			continue
		}
		if filter.CustomerID != nil && (a.CustomerID == nil || *a.CustomerID != *filter.CustomerID) {
			continue
		}
		result = append(result, a)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return page(result, filter.Limit, filter.Offset, 100), nil
}
