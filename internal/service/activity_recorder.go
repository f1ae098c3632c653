package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/domain"
	"github.com/spec-kit/crm-service/internal/events"
	"github.com/spec-kit/crm-service/internal/repository"
)

// ActivityInput describes one fact to record.
type ActivityInput struct {
	Type           domain.ActivityType
	ConversationID string
	CaseID         string
	CustomerID     string
	Actor          domain.Actor
	Metadata       map[string]any
}

// ActivityRecorder appends the audit trail. Recording is best-effort: a
// failure is logged and never reaches the business operation.
type ActivityRecorder struct {
	repo       repository.ActivityRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        Clock
}

// ActivityDependencies bundles collaborators for the recorder.
type ActivityDependencies struct {
	ActivityRepo repository.ActivityRepository
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Clock        Clock
}

// NewActivityRecorder constructs the recorder.
func NewActivityRecorder(deps ActivityDependencies) *ActivityRecorder {
	return &ActivityRecorder{
		repo:       deps.ActivityRepo,
		dispatcher: deps.Dispatcher,
		logger:     loggerOrNop(deps.Logger),
		now:        clockOrNow(deps.Clock),
	}
}

// Record stores the activity and publishes it to subscribers.
func (r *ActivityRecorder) Record(ctx context.Context, in ActivityInput) {
	if r == nil {
		return
	}
	activity := &domain.Activity{
		ID:             uuid.NewString(),
		Type:           in.Type,
		ConversationID: strPtr(in.ConversationID),
		CaseID:         strPtr(in.CaseID),
		CustomerID:     strPtr(in.CustomerID),
		PerformedBy:    in.Actor.String(),
		Metadata:       in.Metadata,
		CreatedAt:      r.now(),
	}
	if activity.Metadata == nil {
		activity.Metadata = map[string]any{}
	}
	activity.Metadata["actor_type"] = string(in.Actor.Type)

	if r.repo != nil {
		if err := r.repo.Create(ctx, activity); err != nil {
			r.logger.Warn("activity write failed",
				zap.String("type", string(in.Type)),
				zap.String("conversation_id", in.ConversationID),
				zap.String("case_id", in.CaseID),
				zap.Error(err))
		}
	}
	if r.dispatcher != nil {
		_ = r.dispatcher.Publish(ctx, events.FromActivity(activity, in.Actor))
	}
}

// List returns the activity feed for the filter.
func (r *ActivityRecorder) List(ctx context.Context, filter repository.ActivityFilter) ([]domain.Activity, error) {
	activities, err := r.repo.List(ctx, filter)
	if err != nil {
		return nil, repoErr(err, "activity", nil)
	}
	return activities, nil
}
