package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/crm-service/internal/domain"
)

type recordingSink struct {
	written []Event
	err     error
}

func (s *recordingSink) Write(_ context.Context, event Event) error {
	s.written = append(s.written, event)
	return s.err
}

func (s *recordingSink) Close() {}

func TestDispatcherRoutesByTypeAndWildcard(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var typed []string
	d.Subscribe(domain.ActivityCaseCreated, func(_ context.Context, e Event) error {
		typed = append(typed, e.ID)
		return errors.New("ignored")
	})
	sink := &recordingSink{err: errors.New("sink down")}
	AttachAuditSink(d, sink)

	ctx := context.Background()
	assert.NoError(t, d.Publish(ctx, Event{ID: "e1", Type: domain.ActivityCaseCreated}))
	assert.NoError(t, d.Publish(ctx, Event{ID: "e2", Type: domain.ActivityConversationClosed}))

	assert.Equal(t, []string{"e1"}, typed)
	assert.Len(t, sink.written, 2)
}

func TestFromActivity(t *testing.T) {
	caseID := "case-1"
	at := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	activity := &domain.Activity{
		ID:        "a1",
		Type:      domain.ActivityCaseCreated,
		CaseID:    &caseID,
		Metadata:  map[string]any{"title": "Serum"},
		CreatedAt: at,
	}

	event := FromActivity(activity, domain.SystemActor)
	assert.Equal(t, "a1", event.ID)
	assert.Equal(t, domain.ActivityCaseCreated, event.Type)
	assert.Equal(t, &caseID, event.CaseID)
	assert.Equal(t, domain.ActorTypeSystem, event.Actor.Type)
	assert.Equal(t, at, event.Timestamp)
	assert.Equal(t, "Serum", event.Payload["title"])
}

func TestAsyncDispatcherDoesNotWaitForHandlers(t *testing.T) {
	inner := NewInMemoryDispatcher(nil)
	release := make(chan struct{})
	delivered := make(chan string, 4)
	inner.Subscribe(domain.ActivityCaseCreated, func(_ context.Context, e Event) error {
		<-release
		delivered <- e.ID
		return nil
	})
	d := NewAsyncDispatcher(inner, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	assert.NoError(t, d.Publish(ctx, Event{ID: "e1", Type: domain.ActivityCaseCreated}))
	assert.NoError(t, d.Publish(ctx, Event{ID: "e2", Type: domain.ActivityCaseCreated}))
	cancel()
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Empty(t, delivered)

	close(release)
	assert.Eventually(t, func() bool { return len(delivered) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "e1", <-delivered)
	assert.Equal(t, "e2", <-delivered)
	assert.NoError(t, d.Close(context.Background()))
}

func TestAsyncDispatcherDropsWhenFull(t *testing.T) {
	inner := NewInMemoryDispatcher(nil)
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	inner.SubscribeAll(func(_ context.Context, e Event) error {
		<-release
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
		return nil
	})
	d := NewAsyncDispatcher(inner, 1, nil)
	ctx := context.Background()

	assert.NoError(t, d.Publish(ctx, Event{ID: "e1"}))
	// e1 is held by the handler once the worker picks it up; e2 fills the queue.
	assert.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	assert.NoError(t, d.Publish(ctx, Event{ID: "e2"}))
	assert.NoError(t, d.Publish(ctx, Event{ID: "e3"}))

	close(release)
	assert.NoError(t, d.Close(ctx))
	assert.NoError(t, d.Publish(ctx, Event{ID: "e4"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"e1", "e2"}, seen)
}

func TestAsyncDispatcherCloseHonoursDeadline(t *testing.T) {
	inner := NewInMemoryDispatcher(nil)
	release := make(chan struct{})
	defer close(release)
	inner.SubscribeAll(func(context.Context, Event) error {
		<-release
		return nil
	})
	d := NewAsyncDispatcher(inner, 4, nil)
	assert.NoError(t, d.Publish(context.Background(), Event{ID: "e1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}
