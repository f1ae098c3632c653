package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/crm-service/internal/persistence"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) CheckSnoozed(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

type stubLocker struct {
	ok       bool
	err      error
	released int
	key      string
	ttl      time.Duration
}

func (l *stubLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.key = key
	l.ttl = ttl
	if l.err != nil || !l.ok {
		return func() {}, false, l.err
	}
	return func() { l.released++ }, true, nil
}

func TestSnoozeWorkerTick(t *testing.T) {
	tests := []struct {
		name      string
		locker    *stubLocker
		wantCalls int
		released  int
	}{
		{"lock acquired", &stubLocker{ok: true}, 1, 1},
		{"lock held elsewhere", &stubLocker{ok: false}, 0, 0},
		{"lock backend down", &stubLocker{err: errors.New("redis down")}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sweeper := &countingSweeper{}
			w := NewSnoozeWorker(sweeper, tt.locker, time.Minute, 30*time.Second, nil)
			w.Tick(context.Background())

			assert.Equal(t, int32(tt.wantCalls), sweeper.calls.Load())
			assert.Equal(t, tt.released, tt.locker.released)
			assert.Equal(t, snoozeLockKey, tt.locker.key)
			assert.Equal(t, 30*time.Second, tt.locker.ttl)
		})
	}
}

func TestSnoozeWorkerWithoutRedisRunsLocally(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("boom")}
	w := NewSnoozeWorker(sweeper, &persistence.Redis{}, time.Minute, 0, nil)

	w.Tick(context.Background())
	w.Tick(context.Background())
	assert.Equal(t, int32(2), sweeper.calls.Load())
	assert.Equal(t, time.Minute, w.lockTTL)
}

func TestSnoozeWorkerRunStopsOnCancel(t *testing.T) {
	sweeper := &countingSweeper{}
	w := NewSnoozeWorker(sweeper, nil, 10*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
