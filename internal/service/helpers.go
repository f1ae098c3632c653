package service

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/crm-service/internal/repository"
	apperrors "github.com/spec-kit/crm-service/pkg/util"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

func clockOrNow(c Clock) Clock {
	if c == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return c
}

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// repoErr translates repository sentinels into domain errors.
func repoErr(err error, resource string, details map[string]any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, details)
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewConflict(resource+" was modified concurrently", details)
	case errors.Is(err, repository.ErrNotEditable):
		return apperrors.NewInvalidTransition(resource, "sent", "edit", details)
	}
	if _, ok := repository.AsDuplicate(err); ok {
		return apperrors.NewConflict(resource+" already exists", details)
	}
	return apperrors.MapError(err)
}

// stringPreview trims s to at most limit runes on a single line.
func stringPreview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ids(kv ...string) map[string]any {
	details := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		details[kv[i]] = kv[i+1]
	}
	return details
}
