package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Record persists one access event. Audit failures are logged but never fail
// the request that produced them.
func (s *Service) Record(ctx context.Context, e *Event) {
	if e.Recorded.IsZero() {
		e.Recorded = time.Now().UTC()
	}
	if err := s.repo.Create(ctx, e); err != nil {
		s.log.Error().Err(err).
			Str("user_id", e.UserID).
			Str("path", e.Path).
			Msg("failed to record audit event")
	}
}

