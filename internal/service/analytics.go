package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/config"
	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/repository"
	"github.com/turbotransfer/host/internal/sse"
)

const (
	EventAnalyticsRecorded = "analytics_recorded"
	EventAnalyticsCleared  = "analytics_cleared"
)

// AnalyticsService is the append-only transfer log. Stats are loaded once
// from the database and then maintained incrementally.
type AnalyticsService struct {
	repo   repository.AnalyticsRepository
	events EventPublisher
	now    func() time.Time

	mu    sync.Mutex
	stats *model.AnalyticsStats
}

func NewAnalyticsService(repo repository.AnalyticsRepository, events EventPublisher) *AnalyticsService {
	return &AnalyticsService{
		repo:   repo,
		events: events,
		now:    time.Now,
	}
}

func (s *AnalyticsService) Record(ctx context.Context, entry model.AnalyticsEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	s.mu.Lock()
	created, err := s.repo.Create(ctx, entry)
	if err == nil && s.stats != nil {
		s.stats.Add(*created)
	}
	s.mu.Unlock()
	if err != nil {
		return apperrors.Database(err)
	}

	log.Debug().
		Str("filename", created.Filename).
		Str("direction", string(created.Direction)).
		Str("status", string(created.Status)).
		Int64("size", created.Size).
		Msg("transfer recorded")

	publish(ctx, s.events, sse.TopicHost, EventAnalyticsRecorded, created)
	return nil
}

// History returns the most recent entries, oldest first.
func (s *AnalyticsService) History(ctx context.Context, limit int) ([]model.AnalyticsEntry, error) {
	if limit <= 0 {
		limit = config.DefaultAnalyticsLimit
	}
	if limit > config.MaxAnalyticsLimit {
		limit = config.MaxAnalyticsLimit
	}

	entries, err := s.repo.FindRecent(ctx, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if entries == nil {
		entries = []model.AnalyticsEntry{}
	}
	return entries, nil
}

func (s *AnalyticsService) Stats(ctx context.Context) (model.AnalyticsStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats == nil {
		stats, err := s.repo.Stats(ctx)
		if err != nil {
			return model.AnalyticsStats{}, apperrors.Database(err)
		}
		s.stats = &stats
	}
	return *s.stats, nil
}

// Clear removes every entry. It is the only way entries are deleted.
func (s *AnalyticsService) Clear(ctx context.Context) (int64, error) {
	s.mu.Lock()
	removed, err := s.repo.DeleteAll(ctx)
	if err == nil {
		s.stats = &model.AnalyticsStats{}
	}
	s.mu.Unlock()
	if err != nil {
		return 0, apperrors.Database(err)
	}

	log.Info().Int64("removed", removed).Msg("transfer history cleared")
	publish(ctx, s.events, sse.TopicHost, EventAnalyticsCleared, map[string]int64{"removed": removed})
	return removed, nil
}
