package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type TempSweeper interface {
	SweepTemp(ctx context.Context, maxAge time.Duration) (int64, error)
}

// CleanupJob periodically expires pending sessions whose PIN lapsed and
// removes upload temp files abandoned by dropped connections.
type CleanupJob struct {
	sessions   SessionSweeper
	temp       TempSweeper
	tempMaxAge time.Duration
	interval   time.Duration
	done       chan struct{}
	wg         sync.WaitGroup
}

func NewCleanupJob(sessions SessionSweeper, temp TempSweeper, tempMaxAge, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions:   sessions,
		temp:       temp,
		tempMaxAge: tempMaxAge,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	j.wg.Wait()
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if j.sessions != nil {
		j.runCleanup(ctx, "expired sessions", j.sessions.SweepExpired)
	}
	if j.temp != nil {
		j.runCleanup(ctx, "stale upload files", func(ctx context.Context) (int64, error) {
			return j.temp.SweepTemp(ctx, j.tempMaxAge)
		})
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
