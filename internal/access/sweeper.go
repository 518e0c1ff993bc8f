package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically evicts expired cache entries.
type Sweeper struct {
	cron   *cron.Cron
	cache  Cache
	logger *slog.Logger
}

// NewSweeper schedules a sweep of cache every interval.
func NewSweeper(cache Cache, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("access: sweep interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{cron: cron.New(), cache: cache, logger: logger}
	if _, err := s.cron.AddFunc("@every "+interval.String(), s.sweep); err != nil {
		return nil, fmt.Errorf("access: schedule sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	if n := s.cache.Sweep(context.Background()); n > 0 {
		s.logger.Debug("role cache swept", slog.Int("evicted", n))
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}
