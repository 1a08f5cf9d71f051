package service

import (
	"context"
	"time"

	"github.com/MimeLyc/subsync/pkg/icron"
	"github.com/MimeLyc/subsync/pkg/log"
)

// Sweep deletes expired cache entries. Overlapping calls share one run.
func (s *Service) Sweep(ctx context.Context) int {
	v, _, _ := s.sweepGroup.Do("sweep", func() (any, error) {
		start := time.Now()
		removed := s.cache.SweepExpired(ctx)
		if removed > 0 {
			log.Info("Swept %d expired cache entries in %s", removed, time.Since(start).Round(time.Millisecond))
		}
		return removed, nil
	})
	return v.(int)
}

func (s *Service) scheduleSweep(ctx context.Context, expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(expr, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	if s.sweepEntry != 0 {
		s.cron.Remove(s.sweepEntry)
	}
	s.sweepEntry = entryID
	s.sweepExpr = expr

	if info, err := icron.GetTriggerInfo(expr, time.Now()); err == nil {
		log.Info("Cache sweep scheduled with %q, next run in %s", expr, info.TimeUntilNext.Round(time.Second))
	}
	return nil
}
