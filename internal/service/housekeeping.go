package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// StartHousekeeping schedules the stale session purge. Stop the returned cron on shutdown.
func (s *Service) StartHousekeeping(schedule string, retention time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.PurgeSessions(ctx, retention); err != nil {
			s.log.WithError(err).Error("Session purge failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}
