package storage

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultSweepInterval = time.Hour

// Sweeper deletes received files once they are older than the retention.
type Sweeper struct {
	ledger    *Ledger
	retention time.Duration
	now       func() time.Time
	log       *logrus.Entry
}

func NewSweeper(ledger *Ledger, retention time.Duration) *Sweeper {
	return &Sweeper{
		ledger:    ledger,
		retention: retention,
		now:       time.Now,
		log:       logrus.WithField("component", "sweeper"),
	}
}

// Start runs Sweep every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.loop(ctx, interval)
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.WithError(err).Error("sweep uploads failed")
			}
		}
	}
}

// Sweep removes expired files and their rows and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.ledger.Expired(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, u := range expired {
		if err := os.Remove(u.StoredPath); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("path", u.StoredPath).Warn("remove expired upload failed")
			continue
		}
		if err := s.ledger.Delete(ctx, u.ID); err != nil {
			s.log.WithError(err).WithField("id", u.ID).Warn("delete upload record failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("expired uploads swept")
	}
	return removed, nil
}
