package bans

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically deactivates expired bans so the is_active flag, the
// read predicates, and the one-active-ban unique index never drift apart.
type Sweeper struct {
	stores   []Store
	interval time.Duration
	log      *log.Logger
}

func NewSweeper(interval time.Duration, logger *log.Logger, stores ...Store) *Sweeper {
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{stores: stores, interval: interval, log: logger}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	for _, store := range s.stores {
		swept, err := store.SweepExpired(ctx)
		if err != nil {
			s.log.Printf("ban sweep failed: %v", err)
			continue
		}
		if swept > 0 {
			s.log.Printf("deactivated %d expired bans", swept)
		}
	}
}
