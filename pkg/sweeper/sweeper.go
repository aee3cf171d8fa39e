// Package sweeper periodically republishes StartFileValidation events
// for files whose post-commit publish was lost, the acknowledged gap
// in the create-listing path. Grounded on the teacher's reconciler
// ticking loop: a timer drives a bounded unit of work and logs failures
// without stopping the loop.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/meshforge/listings/pkg/listing"
	"github.com/meshforge/listings/pkg/log"
	"github.com/rs/zerolog"
)

// Sweeper periodically republishes stuck PENDING file validations.
type Sweeper struct {
	listings *listing.Service
	interval time.Duration
	grace    time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Sweeper that republishes files still PENDING after
// grace, checking every interval.
func New(listings *listing.Service, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		listings: listings,
		interval: interval,
		grace:    grace,
		logger:   log.WithComponent("sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop in the background.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the sweep loop and waits for the in-flight cycle to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Dur("grace", s.grace).Msg("sweeper started")

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			s.logger.Info().Msg("sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.listings.RepublishPendingValidation(ctx, s.grace)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep cycle failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("republished pending file validations")
	}
}
