/*
scheduler.go - Redemption code expiry sweeper

PURPOSE:
  Periodically moves Active redemption codes whose ExpiresAt has passed to
  Expired. Expiry never touches balances; the points stay debited until an
  admin reverses the redemption entry.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Sweeps once immediately on Start
  - A failed sweep is logged and retried on the next tick
  - MarkCodeUsed also expires an overdue code on access, so the sweeper
    only keeps the stored status current for listings and reports

USAGE:
  sweeper := NewExpirySweeper(service, time.Minute, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - ledger/service.go: ExpireCodes
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CodeExpirer is the part of ledger.Service the sweeper drives.
type CodeExpirer interface {
	ExpireCodes(ctx context.Context, now time.Time) (int, error)
}

// SweepObserver is told about every finished sweep. metrics.Metrics
// implements it.
type SweepObserver interface {
	SweepFinished(expired int, err error)
}

// ExpirySweeper expires overdue redemption codes on a ticker.
type ExpirySweeper struct {
	Service  CodeExpirer
	Interval time.Duration
	Observer SweepObserver
	Now      func() time.Time

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirySweeper creates a sweeper. Interval <= 0 disables it.
func NewExpirySweeper(svc CodeExpirer, interval time.Duration, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		Service:  svc,
		Interval: interval,
		Now:      time.Now,
		log:      log.With().Str("component", "expiry-sweeper").Logger(),
	}
}

// Start begins sweeping. Calling Start on a running sweeper does nothing.
func (es *ExpirySweeper) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.Interval <= 0 {
		es.log.Info().Msg("disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.Interval)
	es.stop = make(chan struct{})
	es.wg.Add(1)
	go es.run(es.ticker, es.stop)

	es.log.Info().Dur("interval", es.Interval).Msg("started")
}

// Stop halts the sweeper and waits for an in-flight sweep to finish.
func (es *ExpirySweeper) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker == nil {
		return
	}
	es.ticker.Stop()
	close(es.stop)
	es.wg.Wait()
	es.ticker = nil
	es.log.Info().Msg("stopped")
}

func (es *ExpirySweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer es.wg.Done()

	// Run immediately on start
	es.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			es.Sweep(context.Background())
		case <-stop:
			return
		}
	}
}

// Sweep runs one expiry pass and returns how many codes it expired.
func (es *ExpirySweeper) Sweep(ctx context.Context) int {
	n, err := es.Service.ExpireCodes(ctx, es.Now().UTC())
	if es.Observer != nil {
		es.Observer.SweepFinished(n, err)
	}
	if err != nil {
		es.log.Error().Err(err).Int("expired", n).Msg("sweep failed")
		return n
	}
	if n > 0 {
		es.log.Info().Int("expired", n).Msg("expired redemption codes")
	}
	return n
}
