package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// defaultSweepBatch bounds how many due deliveries one sweep picks up.
const defaultSweepBatch = 500

// SchedulerUseCase defines the retry operations consumed by the HTTP layer.
type SchedulerUseCase interface {
	ProcessFailed(ctx context.Context) (int, error)
	Retry(ctx context.Context, id int64) (Delivery, error)
}

/* Scheduler owns the retry budget: it finds failed deliveries that are due
 * for another attempt, checks them against their endpoint's max-retry count,
 * and drives them back through the Dispatcher with bounded fan-out.
 */
type Scheduler struct {
	Repo       Repository
	Dispatcher *Dispatcher

	// Concurrency bounds the dispatch fan-out of one sweep.
	Concurrency int

	log zerolog.Logger
	now func() time.Time
}

// NewScheduler creates a retry scheduler with the given fan-out bound.
func NewScheduler(repo Repository, dispatcher *Dispatcher, concurrency int, log zerolog.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		Repo:        repo,
		Dispatcher:  dispatcher,
		Concurrency: concurrency,
		log:         log,
		now:         time.Now,
	}
}

/* ProcessFailed sweeps for failed deliveries whose next attempt time has
 * passed and whose retry budget is not exhausted, and re-attempts each. It
 * returns the number of attempts actually made; deliveries whose claim was
 * lost to a concurrent worker sent nothing and are not counted.
 *
 * Unrelated deliveries run concurrently with no ordering guarantee; a single
 * delivery is never attempted twice at once because the dispatcher's counter
 * claim makes the loser of any race abandon its attempt.
 */
func (sc *Scheduler) ProcessFailed(ctx context.Context) (int, error) {
	due, err := sc.Repo.ListDueFailed(ctx, sc.now(), defaultSweepBatch)
	if err != nil {
		return 0, fmt.Errorf("listing due deliveries: %w", err)
	}

	/* Budget enforcement lives here, not in the dispatcher: endpoints carry
	 * their own max-retry count, so the check needs the endpoint anyway.
	 */
	budgets := make(map[string]int)
	eligible := due[:0]
	for _, d := range due {
		max, ok := budgets[d.EndpointID]
		if !ok {
			ep, err := sc.Repo.GetEndpoint(ctx, d.EndpointID)
			if err != nil {
				sc.log.Error().Err(err).Str("endpoint_id", d.EndpointID).
					Int64("delivery_id", d.ID).Msg("loading endpoint for sweep failed")
				continue
			}
			max = ep.MaxRetries
			budgets[d.EndpointID] = max
		}
		if d.AttemptCount >= max {
			// Budget exhausted: inert until an operator forces a retry.
			continue
		}
		eligible = append(eligible, d)
	}

	sem := make(chan struct{}, sc.Concurrency)
	var wg sync.WaitGroup
	var attempted atomic.Int64
	for _, d := range eligible {
		wg.Add(1)
		sem <- struct{}{}
		go func(d Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := sc.Dispatcher.Attempt(ctx, d); err != nil {
				if errors.Is(err, ErrAttemptConflict) {
					// Claimed elsewhere, nothing was sent: not counted.
					sc.log.Debug().Int64("delivery_id", d.ID).
						Msg("attempt claimed elsewhere, skipping")
					return
				}
				sc.log.Error().Err(err).Int64("delivery_id", d.ID).Msg("retry attempt errored")
			}
			attempted.Add(1)
		}(d)
	}
	wg.Wait()

	processed := int(attempted.Load())
	if processed > 0 {
		sc.log.Info().Int("processed", processed).Msg("retry sweep finished")
	}
	return processed, nil
}

/* Retry is the operator-triggered forced retry path. It only applies to
 * failed deliveries (exhausted or not); anything else is rejected with no
 * state change. The reset to pending happens as a conditional store write,
 * so a racing sweep cannot double-dispatch the same attempt generation.
 */
func (sc *Scheduler) Retry(ctx context.Context, id int64) (Delivery, error) {
	d, err := sc.Repo.ResetForRetry(ctx, id)
	if err != nil {
		return Delivery{}, fmt.Errorf("resetting delivery %d: %w", id, err)
	}
	updated, err := sc.Dispatcher.Attempt(ctx, d)
	if err != nil {
		return d, fmt.Errorf("dispatching retry: %w", err)
	}
	return updated, nil
}
