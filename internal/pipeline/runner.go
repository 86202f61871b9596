package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"transferwatch/internal/filter"
	"transferwatch/internal/model"
	"transferwatch/internal/watch"
)

// Dispatcher consumes filtered events; satisfied by dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, event model.TransferEvent, verdict model.FilterVerdict)
}

// Runner connects the candidate stream to the filter chain and dispatcher.
// Distinct candidates are processed concurrently; the filter chain itself
// guarantees the dedup/mark pair stays atomic per hash.
type Runner struct {
	candidates <-chan model.RawCandidate
	normalizer *Normalizer
	filters    *filter.Chain
	dispatcher Dispatcher
	store      *watch.Store
	changes    <-chan watch.Change
	workers    int
	logger     *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(
	candidates <-chan model.RawCandidate,
	normalizer *Normalizer,
	filters *filter.Chain,
	dispatcher Dispatcher,
	store *watch.Store,
	workers int,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		candidates: candidates,
		normalizer: normalizer,
		filters:    filters,
		dispatcher: dispatcher,
		store:      store,
		changes:    store.Subscribe(),
		workers:    workers,
		logger:     logger,
	}
}

// Run processes candidates until the stream closes or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case change := <-r.changes:
				if targetChanged(change.Changed) {
					// Old hashes and cooldowns belong to the previous
					// watch target.
					r.filters.Reset()
					r.logger.Info("filter state reset for new watch target")
				}
			}
		}
	})

	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for candidate := range r.candidates {
				if ctx.Err() != nil {
					return nil
				}
				event, ok := r.normalizer.Normalize(candidate)
				if !ok {
					continue
				}
				verdict := r.filters.Evaluate(event, r.store.Current())
				if verdict.Reason == model.ReasonDuplicate {
					continue
				}
				r.dispatcher.Dispatch(ctx, event, verdict)
			}
			return nil
		})
	}

	return g.Wait()
}

func targetChanged(changed []string) bool {
	for _, field := range changed {
		if field == "tracked_contract" || field == "tracking_mode" {
			return true
		}
	}
	return false
}
