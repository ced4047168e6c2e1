package outcome

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Mode selects how a multi-item recording pass schedules its operations.
type Mode struct {
	kind      modeKind
	batchSize int
}

type modeKind int

const (
	modeSequential modeKind = iota
	modeParallel
	modeParallelBatched
)

// Sequential processes items one at a time, in input order.
func Sequential() Mode {
	return Mode{kind: modeSequential}
}

// Parallel starts every item's operation concurrently.
func Parallel() Mode {
	return Mode{kind: modeParallel}
}

// ParallelBatched partitions items into fixed-size groups in input order;
// groups run serially, items within a group run concurrently.
func ParallelBatched(batchSize int) Mode {
	if batchSize <= 0 {
		batchSize = 1
	}
	return Mode{kind: modeParallelBatched, batchSize: batchSize}
}

// Run executes fn, measures wall-clock timing, writes the settled outcome
// into slot, and returns the result. The outcome is recorded before the
// error is returned, so a failed step is still observable in the report.
func Run[T any](ctx context.Context, slot *Outcome[T], fn func(ctx context.Context) (T, error)) (T, error) {
	value, err, timing := timed(ctx, fn)
	if err != nil {
		*slot = Failure[T](Normalize(err), timing)
		return value, err
	}
	*slot = Success(value, timing)
	return value, nil
}

// RunForEach executes fn per item under the given mode, recording each
// item's outcome into the slot resolved for it. Failed items are recorded
// and dropped; only the items whose operation succeeded are returned, in
// input order. No retries happen here.
func RunForEach[I, T any](
	ctx context.Context,
	logger zerolog.Logger,
	mode Mode,
	items []I,
	slot func(item I) *Outcome[T],
	fn func(ctx context.Context, item I) (T, error),
) []I {
	succeeded := make([]bool, len(items))

	runOne := func(idx int) {
		item := items[idx]
		value, err, timing := timed(ctx, func(ctx context.Context) (T, error) {
			return fn(ctx, item)
		})
		target := slot(item)
		if err != nil {
			*target = Failure[T](Normalize(err), timing)
			logger.Debug().Int("item", idx).Err(err).Msg("item operation failed")
			return
		}
		*target = Success(value, timing)
		succeeded[idx] = true
	}

	switch mode.kind {
	case modeSequential:
		for i := range items {
			runOne(i)
		}
	case modeParallel:
		runBatch(ctx, 0, len(items), runOne)
	case modeParallelBatched:
		for start := 0; start < len(items); start += mode.batchSize {
			end := start + mode.batchSize
			if end > len(items) {
				end = len(items)
			}
			runBatch(ctx, start, end, runOne)
		}
	}

	kept := make([]I, 0, len(items))
	for i, item := range items {
		if succeeded[i] {
			kept = append(kept, item)
		}
	}
	return kept
}

func runBatch(ctx context.Context, start, end int, runOne func(idx int)) {
	g, _ := errgroup.WithContext(ctx)
	for i := start; i < end; i++ {
		g.Go(func() error {
			runOne(i)
			return nil
		})
	}
	// runOne records failures itself; the group never carries an error.
	_ = g.Wait()
}

func timed[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error, Timing) {
	started := time.Now().UTC()
	value, err := fn(ctx)
	ended := time.Now().UTC()
	return value, err, Timing{StartedAt: started, EndedAt: ended, Duration: ended.Sub(started)}
}
