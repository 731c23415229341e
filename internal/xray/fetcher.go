package xray

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/models"
)

// batchLimit is the backend's hard cap on ids per BatchGetTraces call.
const batchLimit = 5

const retryBackoff = 500 * time.Millisecond

// Fetcher hydrates trace detail in bounded-concurrency batches. A batch that
// exhausts its retries is dropped with a warning; partial data loss is
// acceptable, a stalled cycle is not.
type Fetcher struct {
	api           API
	logger        *zap.Logger
	batchSize     int
	concurrency   int
	retryAttempts int
}

func NewFetcher(api API, cfg *Config, logger *zap.Logger) *Fetcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > batchLimit {
		batchSize = batchLimit
	}
	return &Fetcher{
		api:           api,
		logger:        logger,
		batchSize:     batchSize,
		concurrency:   cfg.Concurrency,
		retryAttempts: cfg.RetryAttempts,
	}
}

// FetchDetails hydrates the given ids and returns the traces plus the number
// of batches dropped after retry exhaustion. onBatch, when non-nil, receives
// the ids of each successfully hydrated batch as it completes, so already
// fetched traces survive a mid-cycle crash; it is never called concurrently.
func (f *Fetcher) FetchDetails(ctx context.Context, ids []string, onBatch func(ids []string)) ([]models.Trace, int) {
	if len(ids) == 0 {
		return nil, 0
	}

	var batches [][]string
	for start := 0; start < len(ids); start += f.batchSize {
		end := min(start+f.batchSize, len(ids))
		batches = append(batches, ids[start:end])
	}

	// Capped at the batch count so rising trace volume widens the fan-out
	// instead of leaving idle workers.
	workers := min(f.concurrency, len(batches))
	if workers < 1 {
		workers = 1
	}

	results := make([][]models.Trace, len(batches))
	jobs := make(chan int)
	var dropped int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				traces, err := f.fetchBatch(ctx, batches[i])
				if err != nil {
					f.logger.Warn("dropping trace batch after retries",
						zap.Int("batch_size", len(batches[i])),
						zap.Int("attempts", f.retryAttempts),
						zap.Error(err))
					mu.Lock()
					dropped++
					mu.Unlock()
					continue
				}
				results[i] = traces

				if onBatch != nil {
					hydrated := make([]string, 0, len(traces))
					for _, t := range traces {
						hydrated = append(hydrated, t.ID)
					}
					mu.Lock()
					onBatch(hydrated)
					mu.Unlock()
				}
			}
		}()
	}

	for i := range batches {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var all []models.Trace
	for _, r := range results {
		all = append(all, r...)
	}

	f.logger.Info("hydrated trace details",
		zap.Int("traces", len(all)),
		zap.Int("batches", len(batches)),
		zap.Int("dropped_batches", dropped))

	return all, dropped
}

func (f *Fetcher) fetchBatch(ctx context.Context, ids []string) ([]models.Trace, error) {
	attempts := f.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		traces, err := f.api.BatchTraces(ctx, ids)
		if err == nil {
			return traces, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
