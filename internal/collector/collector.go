package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/aggregator"
	"github.com/kloudmate/xray-exporter/internal/metrics"
	"github.com/kloudmate/xray-exporter/internal/models"
	"github.com/kloudmate/xray-exporter/internal/storage"
	"github.com/kloudmate/xray-exporter/internal/xray"
)

// dedupSaveEvery bounds how often the dedup index is persisted while a fetch
// is still in flight.
const dedupSaveEvery = 10

type Config struct {
	TimeWindow          time.Duration
	CollectInterval     time.Duration
	CacheTTL            time.Duration
	MaxTracesPerCycle   int
	ForceFullCollection bool
	Overlap             time.Duration
	MaxWindowMultiplier int
	DedupMaxSize        int
	DedupRetention      time.Duration
}

// Collector owns the collection cycle and the TTL cache of materialized
// metrics. One mutex single-flights collection: concurrent readers block
// briefly instead of triggering concurrent backend queries, and the durable
// state (watermark, dedup index, counter table) is only ever touched while
// it is held.
type Collector struct {
	logger    *zap.Logger
	cfg       *Config
	store     *storage.Store
	api       xray.API
	fetcher   *xray.Fetcher
	agg       *aggregator.Aggregator
	mat       *aggregator.Materializer
	telemetry *Telemetry
	planner   Planner

	mu          sync.Mutex
	dedup       *storage.DedupIndex
	table       *metrics.CounterTable
	watermark   time.Time
	cache       []models.MetricRecord
	lastRefresh time.Time
}

func New(cfg *Config, api xray.API, fetcher *xray.Fetcher, store *storage.Store, telemetry *Telemetry, logger *zap.Logger) *Collector {
	c := &Collector{
		logger:    logger,
		cfg:       cfg,
		store:     store,
		api:       api,
		fetcher:   fetcher,
		agg:       aggregator.New(logger),
		mat:       aggregator.NewMaterializer(logger),
		telemetry: telemetry,
		planner: Planner{
			Window:        cfg.TimeWindow,
			Overlap:       cfg.Overlap,
			MaxMultiplier: cfg.MaxWindowMultiplier,
		},
		dedup: storage.NewDedupIndex(cfg.DedupMaxSize),
		table: metrics.NewCounterTable(),
	}

	c.watermark = store.LoadWatermark(cfg.TimeWindow)
	c.dedup.Restore(store.LoadDedup())
	c.table.Restore(store.LoadCounters())

	logger.Info("initialized collector",
		zap.Duration("time_window", cfg.TimeWindow),
		zap.Time("watermark", c.watermark),
		zap.Int("dedup_entries", c.dedup.Len()),
		zap.Int("counter_series", c.table.Len()))

	return c
}

// GetMetrics returns the cached metric records, running a collection cycle
// first when the cache has expired. On failure the previous cache is served
// and the refresh stamp is left alone so the next call retries promptly; if
// there is no cache yet, records are materialized straight from the
// persisted counter table so the endpoint never serves an empty body.
func (c *Collector) GetMetrics(ctx context.Context) []models.MetricRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastRefresh) > c.cfg.CacheTTL {
		if err := c.collectLocked(ctx); err != nil {
			c.telemetry.CycleFailures.Inc()
			c.logger.Error("collection cycle failed", zap.Error(err))
			if len(c.cache) == 0 {
				return c.mat.Materialize(c.table, nil, nil)
			}
		}
	}
	return c.cache
}

func (c *Collector) collectLocked(ctx context.Context) error {
	started := time.Now()

	start, end, clamped := c.planner.Plan(c.watermark, time.Now().UTC())
	if clamped {
		c.logger.Warn("collection window clamped",
			zap.Time("watermark", c.watermark),
			zap.Time("start", start),
			zap.Time("end", end))
	}
	c.logger.Info("collecting trace data",
		zap.Time("start", start),
		zap.Time("end", end))

	ids, err := c.api.TraceIDs(ctx, start, end)
	if err != nil {
		return fmt.Errorf("failed to list trace summaries: %w", err)
	}

	newIDs := ids
	if !c.cfg.ForceFullCollection {
		newIDs = make([]string, 0, len(ids))
		for _, id := range ids {
			if c.dedup.Contains(id) {
				c.telemetry.DuplicatesSkipped.Inc()
				continue
			}
			newIDs = append(newIDs, id)
		}
	}
	// Capped-out ids never enter the dedup index, so they are counted on a
	// later cycle only while the overlap window still lists them; a burst
	// outlasting the overlap loses the excess.
	if c.cfg.MaxTracesPerCycle > 0 && len(newIDs) > c.cfg.MaxTracesPerCycle {
		c.logger.Warn("capping traces for this cycle",
			zap.Int("found", len(newIDs)),
			zap.Int("cap", c.cfg.MaxTracesPerCycle))
		newIDs = newIDs[:c.cfg.MaxTracesPerCycle]
	}

	var traces []models.Trace
	if len(newIDs) > 0 {
		// Completed batches land in the dedup index (and periodically on
		// disk) as they arrive, so a crash mid-fetch does not re-hydrate
		// them next cycle.
		batchesSinceSave := 0
		var dropped int
		traces, dropped = c.fetcher.FetchDetails(ctx, newIDs, func(hydrated []string) {
			c.dedup.InsertBatch(hydrated)
			batchesSinceSave++
			if batchesSinceSave >= dedupSaveEvery {
				if err := c.store.SaveDedup(c.dedup.Snapshot()); err != nil {
					c.logger.Warn("failed to persist dedup index", zap.Error(err))
				}
				batchesSinceSave = 0
			}
		})
		c.telemetry.BatchesDropped.Add(float64(dropped))
	}

	var services map[string]*aggregator.ServiceStats
	var urls map[string]*aggregator.URLStats
	if len(traces) > 0 {
		services, urls = c.agg.Fold(traces)
		c.mat.Merge(c.table, services, urls)
	} else {
		c.logger.Warn("no traces found in window",
			zap.Time("start", start),
			zap.Time("end", end))
	}

	// The heartbeat advances on every completed cycle, proving liveness to
	// the scrape consumer even when nothing was collected.
	c.table.Inc(aggregator.MetricHeartbeat)

	if err := c.store.SaveCounters(c.table.Snapshot()); err != nil {
		c.logger.Warn("failed to persist counter table", zap.Error(err))
	}
	if err := c.store.SaveDedup(c.dedup.Snapshot()); err != nil {
		c.logger.Warn("failed to persist dedup index", zap.Error(err))
	}

	// The window has been observed end to end; only now may the watermark
	// advance.
	c.watermark = end
	if err := c.store.SaveWatermark(end); err != nil {
		c.logger.Warn("failed to persist watermark", zap.Error(err))
	}

	c.cache = c.mat.Materialize(c.table, services, urls)
	c.lastRefresh = time.Now()

	c.telemetry.CyclesTotal.Inc()
	c.telemetry.TracesFetched.Add(float64(len(traces)))
	c.telemetry.CycleDuration.Observe(time.Since(started).Seconds())

	c.logger.Info("collection cycle complete",
		zap.Int("traces", len(traces)),
		zap.Int("records", len(c.cache)),
		zap.Duration("elapsed", time.Since(started)))

	return nil
}

// Run drives periodic collection independent of scrape traffic so counters
// stay fresh even with no readers. Stops when ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.GetMetrics(ctx)
		case <-ctx.Done():
			c.logger.Info("stopping background collection")
			return
		}
	}
}

// CleanupDedup removes dedup entries older than age (the configured
// retention when age is zero) and persists the index. Returns how many
// entries were removed.
func (c *Collector) CleanupDedup(age time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if age <= 0 {
		age = c.cfg.DedupRetention
	}
	removed := c.dedup.CleanupOlderThan(age)
	if removed > 0 {
		if err := c.store.SaveDedup(c.dedup.Snapshot()); err != nil {
			c.logger.Warn("failed to persist dedup index", zap.Error(err))
		}
	}
	c.logger.Info("dedup cleanup complete",
		zap.Duration("age", age),
		zap.Int("removed", removed),
		zap.Int("remaining", c.dedup.Len()))
	return removed
}

// Watermark returns the end of the last successfully processed window.
func (c *Collector) Watermark() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}
