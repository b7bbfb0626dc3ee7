package historian

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

var (
	metricFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aika",
		Name:      "batcher_flushes_total",
		Help:      "The total number of completed batch flushes.",
	}, []string{"batcher"})
	metricFailedFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aika",
		Name:      "batcher_failed_flushes_total",
		Help:      "The total number of batch flushes that failed.",
	}, []string{"batcher"})
	metricSkippedFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aika",
		Name:      "batcher_skipped_flushes_total",
		Help:      "The total number of flush ticks skipped because a prior flush was still in flight.",
	}, []string{"batcher"})
	metricFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aika",
		Name:      "batcher_flush_duration_seconds",
		Help:      "Records the amount of time to flush one batch.",
		Buckets:   prometheus.ExponentialBuckets(.01, 2, 10),
	}, []string{"batcher"})
)

// pendingBatch accumulates writes between flush ticks. Snapshot and candidate
// entries are latest-wins per tag; archive appends preserve enqueue order per
// partition and tag.
type pendingBatch struct {
	snapshots  sync.Map // uuid.UUID -> model.TagValue
	candidates sync.Map // uuid.UUID -> model.ArchiveCandidate
	archives   sync.Map // partition string -> *archiveAppends
}

type archiveAppends struct {
	mtx  sync.Mutex
	docs []*backend.ValueDocument
}

func (p *pendingBatch) empty() bool {
	empty := true
	probe := func(any, any) bool { empty = false; return false }
	p.snapshots.Range(probe)
	if empty {
		p.candidates.Range(probe)
	}
	if empty {
		p.archives.Range(probe)
	}
	return empty
}

// batcher aggregates writes across tags and flushes them to storage on an
// interval. Enqueues take the read side of mtx and never touch I/O; the tick
// takes the write side only long enough to swap the pending batch out. A
// 0/1 CAS enforces single-flight: a tick that finds a flush in progress
// leaves the pending batch in place for the next one.
type batcher struct {
	services.Service

	name     string
	interval time.Duration
	store    backend.Writer
	logger   log.Logger

	mtx      sync.RWMutex
	pending  *pendingBatch
	inFlight *atomic.Int32

	wg sync.WaitGroup
}

func newBatcher(name string, interval time.Duration, store backend.Writer, logger log.Logger) *batcher {
	b := &batcher{
		name:     name,
		interval: interval,
		store:    store,
		logger:   log.With(logger, "batcher", name),
		pending:  &pendingBatch{},
		inFlight: atomic.NewInt32(0),
	}
	b.Service = services.NewBasicService(nil, b.running, b.stopping)
	return b
}

// EnqueueSnapshot records the latest snapshot for a tag. Latest-wins.
func (b *batcher) EnqueueSnapshot(tagID uuid.UUID, v model.TagValue) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	b.pending.snapshots.Store(tagID, v)
}

// EnqueueCandidate records the latest archive candidate for a tag.
// Latest-wins.
func (b *batcher) EnqueueCandidate(tagID uuid.UUID, c model.ArchiveCandidate) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	b.pending.candidates.Store(tagID, c)
}

// EnqueueArchive appends documents to a partition's pending list, preserving
// order within the current cycle.
func (b *batcher) EnqueueArchive(partition string, docs ...*backend.ValueDocument) {
	if len(docs) == 0 {
		return
	}
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	entry, _ := b.pending.archives.LoadOrStore(partition, &archiveAppends{})
	appends := entry.(*archiveAppends)
	appends.mtx.Lock()
	appends.docs = append(appends.docs, docs...)
	appends.mtx.Unlock()
}

func (b *batcher) running(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushTick(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// stopping waits for an in-flight flush; pending data not yet swapped out is
// dropped by design of the write-behind path.
func (b *batcher) stopping(_ error) error {
	b.wg.Wait()
	return nil
}

func (b *batcher) flushTick(ctx context.Context) {
	if !b.inFlight.CompareAndSwap(0, 1) {
		metricSkippedFlushes.WithLabelValues(b.name).Inc()
		return
	}

	b.mtx.Lock()
	batch := b.pending
	b.pending = &pendingBatch{}
	b.mtx.Unlock()

	if batch.empty() {
		b.inFlight.Store(0)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.inFlight.Store(0)

		start := time.Now()
		err := b.flush(ctx, batch)
		metricFlushDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
		if err != nil {
			// Failed writes are not retried; future enqueues carry fresh data.
			metricFailedFlushes.WithLabelValues(b.name).Inc()
			level.Error(b.logger).Log("msg", "batch flush failed", "err", err)
			return
		}
		metricFlushes.WithLabelValues(b.name).Inc()
	}()
}

func (b *batcher) flush(ctx context.Context, batch *pendingBatch) error {
	var firstErr error

	batch.snapshots.Range(func(k, v any) bool {
		if err := b.store.PutSnapshot(ctx, k.(uuid.UUID), v.(model.TagValue)); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	if firstErr != nil {
		return firstErr
	}

	batch.candidates.Range(func(k, v any) bool {
		if err := b.store.PutArchiveCandidate(ctx, k.(uuid.UUID), v.(model.ArchiveCandidate)); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	if firstErr != nil {
		return firstErr
	}

	appends := make(map[string][]*backend.ValueDocument)
	batch.archives.Range(func(k, v any) bool {
		entry := v.(*archiveAppends)
		entry.mtx.Lock()
		docs := entry.docs
		entry.mtx.Unlock()
		if len(docs) > 0 {
			appends[k.(string)] = docs
		}
		return true
	})
	if len(appends) == 0 {
		return nil
	}
	return b.store.BulkAppendArchive(ctx, appends)
}
