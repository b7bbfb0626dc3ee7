package historian

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

var metricQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "aika",
	Name:      "query_duration_seconds",
	Help:      "Records the amount of time to serve one historical query.",
	Buckets:   prometheus.ExponentialBuckets(.005, 2, 12),
}, []string{"mode"})

// Aggregate selects the per-bucket statistic of an aggregated query.
type Aggregate int

const (
	AggregateAverage Aggregate = iota
	AggregateMinimum
	AggregateMaximum
)

func (a Aggregate) metric() backend.Metric {
	switch a {
	case AggregateMinimum:
		return backend.MetricMinimum
	case AggregateMaximum:
		return backend.MetricMaximum
	}
	return backend.MetricAverage
}

// RawRequest asks for up to PointCount samples per tag in [Start, End].
// PointCount below 1 means the per-tag cap.
type RawRequest struct {
	TagNames   []string
	Start, End time.Time
	PointCount int
	Claims     []model.Claim
}

// AggregatedRequest asks for one statistic per bucket. The range is divided
// into Intervals buckets; the first returned bucket ends at Start.
type AggregatedRequest struct {
	TagNames   []string
	Start, End time.Time
	Intervals  int
	Aggregate  Aggregate
	Claims     []model.Claim
}

// InterpolatedRequest asks for values reconstructed at every bucket boundary
// from Start to End inclusive.
type InterpolatedRequest struct {
	TagNames   []string
	Start, End time.Time
	Intervals  int
	Claims     []model.Claim
}

// PlotRequest asks for a visualization-optimized sample set of up to five
// points per bucket.
type PlotRequest struct {
	TagNames   []string
	Start, End time.Time
	Intervals  int
	Claims     []model.Claim
}

// Series is one tag's result.
type Series struct {
	TagID   uuid.UUID
	TagName string
	Hint    model.VisualizationHint
	Values  []model.TagValue
}

// engine serves historical queries by stitching together values held in the
// snapshot partition, the archive-candidate partition and the time
// partitioned archive.
type engine struct {
	cfg        *Config
	store      backend.Reader
	reg        *registry
	partitions backend.Partitions
	logger     log.Logger
}

func newEngine(cfg *Config, store backend.Reader, reg *registry, logger log.Logger) *engine {
	return &engine{
		cfg:        cfg,
		store:      store,
		reg:        reg,
		partitions: cfg.partitions(),
		logger:     logger,
	}
}

// resolve maps tag names to runtimes and checks the read policy.
func (e *engine) resolve(names []string, claims []model.Claim) ([]*tagRuntime, error) {
	out := make([]*tagRuntime, 0, len(names))
	for _, name := range names {
		rt, ok := e.reg.runtimeByName(name)
		if !ok {
			return nil, errors.Wrap(ErrTagNotFound, name)
		}
		if !rt.definition().Security.Allows(model.PolicyReadData, claims) {
			return nil, errors.Wrap(ErrAccessDenied, name)
		}
		out = append(out, rt)
	}
	return out, nil
}

// dataPartitions is the query union: snapshot, archive candidates and every
// archive partition that can hold samples in [start, end].
func (e *engine) dataPartitions(ctx context.Context, start, end time.Time) ([]string, error) {
	parts := []string{e.partitions.Snapshots(), e.partitions.ArchiveCandidates()}

	if e.cfg.ArchiveSuffix == nil {
		parts = append(parts, e.partitions.ArchiveRangeMonths(start, end)...)
		return parts, nil
	}

	// A custom suffix function cannot be enumerated; ask the store which
	// archive partitions exist.
	archives, err := e.store.ListPartitions(ctx, e.partitions.ArchivePrefix())
	if err != nil {
		return nil, errors.Wrap(err, "listing archive partitions")
	}
	return append(parts, archives...), nil
}

// allDataPartitions is the unbounded variant used for neighbor lookups.
func (e *engine) allDataPartitions(ctx context.Context) ([]string, error) {
	parts := []string{e.partitions.Snapshots(), e.partitions.ArchiveCandidates()}
	archives, err := e.store.ListPartitions(ctx, e.partitions.ArchivePrefix())
	if err != nil {
		return nil, errors.Wrap(err, "listing archive partitions")
	}
	return append(parts, archives...), nil
}

// ReadRaw returns up to N samples per tag in ascending time order.
func (e *engine) ReadRaw(ctx context.Context, req *RawRequest) ([]Series, error) {
	timer := prometheus.NewTimer(metricQueryDuration.WithLabelValues("raw"))
	defer timer.ObserveDuration()

	runtimes, err := e.resolve(req.TagNames, req.Claims)
	if err != nil {
		return nil, err
	}

	perTag := req.PointCount
	if perTag < 1 || perTag > e.cfg.MaxSamplesPerTagPerQuery {
		perTag = e.cfg.MaxSamplesPerTagPerQuery
	}

	// Batch tags so one storage query never exceeds the per-query sample
	// and tag caps.
	tagsPerBatch := e.cfg.MaxSamplesPerQuery / perTag
	if tagsPerBatch < 1 {
		tagsPerBatch = 1
	}
	if tagsPerBatch > e.cfg.MaxTagsPerQuery {
		tagsPerBatch = e.cfg.MaxTagsPerQuery
	}

	partitions, err := e.dataPartitions(ctx, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	type batchResult struct {
		byTag map[uuid.UUID][]*backend.ValueDocument
	}

	var (
		mtx     sync.Mutex
		results []batchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.QueryParallelism)
	for start := 0; start < len(runtimes); start += tagsPerBatch {
		batch := runtimes[start:min(start+tagsPerBatch, len(runtimes))]
		g.Go(func() error {
			ids := make([]uuid.UUID, len(batch))
			for i, rt := range batch {
				ids[i] = rt.definition().ID
			}
			// The cap is enforced per tag, not across the batch, so a dense
			// tag cannot displace a co-batched tag's samples. The snapshot
			// and candidate partitions each hold at most one document per
			// tag that may duplicate an archived sample; over-fetch by two
			// so the post-dedupe cut still yields a full result.
			docs, err := e.store.Query(gctx, partitions, &backend.ValueQuery{
				TagIDs:      ids,
				Start:       req.Start,
				End:         req.End,
				Sort:        backend.Ascending,
				Limit:       len(batch) * (perTag + 2),
				LimitPerTag: perTag + 2,
			})
			if err != nil {
				return err
			}
			byTag := make(map[uuid.UUID][]*backend.ValueDocument)
			for _, doc := range docs {
				byTag[doc.TagID] = append(byTag[doc.TagID], doc)
			}
			mtx.Lock()
			results = append(results, batchResult{byTag: byTag})
			mtx.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[uuid.UUID][]*backend.ValueDocument)
	for _, res := range results {
		for id, docs := range res.byTag {
			merged[id] = append(merged[id], docs...)
		}
	}

	out := make([]Series, 0, len(runtimes))
	for _, rt := range runtimes {
		def := rt.definition()
		values := dedupeByTime(toValues(merged[def.ID], def.Units))
		if len(values) > perTag {
			values = values[:perTag]
		}
		out = append(out, Series{
			TagID:   def.ID,
			TagName: def.Name,
			Hint:    model.TrailingEdge,
			Values:  values,
		})
	}
	return out, nil
}

// toValues converts documents to samples; input order is preserved.
func toValues(docs []*backend.ValueDocument, units string) []model.TagValue {
	out := make([]model.TagValue, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Value(units))
	}
	return out
}

// dedupeByTime sorts ascending and drops samples sharing a timestamp. The
// snapshot, candidate and archive partitions can legitimately hold the same
// sample.
func dedupeByTime(values []model.TagValue) []model.TagValue {
	sort.SliceStable(values, func(i, j int) bool {
		return values[i].UtcSampleTime.Before(values[j].UtcSampleTime)
	})
	out := values[:0]
	for i, v := range values {
		if i > 0 && v.UtcSampleTime.Equal(values[i-1].UtcSampleTime) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// bucketSize divides a range into intervals, truncated to integer
// milliseconds.
func bucketSize(start, end time.Time, intervals int) time.Duration {
	if intervals < 1 {
		intervals = 1
	}
	ms := end.Sub(start).Milliseconds() / int64(intervals)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// interpolateAt linearly reconstructs a value at t between two neighbors.
// If either neighbor is non-numeric the result is NaN; the quality is the
// lower of the two.
func interpolateAt(t time.Time, v0, v1 model.TagValue) model.TagValue {
	out := model.TagValue{
		UtcSampleTime: t,
		Quality:       model.MinQuality(v0.Quality, v1.Quality),
		Units:         v0.Units,
	}

	if t.Equal(v0.UtcSampleTime) {
		return v0
	}
	if t.Equal(v1.UtcSampleTime) {
		return v1
	}

	t0 := float64(v0.UtcSampleTime.UnixMilli())
	t1 := float64(v1.UtcSampleTime.UnixMilli())
	tt := float64(t.UnixMilli())
	if !v0.IsNumeric() || !v1.IsNumeric() || t1 == t0 {
		out.NumericValue = math.NaN()
		return out
	}

	out.NumericValue = (v0.NumericValue*(t1-tt) + v1.NumericValue*(tt-t0)) / (t1 - t0)
	return out
}

// neighbor returns the single sample strictly outside the given bound.
func (e *engine) neighbor(ctx context.Context, tagID uuid.UUID, bound time.Time, before bool) (*model.TagValue, error) {
	partitions, err := e.allDataPartitions(ctx)
	if err != nil {
		return nil, err
	}

	q := &backend.ValueQuery{
		TagIDs: []uuid.UUID{tagID},
		Limit:  1,
	}
	if before {
		q.End = bound
		q.EndExclusive = true
		q.Sort = backend.Descending
	} else {
		q.Start = bound
		q.StartExclusive = true
		q.Sort = backend.Ascending
	}

	docs, err := e.store.Query(ctx, partitions, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	rt, _ := e.reg.runtimeByID(tagID)
	units := ""
	if rt != nil {
		units = rt.definition().Units
	}
	v := docs[0].Value(units)
	return &v, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
