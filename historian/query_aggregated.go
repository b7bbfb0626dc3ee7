package historian

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

// ReadAggregated computes one statistic per bucket for each tag. The range is
// shifted back by one bucket so the first returned value describes the bucket
// ending at the requested start time. Empty buckets yield NaN with Good
// quality.
func (e *engine) ReadAggregated(ctx context.Context, req *AggregatedRequest) ([]Series, error) {
	timer := prometheus.NewTimer(metricQueryDuration.WithLabelValues("aggregated"))
	defer timer.ObserveDuration()

	runtimes, err := e.resolve(req.TagNames, req.Claims)
	if err != nil {
		return nil, err
	}

	interval := bucketSize(req.Start, req.End, req.Intervals)
	queryStart := req.Start.Add(-interval)
	queryEnd := req.End

	bucketCount := int(math.Ceil(float64(queryEnd.Sub(queryStart).Milliseconds()) / float64(interval.Milliseconds())))
	if bucketCount > e.cfg.MaxSamplesPerTagPerQuery {
		bucketCount = e.cfg.MaxSamplesPerTagPerQuery
		queryEnd = queryStart.Add(time.Duration(bucketCount) * interval)
	}

	partitions, err := e.dataPartitions(ctx, queryStart, queryEnd)
	if err != nil {
		return nil, err
	}

	metric := req.Aggregate.metric()
	out := make([]Series, len(runtimes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.QueryParallelism)
	for i, rt := range runtimes {
		g.Go(func() error {
			def := rt.definition()
			buckets, err := e.store.QueryHistogram(gctx, partitions, &backend.HistogramQuery{
				TagID:    def.ID,
				Start:    queryStart,
				End:      queryEnd,
				Interval: interval,
				Metrics:  []backend.Metric{metric},
			})
			if err != nil {
				return err
			}

			byStart := make(map[int64]backend.Bucket, len(buckets))
			for _, b := range buckets {
				byStart[b.Start.UnixMilli()] = b
			}

			values := make([]model.TagValue, 0, bucketCount)
			for n := 0; n < bucketCount; n++ {
				start := queryStart.Add(time.Duration(n) * interval)
				v := model.TagValue{
					UtcSampleTime: start.Add(interval),
					NumericValue:  math.NaN(),
					Quality:       model.QualityGood,
					Units:         def.Units,
				}
				if b, ok := byStart[start.UnixMilli()]; ok && b.Count > 0 {
					v.NumericValue = b.Metrics[metric]
				}
				values = append(values, v)
			}

			out[i] = Series{
				TagID:   def.ID,
				TagName: def.Name,
				Hint:    model.TrailingEdge,
				Values:  values,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
