package historian

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

// ReadPlot returns a sample set optimized for rendering: per bucket the
// earliest, latest, numeric minimum, numeric maximum and the earliest sample
// with quality below Good, plus interpolated values pinned to the exact range
// edges. Non-numeric tags fall back to a raw read.
func (e *engine) ReadPlot(ctx context.Context, req *PlotRequest) ([]Series, error) {
	timer := prometheus.NewTimer(metricQueryDuration.WithLabelValues("plot"))
	defer timer.ObserveDuration()

	runtimes, err := e.resolve(req.TagNames, req.Claims)
	if err != nil {
		return nil, err
	}

	intervals := req.Intervals
	if intervals < 1 {
		intervals = 1
	}

	var interval time.Duration
	if req.Start.Equal(req.End) {
		// A zero-width range still renders a single point; use a 1s bucket.
		interval = time.Second
	} else {
		interval = bucketSize(req.Start, req.End, intervals)
	}

	partitions, err := e.dataPartitions(ctx, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	out := make([]Series, len(runtimes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.QueryParallelism)
	for i, rt := range runtimes {
		g.Go(func() error {
			def := rt.definition()

			if !def.DataType.IsNumeric() {
				series, err := e.rawFallback(gctx, def, req, 4*intervals)
				if err != nil {
					return err
				}
				out[i] = series
				return nil
			}

			buckets, err := e.store.QueryHistogram(gctx, partitions, &backend.HistogramQuery{
				TagID:               def.ID,
				Start:               req.Start,
				End:                 req.End,
				Interval:            interval,
				IncludeEdges:        true,
				IncludeExtremes:     true,
				IncludeFirstNonGood: true,
			})
			if err != nil {
				return err
			}

			var values []model.TagValue
			for _, b := range buckets {
				values = append(values, plotBucketValues(b, def.Units)...)
			}
			values = dedupeByTime(values)

			values, err = e.pinEdges(gctx, def, req.Start, req.End, values)
			if err != nil {
				return err
			}

			out[i] = Series{
				TagID:   def.ID,
				TagName: def.Name,
				Hint:    model.Interpolated,
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

// plotBucketValues collects the up-to-five interesting samples of one bucket.
// Duplicates (the earliest sample often also holds the minimum) collapse in
// the caller's dedupe pass.
func plotBucketValues(b backend.Bucket, units string) []model.TagValue {
	var docs []*backend.ValueDocument
	for _, doc := range []*backend.ValueDocument{b.Earliest, b.Latest, b.MinSample, b.MaxSample, b.FirstNonGood} {
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return toValues(docs, units)
}

// pinEdges prepends an interpolated value at the range start and appends one
// at the range end when the extreme samples lie strictly inside the range.
func (e *engine) pinEdges(ctx context.Context, def *model.TagDefinition, start, end time.Time, values []model.TagValue) ([]model.TagValue, error) {
	if len(values) == 0 {
		return values, nil
	}

	if first := values[0]; first.UtcSampleTime.After(start) {
		before, err := e.neighbor(ctx, def.ID, start, true)
		if err != nil {
			return nil, err
		}
		if before != nil {
			pinned := interpolateAt(start, *before, first)
			values = append([]model.TagValue{pinned}, values...)
		}
	}

	if last := values[len(values)-1]; last.UtcSampleTime.Before(end) {
		after, err := e.neighbor(ctx, def.ID, end, false)
		if err != nil {
			return nil, err
		}
		if after != nil {
			values = append(values, interpolateAt(end, last, *after))
		}
	}

	return values, nil
}

func (e *engine) rawFallback(ctx context.Context, def *model.TagDefinition, req *PlotRequest, pointCount int) (Series, error) {
	series, err := e.ReadRaw(ctx, &RawRequest{
		TagNames:   []string{def.Name},
		Start:      req.Start,
		End:        req.End,
		PointCount: pointCount,
		Claims:     req.Claims,
	})
	if err != nil {
		return Series{}, err
	}
	return series[0], nil
}
