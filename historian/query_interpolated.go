package historian

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

// ReadInterpolated reconstructs each tag's value at every bucket boundary
// from Start to End inclusive, linearly interpolating between the surrounding
// known samples. A target time that coincides with a known sample emits that
// exact sample, exactly once.
func (e *engine) ReadInterpolated(ctx context.Context, req *InterpolatedRequest) ([]Series, error) {
	timer := prometheus.NewTimer(metricQueryDuration.WithLabelValues("interpolated"))
	defer timer.ObserveDuration()

	runtimes, err := e.resolve(req.TagNames, req.Claims)
	if err != nil {
		return nil, err
	}

	interval := bucketSize(req.Start, req.End, req.Intervals)

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

			// Per-bucket earliest and latest samples carry enough shape to
			// surround every bucket boundary.
			buckets, err := e.store.QueryHistogram(gctx, partitions, &backend.HistogramQuery{
				TagID:        def.ID,
				Start:        req.Start,
				End:          req.End,
				Interval:     interval,
				IncludeEdges: true,
			})
			if err != nil {
				return err
			}

			known := make([]model.TagValue, 0, 2*len(buckets)+2)
			before, err := e.neighbor(gctx, def.ID, req.Start, true)
			if err != nil {
				return err
			}
			if before != nil {
				known = append(known, *before)
			}
			for _, b := range buckets {
				if b.Earliest != nil {
					known = append(known, b.Earliest.Value(def.Units))
				}
				if b.Latest != nil {
					known = append(known, b.Latest.Value(def.Units))
				}
			}
			after, err := e.neighbor(gctx, def.ID, req.End, false)
			if err != nil {
				return err
			}
			if after != nil {
				known = append(known, *after)
			}
			known = dedupeByTime(known)

			out[i] = Series{
				TagID:   def.ID,
				TagName: def.Name,
				Hint:    model.Interpolated,
				Values:  interpolateSeries(req.Start, req.End, interval, known),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// interpolateSeries emits one value per target time where a surrounding pair
// of known samples exists. known must be ascending and deduplicated.
func interpolateSeries(start, end time.Time, interval time.Duration, known []model.TagValue) []model.TagValue {
	if len(known) == 0 {
		return nil
	}

	var values []model.TagValue
	for t := start; !t.After(end); t = t.Add(interval) {
		// First known sample at or after the target.
		idx := sort.Search(len(known), func(i int) bool {
			return !known[i].UtcSampleTime.Before(t)
		})

		if idx < len(known) && known[idx].UtcSampleTime.Equal(t) {
			v := known[idx]
			v.UtcSampleTime = t
			values = append(values, v)
		} else if idx > 0 && idx < len(known) {
			values = append(values, interpolateAt(t, known[idx-1], known[idx]))
		}

		if interval <= 0 {
			break
		}
	}
	return values
}
