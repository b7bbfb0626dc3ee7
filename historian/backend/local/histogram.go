package local

import (
	"math"
	"time"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

type histogramAccumulator struct {
	start time.Time
	count int
	sum   float64
	min   float64
	max   float64

	earliest     *backend.ValueDocument
	latest       *backend.ValueDocument
	minSample    *backend.ValueDocument
	maxSample    *backend.ValueDocument
	firstNonGood *backend.ValueDocument
}

func newHistogramAccumulator(start time.Time) *histogramAccumulator {
	return &histogramAccumulator{start: start}
}

// add expects documents in ascending sample time order.
func (a *histogramAccumulator) add(doc *backend.ValueDocument, q *backend.HistogramQuery) {
	if a.earliest == nil {
		a.earliest = doc
	}
	a.latest = doc

	if q.IncludeFirstNonGood && a.firstNonGood == nil && model.Quality(doc.Quality) < model.QualityGood {
		a.firstNonGood = doc
	}

	v := float64(doc.NumericValue)
	if isFinite(v) {
		if a.count == 0 || v < a.min {
			a.min = v
			a.minSample = doc
		}
		if a.count == 0 || v > a.max {
			a.max = v
			a.maxSample = doc
		}
		a.sum += v
		a.count++
	}
}

func (a *histogramAccumulator) finish(want map[backend.Metric]bool) backend.Bucket {
	b := backend.Bucket{
		Start:        a.start,
		Count:        a.count,
		Earliest:     a.earliest,
		Latest:       a.latest,
		MinSample:    a.minSample,
		MaxSample:    a.maxSample,
		FirstNonGood: a.firstNonGood,
	}
	if len(want) > 0 && a.count > 0 {
		b.Metrics = make(map[backend.Metric]float64, len(want))
		if want[backend.MetricAverage] {
			b.Metrics[backend.MetricAverage] = a.sum / float64(a.count)
		}
		if want[backend.MetricMinimum] {
			b.Metrics[backend.MetricMinimum] = a.min
		}
		if want[backend.MetricMaximum] {
			b.Metrics[backend.MetricMaximum] = a.max
		}
	}
	return b
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
