package historian

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/require"

	"github.com/aikadata/aika/historian/backend/local"
	"github.com/aikadata/aika/pkg/model"
	"github.com/aikadata/aika/pkg/util/log"
)

func writeRamp(t *testing.T, h *Historian, tagName string, base time.Time, step time.Duration, values ...float64) {
	t.Helper()
	var samples []model.TagValue
	for i, v := range values {
		samples = append(samples, model.NewNumericValue(base.Add(time.Duration(i)*step), v, model.QualityGood))
	}
	_, err := h.WriteTagValues(context.Background(), tagName, nil, samples...)
	require.NoError(t, err)
	waitForRawCount(t, h, tagName, base, base.Add(time.Duration(len(values))*step), len(values))
}

func TestReadRawPointCount(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	writeRamp(t, h, "ramp", base, time.Second, 0, 1, 2, 3, 4)

	series, err := h.ReadRaw(ctx, &RawRequest{
		TagNames:   []string{"ramp"},
		Start:      base,
		End:        base.Add(time.Minute),
		PointCount: 3,
	})
	require.NoError(t, err)
	require.Equal(t, model.TrailingEdge, series[0].Hint)
	require.Len(t, series[0].Values, 3)
	// The cap keeps the oldest samples of the range.
	require.Equal(t, float64(0), series[0].Values[0].NumericValue)
	require.Equal(t, float64(2), series[0].Values[2].NumericValue)
}

func TestReadRawMultipleTags(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "a", model.DataTypeFloatingPoint)
	createUnfilteredTag(t, h, "b", model.DataTypeFloatingPoint)
	writeRamp(t, h, "a", base, time.Second, 1, 2)
	writeRamp(t, h, "b", base, time.Second, 10, 20, 30)

	series, err := h.ReadRaw(ctx, &RawRequest{
		TagNames: []string{"a", "b"},
		Start:    base,
		End:      base.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, series, 2)
	require.Equal(t, "a", series[0].TagName)
	require.Len(t, series[0].Values, 2)
	require.Equal(t, "b", series[1].TagName)
	require.Len(t, series[1].Values, 3)

	_, err = h.ReadRaw(ctx, &RawRequest{TagNames: []string{"a", "nope"}})
	require.ErrorIs(t, err, ErrTagNotFound)
}

// A tag with more in-range samples than the per-tag cap must not displace a
// co-batched tag's samples: the cap applies per tag, not across the batch.
func TestReadRawDenseTagDoesNotStarveBatch(t *testing.T) {
	cfg := &Config{
		SnapshotWriteInterval:    20 * time.Millisecond,
		ArchiveWriteInterval:     20 * time.Millisecond,
		MaxSamplesPerTagPerQuery: 2,
		MaxSamplesPerQuery:       4,
	}
	cfg.applyDefaults()

	store, err := local.New(&local.Config{Path: t.TempDir()}, cfg.partitions())
	require.NoError(t, err)
	h, err := New(cfg, store, log.Logger)
	require.NoError(t, err)
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), h))
	t.Cleanup(func() {
		require.NoError(t, services.StopAndAwaitTerminated(context.Background(), h))
	})

	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "dense", model.DataTypeFloatingPoint)
	createUnfilteredTag(t, h, "sparse", model.DataTypeFloatingPoint)

	_, err = h.WriteTagValues(ctx, "dense", nil,
		model.NewNumericValue(base, 0, model.QualityGood),
		model.NewNumericValue(base.Add(time.Second), 1, model.QualityGood),
		model.NewNumericValue(base.Add(2*time.Second), 2, model.QualityGood),
	)
	require.NoError(t, err)
	_, err = h.WriteTagValues(ctx, "sparse", nil,
		model.NewNumericValue(base.Add(10*time.Second), 100, model.QualityGood),
		model.NewNumericValue(base.Add(11*time.Second), 101, model.QualityGood),
	)
	require.NoError(t, err)
	waitForRawCount(t, h, "sparse", base, base.Add(time.Minute), 2)

	// MaxSamplesPerQuery/PointCount puts both tags in one storage batch.
	series, err := h.ReadRaw(ctx, &RawRequest{
		TagNames:   []string{"dense", "sparse"},
		Start:      base,
		End:        base.Add(time.Minute),
		PointCount: 2,
	})
	require.NoError(t, err)
	require.Len(t, series, 2)

	require.Equal(t, "dense", series[0].TagName)
	require.Len(t, series[0].Values, 2)
	require.Equal(t, float64(0), series[0].Values[0].NumericValue)
	require.Equal(t, float64(1), series[0].Values[1].NumericValue)

	require.Equal(t, "sparse", series[1].TagName)
	require.Len(t, series[1].Values, 2)
	require.Equal(t, float64(100), series[1].Values[0].NumericValue)
	require.Equal(t, float64(101), series[1].Values[1].NumericValue)
}

func TestReadAggregated(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	_, err := h.WriteTagValues(ctx, "ramp", nil,
		model.NewNumericValue(base.Add(500*time.Millisecond), 10, model.QualityGood),
		model.NewNumericValue(base.Add(1500*time.Millisecond), 20, model.QualityGood),
	)
	require.NoError(t, err)
	waitForRawCount(t, h, "ramp", base, base.Add(time.Minute), 2)

	series, err := h.ReadAggregated(ctx, &AggregatedRequest{
		TagNames:  []string{"ramp"},
		Start:     base.Add(time.Second),
		End:       base.Add(3 * time.Second),
		Intervals: 2,
		Aggregate: AggregateAverage,
	})
	require.NoError(t, err)

	values := series[0].Values
	require.Equal(t, model.TrailingEdge, series[0].Hint)
	require.Len(t, values, 3)

	// The first value describes the bucket ending at the requested start.
	require.True(t, values[0].UtcSampleTime.Equal(base.Add(time.Second)))
	require.Equal(t, float64(10), values[0].NumericValue)

	require.True(t, values[1].UtcSampleTime.Equal(base.Add(2*time.Second)))
	require.Equal(t, float64(20), values[1].NumericValue)

	// Empty buckets yield NaN with Good quality.
	require.True(t, values[2].UtcSampleTime.Equal(base.Add(3*time.Second)))
	require.True(t, math.IsNaN(values[2].NumericValue))
	require.Equal(t, model.QualityGood, values[2].Quality)
}

func TestReadAggregatedMinMax(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	_, err := h.WriteTagValues(ctx, "ramp", nil,
		model.NewNumericValue(base.Add(100*time.Millisecond), 10, model.QualityGood),
		model.NewNumericValue(base.Add(400*time.Millisecond), 30, model.QualityGood),
		model.NewNumericValue(base.Add(700*time.Millisecond), 20, model.QualityGood),
	)
	require.NoError(t, err)
	waitForRawCount(t, h, "ramp", base, base.Add(time.Minute), 3)

	req := &AggregatedRequest{
		TagNames:  []string{"ramp"},
		Start:     base.Add(time.Second),
		End:       base.Add(2 * time.Second),
		Intervals: 1,
		Aggregate: AggregateMinimum,
	}
	series, err := h.ReadAggregated(ctx, req)
	require.NoError(t, err)
	require.Equal(t, float64(10), series[0].Values[0].NumericValue)

	req.Aggregate = AggregateMaximum
	series, err = h.ReadAggregated(ctx, req)
	require.NoError(t, err)
	require.Equal(t, float64(30), series[0].Values[0].NumericValue)
}

func TestReadInterpolatedExactMatches(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	// Samples at 0,2,...,10 seconds with value equal to the offset seconds.
	writeRamp(t, h, "ramp", base, 2*time.Second, 0, 2, 4, 6, 8, 10)

	series, err := h.ReadInterpolated(ctx, &InterpolatedRequest{
		TagNames:  []string{"ramp"},
		Start:     base,
		End:       base.Add(10 * time.Second),
		Intervals: 5,
	})
	require.NoError(t, err)

	values := series[0].Values
	require.Equal(t, model.Interpolated, series[0].Hint)
	require.Len(t, values, 6)
	for i, v := range values {
		require.True(t, v.UtcSampleTime.Equal(base.Add(time.Duration(2*i)*time.Second)))
		require.Equal(t, float64(2*i), v.NumericValue)
		require.Equal(t, model.QualityGood, v.Quality)
	}
}

func TestReadInterpolatedBetweenSamples(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	writeRamp(t, h, "ramp", base, 10*time.Second, 0, 10)

	series, err := h.ReadInterpolated(ctx, &InterpolatedRequest{
		TagNames:  []string{"ramp"},
		Start:     base,
		End:       base.Add(10 * time.Second),
		Intervals: 5,
	})
	require.NoError(t, err)

	values := series[0].Values
	require.Len(t, values, 6)
	for i, v := range values {
		require.InDelta(t, float64(2*i), v.NumericValue, 1e-9)
	}
}

func TestReadInterpolatedUsesNeighborsOutsideRange(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	writeRamp(t, h, "ramp", base, 10*time.Second, 0, 10)

	// The queried range holds no samples at all; both targets interpolate
	// from the neighbors outside the range.
	series, err := h.ReadInterpolated(ctx, &InterpolatedRequest{
		TagNames:  []string{"ramp"},
		Start:     base.Add(4 * time.Second),
		End:       base.Add(6 * time.Second),
		Intervals: 1,
	})
	require.NoError(t, err)

	values := series[0].Values
	require.Len(t, values, 2)
	require.InDelta(t, 4, values[0].NumericValue, 1e-9)
	require.InDelta(t, 6, values[1].NumericValue, 1e-9)
}

func TestReadInterpolatedQualityPropagates(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	_, err := h.WriteTagValues(ctx, "ramp", nil,
		model.NewNumericValue(base, 0, model.QualityGood),
		model.NewNumericValue(base.Add(2*time.Second), 2, model.QualityUncertain),
	)
	require.NoError(t, err)
	waitForRawCount(t, h, "ramp", base, base.Add(time.Minute), 2)

	series, err := h.ReadInterpolated(ctx, &InterpolatedRequest{
		TagNames:  []string{"ramp"},
		Start:     base,
		End:       base.Add(2 * time.Second),
		Intervals: 2,
	})
	require.NoError(t, err)

	values := series[0].Values
	require.Len(t, values, 3)
	require.Equal(t, model.QualityGood, values[0].Quality)
	// Interpolated between Good and Uncertain: the lower quality wins.
	require.Equal(t, model.QualityUncertain, values[1].Quality)
	require.Equal(t, model.QualityUncertain, values[2].Quality)
}

func TestReadInterpolatedEmptyTag(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "empty", model.DataTypeFloatingPoint)

	series, err := h.ReadInterpolated(ctx, &InterpolatedRequest{
		TagNames:  []string{"empty"},
		Start:     base,
		End:       base.Add(10 * time.Second),
		Intervals: 5,
	})
	require.NoError(t, err)
	require.Empty(t, series[0].Values)
}

func TestReadPlot(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	writeRamp(t, h, "ramp", base, 2*time.Second, 0, 4, 10)

	// Samples at 0s, 2s(value 4) and 4s(value 10); plot over [1s, 3s].
	series, err := h.ReadPlot(ctx, &PlotRequest{
		TagNames:  []string{"ramp"},
		Start:     base.Add(time.Second),
		End:       base.Add(3 * time.Second),
		Intervals: 2,
	})
	require.NoError(t, err)

	values := series[0].Values
	require.Equal(t, model.Interpolated, series[0].Hint)
	require.Len(t, values, 3)

	// Pinned to the range start: interpolated between 0s(0) and 2s(4).
	require.True(t, values[0].UtcSampleTime.Equal(base.Add(time.Second)))
	require.InDelta(t, 2, values[0].NumericValue, 1e-9)

	// The in-range sample itself.
	require.True(t, values[1].UtcSampleTime.Equal(base.Add(2*time.Second)))
	require.Equal(t, float64(4), values[1].NumericValue)

	// Pinned to the range end: interpolated between 2s(4) and 4s(10).
	require.True(t, values[2].UtcSampleTime.Equal(base.Add(3*time.Second)))
	require.InDelta(t, 7, values[2].NumericValue, 1e-9)
}

func TestReadPlotCollapsesDuplicates(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	// One sample per bucket: earliest, latest, min and max all coincide.
	writeRamp(t, h, "ramp", base, 2*time.Second, 1, 2, 3)

	series, err := h.ReadPlot(ctx, &PlotRequest{
		TagNames:  []string{"ramp"},
		Start:     base,
		End:       base.Add(4 * time.Second),
		Intervals: 2,
	})
	require.NoError(t, err)
	require.Len(t, series[0].Values, 3)
}

func TestReadPlotTextFallsBackToRaw(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "msg", model.DataTypeText)

	on, off := "on", "off"
	_, err := h.WriteTagValues(ctx, "msg", nil,
		model.TagValue{UtcSampleTime: base, TextValue: &on, Quality: model.QualityGood},
		model.TagValue{UtcSampleTime: base.Add(time.Second), TextValue: &off, Quality: model.QualityGood},
	)
	require.NoError(t, err)
	waitForRawCount(t, h, "msg", base, base.Add(time.Minute), 2)

	series, err := h.ReadPlot(ctx, &PlotRequest{
		TagNames:  []string{"msg"},
		Start:     base,
		End:       base.Add(10 * time.Second),
		Intervals: 5,
	})
	require.NoError(t, err)
	require.Equal(t, model.TrailingEdge, series[0].Hint)
	require.Len(t, series[0].Values, 2)
	require.Equal(t, "on", series[0].Values[0].Text())
}

func TestReadPlotZeroWidthRange(t *testing.T) {
	h := startHistorian(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	createUnfilteredTag(t, h, "ramp", model.DataTypeFloatingPoint)
	writeRamp(t, h, "ramp", base, time.Second, 5)

	series, err := h.ReadPlot(ctx, &PlotRequest{
		TagNames:  []string{"ramp"},
		Start:     base,
		End:       base,
		Intervals: 10,
	})
	require.NoError(t, err)
	require.Len(t, series[0].Values, 1)
	require.Equal(t, float64(5), series[0].Values[0].NumericValue)
}

func TestBucketSize(t *testing.T) {
	base := time.Now()

	require.Equal(t, 2*time.Second, bucketSize(base, base.Add(10*time.Second), 5))
	// Intervals below one count as one.
	require.Equal(t, 10*time.Second, bucketSize(base, base.Add(10*time.Second), 0))
	// Sub-millisecond buckets round up to one millisecond.
	require.Equal(t, time.Millisecond, bucketSize(base, base.Add(time.Millisecond), 100))
}

func TestDedupeByTime(t *testing.T) {
	base := time.Now()
	values := []model.TagValue{
		model.NewNumericValue(base.Add(time.Second), 1, model.QualityGood),
		model.NewNumericValue(base, 0, model.QualityGood),
		model.NewNumericValue(base.Add(time.Second), 99, model.QualityGood),
	}

	out := dedupeByTime(values)
	require.Len(t, out, 2)
	require.Equal(t, float64(0), out[0].NumericValue)
	require.Equal(t, float64(1), out[1].NumericValue)
}

func TestInterpolateAt(t *testing.T) {
	base := time.Now()
	v0 := model.NewNumericValue(base, 0, model.QualityGood)
	v1 := model.NewNumericValue(base.Add(10*time.Second), 10, model.QualityUncertain)

	mid := interpolateAt(base.Add(5*time.Second), v0, v1)
	require.InDelta(t, 5, mid.NumericValue, 1e-9)
	require.Equal(t, model.QualityUncertain, mid.Quality)

	// Exact endpoint matches return the neighbor itself.
	require.Equal(t, v0, interpolateAt(base, v0, v1))

	// A non-numeric neighbor yields NaN.
	text := model.NewTextValue(base.Add(10*time.Second), "x", model.QualityGood)
	got := interpolateAt(base.Add(5*time.Second), v0, text)
	require.True(t, math.IsNaN(got.NumericValue))
}
