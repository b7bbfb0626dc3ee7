package historian

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aikadata/aika/pkg/model"
)

func compressionSettings(limit float64, window time.Duration) model.FilterSettings {
	return model.FilterSettings{
		Enabled:    true,
		LimitType:  model.LimitTypeAbsolute,
		Limit:      limit,
		WindowSize: model.Duration(window),
	}
}

func numericAt(base time.Time, offset time.Duration, value float64) model.TagValue {
	return model.NewNumericValue(base.Add(offset), value, model.QualityGood)
}

func TestCompressionFirstSampleArchives(t *testing.T) {
	f := &compressionFilter{
		settings: compressionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}

	v := model.NewNumericValue(time.Now(), 10, model.QualityGood)
	res := f.admit(v)
	require.Equal(t, []model.TagValue{v}, res.archive)
	require.Nil(t, res.candidate)
	require.NotNil(t, f.lastArchived)
}

func TestCompressionDisabledArchivesEverything(t *testing.T) {
	f := &compressionFilter{
		settings: model.FilterSettings{Enabled: false},
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Now()

	for i := 0; i < 3; i++ {
		res := f.admit(numericAt(base, time.Duration(i)*time.Second, float64(i)))
		require.Len(t, res.archive, 1)
		require.Nil(t, res.candidate)
	}
}

func TestCompressionSwingingDoor(t *testing.T) {
	f := &compressionFilter{
		settings: compressionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	v0 := numericAt(base, 0, 0)
	v1 := numericAt(base, 1*time.Second, 1)
	v2 := numericAt(base, 2*time.Second, 2)
	v3 := numericAt(base, 3*time.Second, 10)

	// Anchor.
	res := f.admit(v0)
	require.Equal(t, []model.TagValue{v0}, res.archive)

	// Opens the door, becomes the candidate.
	res = f.admit(v1)
	require.Empty(t, res.archive)
	require.NotNil(t, res.candidate)
	require.Equal(t, v1, res.candidate.Value)

	// Still inside the corridor, replaces the candidate.
	res = f.admit(v2)
	require.Empty(t, res.archive)
	require.NotNil(t, res.candidate)
	require.Equal(t, v2, res.candidate.Value)

	// Leaves the corridor: the prior candidate settles and the sample starts
	// a fresh corridor from it.
	res = f.admit(v3)
	require.Equal(t, []model.TagValue{v2}, res.archive)
	require.NotNil(t, res.candidate)
	require.Equal(t, v3, res.candidate.Value)
	require.Equal(t, v2, *f.lastArchived)
}

func TestCompressionLinearTrendKeepsOneCandidate(t *testing.T) {
	// A perfectly linear signal inside the corridor never settles anything
	// after the anchor.
	f := &compressionFilter{
		settings: compressionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	f.admit(numericAt(base, 0, 0))
	for i := 1; i <= 10; i++ {
		res := f.admit(numericAt(base, time.Duration(i)*time.Second, float64(i)))
		require.Empty(t, res.archive)
		require.NotNil(t, res.candidate)
	}
	require.Equal(t, float64(10), f.candidate.NumericValue)
}

func TestCompressionQualityChangeSettles(t *testing.T) {
	f := &compressionFilter{
		settings: compressionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	f.admit(numericAt(base, 0, 0))
	f.admit(numericAt(base, time.Second, 1))

	bad := model.NewNumericValue(base.Add(2*time.Second), 1, model.QualityBad)
	res := f.admit(bad)
	require.Len(t, res.archive, 2)
	require.Equal(t, float64(1), res.archive[0].NumericValue)
	require.Equal(t, bad, res.archive[1])
	require.Nil(t, res.candidate)
}

func TestCompressionNonFiniteSettles(t *testing.T) {
	f := &compressionFilter{
		settings: compressionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	f.admit(numericAt(base, 0, 0))
	f.admit(numericAt(base, time.Second, 1))

	nan := model.NewNumericValue(base.Add(2*time.Second), math.NaN(), model.QualityGood)
	res := f.admit(nan)
	require.Len(t, res.archive, 2)
	require.Equal(t, float64(1), res.archive[0].NumericValue)
	require.True(t, math.IsNaN(res.archive[1].NumericValue))
}

func TestCompressionWindowTimeout(t *testing.T) {
	f := &compressionFilter{
		settings: compressionSettings(100, 10*time.Second),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	f.admit(numericAt(base, 0, 0))
	f.admit(numericAt(base, time.Second, 1))

	// Well within the wide corridor, but the window since the anchor elapsed.
	v := numericAt(base, 10*time.Second, 2)
	res := f.admit(v)
	require.Len(t, res.archive, 2)
	require.Equal(t, float64(1), res.archive[0].NumericValue)
	require.Equal(t, v, res.archive[1])
	require.Nil(t, res.candidate)
	require.Equal(t, v, *f.lastArchived)
}

// A zero window disables the timeout: samples inside the corridor keep
// replacing the candidate no matter how much time passes.
func TestCompressionZeroWindowNeverTimesOut(t *testing.T) {
	f := &compressionFilter{
		settings: compressionSettings(100, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	f.admit(numericAt(base, 0, 0))
	f.admit(numericAt(base, time.Second, 1))

	v := numericAt(base, 240*time.Hour, 2)
	res := f.admit(v)
	require.Empty(t, res.archive)
	require.NotNil(t, res.candidate)
	require.Equal(t, v, res.candidate.Value)
}

func TestCompressionTextArchivesEverything(t *testing.T) {
	f := &compressionFilter{
		settings: compressionSettings(1, 0),
		dataType: model.DataTypeText,
	}
	base := time.Now()

	res := f.admit(model.NewTextValue(base, "on", model.QualityGood))
	require.Len(t, res.archive, 1)

	res = f.admit(model.NewTextValue(base.Add(time.Second), "off", model.QualityGood))
	require.Len(t, res.archive, 1)
	require.Nil(t, res.candidate)
}

func TestCompressionRestoredCandidateWithLostCorridor(t *testing.T) {
	// A candidate restored from storage without corridor properties reopens
	// the door instead of settling immediately.
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	anchor := numericAt(base, 0, 0)
	candidate := numericAt(base, time.Second, 1)

	f := &compressionFilter{
		settings:     compressionSettings(1, 0),
		dataType:     model.DataTypeFloatingPoint,
		lastArchived: &anchor,
		candidate:    &candidate,
		slopeMin:     math.NaN(),
		slopeMax:     math.NaN(),
	}

	res := f.admit(numericAt(base, 2*time.Second, 2))
	require.Empty(t, res.archive)
	require.NotNil(t, res.candidate)
	require.False(t, math.IsNaN(res.candidate.CompressionSlopeMin))
	require.False(t, math.IsNaN(res.candidate.CompressionSlopeMax))
}
