package historian

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aikadata/aika/pkg/model"
)

func exceptionSettings(limit float64, window time.Duration) model.FilterSettings {
	return model.FilterSettings{
		Enabled:    true,
		LimitType:  model.LimitTypeAbsolute,
		Limit:      limit,
		WindowSize: model.Duration(window),
	}
}

func TestExceptionFirstSampleAlwaysPasses(t *testing.T) {
	f := &exceptionFilter{
		settings: exceptionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}

	res := f.admit(model.NewNumericValue(time.Now(), 10, model.QualityGood))
	require.True(t, res.passed)
	require.Equal(t, reasonFirstSample, res.reason)
}

func TestExceptionDisabledPassesEverything(t *testing.T) {
	f := &exceptionFilter{
		settings: model.FilterSettings{Enabled: false},
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Now()

	f.admit(model.NewNumericValue(base, 10, model.QualityGood))
	res := f.admit(model.NewNumericValue(base.Add(time.Second), 10, model.QualityGood))
	require.True(t, res.passed)
	require.Equal(t, reasonDisabled, res.reason)
}

func TestExceptionDeviation(t *testing.T) {
	f := &exceptionFilter{
		settings: exceptionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	f.admit(model.NewNumericValue(base, 10, model.QualityGood))

	// Within the limit: suppressed, reference unchanged.
	res := f.admit(model.NewNumericValue(base.Add(time.Second), 10.5, model.QualityGood))
	require.False(t, res.passed)
	require.Equal(t, reasonWithinLimits, res.reason)

	// Exactly at the limit relative to the original reference: suppressed.
	res = f.admit(model.NewNumericValue(base.Add(2*time.Second), 11, model.QualityGood))
	require.False(t, res.passed)

	// Above the limit relative to the original reference: passed.
	res = f.admit(model.NewNumericValue(base.Add(3*time.Second), 11.5, model.QualityGood))
	require.True(t, res.passed)
	require.Equal(t, reasonDeviation, res.reason)

	// The passed sample is the new reference.
	res = f.admit(model.NewNumericValue(base.Add(4*time.Second), 11.6, model.QualityGood))
	require.False(t, res.passed)
}

func TestExceptionQualityChangePasses(t *testing.T) {
	f := &exceptionFilter{
		settings: exceptionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Now()

	f.admit(model.NewNumericValue(base, 10, model.QualityGood))
	res := f.admit(model.NewNumericValue(base.Add(time.Second), 10, model.QualityBad))
	require.True(t, res.passed)
	require.Equal(t, reasonQualityChanged, res.reason)
}

func TestExceptionWindowElapsed(t *testing.T) {
	f := &exceptionFilter{
		settings: exceptionSettings(1, 10*time.Second),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	f.admit(model.NewNumericValue(base, 10, model.QualityGood))

	res := f.admit(model.NewNumericValue(base.Add(9*time.Second), 10, model.QualityGood))
	require.False(t, res.passed)

	// At the window boundary the unchanged value passes anyway.
	res = f.admit(model.NewNumericValue(base.Add(10*time.Second), 10, model.QualityGood))
	require.True(t, res.passed)
	require.Equal(t, reasonWindowElapsed, res.reason)
}

// A zero window disables the window rather than making it always elapsed.
func TestExceptionZeroWindowSuppresses(t *testing.T) {
	f := &exceptionFilter{
		settings: exceptionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	f.admit(model.NewNumericValue(base, 10, model.QualityGood))

	res := f.admit(model.NewNumericValue(base.Add(24*time.Hour), 10, model.QualityGood))
	require.False(t, res.passed)
	require.Equal(t, reasonWithinLimits, res.reason)
}

func TestExceptionTextComparison(t *testing.T) {
	f := &exceptionFilter{
		settings: exceptionSettings(1, 0),
		dataType: model.DataTypeText,
	}
	base := time.Now()

	f.admit(model.NewTextValue(base, "on", model.QualityGood))

	res := f.admit(model.NewTextValue(base.Add(time.Second), "on", model.QualityGood))
	require.False(t, res.passed)

	res = f.admit(model.NewTextValue(base.Add(2*time.Second), "off", model.QualityGood))
	require.True(t, res.passed)
	require.Equal(t, reasonTextChanged, res.reason)
}

func TestExceptionStateComparesByText(t *testing.T) {
	// State samples carry finite codes but are compared by state name; an
	// unchanged state is suppressed regardless of the numeric limit.
	f := &exceptionFilter{
		settings: exceptionSettings(100, 0),
		dataType: model.DataTypeState,
	}
	base := time.Now()

	f.admit(model.NewStateValue(base, "Running", 1, model.QualityGood))

	res := f.admit(model.NewStateValue(base.Add(time.Second), "Running", 1, model.QualityGood))
	require.False(t, res.passed)

	res = f.admit(model.NewStateValue(base.Add(2*time.Second), "Fault", 2, model.QualityGood))
	require.True(t, res.passed)
	require.Equal(t, reasonTextChanged, res.reason)
}

func TestExceptionNumericnessFlip(t *testing.T) {
	f := &exceptionFilter{
		settings: exceptionSettings(1, 0),
		dataType: model.DataTypeFloatingPoint,
	}
	base := time.Now()

	f.admit(model.NewNumericValue(base, 10, model.QualityGood))

	// A NaN after a finite value passes despite zero deviation being computable.
	res := f.admit(model.NewTextValue(base.Add(time.Second), "", model.QualityGood))
	require.True(t, res.passed)
	require.Equal(t, reasonNumericnessFlip, res.reason)
}
