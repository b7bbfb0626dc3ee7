package historian

import (
	"math"

	"github.com/aikadata/aika/pkg/model"
)

// exceptionFilter suppresses samples that do not change meaningfully relative
// to the last retained exceptional sample. One instance per tag, guarded by
// the tag runtime's lock.
type exceptionFilter struct {
	settings model.FilterSettings
	dataType model.DataType
	last     *model.TagValue
}

type exceptionResult struct {
	passed bool
	reason string
}

// Rejection and pass reasons, surfaced in write results and logs.
const (
	reasonDisabled        = "filter disabled"
	reasonFirstSample     = "first sample"
	reasonTextChanged     = "text changed"
	reasonQualityChanged  = "quality changed"
	reasonDeviation       = "deviation above limit"
	reasonWindowElapsed   = "window elapsed"
	reasonWithinLimits    = "within limits"
	reasonNumericnessFlip = "numeric presence changed"
)

// admit decides whether a sample is exceptional. On pass the sample becomes
// the new reference; on reject the filter state is unchanged.
func (f *exceptionFilter) admit(v model.TagValue) exceptionResult {
	if f.last == nil {
		f.pass(v)
		return exceptionResult{passed: true, reason: reasonFirstSample}
	}
	if !f.settings.Enabled {
		f.pass(v)
		return exceptionResult{passed: true, reason: reasonDisabled}
	}

	last := *f.last

	if v.Quality != last.Quality {
		f.pass(v)
		return exceptionResult{passed: true, reason: reasonQualityChanged}
	}

	// Text and state tags compare by text; numeric tags fall through to the
	// deviation check unless a non-finite value sneaks in.
	if !f.dataType.IsNumeric() || !v.IsNumeric() || !last.IsNumeric() {
		if v.IsNumeric() != last.IsNumeric() {
			f.pass(v)
			return exceptionResult{passed: true, reason: reasonNumericnessFlip}
		}
		if !v.SameText(last) {
			f.pass(v)
			return exceptionResult{passed: true, reason: reasonTextChanged}
		}
		return exceptionResult{passed: false, reason: reasonWithinLimits}
	}

	if window := f.settings.WindowSize.Duration(); window > 0 &&
		!v.UtcSampleTime.Before(last.UtcSampleTime.Add(window)) {
		f.pass(v)
		return exceptionResult{passed: true, reason: reasonWindowElapsed}
	}

	deviation := math.Abs(v.NumericValue - last.NumericValue)
	if deviation > f.settings.Threshold(last.NumericValue) {
		f.pass(v)
		return exceptionResult{passed: true, reason: reasonDeviation}
	}

	return exceptionResult{passed: false, reason: reasonWithinLimits}
}

func (f *exceptionFilter) pass(v model.TagValue) {
	f.last = &v
}
