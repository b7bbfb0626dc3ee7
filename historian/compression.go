package historian

import (
	"math"

	"github.com/aikadata/aika/pkg/model"
)

// compressionFilter implements swinging-door trending. It decides which
// exceptional samples settle into the archive by keeping a slope corridor
// from the last archived sample; a sample that cannot fit the corridor swings
// the door shut and promotes the current candidate. One instance per tag,
// guarded by the tag runtime's lock.
type compressionFilter struct {
	settings model.FilterSettings
	dataType model.DataType

	lastArchived *model.TagValue
	candidate    *model.TagValue
	slopeMin     float64
	slopeMax     float64
}

type compressionResult struct {
	// archive holds samples settled by this admission, in archival order.
	archive []model.TagValue
	// candidate is the new working candidate, nil when the corridor restarted.
	candidate *model.ArchiveCandidate
}

// ticks is the sample time on the corridor's time axis: 100ns units, matching
// the precision of persisted timestamps.
func ticks(v model.TagValue) float64 {
	return float64(v.UtcSampleTime.UnixNano() / 100)
}

// admit processes one exceptional sample. Called only after the exception
// filter passes it.
func (f *compressionFilter) admit(v model.TagValue) compressionResult {
	// First sample ever seen settles immediately and anchors the corridor.
	if f.lastArchived == nil {
		f.reset(v)
		return compressionResult{archive: []model.TagValue{v}}
	}

	// Text and state tags, and disabled compression: everything exceptional
	// is archived.
	if !f.settings.Enabled || !f.dataType.IsNumeric() {
		f.reset(v)
		return compressionResult{archive: []model.TagValue{v}}
	}

	// Quality changes and non-finite values settle the current candidate and
	// archive the sample directly.
	if v.Quality != f.lastArchived.Quality || !v.IsNumeric() {
		archived := f.settle()
		f.reset(v)
		return compressionResult{archive: append(archived, v)}
	}

	// Window timeout: too long since the last archived sample.
	if window := f.settings.WindowSize.Duration(); window > 0 &&
		v.UtcSampleTime.Sub(f.lastArchived.UtcSampleTime) >= window {
		archived := f.settle()
		f.reset(v)
		return compressionResult{archive: append(archived, v)}
	}

	threshold := f.settings.Threshold(v.NumericValue)
	slopeLo, slopeHi := f.slopes(v, threshold)

	// No candidate yet, or corridor lost across a restart: open the door.
	if f.candidate == nil || math.IsNaN(f.slopeMin) || math.IsNaN(f.slopeMax) {
		f.slopeMin, f.slopeMax = slopeLo, slopeHi
		f.candidate = &v
		return compressionResult{candidate: f.currentCandidate()}
	}

	newMin := math.Max(f.slopeMin, slopeLo)
	newMax := math.Min(f.slopeMax, slopeHi)
	if newMin <= newMax {
		// Corridor still viable, the sample replaces the candidate.
		f.slopeMin, f.slopeMax = newMin, newMax
		f.candidate = &v
		return compressionResult{candidate: f.currentCandidate()}
	}

	// Door swung shut: the prior candidate settles and anchors a fresh
	// corridor toward the incoming sample.
	promoted := *f.candidate
	f.lastArchived = &promoted
	f.slopeMin, f.slopeMax = f.slopes(v, threshold)
	f.candidate = &v
	return compressionResult{
		archive:   []model.TagValue{promoted},
		candidate: f.currentCandidate(),
	}
}

// slopes computes the corridor bounds from lastArchived to the sample with
// the threshold applied in value space.
func (f *compressionFilter) slopes(v model.TagValue, threshold float64) (lo, hi float64) {
	dt := ticks(v) - ticks(*f.lastArchived)
	lo = (v.NumericValue - threshold - f.lastArchived.NumericValue) / dt
	hi = (v.NumericValue + threshold - f.lastArchived.NumericValue) / dt
	return lo, hi
}

// settle promotes the current candidate, if any, to archived.
func (f *compressionFilter) settle() []model.TagValue {
	if f.candidate == nil {
		return nil
	}
	promoted := *f.candidate
	f.lastArchived = &promoted
	f.candidate = nil
	return []model.TagValue{promoted}
}

// reset archives v as the new anchor and clears candidate and corridor.
func (f *compressionFilter) reset(v model.TagValue) {
	f.lastArchived = &v
	f.candidate = nil
	f.slopeMin = math.NaN()
	f.slopeMax = math.NaN()
}

func (f *compressionFilter) currentCandidate() *model.ArchiveCandidate {
	if f.candidate == nil {
		return nil
	}
	return &model.ArchiveCandidate{
		Value:               *f.candidate,
		CompressionSlopeMin: f.slopeMin,
		CompressionSlopeMax: f.slopeMax,
	}
}
