package historian

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aikadata/aika/pkg/model"
)

var (
	metricSamplesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aika",
		Name:      "samples_received_total",
		Help:      "The total number of samples submitted for processing.",
	})
	metricSamplesNonMonotonic = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aika",
		Name:      "samples_non_monotonic_total",
		Help:      "The total number of samples dropped for not advancing the tag's snapshot time.",
	})
	metricSamplesFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aika",
		Name:      "samples_filtered_total",
		Help:      "The total number of samples suppressed by the exception filter.",
	})
	metricSamplesArchived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aika",
		Name:      "samples_archived_total",
		Help:      "The total number of samples settled into the archive.",
	})
)

// tagRuntime is the single-writer state machine of one tag. All mutations of
// snapshot, candidate and archive state are serialized by mtx; concurrent
// tags proceed in parallel.
type tagRuntime struct {
	mtx sync.Mutex

	def         *model.TagDefinition
	snapshot    *model.TagValue
	exception   exceptionFilter
	compression compressionFilter
}

// newTagRuntime seeds a runtime from persisted state. candidate and
// lastArchived may be nil on a fresh tag; the exception reference is the
// candidate when present (the latest known exceptional sample), else the
// snapshot.
func newTagRuntime(def *model.TagDefinition, snapshot *model.TagValue, candidate *model.ArchiveCandidate, lastArchived *model.TagValue) *tagRuntime {
	r := &tagRuntime{
		def:      def,
		snapshot: snapshot,
		exception: exceptionFilter{
			settings: def.ExceptionFilter,
			dataType: def.DataType,
		},
		compression: compressionFilter{
			settings:     def.CompressionFilter,
			dataType:     def.DataType,
			lastArchived: lastArchived,
		},
	}

	if candidate != nil {
		v := candidate.Value
		r.compression.candidate = &v
		r.compression.slopeMin = candidate.CompressionSlopeMin
		r.compression.slopeMax = candidate.CompressionSlopeMax
		r.exception.last = &v
	} else if snapshot != nil {
		r.exception.last = snapshot
	}

	return r
}

// writeOutcome reports what one sample admission changed.
type writeOutcome struct {
	accepted bool
	reason   string

	snapshot  model.TagValue
	candidate *model.ArchiveCandidate
	archived  []model.TagValue
}

// write runs one coerced sample through the exception and compression
// filters and updates runtime state. The returned outcome tells the caller
// which writes to enqueue.
func (r *tagRuntime) write(v model.TagValue) writeOutcome {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	metricSamplesReceived.Inc()

	// Samples must advance the snapshot time; anything else is dropped
	// without side effect.
	if r.snapshot != nil && !v.UtcSampleTime.After(r.snapshot.UtcSampleTime) {
		metricSamplesNonMonotonic.Inc()
		return writeOutcome{accepted: false, reason: "non-monotonic"}
	}

	exc := r.exception.admit(v)
	if !exc.passed {
		// The snapshot always tracks the latest accepted sample, even when
		// the sample is not exceptional.
		r.snapshot = &v
		metricSamplesFiltered.Inc()
		return writeOutcome{accepted: true, reason: exc.reason, snapshot: v}
	}

	comp := r.compression.admit(v)
	r.snapshot = &v
	metricSamplesArchived.Add(float64(len(comp.archive)))

	return writeOutcome{
		accepted:  true,
		reason:    exc.reason,
		snapshot:  v,
		candidate: comp.candidate,
		archived:  comp.archive,
	}
}

// state returns a copy of the runtime's current state for queries and tests.
func (r *tagRuntime) state() (snapshot *model.TagValue, candidate *model.ArchiveCandidate, lastArchived *model.TagValue) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.snapshot != nil {
		s := *r.snapshot
		snapshot = &s
	}
	candidate = r.compression.currentCandidate()
	if r.compression.lastArchived != nil {
		la := *r.compression.lastArchived
		lastArchived = &la
	}
	return snapshot, candidate, lastArchived
}

// updateDefinition swaps in new settings after a configuration change.
// Filter references are kept so the next sample is judged against the last
// retained state under the new limits.
func (r *tagRuntime) updateDefinition(def *model.TagDefinition) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.def = def
	r.exception.settings = def.ExceptionFilter
	r.exception.dataType = def.DataType
	r.compression.settings = def.CompressionFilter
	r.compression.dataType = def.DataType
}

func (r *tagRuntime) definition() *model.TagDefinition {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.def
}
