// Package historian implements the ingestion, compression and query core of
// the Aika process-data historian. Incoming samples pass a per-tag exception
// filter and a swinging-door compression filter; retained samples flow
// through write-behind batchers into a partitioned document store, and the
// query engine reassembles continuous behavior from snapshot, candidate and
// archive partitions.
package historian

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

// WriteResult reports acceptance of a write call. Success means accepted for
// processing, not durability: archive writes complete in the background.
type WriteResult struct {
	Success               bool
	SampleCount           int
	UtcEarliestSampleTime time.Time
	UtcLatestSampleTime   time.Time
	Notes                 []string
}

// Historian owns one complete historian instance: tag registry, write-behind
// batchers and query engine over a single storage adapter. Multiple instances
// with distinct stores and prefixes can coexist in one process.
type Historian struct {
	services.Service

	cfg        *Config
	store      backend.Backend
	partitions backend.Partitions
	logger     log.Logger

	reg       *registry
	engine    *engine
	snapshots *batcher
	archives  *batcher

	subservices        *services.Manager
	subservicesWatcher *services.FailureWatcher

	initialized atomic.Bool
}

func New(cfg *Config, store backend.Backend, logger log.Logger) (*Historian, error) {
	cfg.applyDefaults()

	h := &Historian{
		cfg:        cfg,
		store:      store,
		partitions: cfg.partitions(),
		logger:     logger,
		reg:        newRegistry(cfg, store, logger),
	}
	h.engine = newEngine(cfg, store, h.reg, logger)
	h.snapshots = newBatcher("snapshot", cfg.SnapshotWriteInterval, store, logger)
	h.archives = newBatcher("archive", cfg.ArchiveWriteInterval, store, logger)

	var err error
	h.subservices, err = services.NewManager(h.snapshots, h.archives)
	if err != nil {
		return nil, errors.Wrap(err, "creating batcher manager")
	}
	h.subservicesWatcher = services.NewFailureWatcher()
	h.subservicesWatcher.WatchManager(h.subservices)

	h.Service = services.NewBasicService(h.starting, h.running, h.stopping)
	return h, nil
}

// starting is all-or-nothing: a failure leaves the historian uninitialized.
func (h *Historian) starting(ctx context.Context) error {
	for _, name := range h.partitions.Fixed() {
		if err := h.store.EnsureIndex(ctx, name); err != nil {
			return errors.Wrapf(err, "ensuring partition %s", name)
		}
	}

	if err := h.reg.init(ctx); err != nil {
		return err
	}

	if err := services.StartManagerAndAwaitHealthy(ctx, h.subservices); err != nil {
		return errors.Wrap(err, "starting batchers")
	}

	h.initialized.Store(true)
	level.Info(h.logger).Log("msg", "historian started", "index_prefix", h.cfg.IndexPrefix)
	return nil
}

func (h *Historian) running(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-h.subservicesWatcher.Chan():
		return errors.Wrap(err, "batcher failed")
	}
}

func (h *Historian) stopping(_ error) error {
	h.initialized.Store(false)
	return services.StopManagerAndAwaitStopped(context.Background(), h.subservices)
}

// WriteTagValues submits samples for one tag. Samples are processed in the
// order given; non-monotonic samples are dropped silently and surface only in
// counters. Validation and authorization failures surface synchronously.
func (h *Historian) WriteTagValues(ctx context.Context, tagName string, claims []model.Claim, samples ...model.TagValue) (*WriteResult, error) {
	if !h.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rt, ok := h.reg.runtimeByName(tagName)
	if !ok {
		return nil, errors.Wrap(ErrTagNotFound, tagName)
	}
	def := rt.definition()
	if !def.Security.Allows(model.PolicyWriteData, claims) {
		return nil, errors.Wrap(ErrAccessDenied, tagName)
	}

	if len(samples) == 0 {
		return &WriteResult{Success: false, Notes: []string{ErrNoValuesSpecified.Error()}}, nil
	}

	res := &WriteResult{}
	archivePending := false

	for _, sample := range samples {
		coerced, err := h.reg.coerce(def, sample)
		if err != nil {
			return nil, err
		}

		outcome := rt.write(coerced)
		if !outcome.accepted {
			continue
		}

		h.snapshots.EnqueueSnapshot(def.ID, outcome.snapshot)
		if outcome.candidate != nil {
			h.archives.EnqueueCandidate(def.ID, *outcome.candidate)
		}
		for _, archived := range outcome.archived {
			partition := h.partitions.Archive(def, archived.UtcSampleTime)
			h.archives.EnqueueArchive(partition, backend.NewValueDocument(def.ID, archived))
			archivePending = true
		}

		if res.SampleCount == 0 || coerced.UtcSampleTime.Before(res.UtcEarliestSampleTime) {
			res.UtcEarliestSampleTime = coerced.UtcSampleTime
		}
		if res.SampleCount == 0 || coerced.UtcSampleTime.After(res.UtcLatestSampleTime) {
			res.UtcLatestSampleTime = coerced.UtcSampleTime
		}
		res.SampleCount++
	}

	res.Success = res.SampleCount > 0
	if archivePending {
		res.Notes = append(res.Notes, "archive write pending")
	}
	return res, nil
}

// ReadRaw returns up to PointCount raw samples per tag in ascending order.
func (h *Historian) ReadRaw(ctx context.Context, req *RawRequest) ([]Series, error) {
	if !h.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return h.engine.ReadRaw(ctx, req)
}

// ReadAggregated returns per-bucket average, minimum or maximum values.
func (h *Historian) ReadAggregated(ctx context.Context, req *AggregatedRequest) ([]Series, error) {
	if !h.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return h.engine.ReadAggregated(ctx, req)
}

// ReadInterpolated returns values reconstructed at regular intervals.
func (h *Historian) ReadInterpolated(ctx context.Context, req *InterpolatedRequest) ([]Series, error) {
	if !h.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return h.engine.ReadInterpolated(ctx, req)
}

// ReadPlot returns a visualization-optimized sample set.
func (h *Historian) ReadPlot(ctx context.Context, req *PlotRequest) ([]Series, error) {
	if !h.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return h.engine.ReadPlot(ctx, req)
}

// CreateTag registers and persists a new tag definition.
func (h *Historian) CreateTag(ctx context.Context, def *model.TagDefinition, user string) (*model.TagDefinition, error) {
	if !h.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return h.reg.CreateTag(ctx, def, user)
}

// UpdateTag persists new settings for a tag and records its change history.
func (h *Historian) UpdateTag(ctx context.Context, def *model.TagDefinition, description, user string, claims []model.Claim) (*model.TagDefinition, error) {
	if !h.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if rt, ok := h.reg.runtimeByID(def.ID); ok {
		if !rt.definition().Security.Allows(model.PolicyConfigure, claims) {
			return nil, errors.Wrap(ErrAccessDenied, def.Name)
		}
	}
	return h.reg.UpdateTag(ctx, def, description, user)
}

// DeleteTag purges a tag's metadata, values and change history.
func (h *Historian) DeleteTag(ctx context.Context, tagName string, claims []model.Claim) error {
	if !h.initialized.Load() {
		return ErrNotInitialized
	}
	if rt, ok := h.reg.runtimeByName(tagName); ok {
		if !rt.definition().Security.Allows(model.PolicyConfigure, claims) {
			return errors.Wrap(ErrAccessDenied, tagName)
		}
	}
	return h.reg.DeleteTag(ctx, tagName)
}

// GetTag returns a tag definition by name.
func (h *Historian) GetTag(tagName string) (*model.TagDefinition, error) {
	rt, ok := h.reg.runtimeByName(tagName)
	if !ok {
		return nil, errors.Wrap(ErrTagNotFound, tagName)
	}
	return rt.definition(), nil
}

// ListTags returns all tag definitions sorted by name.
func (h *Historian) ListTags() []*model.TagDefinition {
	return h.SearchTags("")
}

// SearchTags returns tags whose name starts with prefix, case-insensitively,
// sorted by name. An empty prefix matches every tag.
func (h *Historian) SearchTags(prefix string) []*model.TagDefinition {
	prefix = strings.ToLower(prefix)
	runtimes := h.reg.tags()
	out := make([]*model.TagDefinition, 0, len(runtimes))
	for _, rt := range runtimes {
		def := rt.definition()
		if prefix != "" && !strings.HasPrefix(strings.ToLower(def.Name), prefix) {
			continue
		}
		out = append(out, def)
	}
	return out
}

// ChangeHistory returns the configuration change records of a tag.
func (h *Historian) ChangeHistory(ctx context.Context, tagName string) ([]*model.TagChangeHistory, error) {
	rt, ok := h.reg.runtimeByName(tagName)
	if !ok {
		return nil, errors.Wrap(ErrTagNotFound, tagName)
	}
	return h.store.ChangeHistory(ctx, rt.definition().ID)
}

// CreateStateSet persists a new state set.
func (h *Historian) CreateStateSet(ctx context.Context, set *model.StateSet) error {
	if !h.initialized.Load() {
		return ErrNotInitialized
	}
	return h.reg.CreateStateSet(ctx, set)
}

// DeleteStateSet removes a state set unless tags still reference it.
func (h *Historian) DeleteStateSet(ctx context.Context, name string) error {
	if !h.initialized.Load() {
		return ErrNotInitialized
	}
	return h.reg.DeleteStateSet(ctx, name)
}

// TagState exposes a tag's current runtime state for diagnostics.
func (h *Historian) TagState(tagName string) (snapshot *model.TagValue, candidate *model.ArchiveCandidate, lastArchived *model.TagValue, err error) {
	rt, ok := h.reg.runtimeByName(tagName)
	if !ok {
		return nil, nil, nil, errors.Wrap(ErrTagNotFound, tagName)
	}
	snapshot, candidate, lastArchived = rt.state()
	return snapshot, candidate, lastArchived, nil
}
