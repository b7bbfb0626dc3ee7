package historian

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

// registry holds every known tag's definition and runtime state, keyed by id
// and case-insensitive name. Create, update and delete serialize through the
// registry and return only after storage has acknowledged.
type registry struct {
	cfg        *Config
	store      backend.Backend
	partitions backend.Partitions
	logger     log.Logger

	mtx    sync.RWMutex
	byID   map[uuid.UUID]*tagRuntime
	byName map[string]*tagRuntime

	setsMtx   sync.RWMutex
	stateSets map[string]*model.StateSet
}

func newRegistry(cfg *Config, store backend.Backend, logger log.Logger) *registry {
	return &registry{
		cfg:        cfg,
		store:      store,
		partitions: cfg.partitions(),
		logger:     logger,
		byID:       map[uuid.UUID]*tagRuntime{},
		byName:     map[string]*tagRuntime{},
		stateSets:  map[string]*model.StateSet{},
	}
}

// init loads state sets and tags and seeds each tag's runtime from the
// persisted snapshot, candidate and newest archived sample. All-or-nothing:
// any failure leaves the historian uninitialized.
func (r *registry) init(ctx context.Context) error {
	err := r.store.ScanStateSets(ctx, r.cfg.ScanPageSize, func(set *model.StateSet) error {
		r.stateSets[strings.ToLower(set.Name)] = set
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scanning state sets")
	}

	var defs []*model.TagDefinition
	err = r.store.ScanTags(ctx, r.cfg.ScanPageSize, func(def *model.TagDefinition) error {
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scanning tags")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.QueryParallelism)

	runtimes := make([]*tagRuntime, len(defs))
	for i, def := range defs {
		g.Go(func() error {
			rt, err := r.seedRuntime(gctx, def)
			if err != nil {
				return errors.Wrapf(err, "seeding tag %s", def.Name)
			}
			runtimes[i] = rt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rt := range runtimes {
		r.byID[rt.def.ID] = rt
		r.byName[strings.ToLower(rt.def.Name)] = rt
	}

	level.Info(r.logger).Log("msg", "registry initialized", "tags", len(defs), "state_sets", len(r.stateSets))
	return nil
}

// seedRuntime loads the persisted snapshot, candidate and most recent
// archived sample of one tag concurrently.
func (r *registry) seedRuntime(ctx context.Context, def *model.TagDefinition) (*tagRuntime, error) {
	var (
		snapshot     *model.TagValue
		candidate    *model.ArchiveCandidate
		lastArchived *model.TagValue
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		doc, err := r.latestDocument(gctx, []string{r.partitions.Snapshots()}, def.ID)
		if err != nil || doc == nil {
			return err
		}
		v := doc.Value(def.Units)
		snapshot = &v
		return nil
	})
	g.Go(func() error {
		doc, err := r.latestDocument(gctx, []string{r.partitions.ArchiveCandidates()}, def.ID)
		if err != nil || doc == nil {
			return err
		}
		c := doc.Candidate(def.Units)
		candidate = &c
		return nil
	})
	g.Go(func() error {
		// Walk archive partitions newest to oldest and stop at the first hit.
		names, err := r.store.ListPartitions(gctx, r.partitions.ArchivePrefix())
		if err != nil {
			return err
		}
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for _, name := range names {
			doc, err := r.latestDocument(gctx, []string{name}, def.ID)
			if err != nil {
				return err
			}
			if doc != nil {
				v := doc.Value(def.Units)
				lastArchived = &v
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return newTagRuntime(def, snapshot, candidate, lastArchived), nil
}

func (r *registry) latestDocument(ctx context.Context, partitions []string, tagID uuid.UUID) (*backend.ValueDocument, error) {
	docs, err := r.store.Query(ctx, partitions, &backend.ValueQuery{
		TagIDs: []uuid.UUID{tagID},
		Sort:   backend.Descending,
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (r *registry) runtimeByName(name string) (*tagRuntime, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	rt, ok := r.byName[strings.ToLower(name)]
	return rt, ok
}

func (r *registry) runtimeByID(id uuid.UUID) (*tagRuntime, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	rt, ok := r.byID[id]
	return rt, ok
}

// tags returns all runtimes, sorted by tag name for stable listings.
func (r *registry) tags() []*tagRuntime {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	out := make([]*tagRuntime, 0, len(r.byID))
	for _, rt := range r.byID {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].definition().Name < out[j].definition().Name
	})
	return out
}

func (r *registry) stateSet(name string) (*model.StateSet, bool) {
	r.setsMtx.RLock()
	defer r.setsMtx.RUnlock()
	set, ok := r.stateSets[strings.ToLower(name)]
	return set, ok
}

// CreateTag validates and persists a new tag, then exposes its runtime.
func (r *registry) CreateTag(ctx context.Context, def *model.TagDefinition, user string) (*model.TagDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidSettings, err.Error())
	}

	// Held across registration so a concurrent DeleteStateSet cannot remove
	// a set this tag references. Lock order is setsMtx before mtx.
	r.setsMtx.RLock()
	defer r.setsMtx.RUnlock()

	if def.DataType == model.DataTypeState {
		if _, ok := r.stateSets[strings.ToLower(def.StateSet)]; !ok {
			return nil, errors.Wrap(ErrStateSetNotFound, def.StateSet)
		}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	key := strings.ToLower(def.Name)
	if _, exists := r.byName[key]; exists {
		return nil, errors.Wrap(ErrTagAlreadyExists, def.Name)
	}

	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	now := time.Now().UTC()
	def.Metadata = model.Metadata{
		UtcCreatedAt:      now,
		Creator:           user,
		UtcLastModifiedAt: now,
		LastModifiedBy:    user,
	}

	if err := r.store.PutTag(ctx, def); err != nil {
		return nil, errors.Wrap(err, "persisting tag")
	}

	rt := newTagRuntime(def, nil, nil, nil)
	r.byID[def.ID] = rt
	r.byName[key] = rt
	return def, nil
}

// UpdateTag persists new settings for an existing tag and records a change
// history document holding the prior version. Name changes rename the
// by-name key atomically with the by-id update.
func (r *registry) UpdateTag(ctx context.Context, def *model.TagDefinition, description, user string) (*model.TagDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidSettings, err.Error())
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	rt, ok := r.byID[def.ID]
	if !ok {
		return nil, errors.Wrap(ErrTagNotFound, def.ID.String())
	}
	prior := rt.definition()

	newKey := strings.ToLower(def.Name)
	oldKey := strings.ToLower(prior.Name)
	if newKey != oldKey {
		if _, exists := r.byName[newKey]; exists {
			return nil, errors.Wrap(ErrTagAlreadyExists, def.Name)
		}
	}

	def.Metadata = prior.Metadata
	def.Metadata.UtcLastModifiedAt = time.Now().UTC()
	def.Metadata.LastModifiedBy = user

	history := &model.TagChangeHistory{
		ID:              uuid.New(),
		TagID:           def.ID,
		UtcTime:         def.Metadata.UtcLastModifiedAt,
		User:            user,
		Description:     description,
		PreviousVersion: *prior,
	}
	if err := r.store.PutChangeHistory(ctx, history); err != nil {
		return nil, errors.Wrap(err, "persisting change history")
	}
	if err := r.store.PutTag(ctx, def); err != nil {
		return nil, errors.Wrap(err, "persisting tag")
	}

	rt.updateDefinition(def)
	if newKey != oldKey {
		delete(r.byName, oldKey)
		r.byName[newKey] = rt
	}
	return def, nil
}

// DeleteTag purges a tag's metadata, all its values and its change history.
func (r *registry) DeleteTag(ctx context.Context, name string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	key := strings.ToLower(name)
	rt, ok := r.byName[key]
	if !ok {
		return errors.Wrap(ErrTagNotFound, name)
	}
	id := rt.definition().ID

	if err := r.store.DeleteTag(ctx, id); err != nil {
		return errors.Wrap(err, "deleting tag")
	}
	if err := r.store.DeleteTagValues(ctx, id); err != nil {
		return errors.Wrap(err, "deleting tag values")
	}
	if err := r.store.DeleteChangeHistory(ctx, id); err != nil {
		return errors.Wrap(err, "deleting change history")
	}

	delete(r.byID, id)
	delete(r.byName, key)
	return nil
}

// CreateStateSet persists a new state set.
func (r *registry) CreateStateSet(ctx context.Context, set *model.StateSet) error {
	if err := set.Validate(); err != nil {
		return errors.Wrap(ErrInvalidSettings, err.Error())
	}

	r.setsMtx.Lock()
	defer r.setsMtx.Unlock()

	if err := r.store.PutStateSet(ctx, set); err != nil {
		return errors.Wrap(err, "persisting state set")
	}
	r.stateSets[strings.ToLower(set.Name)] = set
	return nil
}

// DeleteStateSet removes a state set unless a tag still references it.
func (r *registry) DeleteStateSet(ctx context.Context, name string) error {
	r.setsMtx.Lock()
	defer r.setsMtx.Unlock()

	key := strings.ToLower(name)
	if _, ok := r.stateSets[key]; !ok {
		return errors.Wrap(ErrStateSetNotFound, name)
	}

	// The reference check runs under both locks, in the same setsMtx before
	// mtx order as CreateTag, so a concurrent create cannot register a tag
	// against the set being removed.
	r.mtx.RLock()
	for _, rt := range r.byID {
		def := rt.definition()
		if def.DataType == model.DataTypeState && strings.EqualFold(def.StateSet, name) {
			r.mtx.RUnlock()
			return errors.Wrapf(ErrStateSetInUse, "%s referenced by tag %s", name, def.Name)
		}
	}
	r.mtx.RUnlock()
	if err := r.store.DeleteStateSet(ctx, name); err != nil {
		return errors.Wrap(err, "deleting state set")
	}
	delete(r.stateSets, key)
	return nil
}

// coerce normalizes an incoming sample for the tag's data type. State samples
// resolve against the tag's state set by name or code.
func (r *registry) coerce(def *model.TagDefinition, v model.TagValue) (model.TagValue, error) {
	v.UtcSampleTime = v.UtcSampleTime.UTC()
	v.Units = def.Units

	switch def.DataType {
	case model.DataTypeFloatingPoint, model.DataTypeInteger:
		v.TextValue = nil

	case model.DataTypeText:
		v.NumericValue = math.NaN()
		if v.TextValue == nil {
			empty := ""
			v.TextValue = &empty
		}

	case model.DataTypeState:
		set, ok := r.stateSet(def.StateSet)
		if !ok {
			return v, errors.Wrap(ErrStateSetNotFound, def.StateSet)
		}
		var state model.State
		switch {
		case v.TextValue != nil:
			state, ok = set.StateByName(*v.TextValue)
			if !ok {
				return v, errors.Wrapf(ErrUnknownState, "%q in state set %s", *v.TextValue, set.Name)
			}
		case v.IsNumeric():
			state, ok = set.StateByValue(int32(v.NumericValue))
			if !ok {
				return v, errors.Wrapf(ErrUnknownState, "%v in state set %s", v.NumericValue, set.Name)
			}
		default:
			return v, errors.Wrap(ErrUnknownState, fmt.Sprintf("state sample for tag %s carries neither name nor value", def.Name))
		}
		name := state.Name
		v.TextValue = &name
		v.NumericValue = float64(state.Value)
	}

	return v, nil
}
