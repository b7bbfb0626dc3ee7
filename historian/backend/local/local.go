// Package local is a filesystem implementation of the storage adapter. It
// exists for tests and the CLI; production deployments use a remote document
// store behind the same interface.
package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/pkg/model"
)

// Store keeps one directory per partition. Keyed documents (tags, state
// sets, snapshots, candidates) are single JSON files; appended documents
// (archive values, change history) are JSON lines files per tag.
type Store struct {
	cfg        *Config
	partitions backend.Partitions

	mtx sync.RWMutex
}

var _ backend.Backend = (*Store)(nil)

func New(cfg *Config, partitions backend.Partitions) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("local storage requires a path")
	}
	if err := os.MkdirAll(cfg.Path, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "creating local storage root")
	}
	return &Store{cfg: cfg, partitions: partitions}, nil
}

func (s *Store) dir(partition string) string {
	return filepath.Join(s.cfg.Path, partition)
}

func (s *Store) keyedPath(partition, key string) string {
	return filepath.Join(s.dir(partition), url.PathEscape(key)+".json")
}

func (s *Store) appendPath(partition string, tagID uuid.UUID) string {
	return filepath.Join(s.dir(partition), tagID.String()+".jsonl")
}

func (s *Store) writeKeyed(partition, key string, doc interface{}) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir(partition), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(s.keyedPath(partition, key), b, 0o644)
}

func (s *Store) appendLines(partition string, tagID uuid.UUID, docs ...interface{}) error {
	if err := os.MkdirAll(s.dir(partition), os.ModePerm); err != nil {
		return err
	}
	f, err := os.OpenFile(s.appendPath(partition, tagID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	_, err = f.Write(buf.Bytes())
	return err
}

// EnsureIndex creates the partition directory. Idempotent.
func (s *Store) EnsureIndex(_ context.Context, name string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return os.MkdirAll(s.dir(name), os.ModePerm)
}

func (s *Store) PutTag(_ context.Context, tag *model.TagDefinition) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.writeKeyed(s.partitions.Tags(), tag.ID.String(), tag)
}

func (s *Store) DeleteTag(_ context.Context, id uuid.UUID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return removeIfExists(s.keyedPath(s.partitions.Tags(), id.String()))
}

func (s *Store) PutChangeHistory(_ context.Context, h *model.TagChangeHistory) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.appendLines(s.partitions.ChangeHistory(), h.TagID, h)
}

func (s *Store) DeleteChangeHistory(_ context.Context, tagID uuid.UUID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return removeIfExists(s.appendPath(s.partitions.ChangeHistory(), tagID))
}

func (s *Store) PutStateSet(_ context.Context, set *model.StateSet) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.writeKeyed(s.partitions.StateSets(), set.Name, set)
}

func (s *Store) DeleteStateSet(_ context.Context, name string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return removeIfExists(s.keyedPath(s.partitions.StateSets(), name))
}

func (s *Store) PutSnapshot(_ context.Context, tagID uuid.UUID, v model.TagValue) error {
	if tagID == uuid.Nil {
		return backend.ErrEmptyTagID
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.writeKeyed(s.partitions.Snapshots(), tagID.String(), backend.NewValueDocument(tagID, v))
}

func (s *Store) PutArchiveCandidate(_ context.Context, tagID uuid.UUID, c model.ArchiveCandidate) error {
	if tagID == uuid.Nil {
		return backend.ErrEmptyTagID
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.writeKeyed(s.partitions.ArchiveCandidates(), tagID.String(), backend.NewCandidateDocument(tagID, c))
}

func (s *Store) BulkAppendArchive(_ context.Context, appends map[string][]*backend.ValueDocument) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for partition, docs := range appends {
		byTag := make(map[uuid.UUID][]interface{})
		var order []uuid.UUID
		for _, doc := range docs {
			if _, ok := byTag[doc.TagID]; !ok {
				order = append(order, doc.TagID)
			}
			byTag[doc.TagID] = append(byTag[doc.TagID], doc)
		}
		for _, tagID := range order {
			if err := s.appendLines(partition, tagID, byTag[tagID]...); err != nil {
				return errors.Wrapf(err, "appending to archive partition %s", partition)
			}
		}
	}
	return nil
}

func (s *Store) DeleteTagValues(_ context.Context, tagID uuid.UUID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := removeIfExists(s.keyedPath(s.partitions.Snapshots(), tagID.String())); err != nil {
		return err
	}
	if err := removeIfExists(s.keyedPath(s.partitions.ArchiveCandidates(), tagID.String())); err != nil {
		return err
	}

	archives, err := s.listPartitionsLocked(s.partitions.ArchivePrefix())
	if err != nil {
		return err
	}
	for _, partition := range archives {
		if err := removeIfExists(s.appendPath(partition, tagID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ScanTags(ctx context.Context, pageSize int, visit func(*model.TagDefinition) error) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return scanKeyed(ctx, s.dir(s.partitions.Tags()), pageSize, visit)
}

func (s *Store) ScanStateSets(ctx context.Context, pageSize int, visit func(*model.StateSet) error) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return scanKeyed(ctx, s.dir(s.partitions.StateSets()), pageSize, visit)
}

func (s *Store) ChangeHistory(_ context.Context, tagID uuid.UUID) ([]*model.TagChangeHistory, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	f, err := os.Open(s.appendPath(s.partitions.ChangeHistory(), tagID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*model.TagChangeHistory
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		h := &model.TagChangeHistory{}
		if err := json.Unmarshal(scanner.Bytes(), h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, scanner.Err()
}

func (s *Store) ListPartitions(_ context.Context, prefix string) ([]string, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.listPartitionsLocked(prefix)
}

func (s *Store) listPartitionsLocked(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Query(ctx context.Context, partitions []string, q *backend.ValueQuery) ([]*backend.ValueDocument, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	wanted := make(map[uuid.UUID]struct{}, len(q.TagIDs))
	for _, id := range q.TagIDs {
		wanted[id] = struct{}{}
	}

	var hits []*backend.ValueDocument
	for _, partition := range partitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docs, err := s.readPartition(partition)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if len(wanted) > 0 {
				if _, ok := wanted[doc.TagID]; !ok {
					continue
				}
			}
			if !inRange(doc.UtcSampleTime.Time(), q) {
				continue
			}
			hits = append(hits, doc)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		ti, tj := hits[i].UtcSampleTime.Time(), hits[j].UtcSampleTime.Time()
		if q.Sort == backend.Descending {
			return ti.After(tj)
		}
		return ti.Before(tj)
	})

	if q.LimitPerTag > 0 {
		counts := make(map[uuid.UUID]int, len(q.TagIDs))
		kept := hits[:0]
		for _, doc := range hits {
			if counts[doc.TagID] >= q.LimitPerTag {
				continue
			}
			counts[doc.TagID]++
			kept = append(kept, doc)
		}
		hits = kept
	}
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *Store) QueryHistogram(ctx context.Context, partitions []string, q *backend.HistogramQuery) ([]backend.Bucket, error) {
	if q.Interval <= 0 {
		return nil, fmt.Errorf("histogram interval must be positive, got %v", q.Interval)
	}

	hits, err := s.Query(ctx, partitions, &backend.ValueQuery{
		TagIDs: []uuid.UUID{q.TagID},
		Start:  q.Start,
		End:    q.End,
		Sort:   backend.Ascending,
	})
	if err != nil {
		return nil, err
	}

	wantMetric := make(map[backend.Metric]bool, len(q.Metrics))
	for _, m := range q.Metrics {
		wantMetric[m] = true
	}

	byBucket := make(map[int64]*histogramAccumulator)
	var order []int64
	intervalMs := q.Interval.Milliseconds()
	for _, doc := range hits {
		offsetMs := doc.UtcSampleTime.Time().Sub(q.Start).Milliseconds()
		idx := offsetMs / intervalMs
		acc, ok := byBucket[idx]
		if !ok {
			acc = newHistogramAccumulator(q.Start.Add(time.Duration(idx*intervalMs) * time.Millisecond))
			byBucket[idx] = acc
			order = append(order, idx)
		}
		acc.add(doc, q)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	buckets := make([]backend.Bucket, 0, len(order))
	for _, idx := range order {
		buckets = append(buckets, byBucket[idx].finish(wantMetric))
	}
	return buckets, nil
}

func (s *Store) readPartition(partition string) ([]*backend.ValueDocument, error) {
	entries, err := os.ReadDir(s.dir(partition))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var docs []*backend.ValueDocument
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir(partition), e.Name())
		switch {
		case strings.HasSuffix(e.Name(), ".jsonl"):
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
			for scanner.Scan() {
				doc := &backend.ValueDocument{}
				if err := json.Unmarshal(scanner.Bytes(), doc); err != nil {
					f.Close()
					return nil, err
				}
				docs = append(docs, doc)
			}
			if err := scanner.Err(); err != nil {
				f.Close()
				return nil, err
			}
			f.Close()
		case strings.HasSuffix(e.Name(), ".json"):
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			doc := &backend.ValueDocument{}
			if err := json.Unmarshal(b, doc); err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func inRange(t time.Time, q *backend.ValueQuery) bool {
	if !q.Start.IsZero() {
		if q.StartExclusive {
			if !t.After(q.Start) {
				return false
			}
		} else if t.Before(q.Start) {
			return false
		}
	}
	if !q.End.IsZero() {
		if q.EndExclusive {
			if !t.Before(q.End) {
				return false
			}
		} else if t.After(q.End) {
			return false
		}
	}
	return true
}

func scanKeyed[T any](ctx context.Context, dir string, pageSize int, visit func(*T) error) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	for i, e := range entries {
		if i%pageSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		doc := new(T)
		if err := json.Unmarshal(b, doc); err != nil {
			return err
		}
		if err := visit(doc); err != nil {
			return err
		}
	}
	return nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
