package backend

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aikadata/aika/pkg/model"
)

var (
	ErrPartitionDoesNotExist = errors.New("partition does not exist")
	ErrEmptyTagID            = errors.New("empty tag id")
)

// SortOrder orders query hits by sample time.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// Metric is a per-bucket numeric aggregation.
type Metric int

const (
	MetricAverage Metric = iota
	MetricMinimum
	MetricMaximum
)

// ValueQuery selects raw value documents from a set of partitions.
// Bounds are inclusive unless the corresponding Exclusive flag is set; a zero
// Start or End leaves that bound open.
type ValueQuery struct {
	TagIDs         []uuid.UUID
	Start          time.Time
	End            time.Time
	StartExclusive bool
	EndExclusive   bool
	Sort           SortOrder
	Limit          int // max hits in total; 0 means unlimited
	LimitPerTag    int // max hits per tag, applied in sort order; 0 means unlimited
}

// HistogramQuery buckets one tag's value documents over a time range.
// Buckets are aligned to Start and sized Interval. The Include flags request
// per-bucket top hits in addition to the numeric metrics.
type HistogramQuery struct {
	TagID               uuid.UUID
	Start               time.Time
	End                 time.Time
	Interval            time.Duration
	Metrics             []Metric
	IncludeEdges        bool // earliest and latest document per bucket
	IncludeExtremes     bool // documents holding the numeric min and max
	IncludeFirstNonGood bool // earliest document with quality below Good
}

// Bucket is one histogram bucket. Empty buckets are omitted from results.
type Bucket struct {
	Start        time.Time
	Count        int
	Metrics      map[Metric]float64
	Earliest     *ValueDocument
	Latest       *ValueDocument
	MinSample    *ValueDocument
	MaxSample    *ValueDocument
	FirstNonGood *ValueDocument
}

// Writer persists historian documents. Implementations must be safe for
// concurrent use and treat all operations as idempotent upserts except
// BulkAppendArchive, which is append-only.
type Writer interface {
	// EnsureIndex creates a partition if it does not already exist.
	EnsureIndex(ctx context.Context, name string) error

	PutTag(ctx context.Context, tag *model.TagDefinition) error
	DeleteTag(ctx context.Context, id uuid.UUID) error
	PutChangeHistory(ctx context.Context, h *model.TagChangeHistory) error
	DeleteChangeHistory(ctx context.Context, tagID uuid.UUID) error

	PutStateSet(ctx context.Context, set *model.StateSet) error
	DeleteStateSet(ctx context.Context, name string) error

	// PutSnapshot and PutArchiveCandidate replace the prior document keyed
	// by tag id.
	PutSnapshot(ctx context.Context, tagID uuid.UUID, v model.TagValue) error
	PutArchiveCandidate(ctx context.Context, tagID uuid.UUID, c model.ArchiveCandidate) error

	// BulkAppendArchive appends documents to archive partitions, creating
	// partitions as needed. Order within one partition slice is preserved.
	BulkAppendArchive(ctx context.Context, appends map[string][]*ValueDocument) error

	// DeleteTagValues purges every value document for the tag across
	// snapshot, candidate and archive partitions.
	DeleteTagValues(ctx context.Context, tagID uuid.UUID) error
}

// Reader serves historian queries.
type Reader interface {
	ScanTags(ctx context.Context, pageSize int, visit func(*model.TagDefinition) error) error
	ScanStateSets(ctx context.Context, pageSize int, visit func(*model.StateSet) error) error
	ChangeHistory(ctx context.Context, tagID uuid.UUID) ([]*model.TagChangeHistory, error)

	// ListPartitions returns existing partition names with the given prefix.
	ListPartitions(ctx context.Context, prefix string) ([]string, error)

	// Query returns matching documents from the named partitions. Partitions
	// that do not exist are skipped.
	Query(ctx context.Context, partitions []string, q *ValueQuery) ([]*ValueDocument, error)

	// QueryHistogram buckets matching documents from the named partitions.
	QueryHistogram(ctx context.Context, partitions []string, q *HistogramQuery) ([]Bucket, error)
}

// Backend is the full storage adapter consumed by the historian core.
type Backend interface {
	Reader
	Writer
}
