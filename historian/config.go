package historian

import (
	"flag"
	"time"

	"github.com/aikadata/aika/historian/backend"
)

const (
	DefaultSnapshotWriteInterval = 2 * time.Second
	DefaultArchiveWriteInterval  = 2 * time.Second

	DefaultMaxSamplesPerTagPerQuery = 5000
	DefaultMaxSamplesPerQuery       = 20000
	DefaultMaxTagsPerQuery          = 100

	DefaultScanPageSize     = 100
	DefaultQueryParallelism = 10
)

type Config struct {
	IndexPrefix string `yaml:"index_prefix"`

	SnapshotWriteInterval time.Duration `yaml:"snapshot_write_interval"`
	ArchiveWriteInterval  time.Duration `yaml:"archive_write_interval"`

	MaxSamplesPerTagPerQuery int `yaml:"max_samples_per_tag_per_query"`
	MaxSamplesPerQuery       int `yaml:"max_samples_per_query"`
	MaxTagsPerQuery          int `yaml:"max_tags_per_query"`

	ScanPageSize     int `yaml:"scan_page_size"`
	QueryParallelism int `yaml:"query_parallelism"`

	// ArchiveSuffix overrides the default YYYY-MM archive partitioning.
	ArchiveSuffix backend.ArchiveSuffixFunc `yaml:"-"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.IndexPrefix, prefix+"index-prefix", backend.DefaultIndexPrefix, "prefix applied to every storage partition name.")
	f.DurationVar(&cfg.SnapshotWriteInterval, prefix+"snapshot-write-interval", DefaultSnapshotWriteInterval, "interval between snapshot batch flushes.")
	f.DurationVar(&cfg.ArchiveWriteInterval, prefix+"archive-write-interval", DefaultArchiveWriteInterval, "interval between archive batch flushes.")
	f.IntVar(&cfg.MaxSamplesPerTagPerQuery, prefix+"max-samples-per-tag-per-query", DefaultMaxSamplesPerTagPerQuery, "per tag sample cap for one query.")
	f.IntVar(&cfg.MaxSamplesPerQuery, prefix+"max-samples-per-query", DefaultMaxSamplesPerQuery, "total sample cap for one storage query batch.")
	f.IntVar(&cfg.MaxTagsPerQuery, prefix+"max-tags-per-query", DefaultMaxTagsPerQuery, "tag cap for one storage query batch.")
	f.IntVar(&cfg.ScanPageSize, prefix+"scan-page-size", DefaultScanPageSize, "page size for metadata scans at startup.")
	f.IntVar(&cfg.QueryParallelism, prefix+"query-parallelism", DefaultQueryParallelism, "bound on concurrent storage queries during fan-out.")
}

// applyDefaults fills zero values for configs built in code rather than
// through flags.
func (cfg *Config) applyDefaults() {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = backend.DefaultIndexPrefix
	}
	if cfg.SnapshotWriteInterval <= 0 {
		cfg.SnapshotWriteInterval = DefaultSnapshotWriteInterval
	}
	if cfg.ArchiveWriteInterval <= 0 {
		cfg.ArchiveWriteInterval = DefaultArchiveWriteInterval
	}
	if cfg.MaxSamplesPerTagPerQuery <= 0 {
		cfg.MaxSamplesPerTagPerQuery = DefaultMaxSamplesPerTagPerQuery
	}
	if cfg.MaxSamplesPerQuery <= 0 {
		cfg.MaxSamplesPerQuery = DefaultMaxSamplesPerQuery
	}
	if cfg.MaxTagsPerQuery <= 0 {
		cfg.MaxTagsPerQuery = DefaultMaxTagsPerQuery
	}
	if cfg.ScanPageSize <= 0 {
		cfg.ScanPageSize = DefaultScanPageSize
	}
	if cfg.QueryParallelism <= 0 {
		cfg.QueryParallelism = DefaultQueryParallelism
	}
}

func (cfg *Config) partitions() backend.Partitions {
	return backend.NewPartitions(cfg.IndexPrefix, cfg.ArchiveSuffix)
}
