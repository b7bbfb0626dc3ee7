package backend

import (
	"time"

	"github.com/aikadata/aika/pkg/model"
)

// DefaultIndexPrefix is prepended to every partition name.
const DefaultIndexPrefix = "aika-"

// ArchiveSuffixFunc derives the archive partition suffix for a sample.
type ArchiveSuffixFunc func(tag *model.TagDefinition, utcSampleTime time.Time) string

// DefaultArchiveSuffix partitions the archive by UTC month.
func DefaultArchiveSuffix(_ *model.TagDefinition, utcSampleTime time.Time) string {
	return utcSampleTime.UTC().Format("2006-01")
}

// Partitions derives partition names from the configured index prefix.
type Partitions struct {
	Prefix        string
	ArchiveSuffix ArchiveSuffixFunc
}

// NewPartitions applies defaults for empty fields.
func NewPartitions(prefix string, suffix ArchiveSuffixFunc) Partitions {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	if suffix == nil {
		suffix = DefaultArchiveSuffix
	}
	return Partitions{Prefix: prefix, ArchiveSuffix: suffix}
}

func (p Partitions) Tags() string              { return p.Prefix + "tags" }
func (p Partitions) ChangeHistory() string     { return p.Prefix + "tag-config-history" }
func (p Partitions) StateSets() string         { return p.Prefix + "state-sets" }
func (p Partitions) Snapshots() string         { return p.Prefix + "snapshot" }
func (p Partitions) ArchiveCandidates() string { return p.Prefix + "archive-temporary" }
func (p Partitions) ArchivePrefix() string     { return p.Prefix + "archive-permanent-" }

// Archive names the archive partition a sample of the given tag lands in.
func (p Partitions) Archive(tag *model.TagDefinition, utcSampleTime time.Time) string {
	return p.ArchivePrefix() + p.ArchiveSuffix(tag, utcSampleTime)
}

// Fixed lists the partitions created eagerly at init. Archive partitions are
// created on demand by BulkAppendArchive.
func (p Partitions) Fixed() []string {
	return []string{
		p.Tags(),
		p.ChangeHistory(),
		p.StateSets(),
		p.Snapshots(),
		p.ArchiveCandidates(),
	}
}

// ArchiveRangeMonths enumerates the default monthly archive partitions
// overlapping [start, end]. Only meaningful with DefaultArchiveSuffix;
// callers using a custom suffix resolve partitions via ListPartitions.
func (p Partitions) ArchiveRangeMonths(start, end time.Time) []string {
	start = start.UTC()
	end = end.UTC()
	if end.Before(start) {
		return nil
	}

	var names []string
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		names = append(names, p.ArchivePrefix()+cur.Format("2006-01"))
		cur = cur.AddDate(0, 1, 0)
	}
	return names
}
