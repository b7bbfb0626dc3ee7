package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aikadata/aika/pkg/model"
)

func TestPartitionNames(t *testing.T) {
	p := NewPartitions("", nil)

	require.Equal(t, "aika-tags", p.Tags())
	require.Equal(t, "aika-tag-config-history", p.ChangeHistory())
	require.Equal(t, "aika-state-sets", p.StateSets())
	require.Equal(t, "aika-snapshot", p.Snapshots())
	require.Equal(t, "aika-archive-temporary", p.ArchiveCandidates())

	sample := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "aika-archive-permanent-2024-07", p.Archive(&model.TagDefinition{}, sample))
}

func TestPartitionCustomPrefix(t *testing.T) {
	p := NewPartitions("plant2-", nil)

	require.Equal(t, "plant2-tags", p.Tags())
	require.Equal(t, "plant2-archive-permanent-", p.ArchivePrefix())
}

func TestPartitionCustomSuffix(t *testing.T) {
	p := NewPartitions("", func(tag *model.TagDefinition, ts time.Time) string {
		return ts.UTC().Format("2006")
	})

	sample := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "aika-archive-permanent-2024", p.Archive(&model.TagDefinition{}, sample))
}

func TestArchiveRangeMonths(t *testing.T) {
	p := NewPartitions("", nil)

	names := p.ArchiveRangeMonths(
		time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC),
	)
	require.Equal(t, []string{
		"aika-archive-permanent-2023-11",
		"aika-archive-permanent-2023-12",
		"aika-archive-permanent-2024-01",
		"aika-archive-permanent-2024-02",
	}, names)
}

func TestArchiveRangeMonthsSingleMonth(t *testing.T) {
	p := NewPartitions("", nil)

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	names := p.ArchiveRangeMonths(start, start.Add(time.Hour))
	require.Equal(t, []string{"aika-archive-permanent-2024-07"}, names)
}

func TestArchiveRangeMonthsInvertedRange(t *testing.T) {
	p := NewPartitions("", nil)

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	require.Nil(t, p.ArchiveRangeMonths(start, start.Add(-time.Hour)))
}
