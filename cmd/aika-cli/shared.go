package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grafana/dskit/services"

	"github.com/aikadata/aika/historian"
	"github.com/aikadata/aika/historian/backend"
	"github.com/aikadata/aika/historian/backend/local"
	"github.com/aikadata/aika/pkg/model"
	"github.com/aikadata/aika/pkg/util/log"
)

// openHistorian starts a historian over the local store. The returned stop
// function flushes by stopping the batchers.
func openHistorian(ctx context.Context, opts *globalOptions) (*historian.Historian, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	store, err := local.New(&cfg.Local, backend.NewPartitions(cfg.Historian.IndexPrefix, cfg.Historian.ArchiveSuffix))
	if err != nil {
		return nil, nil, fmt.Errorf("opening local store: %w", err)
	}

	h, err := historian.New(&cfg.Historian, store, log.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := services.StartAndAwaitRunning(ctx, h); err != nil {
		return nil, nil, fmt.Errorf("starting historian: %w", err)
	}

	stop := func() {
		_ = services.StopAndAwaitTerminated(context.Background(), h)
	}
	return h, stop, nil
}

// flushInterval waits out both write-behind cycles so enqueued data reaches
// the store before the process exits.
func flushInterval(cfg *historian.Config) time.Duration {
	snapshot := cfg.SnapshotWriteInterval
	if snapshot <= 0 {
		snapshot = historian.DefaultSnapshotWriteInterval
	}
	archive := cfg.ArchiveWriteInterval
	if archive <= 0 {
		archive = historian.DefaultArchiveWriteInterval
	}
	if archive > snapshot {
		return archive + 500*time.Millisecond
	}
	return snapshot + 500*time.Millisecond
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func parseDataType(s string) (model.DataType, error) {
	switch strings.ToLower(s) {
	case "float", "floatingpoint":
		return model.DataTypeFloatingPoint, nil
	case "integer", "int":
		return model.DataTypeInteger, nil
	case "text":
		return model.DataTypeText, nil
	case "state":
		return model.DataTypeState, nil
	}
	return 0, fmt.Errorf("unrecognized data type %q", s)
}

func formatValue(v model.TagValue) string {
	if v.TextValue != nil {
		return *v.TextValue
	}
	return fmt.Sprintf("%g", v.NumericValue)
}
