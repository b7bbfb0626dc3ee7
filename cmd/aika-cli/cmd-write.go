package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aikadata/aika/pkg/model"
)

type writeCmd struct {
	Name    string   `arg:"" help:"Tag name."`
	Values  []string `arg:"" optional:"" help:"Samples as time=value pairs, e.g. 2024-01-01T00:00:00Z=21.5. A bare value uses the current time."`
	Quality string   `help:"Quality applied to every sample: good, uncertain or bad." default:"good"`
	Stdin   bool     `help:"Read one time=value pair per line from stdin instead of arguments."`
}

func (cmd *writeCmd) Run(opts *globalOptions) error {
	ctx := context.Background()
	h, stop, err := openHistorian(ctx, opts)
	if err != nil {
		return err
	}

	quality, err := parseQuality(cmd.Quality)
	if err != nil {
		stop()
		return err
	}

	tag, err := h.GetTag(cmd.Name)
	if err != nil {
		stop()
		return err
	}

	var samples []model.TagValue
	appendPair := func(pair string) error {
		v, err := parseSample(tag, pair, quality)
		if err != nil {
			return err
		}
		samples = append(samples, v)
		return nil
	}

	for _, pair := range cmd.Values {
		if err := appendPair(pair); err != nil {
			stop()
			return err
		}
	}
	if cmd.Stdin {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := appendPair(line); err != nil {
				stop()
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			stop()
			return err
		}
	}

	res, err := h.WriteTagValues(ctx, cmd.Name, nil, samples...)
	if err != nil {
		stop()
		return err
	}

	if res.Success {
		fmt.Printf("accepted %d samples, %s to %s\n",
			res.SampleCount,
			res.UtcEarliestSampleTime.Format(time.RFC3339Nano),
			res.UtcLatestSampleTime.Format(time.RFC3339Nano))
	} else {
		fmt.Println("no samples accepted")
	}
	for _, note := range res.Notes {
		fmt.Println("note:", note)
	}

	// Let the write-behind cycle drain before shutting down.
	cfg, err := loadConfig(opts)
	if err == nil {
		time.Sleep(flushInterval(&cfg.Historian))
	}
	stop()
	return nil
}

// parseSample parses "time=value" or a bare value stamped with time.Now.
// Text and state tags take the value verbatim; numeric tags parse a float.
func parseSample(tag *model.TagDefinition, pair string, quality model.Quality) (model.TagValue, error) {
	ts := time.Now().UTC()
	raw := pair
	if i := strings.LastIndex(pair, "="); i >= 0 {
		parsed, err := parseTime(pair[:i])
		if err != nil {
			return model.TagValue{}, err
		}
		ts = parsed
		raw = pair[i+1:]
	}

	// State names resolve to their code during coercion.
	if !tag.DataType.IsNumeric() {
		return model.NewTextValue(ts, raw, quality), nil
	}

	num, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return model.TagValue{}, fmt.Errorf("parsing value %q: %w", raw, err)
	}
	return model.NewNumericValue(ts, num, quality), nil
}

func parseQuality(s string) (model.Quality, error) {
	switch strings.ToLower(s) {
	case "good":
		return model.QualityGood, nil
	case "uncertain":
		return model.QualityUncertain, nil
	case "bad":
		return model.QualityBad, nil
	}
	return 0, fmt.Errorf("unrecognized quality %q", s)
}
