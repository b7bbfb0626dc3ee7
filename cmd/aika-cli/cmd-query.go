package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/aikadata/aika/historian"
)

type queryCmd struct {
	Tags      []string `arg:"" help:"Tag names to query."`
	Start     string   `help:"Range start." required:""`
	End       string   `help:"Range end." required:""`
	Mode      string   `help:"Query mode: raw, aggregated, interpolated or plot." default:"raw"`
	Points    int      `help:"Raw mode: maximum samples per tag." default:"1000"`
	Intervals int      `help:"Bucketed modes: number of intervals." default:"10"`
	Aggregate string   `help:"Aggregated mode statistic: average, minimum or maximum." default:"average"`
}

func (cmd *queryCmd) Run(opts *globalOptions) error {
	ctx := context.Background()

	start, err := parseTime(cmd.Start)
	if err != nil {
		return err
	}
	end, err := parseTime(cmd.End)
	if err != nil {
		return err
	}

	h, stop, err := openHistorian(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	var series []historian.Series
	switch strings.ToLower(cmd.Mode) {
	case "raw":
		series, err = h.ReadRaw(ctx, &historian.RawRequest{
			TagNames:   cmd.Tags,
			Start:      start,
			End:        end,
			PointCount: cmd.Points,
		})
	case "aggregated":
		var agg historian.Aggregate
		if agg, err = parseAggregate(cmd.Aggregate); err != nil {
			return err
		}
		series, err = h.ReadAggregated(ctx, &historian.AggregatedRequest{
			TagNames:  cmd.Tags,
			Start:     start,
			End:       end,
			Intervals: cmd.Intervals,
			Aggregate: agg,
		})
	case "interpolated":
		series, err = h.ReadInterpolated(ctx, &historian.InterpolatedRequest{
			TagNames:  cmd.Tags,
			Start:     start,
			End:       end,
			Intervals: cmd.Intervals,
		})
	case "plot":
		series, err = h.ReadPlot(ctx, &historian.PlotRequest{
			TagNames:  cmd.Tags,
			Start:     start,
			End:       end,
			Intervals: cmd.Intervals,
		})
	default:
		return fmt.Errorf("unrecognized query mode %q", cmd.Mode)
	}
	if err != nil {
		return err
	}

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"tag", "time", "value", "quality", "units"})
	total := 0
	for _, s := range series {
		for _, v := range s.Values {
			w.Append([]string{
				s.TagName,
				v.UtcSampleTime.Format(time.RFC3339Nano),
				formatValue(v),
				v.Quality.String(),
				v.Units,
			})
			total++
		}
	}
	w.Render()

	fmt.Printf("%d values across %d series\n", total, len(series))
	return nil
}

func parseAggregate(s string) (historian.Aggregate, error) {
	switch strings.ToLower(s) {
	case "average", "avg":
		return historian.AggregateAverage, nil
	case "minimum", "min":
		return historian.AggregateMinimum, nil
	case "maximum", "max":
		return historian.AggregateMaximum, nil
	}
	return 0, fmt.Errorf("unrecognized aggregate %q", s)
}
