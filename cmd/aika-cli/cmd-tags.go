package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/aikadata/aika/pkg/model"
)

type listTagsCmd struct {
	Prefix string `help:"Only list tags whose name starts with this prefix."`
}

func (cmd *listTagsCmd) Run(opts *globalOptions) error {
	ctx := context.Background()
	h, stop, err := openHistorian(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	tags := h.SearchTags(cmd.Prefix)

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"name", "type", "units", "exception", "compression", "modified"})
	for _, tag := range tags {
		w.Append([]string{
			tag.Name,
			tag.DataType.String(),
			tag.Units,
			filterSummary(tag.ExceptionFilter),
			filterSummary(tag.CompressionFilter),
			humanize.Time(tag.Metadata.UtcLastModifiedAt),
		})
	}
	w.Render()

	fmt.Printf("%d tags\n", len(tags))
	return nil
}

func filterSummary(s model.FilterSettings) string {
	if !s.Enabled {
		return "off"
	}
	switch s.LimitType {
	case model.LimitTypePercentage:
		return fmt.Sprintf("%g%%", s.Limit)
	case model.LimitTypeFraction:
		return fmt.Sprintf("%g frac", s.Limit)
	}
	return fmt.Sprintf("%g abs", s.Limit)
}

type createTagCmd struct {
	Name             string  `arg:"" help:"Tag name."`
	Type             string  `help:"Data type: float, integer, text or state." default:"float"`
	Units            string  `help:"Engineering units."`
	Description      string  `help:"Tag description."`
	StateSet         string  `help:"State set name, required for state tags."`
	ExceptionLimit   float64 `help:"Absolute exception deviation limit; 0 disables the filter."`
	CompressionLimit float64 `help:"Absolute compression deviation limit; 0 disables the filter."`
	Window           string  `help:"Filter window as ISO-8601 duration." default:"P1D"`
	User             string  `help:"User recorded as creator." default:"aika-cli"`
}

func (cmd *createTagCmd) Run(opts *globalOptions) error {
	ctx := context.Background()
	h, stop, err := openHistorian(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	dataType, err := parseDataType(cmd.Type)
	if err != nil {
		return err
	}
	window, err := model.ParseDuration(cmd.Window)
	if err != nil {
		return err
	}

	def := &model.TagDefinition{
		Name:        cmd.Name,
		Description: cmd.Description,
		Units:       cmd.Units,
		DataType:    dataType,
		StateSet:    cmd.StateSet,
		ExceptionFilter: model.FilterSettings{
			Enabled:    cmd.ExceptionLimit > 0,
			LimitType:  model.LimitTypeAbsolute,
			Limit:      cmd.ExceptionLimit,
			WindowSize: window,
		},
		CompressionFilter: model.FilterSettings{
			Enabled:    cmd.CompressionLimit > 0,
			LimitType:  model.LimitTypeAbsolute,
			Limit:      cmd.CompressionLimit,
			WindowSize: window,
		},
	}

	created, err := h.CreateTag(ctx, def, cmd.User)
	if err != nil {
		return err
	}
	fmt.Printf("created tag %s (%s)\n", created.Name, created.ID)
	return nil
}

type deleteTagCmd struct {
	Name string `arg:"" help:"Tag name."`
}

func (cmd *deleteTagCmd) Run(opts *globalOptions) error {
	ctx := context.Background()
	h, stop, err := openHistorian(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	if err := h.DeleteTag(ctx, cmd.Name, nil); err != nil {
		return err
	}
	fmt.Printf("deleted tag %s\n", cmd.Name)
	return nil
}

type historyCmd struct {
	Name string `arg:"" help:"Tag name."`
}

func (cmd *historyCmd) Run(opts *globalOptions) error {
	ctx := context.Background()
	h, stop, err := openHistorian(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	records, err := h.ChangeHistory(ctx, cmd.Name)
	if err != nil {
		return err
	}

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"time", "user", "description"})
	for _, rec := range records {
		w.Append([]string{
			rec.UtcTime.Format(time.RFC3339),
			rec.User,
			rec.Description,
		})
	}
	w.Render()
	return nil
}
