package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aikadata/aika/pkg/model"
)

type stateSetCmd struct {
	Create stateSetCreateCmd `cmd:"" help:"Create a state set."`
	Delete stateSetDeleteCmd `cmd:"" help:"Delete an unreferenced state set."`
}

type stateSetCreateCmd struct {
	Name        string   `arg:"" help:"State set name."`
	States      []string `arg:"" help:"States as name=code pairs, e.g. Off=0 Running=1."`
	Description string   `help:"State set description."`
}

func (cmd *stateSetCreateCmd) Run(opts *globalOptions) error {
	ctx := context.Background()

	set := &model.StateSet{
		Name:        cmd.Name,
		Description: cmd.Description,
	}
	for _, pair := range cmd.States {
		name, code, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("state %q is not a name=code pair", pair)
		}
		v, err := strconv.ParseInt(code, 10, 32)
		if err != nil {
			return fmt.Errorf("parsing state code %q: %w", code, err)
		}
		set.States = append(set.States, model.State{Name: name, Value: int32(v)})
	}

	h, stop, err := openHistorian(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	if err := h.CreateStateSet(ctx, set); err != nil {
		return err
	}
	fmt.Printf("created state set %s with %d states\n", set.Name, len(set.States))
	return nil
}

type stateSetDeleteCmd struct {
	Name string `arg:"" help:"State set name."`
}

func (cmd *stateSetDeleteCmd) Run(opts *globalOptions) error {
	ctx := context.Background()
	h, stop, err := openHistorian(ctx, opts)
	if err != nil {
		return err
	}
	defer stop()

	if err := h.DeleteStateSet(ctx, cmd.Name); err != nil {
		return err
	}
	fmt.Printf("deleted state set %s\n", cmd.Name)
	return nil
}
