package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/drone/envsubst"
	dslog "github.com/grafana/dskit/log"
	"gopkg.in/yaml.v3"

	"github.com/aikadata/aika/historian"
	"github.com/aikadata/aika/historian/backend/local"
	"github.com/aikadata/aika/pkg/util/log"
)

type globalOptions struct {
	Path       string `help:"Path of the local historian store." default:"./aika-data"`
	ConfigFile string `help:"Optional yaml config file; ${VAR} references are expanded from the environment." type:"path"`
	LogLevel   string `help:"Log level." default:"warn" enum:"debug,info,warn,error"`
}

var cli struct {
	globalOptions

	ListTags  listTagsCmd  `cmd:"" help:"List tags in the store."`
	CreateTag createTagCmd `cmd:"" help:"Create a tag."`
	DeleteTag deleteTagCmd `cmd:"" help:"Delete a tag and all its values."`
	History   historyCmd   `cmd:"" help:"Show a tag's configuration change history."`
	Write     writeCmd     `cmd:"" help:"Write samples to a tag."`
	Query     queryCmd     `cmd:"" help:"Query historical values."`
	StateSet  stateSetCmd  `cmd:"" help:"Manage state sets."`
}

type cliConfig struct {
	Historian historian.Config `yaml:"historian"`
	Local     local.Config     `yaml:"local"`
}

func loadConfig(opts *globalOptions) (*cliConfig, error) {
	cfg := &cliConfig{}
	cfg.Local.Path = opts.Path

	if opts.ConfigFile == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded, err := envsubst.EvalEnv(string(raw))
	if err != nil {
		return nil, fmt.Errorf("expanding config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Local.Path == "" {
		cfg.Local.Path = opts.Path
	}
	return cfg, nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("aika-cli"),
		kong.Description("Operate a local Aika historian store."),
		kong.UsageOnError(),
	)

	var level dslog.Level
	if err := level.Set(cli.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.InitLogger("logfmt", level)

	if err := ctx.Run(&cli.globalOptions); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
