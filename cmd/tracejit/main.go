package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tracejit/pkg/abi"
	"tracejit/pkg/config"
	"tracejit/pkg/stencil"
	"tracejit/pkg/stencil/store"
)

var (
	configPath string
	logLevel   string
	noColor    bool

	cfg    config.Config
	logger zerolog.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "tracejit",
		Short:         "Copy-and-patch trace compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: color.NoColor}).
				Level(cfg.LogLevel()).
				With().Timestamp().Logger()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newStencilsCmd(), newRunCmd())

	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hostABI resolves the ABI for this machine, honoring an explicit
// convention over the configured one.
func hostABI(convention string) (abi.ABI, error) {
	if convention == "" {
		convention = cfg.JIT.Convention
	}
	return abi.Resolve(abi.Host(), convention)
}

// loadTable takes the table from the configured store when there is one,
// generating it otherwise.
func loadTable(a abi.ABI) (*stencil.Table, error) {
	if cfg.Stencils.StorePath == "" {
		return stencil.Build(a)
	}
	s, err := store.Open(cfg.Stencils.StorePath)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	t, built, err := s.LoadOrBuild(a)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("version", t.Version).Bool("built", built).Msg("stencil table loaded")
	return t, nil
}
