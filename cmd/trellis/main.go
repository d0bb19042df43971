// cmd/trellis/main.go
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rootOpts = struct {
		config   string
		preset   string
		bus      string
		sim      bool
		trace    string
		logLevel string
	}{}

	rootCmd = &cobra.Command{
		Use:           "trellis",
		Short:         "Drive Trellis LED/button keypads over I2C",
		Long:          "Drive one or more HT16K33 based LED/button keypads on an I2C bus, or an emulated bus with --sim.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := zerolog.ParseLevel(rootOpts.logLevel)
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			zerolog.SetGlobalLevel(lvl)
			return nil
		},
	}
)

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&rootOpts.config, "config", "c", "", "path to a YAML configuration")
	f.StringVarP(&rootOpts.preset, "preset", "p", "", "built-in configuration (single, quad, strip, breakout)")
	f.StringVarP(&rootOpts.bus, "bus", "b", "", "I2C bus name, overrides the configuration")
	f.BoolVar(&rootOpts.sim, "sim", false, "use an emulated bus instead of hardware")
	f.StringVar(&rootOpts.trace, "trace", "", "write every bus transaction to this CBOR file")
	f.StringVar(&rootOpts.logLevel, "log-level", "info", "trace, debug, info, warn or error")

	rootCmd.AddCommand(demoCmd, shellCmd, traceCmd)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("trellis")
		os.Exit(1)
	}
}
