// Package cli implements the faber command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fractary/faber/internal/api"
	"github.com/fractary/faber/internal/config"
	"github.com/fractary/faber/internal/errors"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "faber",
	Short: "AI-assisted engineering workflow runner",
	Long: `faber runs multi-phase engineering workflows over work items:
frame, architect, build, evaluate, release.

Each phase is driven by an agent with a bounded tool loop. Workflows
checkpoint between phases, gate on human approval where configured, and
stop when the cost budget runs out.

Quick start:
  faber run 142               Run the pipeline for issue #142
  faber list                  Show recent workflow runs
  faber view WF-142-ab12cd34  Inspect one run
  faber resume WF-142-ab12cd34  Continue after an interruption`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		if fe := errors.AsFaberError(err); fe != nil {
			fmt.Fprintln(os.Stderr, fe.UserMessage())
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .faber/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newViewCmd())
	rootCmd.AddCommand(newCostCmd())
	rootCmd.AddCommand(newAgentsCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initViper locates the config file so loadConfig and subcommands agree on
// it, and binds FABER_* environment variables.
func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".faber")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("FABER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	setupLogging()
}

// setupLogging routes slog to stderr at a level derived from the flags.
func setupLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig builds the effective configuration from the located file plus
// environment overrides.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	return config.Load(path)
}

// newService wires a Service from the effective configuration.
func newService() (*api.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return api.NewService(cfg)
}

// printJSON emits a value as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
