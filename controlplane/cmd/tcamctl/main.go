package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yanet-platform/tcam/common/go/logging"
	"github.com/yanet-platform/tcam/controlplane/internal/version"
	"github.com/yanet-platform/tcam/controlplane/yntcam"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
	// Users is a glob filtering the users shown in table layouts.
	Users string
	// Journal enables printing of the hardware mutations.
	Journal bool
}

var rootCmd = &cobra.Command{
	Use:           "tcamctl",
	Short:         "TCAM rule placement simulator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var replayCmd = &cobra.Command{
	Use:   "replay SCRIPT",
	Short: "Replay a rule script against simulated tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return runReplay(rawCmd.Context(), cmd, args[0])
	},
}

var geometryCmd = &cobra.Command{
	Use:   "geometry",
	Short: "Show the configured table geometry",
	Args:  cobra.NoArgs,
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return runGeometry(cmd)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve [SCRIPT]",
	Short: "Serve table metrics, optionally after replaying a script",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(rawCmd *cobra.Command, args []string) error {
		script := ""
		if len(args) > 0 {
			script = args[0]
		}
		return runServe(rawCmd.Context(), cmd, script)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(rawCmd *cobra.Command, args []string) {
		fmt.Println(version.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file, built-in defaults are used if omitted")
	replayCmd.Flags().StringVarP(&cmd.Users, "user", "u", "*", "Glob of user names shown in the resulting layout")
	replayCmd.Flags().BoolVarP(&cmd.Journal, "journal", "j", false, "Print hardware mutations issued during the replay")

	rootCmd.AddCommand(replayCmd, geometryCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and assembles the director.
func setup(cmd Cmd, options ...yntcam.DirectorOption) (*yntcam.Config, *yntcam.Director, *zap.SugaredLogger, error) {
	cfg := yntcam.DefaultConfig()
	if cmd.ConfigPath != "" {
		var err error
		cfg, err = yntcam.LoadConfig(cmd.ConfigPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	options = append(options, yntcam.WithLog(log))
	director, err := yntcam.NewDirector(cfg, options...)
	if err != nil {
		log.Sync()
		return nil, nil, nil, fmt.Errorf("failed to create director: %w", err)
	}

	return cfg, director, log, nil
}
