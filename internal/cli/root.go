package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/vivarium/internal/config"
	"github.com/lazypower/vivarium/internal/logging"
)

var (
	configPath string
	serverURL  string

	cfg    config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "vivarium",
	Short: "A small simulated life that runs on a tick loop",
	Long: "Vivarium keeps a simulated organism alive: stimuli arrive from producers and the HTTP API, " +
		"the tick loop interprets them, remembers what matters and persists snapshots to disk.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $VIVARIUM_CONFIG or ~/.vivarium/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "server URL for client commands (default $VIVARIUM_URL or the configured listen address)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pokeCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(ticksCmd)
}

// setup loads the config and builds the logger for every command.
func setup(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if _, err := c.ResolveDataDir(); err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	cfg = c

	l, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	logger = l
	return nil
}
