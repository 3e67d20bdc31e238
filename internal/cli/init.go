package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tracker/internal/catalog"
	"github.com/mesh-intelligence/tracker/internal/sqlite"
)

type initResult struct {
	ConfigDir     string `json:"config_dir"`
	ConfigWritten bool   `json:"config_written"`
	Database      string `json:"database"`
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize tracker configuration and storage",
		Long:  "Create the configuration directory with a default config.yaml, then create the\ncatalog tables in the data directory.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, _ []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	written, err := writeConfigIfMissing(env.configDir, flags.dataDir)
	if err != nil {
		return systemError(err, "writing %s", filepath.Join(env.configDir, configFileExt))
	}

	model, err := catalog.NewModel()
	if err != nil {
		return systemError(err, "building catalog model")
	}
	store := sqlite.NewStore(model)
	if err := store.Attach(env.config); err != nil {
		return systemError(err, "initializing storage")
	}
	database := store.Path()
	if err := store.Detach(); err != nil {
		return systemError(err, "closing storage")
	}

	if flags.jsonMode {
		return writeJSON(cmd.OutOrStdout(), initResult{
			ConfigDir:     env.configDir,
			ConfigWritten: written,
			Database:      database,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Tracker initialized in %s\ndatabase: %s\n", env.configDir, database)
	return nil
}
