// Command syncsched is the mirror sync scheduler service: it loads a
// catalogue of projects, builds a repeating daily sync timetable, and
// supervises the sync commands it fires as child processes.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cosi-lab/syncsched/internal/logger"
)

func main() {
	slog.SetDefault(slog.New(logger.NewColorTextHandler(os.Stderr, nil, true)))

	root := &cobra.Command{
		Use:   "syncsched",
		Short: "Mirror sync scheduler",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the catalogue file (TOML/YAML/JSON)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newValidateCmd(&configPath))

	if err := root.Execute(); err != nil {
		slog.Error("syncsched exited with error", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
