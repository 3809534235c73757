// ABOUTME: Entry point for the agentworld runtime server and tools
// ABOUTME: Builds the cobra command tree and handles process signals

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is set with -ldflags at build time.
var version = "dev"

const banner = `
                         _                       _     _
  __ _  __ _  ___ _ __ | |___      _____  _ __| | __| |
 / _' |/ _' |/ _ \ '_ \| __\ \ /\ / / _ \| '__| |/ _' |
| (_| | (_| |  __/ | | | |_ \ V  V / (_) | |  | | (_| |
 \__,_|\__, |\___|_| |_|\__| \_/\_/ \___/|_|  |_|\__,_|
       |___/
`

// getConfigPath returns the path to the config file.
// Priority: AGENTWORLD_CONFIG env var > XDG_CONFIG_HOME/agentworld/config.yaml > ~/.config/agentworld/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGENTWORLD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agentworld", "config.yaml")
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agentworld",
		Short:         "Multi-agent conversation runtime",
		Long:          color.CyanString(banner) + "\nWorlds of agents sharing one ordered event stream.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+getConfigPath()+")")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return getConfigPath()
	}

	root.AddCommand(
		newServeCmd(resolve),
		newInitCmd(resolve),
		newEventsCmd(resolve),
		newExportCmd(resolve),
		newTokenCmd(resolve),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
