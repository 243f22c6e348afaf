// Command workbench serves the scene workbench: dependency canvases over the
// compose files of every scene, with live service status from the broker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/SceneWorkbench/internal/config"
	"github.com/AaronLay10/SceneWorkbench/internal/logging"
	"github.com/AaronLay10/SceneWorkbench/internal/version"
)

var (
	configPath string
	scenesDir  string

	rootCmd = &cobra.Command{
		Use:           "workbench",
		Short:         "Edit and run docker compose scenes as dependency graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the workbench version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Name, version.Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to "+config.FileName)
	rootCmd.PersistentFlags().StringVar(&scenesDir, "scenes-dir", "", "override the scenes directory")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if scenesDir != "" {
		cfg.Workbench.ScenesDir = scenesDir
	}
	logging.Configure(logging.ProfileRuntime, cfg.LogLevel(), cfg.LogFormat())
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
