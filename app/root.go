// Package app implements the main application commands.
package app

import (
	"github.com/spf13/cobra"

	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/logger"
)

func init() { //nolint: gochecknoinits
	rootCmd.PersistentFlags().StringVar(
		&configPath,
		"config",
		"etc/",
		"Path to the configuration directory",
	)
}

var (
	configPath string // Path to the configuration directory

	cfg config.Config
	err error

	rootCmd = &cobra.Command{
		Use:   "accessmirror",
		Short: "AccessMirror mirrors identity and authorization data for review",
		Long: `AccessMirror synchronizes user accounts from the directory service and
security groups, memberships and access rules from the application database
into one reviewable mirror, and reconciles the two sources against each other.`,
		Args: cobra.OnlyValidArgs,
	}
)

// loadConfig reads the configuration and initializes logging. Shared PreRun
// of every command that touches the mirror.
func loadConfig(_ *cobra.Command, _ []string) {
	if cfg, err = config.ReadConfig(configPath); err != nil {
		panic(err)
	}

	if err = logger.Init(cfg.Log); err != nil {
		panic(err)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
