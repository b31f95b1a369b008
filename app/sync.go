package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AccessMirror/AccessMirror/internal/db"
	"github.com/AccessMirror/AccessMirror/internal/db/controller/run"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
	syncsvc "github.com/AccessMirror/AccessMirror/internal/sync"
)

func init() { //nolint: gochecknoinits
	syncAppDBCmd.Flags().StringVar(&syncEnv, "env", "", "Application database environment (default: active)")

	syncRunsCmd.Flags().StringVar(&syncRunsKind, "kind", "", "Filter by run kind (directory, appdb, compare)")
	syncRunsCmd.Flags().IntVar(&syncRunsLimit, "limit", 20, "Number of runs to list")

	syncCmd.AddCommand(syncDirectoryCmd)
	syncCmd.AddCommand(syncAppDBCmd)
	syncCmd.AddCommand(compareCmd)
	syncCmd.AddCommand(syncRunsCmd)
	rootCmd.AddCommand(syncCmd)
}

var (
	syncEnv       string
	syncRunsKind  string
	syncRunsLimit int

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Run one-shot synchronization and reconciliation passes",
	}

	syncDirectoryCmd = &cobra.Command{
		Use:    "directory",
		Short:  "Mirror user accounts from the directory service",
		PreRun: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newSyncService()
			if err != nil {
				return err
			}

			r, runErr := service.SyncDirectory(cmd.Context())
			if r != nil {
				printRun(r)
			}

			return runErr
		},
	}

	syncAppDBCmd = &cobra.Command{
		Use:    "appdb",
		Short:  "Mirror groups, memberships and access rules from the application database",
		PreRun: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newSyncService()
			if err != nil {
				return err
			}

			r, runErr := service.SyncAppDB(cmd.Context(), syncEnv)
			if r != nil {
				printRun(r)
			}

			return runErr
		},
	}

	syncRunsCmd = &cobra.Command{
		Use:    "runs",
		Short:  "List recent sync runs from the ledger",
		PreRun: loadConfig,
		RunE: func(_ *cobra.Command, _ []string) error {
			gdb, err := db.Open(&cfg)
			if err != nil {
				return err
			}

			runs, err := run.ListRecent(gdb, models.SyncKind(syncRunsKind), syncRunsLimit)
			if err != nil {
				return err
			}

			for i := range runs {
				printRun(&runs[i])
			}

			return nil
		},
	}

	compareCmd = &cobra.Command{
		Use:    "compare",
		Short:  "Reconcile the latest directory and application database snapshots",
		PreRun: loadConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newSyncService()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			r, result, runErr := service.Compare(ctx)
			if r != nil {
				printRun(r)
			}

			if result != nil {
				sets, err := result.DecodeSets()
				if err != nil {
					return err
				}

				encoded, err := json.MarshalIndent(sets, "", "  ")
				if err != nil {
					return err
				}

				fmt.Println(string(encoded))
			}

			return runErr
		},
	}
)

// newSyncService opens the canonical store and builds the sync service for
// one-shot command runs.
func newSyncService() (*syncsvc.Service, error) {
	gdb, err := db.Open(&cfg)
	if err != nil {
		return nil, err
	}

	registryPath := cfg.Registry.HiddenUsersPath
	if registryPath == "" {
		registryPath = "hidden_users.json"
	}

	registry, err := hidden.Open(registryPath)
	if err != nil {
		return nil, err
	}

	return syncsvc.New(gdb, &cfg, registry), nil
}

// printRun renders a terminal ledger row for command output.
func printRun(r *models.SyncRun) {
	stats, _ := r.DecodeStats()

	fmt.Printf("run %d (%s): %s processed=%d created=%d updated=%d skipped=%d failed=%d\n",
		r.ID, r.Kind, r.Status,
		stats.Processed, stats.Created, stats.Updated, stats.Skipped, stats.Failed)
}
