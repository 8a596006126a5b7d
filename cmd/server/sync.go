package main

import (
	"encoding/json"
	"fmt"

	"aigateway/internal/database"
	"aigateway/internal/repository"
	"aigateway/internal/router"
	"aigateway/internal/service"

	"github.com/spf13/cobra"
)

var syncCatalogCmd = &cobra.Command{
	Use:   "sync-catalog [provider]",
	Short: "Fetch upstream model catalogs once (all active providers, or one by id or name)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openDatabase(); err != nil {
			return err
		}
		defer database.Close()

		app, err := router.NewApp(cfg, database.GetDB())
		if err != nil {
			return err
		}

		if len(args) == 0 {
			results, err := app.CatalogSync.SyncAll(cmd.Context())
			printResults(cmd, results)
			return err
		}

		id, err := resolveProviderID(cmd, args[0])
		if err != nil {
			return err
		}
		result, err := app.CatalogSync.SyncProvider(cmd.Context(), id)
		printResults(cmd, []*service.SyncResult{result})
		return err
	},
}

func init() {
	rootCmd.AddCommand(syncCatalogCmd)
}

// resolveProviderID 参数既可以是 id 也可以是名称
func resolveProviderID(cmd *cobra.Command, ref string) (string, error) {
	repo := repository.NewProviderRepository()
	p, err := repo.GetByID(cmd.Context(), ref)
	if err != nil {
		return "", err
	}
	if p == nil {
		if p, err = repo.GetByName(cmd.Context(), ref); err != nil {
			return "", err
		}
	}
	if p == nil {
		return "", fmt.Errorf("%w: %s", service.ErrProviderNotFound, ref)
	}
	return p.ID, nil
}

func printResults(cmd *cobra.Command, results []*service.SyncResult) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)
}
