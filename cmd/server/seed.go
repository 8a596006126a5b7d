package main

import (
	"fmt"

	"aigateway/internal/crypto"
	"aigateway/internal/database"
	"aigateway/internal/seed"

	"github.com/spf13/cobra"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load providers, variants, groups, users and keys from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := seed.Load(seedFile)
		if err != nil {
			return err
		}
		if err := openDatabase(); err != nil {
			return err
		}
		defer database.Close()

		key, err := crypto.DeriveKey(cfg.EncryptionSecret)
		if err != nil {
			return err
		}
		res, err := seed.NewSeeder(database.GetDB(), key).Apply(cmd.Context(), f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "providers created: %d\nvariants upserted: %d\ngroups created: %d\nusers created: %d\n",
			res.Providers, res.Variants, res.Groups, res.Users)
		for _, k := range res.Keys {
			fmt.Fprintf(out, "key %s/%s: %s\n", k.User, k.Group, k.APIKey)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "catalog.yaml", "seed YAML file")
}
