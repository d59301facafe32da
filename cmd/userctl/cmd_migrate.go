package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"UserManagementServer/internal/store/postgres"
)

var migrateList bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Apply every embedded schema migration that has not been recorded yet.

Examples:
  userctl migrate
  userctl migrate --list`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "List embedded migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if migrateList {
		migrations, err := postgres.Migrations()
		if err != nil {
			return err
		}
		for _, m := range migrations {
			fmt.Fprintln(out, m.Version)
		}
		return nil
	}

	ctx := cmd.Context()
	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := postgres.Migrate(ctx, pool)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "schema up to date")
		return nil
	}
	for _, v := range applied {
		fmt.Fprintf(out, "applied %s\n", v)
	}
	return nil
}
