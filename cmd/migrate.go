package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/staffctl/staffctl/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Manage the PostgreSQL status store schema",
	Long:      `Apply (up), roll back (down) or report (version) the embedded schema migrations of the postgres store backend.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "up"
		if len(args) > 0 {
			action = args[0]
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Backend != "postgres" {
			return fmt.Errorf("migrations apply to the postgres backend; store.backend is %q", cfg.Store.Backend)
		}

		st, err := store.Migrate(cfg.Store.Postgres.DSN(), action)
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", action, err)
		}
		if !st.Applied {
			fmt.Println("No migration applied")
			return nil
		}
		fmt.Printf("version=%d dirty=%t\n", st.Version, st.Dirty)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
