package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/staffctl/staffctl/internal/bootstrap"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and validate the staffctl configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  AWS:\n")
		fmt.Printf("    Region:         %s\n", cfg.AWS.Region)
		fmt.Printf("    Profile:        %s\n", cfg.AWS.Profile)
		fmt.Printf("    Account:        %s\n", cfg.AWS.AccountID)
		fmt.Println()
		fmt.Printf("  Store:\n")
		fmt.Printf("    Backend:        %s\n", cfg.Store.Backend)
		switch cfg.Store.Backend {
		case "dynamodb":
			fmt.Printf("    Table:          %s\n", cfg.Store.DynamoDB.Table)
			fmt.Printf("    Password table: %s\n", cfg.Store.DynamoDB.PasswordTable)
		case "postgres":
			fmt.Printf("    Host:           %s:%d/%s\n", cfg.Store.Postgres.Host, cfg.Store.Postgres.Port, cfg.Store.Postgres.Database)
			fmt.Printf("    Password:       %s\n", maskSecret(cfg.Store.Postgres.Password))
		case "mongodb":
			fmt.Printf("    Connection:     %s\n", maskSecret(cfg.Store.MongoDB.ConnectionString))
			fmt.Printf("    Database:       %s\n", cfg.Store.MongoDB.Database)
		case "sqlite":
			fmt.Printf("    Path:           %s\n", cfg.Store.SQLite.Path)
		}
		fmt.Println()
		fmt.Printf("  Instance:\n")
		fmt.Printf("    Type:           %s\n", cfg.Instance.Type)
		fmt.Printf("    Image:          %s%s\n", cfg.Instance.ImageID, cfg.Instance.ImageParameter)
		fmt.Printf("    Subnet:         %s\n", cfg.Instance.SubnetID)
		fmt.Println()
		fmt.Printf("  Directory:\n")
		fmt.Printf("    Domain:         %s (%s)\n", cfg.Directory.Domain, cfg.Directory.DirectoryID)
		fmt.Printf("    Admin:          %s\n", cfg.Directory.AdminUPN)
		fmt.Printf("    Admin password: %s\n", maskSecret(cfg.Directory.AdminPassword))
		fmt.Printf("    Accounts:       %t\n", cfg.Directory.AccountsEnabled())
		fmt.Println()
		fmt.Printf("  Software:         %s\n", strings.Join(bootstrap.FromConfig(cfg.Software).Departments(), ", "))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Println("Validation errors:")
			for _, line := range strings.Split(err.Error(), "\n") {
				fmt.Printf("  - %s\n", line)
			}
			return fmt.Errorf("config invalid")
		}

		fmt.Println("Configuration is valid.")
		if !cfg.Directory.AccountsEnabled() {
			fmt.Println("Note: directory.management_instance_id, user_ou or domain is unset; account creation will be skipped.")
		}
		return nil
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
