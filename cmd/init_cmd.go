package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/staffctl/staffctl/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through prompts to create a staffctl configuration file at ~/.staffctl/staffctl.yaml.

Secrets may be entered as references: ${ENV:NAME}, ${VAULT:path#key} or ${AWS_SM:secret-id}.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Println("staffctl Configuration Setup")
		fmt.Println("============================")
		fmt.Println()

		fmt.Println("AWS")
		fmt.Println("---")
		region := prompt(reader, "Region", "eu-central-1")
		profile := prompt(reader, "Profile (leave empty for default credentials)", "")
		fmt.Println()

		fmt.Println("Status store")
		fmt.Println("------------")
		backend := prompt(reader, "Backend (dynamodb/postgres/mongodb/sqlite)", "dynamodb")
		storeCfg := config.StoreConfig{Backend: backend}
		switch backend {
		case "postgres":
			storeCfg.Postgres = config.PostgresConfig{
				Host:     prompt(reader, "Host", "localhost"),
				Database: prompt(reader, "Database name", "staffctl"),
				Username: prompt(reader, "Username", "staffctl"),
				Password: prompt(reader, "Password", "${ENV:STAFFCTL_DB_PASSWORD}"),
			}
		case "mongodb":
			storeCfg.MongoDB = config.MongoDBConfig{
				ConnectionString: prompt(reader, "Connection string", "mongodb://localhost:27017"),
				Database:         prompt(reader, "Database name", "staffctl"),
			}
		case "sqlite":
			storeCfg.SQLite = config.SQLiteConfig{Path: prompt(reader, "Database file", "~/.staffctl/staffctl.db")}
		}
		fmt.Println()

		fmt.Println("Instances")
		fmt.Println("---------")
		subnet := prompt(reader, "Subnet ID", "")
		securityGroup := prompt(reader, "Security group ID (optional)", "")
		fmt.Println()

		fmt.Println("Directory")
		fmt.Println("---------")
		directoryID := prompt(reader, "Directory ID", "")
		domain := prompt(reader, "Domain", "")
		ou := prompt(reader, "User OU (leave empty to skip account creation)", "")
		mgmt := prompt(reader, "Management instance ID", "")
		adminUPN := prompt(reader, "Admin UPN", "")
		adminPassword := prompt(reader, "Admin password", "${ENV:STAFFCTL_DIRECTORY_PASSWORD}")
		fmt.Println()

		fmt.Println("Delivery")
		fmt.Println("--------")
		bucket := prompt(reader, "RDP file bucket (optional)", "")
		topic := prompt(reader, "SNS topic ARN (optional)", "")
		fmt.Println()

		cfg := &config.Config{
			Version: config.CurrentVersion,
			AWS:     config.AWSConfig{Region: region, Profile: profile},
			Store:   storeCfg,
			Instance: config.InstanceConfig{
				SubnetID:        subnet,
				SecurityGroupID: securityGroup,
			},
			Directory: config.DirectoryConfig{
				DirectoryID:          directoryID,
				Domain:               domain,
				UserOU:               ou,
				ManagementInstanceID: mgmt,
				AdminUPN:             adminUPN,
				AdminPassword:        adminPassword,
			},
			Artifacts:     config.ArtifactConfig{Bucket: bucket},
			Notifications: config.NotificationConfig{TopicARN: topic},
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}

		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  staffctl config validate   Check the configuration")
		if backend == "postgres" {
			fmt.Println("  staffctl migrate up        Create the status tables")
		}
		fmt.Println("  staffctl run --employee-id <id> --email <email> --department <dept>")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
