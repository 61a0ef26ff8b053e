package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/tui"
)

var (
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <employee-id>",
	Short: "Show the stored status of an employee",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		id := args[0]
		if statusWatch {
			_, err := tea.NewProgram(tui.NewWatchModel(e.store, id, statusInterval)).Run()
			return err
		}

		rec, err := e.store.Get(ctx, id)
		if errors.Is(err, employee.ErrNotFound) {
			fmt.Printf("No record for employee %s\n", id)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Employee %s\n\n", rec.ID)
		fmt.Printf("  Status:     %s\n", rec.Status)
		printField("Name", rec.Name)
		printField("Email", rec.Email)
		printField("Department", rec.Department)
		printField("Instance", rec.InstanceID)
		printField("Workspace", rec.WorkspaceID)
		printField("RDP file", rec.ArtifactRef)
		printField("Error", rec.Error)
		if !rec.UpdatedAt.IsZero() {
			fmt.Printf("  Updated:    %s (%s)\n", rec.UpdatedAt.Format(time.RFC3339), humanize.Time(rec.UpdatedAt))
		}
		return nil
	},
}

func printField(label, value string) {
	if value != "" {
		fmt.Printf("  %-11s %s\n", label+":", value)
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "follow the record until it reaches a terminal status")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", tui.DefaultInterval, "poll interval for --watch")
	rootCmd.AddCommand(statusCmd)
}
