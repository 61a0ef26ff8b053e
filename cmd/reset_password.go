package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/staffctl/staffctl/internal/credential"
	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/poll"
	"github.com/staffctl/staffctl/internal/remote"
)

var resetPassword string

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password <employee-id>",
	Short: "Reset the directory password of an employee",
	Long: `Set a new directory password for an onboarded employee and store it as the
employee's credential. Without --password the configured default password is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		id := args[0]
		rec, err := e.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("loading employee %s: %w", id, err)
		}

		password := resetPassword
		if password == "" {
			password = e.cfg.Directory.DefaultPassword
		}
		clock := poll.Real()
		dir := e.directoryOperations(remote.NewRunner(e.clients.Commands, clock, e.logger))

		username := credential.Username(rec.Email, id)
		if err := dir.ResetPassword(ctx, username, password); err != nil {
			return err
		}

		issuer := credential.NewIssuer(e.store, password, clock)
		if _, err := issuer.Issue(ctx, employee.Job{EmployeeID: id, Email: rec.Email}); err != nil {
			return fmt.Errorf("password reset but not stored: %w", err)
		}
		fmt.Printf("Password reset for %s (%s)\n", id, username)
		return nil
	},
}

func init() {
	resetPasswordCmd.Flags().StringVar(&resetPassword, "password", "", "new password (default: directory.default_password)")
	rootCmd.AddCommand(resetPasswordCmd)
}
