package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/lock"
	"github.com/staffctl/staffctl/internal/orchestrator"
)

var (
	runEventFile string
	runLock      bool
	runLockDir   string
	runJob       employee.Job
	runAction    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one onboarding or deletion job",
	Long: `Run one job for one employee. The job comes from --event (a dispatcher
event, with or without the EventBridge envelope) or from flags, which default
to the EMPLOYEE_ID, ACTION, NAME, EMAIL, DEPARTMENT and WORKSPACE_ID
environment variables.

The command exits non-zero when onboarding fails or the job is invalid.
A deletion that left resources behind exits zero; its record is DELETE_FAILED.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := jobFromInput()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close(context.Background())

		if runLock {
			l, err := lock.Acquire(runLockDir, job.EmployeeID)
			if err != nil {
				return err
			}
			defer l.Release()
		}

		o, err := e.orchestrator(ctx)
		if err != nil {
			return err
		}

		res, err := o.Run(ctx, job)
		if res != nil {
			printResult(res)
		}
		return err
	},
}

// jobFromInput builds the job from the event file or from flags.
func jobFromInput() (employee.Job, error) {
	if runEventFile != "" {
		data, err := os.ReadFile(runEventFile)
		if err != nil {
			return employee.Job{}, fmt.Errorf("reading event: %w", err)
		}
		return employee.ParseEvent(data)
	}

	job := runJob
	job.Action = employee.Action(runAction)
	if err := job.Validate(); err != nil {
		if errors.Is(err, employee.ErrInvalidJob) && job.EmployeeID == "" {
			return employee.Job{}, fmt.Errorf("%w (set --employee-id or EMPLOYEE_ID)", err)
		}
		return employee.Job{}, err
	}
	return job, nil
}

func printResult(res *orchestrator.Result) {
	fmt.Printf("Employee %s: %s %s\n", res.EmployeeID, res.Action, res.Status)
	if res.InstanceID != "" {
		fmt.Printf("  Instance: %s\n", res.InstanceID)
	}
	if res.ArtifactRef != "" {
		fmt.Printf("  RDP file: %s\n", res.ArtifactRef)
	}
	if len(res.Warnings) > 0 {
		fmt.Println("  Warnings:")
		for _, w := range res.Warnings {
			fmt.Printf("    - %s\n", w)
		}
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runEventFile, "event", "", "dispatcher event JSON file")
	f.StringVar(&runJob.EmployeeID, "employee-id", os.Getenv("EMPLOYEE_ID"), "employee id")
	f.StringVar(&runAction, "action", os.Getenv("ACTION"), "onboard (default) or delete")
	f.StringVar(&runJob.Name, "name", os.Getenv("NAME"), "display name")
	f.StringVar(&runJob.Email, "email", os.Getenv("EMAIL"), "email; its local part becomes the username")
	f.StringVar(&runJob.Department, "department", os.Getenv("DEPARTMENT"), "department, selects software and group")
	f.StringVar(&runJob.WorkspaceID, "workspace-id", os.Getenv("WORKSPACE_ID"), "legacy workspace to record or remove")
	f.BoolVar(&runLock, "lock", false, "hold a per-employee lock file while the job runs")
	f.StringVar(&runLockDir, "lock-dir", "", "lock directory (default: ~/.staffctl/locks)")
	rootCmd.AddCommand(runCmd)
}
