// Package orchestrator drives the onboarding and deletion workflows of one
// employee. A run is strictly sequential; the caller guarantees that no other
// run for the same employee is active.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/staffctl/staffctl/internal/artifact"
	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/bootstrap"
	"github.com/staffctl/staffctl/internal/config"
	"github.com/staffctl/staffctl/internal/credential"
	"github.com/staffctl/staffctl/internal/directory"
	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/failure"
	"github.com/staffctl/staffctl/internal/notify"
	"github.com/staffctl/staffctl/internal/poll"
	"github.com/staffctl/staffctl/internal/remote"
)

// Deps are the collaborators of a run. Workspaces, Artifacts and Notifier
// may be nil.
type Deps struct {
	Store       employee.Store
	Credentials employee.CredentialStore
	Instances   aws.InstanceProvisioner
	Images      aws.ImageResolver
	Identity    aws.IdentityService
	Runner      *remote.Runner
	Directory   *directory.Operations
	Workspaces  aws.WorkspaceService
	Artifacts   *artifact.Deliverer
	Notifier    *notify.Publisher
	Clock       poll.Clock
	Logger      *slog.Logger
}

// Settings are the static inputs of a run.
type Settings struct {
	Region    string
	AccountID string
	Instance  config.InstanceConfig
	Directory config.DirectoryConfig
	AgentWait time.Duration
	Software  bootstrap.Catalog
}

// SettingsFromConfig extracts run settings from a loaded config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Region:    cfg.AWS.Region,
		AccountID: cfg.AWS.AccountID,
		Instance:  cfg.Instance,
		Directory: cfg.Directory,
		AgentWait: cfg.Commands.AgentWait,
		Software:  bootstrap.FromConfig(cfg.Software),
	}
}

// Orchestrator runs employee workflows.
type Orchestrator struct {
	deps     Deps
	settings Settings
	issuer   *credential.Issuer
	logger   *slog.Logger
}

// New validates deps and creates an Orchestrator.
func New(deps Deps, settings Settings) (*Orchestrator, error) {
	var missing []error
	if deps.Store == nil {
		missing = append(missing, errors.New("status store"))
	}
	if deps.Credentials == nil {
		missing = append(missing, errors.New("credential store"))
	}
	if deps.Instances == nil {
		missing = append(missing, errors.New("instance provisioner"))
	}
	if deps.Identity == nil {
		missing = append(missing, errors.New("identity service"))
	}
	if deps.Runner == nil {
		missing = append(missing, errors.New("command runner"))
	}
	if deps.Directory == nil {
		missing = append(missing, errors.New("directory operations"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator dependencies missing: %w", errors.Join(missing...))
	}

	if deps.Clock == nil {
		deps.Clock = poll.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if settings.Software == nil {
		settings.Software = bootstrap.Default()
	}

	return &Orchestrator{
		deps:     deps,
		settings: settings,
		issuer:   credential.NewIssuer(deps.Credentials, settings.Directory.DefaultPassword, deps.Clock),
		logger:   deps.Logger,
	}, nil
}

// Result summarizes a finished run.
type Result struct {
	EmployeeID  string
	Action      employee.Action
	Status      employee.Status
	InstanceID  string
	ArtifactRef string
	// Warnings lists best-effort failures, in step order.
	Warnings []string
}

// Run validates job and dispatches it to its workflow.
func (o *Orchestrator) Run(ctx context.Context, job employee.Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	switch job.Action {
	case employee.ActionDelete:
		return o.Delete(ctx, job)
	default:
		return o.Onboard(ctx, job)
	}
}

type stepKind int

const (
	// failFast steps stop the run on error.
	failFast stepKind = iota
	// bestEffort steps record their error and let the run continue.
	bestEffort
)

func (k stepKind) String() string {
	if k == bestEffort {
		return "best-effort"
	}
	return "fail-fast"
}

type step struct {
	name string
	kind stepKind
	run  func(ctx context.Context) error
}

// stepError is a failed step.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// execute runs steps in order. The first fail-fast error stops the run and is
// returned; best-effort errors are collected and the run goes on.
func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, steps []step) (warnings []error, err error) {
	for i, s := range steps {
		stepLog := log.With("step", s.name, "index", i)
		start := o.deps.Clock.Now()
		stepLog.Debug("step started", "kind", s.kind)

		if stepErr := s.run(ctx); stepErr != nil {
			wrapped := &stepError{step: s.name, err: stepErr}
			if s.kind == failFast {
				stepLog.Error("step failed", "kind", s.kind, "error_kind", failure.KindOf(stepErr), "error", stepErr)
				return warnings, wrapped
			}
			stepLog.Warn("step failed, continuing", "kind", s.kind, "error", stepErr)
			warnings = append(warnings, wrapped)
			continue
		}
		stepLog.Info("step complete", "elapsed", o.deps.Clock.Now().Sub(start))
	}
	return warnings, nil
}

// outcomeTimeout bounds the writes and notifications that close a run.
const outcomeTimeout = 30 * time.Second

// settle returns the context used to record a run's outcome. It stays usable
// after ctx is cancelled so an interrupted run still reaches a final status.
func settle(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
}

// write applies u to the record, creating it first when absent. Every write
// stamps updatedAt.
func (o *Orchestrator) write(ctx context.Context, id string, u employee.Update) (*employee.Record, error) {
	u = u.WithUpdatedAt(o.deps.Clock.Now().UTC())

	rec, err := o.deps.Store.Update(ctx, id, u)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, employee.ErrNotFound) {
		return nil, failure.Wrap(failure.KindStore, "update "+id, err)
	}

	fresh := &employee.Record{ID: id}
	fresh.Apply(u)
	if err := o.deps.Store.Put(ctx, fresh); err != nil {
		return nil, failure.Wrap(failure.KindStore, "create "+id, err)
	}
	return fresh, nil
}
