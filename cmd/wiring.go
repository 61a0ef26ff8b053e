package cmd

import (
	"context"
	"fmt"
	"log/slog"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/staffctl/staffctl/internal/artifact"
	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/config"
	"github.com/staffctl/staffctl/internal/directory"
	"github.com/staffctl/staffctl/internal/notify"
	"github.com/staffctl/staffctl/internal/orchestrator"
	"github.com/staffctl/staffctl/internal/poll"
	"github.com/staffctl/staffctl/internal/remote"
	"github.com/staffctl/staffctl/internal/store"
)

// env is what a command needs to talk to AWS and the status store.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	clients *aws.Clients
	store   store.Backend
}

// openEnv loads config, logging, AWS clients and the status store.
// withAWS=false skips the AWS clients unless the store itself is DynamoDB.
func openEnv(ctx context.Context, withAWS bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger}
	if withAWS || cfg.Store.Backend == "dynamodb" {
		e.clients, err = aws.NewClients(ctx, cfg.AWS.Profile, cfg.AWS.Region, logger)
		if err != nil {
			return nil, err
		}
	}

	var awsCfg *awssdk.Config
	if e.clients != nil {
		awsCfg = &e.clients.Config
	}
	e.store, err = store.Open(ctx, cfg.Store, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("opening status store: %w", err)
	}
	return e, nil
}

func (e *env) Close(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.Close(ctx); err != nil {
		e.logger.Warn("closing status store failed", "error", err)
	}
}

// accountID returns the configured account or asks STS for it.
func (e *env) accountID(ctx context.Context) (string, error) {
	if e.cfg.AWS.AccountID != "" {
		return e.cfg.AWS.AccountID, nil
	}
	id, err := e.clients.VerifyCredentials(ctx)
	if err != nil {
		return "", err
	}
	e.logger.Debug("resolved account id", "account_id", id.Account, "arn", id.ARN)
	return id.Account, nil
}

func commandPolicies(cfg config.CommandConfig) directory.Policies {
	return directory.Policies{
		Accounts: remote.Policy{Interval: cfg.PollInterval, Attempts: cfg.MaxAttempts},
		Access:   remote.Policy{Interval: cfg.AccessInterval, Attempts: cfg.MaxAttempts},
	}
}

func (e *env) directoryOperations(runner *remote.Runner) *directory.Operations {
	return directory.New(runner, e.clients.Directories, e.cfg.Directory, commandPolicies(e.cfg.Commands), e.logger)
}

// orchestrator wires every collaborator of a run. Optional collaborators are
// left as nil interfaces when unconfigured.
func (e *env) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	settings := orchestrator.SettingsFromConfig(e.cfg)
	account, err := e.accountID(ctx)
	if err != nil {
		return nil, err
	}
	settings.AccountID = account

	clock := poll.Real()
	runner := remote.NewRunner(e.clients.Commands, clock, e.logger)

	var artifactStore aws.ArtifactStore
	if e.cfg.Artifacts.Bucket != "" {
		artifactStore = e.clients.Artifacts(e.cfg.Artifacts.Bucket)
	}
	var notifier aws.Notifier
	if e.cfg.Notifications.TopicARN != "" {
		notifier = e.clients.Notifier(e.cfg.Notifications.TopicARN)
	}

	return orchestrator.New(orchestrator.Deps{
		Store:       e.store,
		Credentials: e.store,
		Instances:   e.clients.Instances,
		Images:      e.clients.Commands,
		Identity:    e.clients.Identity,
		Runner:      runner,
		Directory:   e.directoryOperations(runner),
		Workspaces:  e.clients.Workspaces,
		Artifacts:   artifact.NewDeliverer(artifactStore, e.cfg.Artifacts.Prefix, e.cfg.Artifacts.LinkTTL, e.cfg.Artifacts.LocalDir, e.logger),
		Notifier:    notify.NewPublisher(notifier, e.logger),
		Clock:       clock,
		Logger:      e.logger,
	}, settings)
}
