// Package remote runs commands on managed hosts and waits for their outcome.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/failure"
	"github.com/staffctl/staffctl/internal/poll"
)

const (
	agentPollInterval = 10 * time.Second
	minAgentWait      = time.Minute
)

// Output fragments emitted by directory cmdlets when the bind credentials are
// refused. The command itself still reports success.
var rejectionMarkers = []string{
	"AuthenticationException",
	"rejected the client credentials",
}

// Policy bounds one command wait.
type Policy struct {
	Interval time.Duration
	Attempts int
}

// Runner sends commands and polls them to a terminal state.
type Runner struct {
	channel aws.CommandChannel
	clock   poll.Clock
	logger  *slog.Logger
}

// NewRunner creates a Runner. A nil clock means the wall clock.
func NewRunner(channel aws.CommandChannel, clock poll.Clock, logger *slog.Logger) *Runner {
	if clock == nil {
		clock = poll.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{channel: channel, clock: clock, logger: logger}
}

// Run sends cmd to target and waits for it to finish. It fails with
// RemoteExecution on a non-success terminal status, RejectedCredentials when a
// successful command printed an authentication rejection, and Timeout when no
// terminal status arrived within the policy.
func (r *Runner) Run(ctx context.Context, target string, cmd aws.Command, policy Policy) (*aws.Invocation, error) {
	op := describe(cmd)
	ref, err := r.channel.Send(ctx, target, cmd)
	if err != nil {
		return nil, failure.Wrap(failure.KindRemoteExecution, op, err)
	}

	log := r.logger.With("command_id", ref.CommandID, "target", target, "document", cmd.Document)
	log.Debug("command sent")

	var last *aws.Invocation
	p := poll.Poller{Interval: policy.Interval, Attempts: policy.Attempts, Clock: r.clock}
	err = p.Until(ctx, op, func(ctx context.Context) (bool, error) {
		inv, err := r.channel.Poll(ctx, ref)
		if err != nil {
			log.Warn("polling command failed, retrying", "error", err)
			return false, nil
		}
		last = inv
		return inv.Status.Terminal(), nil
	})
	if err != nil {
		if failure.IsKind(err, failure.KindTimeout) && last != nil {
			log.Warn("command did not finish", "last_status", last.Status)
		}
		return last, err
	}

	out := Combined(last)
	if last.Status != aws.InvocationSuccess {
		msg := out
		if msg == "" {
			msg = last.Details
		}
		if msg == "" {
			msg = "unknown error"
		}
		return last, &failure.Error{
			Kind:    failure.KindRemoteExecution,
			Op:      op,
			Message: fmt.Sprintf("%s: %s", last.Status, msg),
			Output:  out,
		}
	}
	if RejectedCredentials(out) {
		return last, &failure.Error{
			Kind:    failure.KindRejectedCredentials,
			Op:      op,
			Message: "directory rejected the admin credentials",
			Output:  out,
		}
	}

	log.Debug("command succeeded")
	return last, nil
}

// WaitForAgent waits until the instance's agent is online or wait has passed.
// Waits shorter than a minute are raised to one minute.
func (r *Runner) WaitForAgent(ctx context.Context, instanceID string, wait time.Duration) error {
	if wait < minAgentWait {
		wait = minAgentWait
	}
	log := r.logger.With("instance_id", instanceID)

	p := poll.Poller{Interval: agentPollInterval, Timeout: wait, Clock: r.clock}
	return p.Until(ctx, "wait for agent on "+instanceID, func(ctx context.Context) (bool, error) {
		online, err := r.channel.AgentOnline(ctx, instanceID)
		if err != nil {
			log.Warn("checking agent failed, retrying", "error", err)
			return false, nil
		}
		if !online {
			log.Debug("agent not online yet")
		}
		return online, nil
	})
}

// Combined joins stdout and stderr of an invocation.
func Combined(inv *aws.Invocation) string {
	if inv == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(inv.Stdout) + "\n" + strings.TrimSpace(inv.Stderr))
}

// RejectedCredentials reports whether output contains an authentication rejection.
func RejectedCredentials(output string) bool {
	for _, m := range rejectionMarkers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

func describe(cmd aws.Command) string {
	if cmd.Comment != "" {
		return cmd.Comment
	}
	return cmd.Document
}
