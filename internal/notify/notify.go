// Package notify publishes operator notifications. Publishing is best effort:
// failures are logged and never returned.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/staffctl/staffctl/internal/aws"
)

const (
	SubjectOnboarded       = "New employee provisioned"
	SubjectDeleted         = "Employee delete complete"
	SubjectDeletedWarnings = "Employee delete completed with warnings"
)

// Message is one notification.
type Message struct {
	Subject string
	Body    string
}

// Publisher sends messages through a Notifier.
type Publisher struct {
	notifier aws.Notifier
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. A nil notifier turns Publish into a no-op.
func NewPublisher(notifier aws.Notifier, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{notifier: notifier, logger: logger}
}

// Publish sends msg. It reports whether the message went out.
func (p *Publisher) Publish(ctx context.Context, msg Message) bool {
	if p == nil || p.notifier == nil {
		return false
	}
	if err := p.notifier.Publish(ctx, msg.Subject, msg.Body); err != nil {
		p.logger.Warn("publishing notification failed", "subject", msg.Subject, "error", err)
		return false
	}
	p.logger.Info("notification sent", "subject", msg.Subject)
	return true
}

// Onboarding holds the connection details announced for a new employee.
type Onboarding struct {
	EmployeeID  string
	InstanceID  string
	ArtifactRef string
	Username    string
	Password    string
	Domain      string
}

// Onboarded builds the message announcing a provisioned employee.
func Onboarded(o Onboarding) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "New instance created for %s\n", o.Username)
	fmt.Fprintf(&b, "EmployeeId: %s\n", o.EmployeeID)
	fmt.Fprintf(&b, "InstanceId: %s\n", o.InstanceID)
	fmt.Fprintf(&b, "RDP file: %s\n", o.ArtifactRef)
	fmt.Fprintf(&b, "Username: %s\n", o.Username)
	fmt.Fprintf(&b, "Password: %s\n", o.Password)
	fmt.Fprintf(&b, "Domain: %s\n", o.Domain)
	return Message{Subject: SubjectOnboarded, Body: b.String()}
}

// Removal describes a finished deletion.
type Removal struct {
	EmployeeID  string
	Email       string
	Department  string
	WorkspaceID string
	Errors      []string
}

// Deleted builds the deletion message. Any errors switch it to the warnings
// subject and are listed one per line.
func Deleted(r Removal) Message {
	workspace := r.WorkspaceID
	if workspace == "" {
		workspace = "n/a"
	}
	lines := []string{
		"Employee removed:",
		"- EmployeeId: " + r.EmployeeID,
		"- Email: " + r.Email,
		"- Department: " + r.Department,
		"- WorkspaceId: " + workspace,
	}
	subject := SubjectDeleted
	if len(r.Errors) > 0 {
		subject = SubjectDeletedWarnings
		lines = append(lines, "", "Some resources could not be removed:")
		for _, e := range r.Errors {
			lines = append(lines, "- "+e)
		}
	}
	return Message{Subject: subject, Body: strings.Join(lines, "\n")}
}
