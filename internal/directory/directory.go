// Package directory manages domain membership and directory accounts through
// remote commands on the new instance and on the management host.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/config"
	"github.com/staffctl/staffctl/internal/failure"
	"github.com/staffctl/staffctl/internal/remote"
)

const defaultGroupDepartment = "General"

// Account is a directory user together with its department group.
type Account struct {
	EmployeeID string
	Username   string
	Password   string
	Name       string
	Email      string
	Department string
}

// Policies bounds the command waits of directory operations.
type Policies struct {
	Accounts remote.Policy // join and account scripts
	Access   remote.Policy // local group changes on the instance
}

// DefaultPolicies returns 30 attempts at 10s for account work and 30 at 5s
// for access grants.
func DefaultPolicies() Policies {
	return Policies{
		Accounts: remote.Policy{Interval: 10 * time.Second, Attempts: 30},
		Access:   remote.Policy{Interval: 5 * time.Second, Attempts: 30},
	}
}

// Operations runs directory work against one managed directory.
type Operations struct {
	runner      *remote.Runner
	directories aws.DirectoryService
	cfg         config.DirectoryConfig
	policies    Policies
	logger      *slog.Logger
}

// New creates directory operations.
func New(runner *remote.Runner, directories aws.DirectoryService, cfg config.DirectoryConfig, policies Policies, logger *slog.Logger) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{
		runner:      runner,
		directories: directories,
		cfg:         cfg,
		policies:    policies,
		logger:      logger,
	}
}

// AccountsEnabled reports whether account scripts can run on a management host.
func (o *Operations) AccountsEnabled() bool {
	return o.cfg.AccountsEnabled()
}

// JoinDomain joins instanceID to the directory. The directory description
// supplies the DNS servers; its name falls back to the configured domain.
func (o *Operations) JoinDomain(ctx context.Context, instanceID string) error {
	name := o.cfg.Domain
	var dns []string

	dir, err := o.directories.DescribeDirectory(ctx, o.cfg.DirectoryID)
	switch {
	case err != nil:
		o.logger.Warn("describing directory failed, joining with configured domain",
			"directory_id", o.cfg.DirectoryID, "error", err)
	default:
		if dir.Name != "" {
			if name != "" && !strings.EqualFold(dir.Name, name) {
				o.logger.Warn("directory name differs from configured domain",
					"directory_name", dir.Name, "domain", name)
			}
			name = dir.Name
		}
		dns = dir.DNSAddresses
	}
	if name == "" {
		return failure.Configuration("join domain", "no domain name configured or described")
	}

	params := map[string][]string{
		"directoryId":   {o.cfg.DirectoryID},
		"directoryName": {name},
	}
	if len(dns) > 0 {
		params["dnsIpAddresses"] = dns
	}
	cmd := aws.Command{
		Document:   aws.DocumentJoinDirectory,
		Parameters: params,
		Comment:    "join " + name,
	}

	o.logger.Info("joining domain", "instance_id", instanceID, "domain", name)
	_, err = o.runner.Run(ctx, instanceID, cmd, o.policies.Accounts)
	return err
}

// UpsertAccount creates the account or resets and re-enables an existing one,
// then adds it to its department group, creating the group when missing.
func (o *Operations) UpsertAccount(ctx context.Context, acct Account) error {
	data := o.accountData(acct)
	data.DisplayName = acct.Name
	if data.DisplayName == "" {
		data.DisplayName = acct.Username
	}
	data.Group = GroupName(acct.Department)
	return o.manage(ctx, upsertAccountScript, data, "upsert account "+acct.Username)
}

// EnsureMembership makes sure the account exists and belongs to the
// upper-cased department group.
func (o *Operations) EnsureMembership(ctx context.Context, acct Account) error {
	data := o.accountData(acct)
	data.DisplayName = fmt.Sprintf("Employee %s (%s)", acct.EmployeeID, acct.Username)
	data.Group = RoleGroupName(acct.Department)
	return o.manage(ctx, membershipScript, data, "ensure membership "+acct.Username)
}

// ResetPassword sets a new password and clears the change-at-logon flag.
func (o *Operations) ResetPassword(ctx context.Context, username, password string) error {
	data := o.adminData()
	data.Username = username
	data.Password = password
	return o.manage(ctx, resetPasswordScript, data, "reset password "+username)
}

// DeleteAccount removes the account. A missing account is not an error.
func (o *Operations) DeleteAccount(ctx context.Context, username string) error {
	data := o.adminData()
	data.Username = username
	return o.manage(ctx, deleteAccountScript, data, "delete account "+username)
}

// GrantRemoteAccess adds the domain user to the instance's Remote Desktop
// Users group. Administrators membership is attempted but not required.
func (o *Operations) GrantRemoteAccess(ctx context.Context, instanceID, username string) error {
	member := username
	if o.cfg.NetBIOS != "" {
		member = o.cfg.NetBIOS + `\` + username
	}
	script, err := render(grantAccessScript, scriptData{Member: member})
	if err != nil {
		return fmt.Errorf("rendering access script: %w", err)
	}

	o.logger.Info("granting remote access", "instance_id", instanceID, "member", member)
	_, err = o.runner.Run(ctx, instanceID, aws.PowerShell(script, "grant access "+username), o.policies.Access)
	return err
}

func (o *Operations) manage(ctx context.Context, t *template.Template, data scriptData, op string) error {
	if o.cfg.ManagementInstanceID == "" {
		return failure.Configuration(op, "no management instance configured")
	}
	if o.cfg.AdminUPN == "" || o.cfg.AdminPassword == "" {
		return failure.Configuration(op, "directory admin credentials are not configured")
	}

	script, err := render(t, data)
	if err != nil {
		return fmt.Errorf("rendering %s script: %w", t.Name(), err)
	}

	o.logger.Info("running directory script", "op", op, "instance_id", o.cfg.ManagementInstanceID)
	_, err = o.runner.Run(ctx, o.cfg.ManagementInstanceID, aws.PowerShell(script, op), o.policies.Accounts)
	return err
}

func (o *Operations) adminData() scriptData {
	return scriptData{
		Server:        o.cfg.ServerName(),
		AdminUPN:      o.cfg.AdminUPN,
		AdminPassword: o.cfg.AdminPassword,
	}
}

func (o *Operations) accountData(acct Account) scriptData {
	data := o.adminData()
	data.Username = acct.Username
	data.Password = acct.Password
	data.UPN = acct.Username + "@" + o.cfg.Domain
	data.Email = acct.Email
	data.Department = acct.Department
	data.OU = o.cfg.UserOU
	return data
}

// GroupName is the RBAC group created for a department: spaces become
// underscores and an empty department maps to General.
func GroupName(department string) string {
	d := strings.TrimSpace(department)
	if d == "" {
		d = defaultGroupDepartment
	}
	return "Dept-" + strings.ReplaceAll(d, " ", "_")
}

// RoleGroupName is the upper-cased department group used for access checks.
func RoleGroupName(department string) string {
	d := strings.TrimSpace(department)
	if d == "" {
		d = defaultGroupDepartment
	}
	return "Dept-" + strings.ToUpper(d)
}
