package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
)

type iamAPI interface {
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	CreateInstanceProfile(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error)
	GetInstanceProfile(ctx context.Context, params *iam.GetInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error)
	AddRoleToInstanceProfile(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error)
	RemoveRoleFromInstanceProfile(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error)
	DeleteInstanceProfile(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	ListRolePolicies(ctx context.Context, params *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// IAMService implements IdentityService using IAM.
type IAMService struct {
	client iamAPI
}

// NewIAMService creates an identity service around an IAM client.
func NewIAMService(client iamAPI) *IAMService {
	return &IAMService{client: client}
}

// EnsureRole creates the role unless it exists and returns its ARN.
func (s *IAMService) EnsureRole(ctx context.Context, name, trustPolicy, description string) (string, error) {
	out, err := s.client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(trustPolicy),
		Description:              aws.String(description),
	})
	if err == nil {
		return aws.ToString(out.Role.Arn), nil
	}
	if !isEntityExists(err) {
		return "", fmt.Errorf("creating role %s: %w", name, err)
	}

	existing, err := s.client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("reading role %s: %w", name, err)
	}
	return aws.ToString(existing.Role.Arn), nil
}

// AttachPolicy attaches a managed policy. Attaching twice is a no-op.
func (s *IAMService) AttachPolicy(ctx context.Context, role, policyARN string) error {
	_, err := s.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(role),
		PolicyArn: aws.String(policyARN),
	})
	if err != nil {
		return fmt.Errorf("attaching %s to %s: %w", policyARN, role, err)
	}
	return nil
}

// PutInlinePolicy creates or replaces an inline policy.
func (s *IAMService) PutInlinePolicy(ctx context.Context, role, name, document string) error {
	_, err := s.client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(role),
		PolicyName:     aws.String(name),
		PolicyDocument: aws.String(document),
	})
	if err != nil {
		return fmt.Errorf("putting inline policy %s on %s: %w", name, role, err)
	}
	return nil
}

// EnsureInstanceProfile creates the profile unless it exists and returns its ARN.
func (s *IAMService) EnsureInstanceProfile(ctx context.Context, name string) (string, error) {
	out, err := s.client.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: aws.String(name),
	})
	if err == nil {
		return aws.ToString(out.InstanceProfile.Arn), nil
	}
	if !isEntityExists(err) {
		return "", fmt.Errorf("creating instance profile %s: %w", name, err)
	}

	existing, err := s.client.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("reading instance profile %s: %w", name, err)
	}
	return aws.ToString(existing.InstanceProfile.Arn), nil
}

// AddRoleToProfile adds role to profile. A profile holds a single role, so
// a full profile (LimitExceeded) is treated as already done.
func (s *IAMService) AddRoleToProfile(ctx context.Context, profile, role string) error {
	_, err := s.client.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: aws.String(profile),
		RoleName:            aws.String(role),
	})
	if err == nil || isEntityExists(err) || isLimitExceeded(err) {
		return nil
	}
	return fmt.Errorf("adding role %s to profile %s: %w", role, profile, err)
}

// ProfileRoles lists the roles in a profile. A missing profile has none.
func (s *IAMService) ProfileRoles(ctx context.Context, profile string) ([]string, error) {
	out, err := s.client.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: aws.String(profile),
	})
	if err != nil {
		if isNoSuchEntity(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading instance profile %s: %w", profile, err)
	}

	roles := make([]string, 0, len(out.InstanceProfile.Roles))
	for _, r := range out.InstanceProfile.Roles {
		roles = append(roles, aws.ToString(r.RoleName))
	}
	return roles, nil
}

func (s *IAMService) RemoveRoleFromProfile(ctx context.Context, profile, role string) error {
	_, err := s.client.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
		InstanceProfileName: aws.String(profile),
		RoleName:            aws.String(role),
	})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("removing role %s from profile %s: %w", role, profile, err)
	}
	return nil
}

func (s *IAMService) DeleteInstanceProfile(ctx context.Context, profile string) error {
	_, err := s.client.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: aws.String(profile),
	})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("deleting instance profile %s: %w", profile, err)
	}
	return nil
}

// AttachedPolicies lists the ARNs of managed policies attached to role.
func (s *IAMService) AttachedPolicies(ctx context.Context, role string) ([]string, error) {
	paginator := iam.NewListAttachedRolePoliciesPaginator(s.client, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(role),
	})

	var arns []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNoSuchEntity(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("listing policies attached to %s: %w", role, err)
		}
		for _, p := range page.AttachedPolicies {
			arns = append(arns, aws.ToString(p.PolicyArn))
		}
	}
	return arns, nil
}

func (s *IAMService) DetachPolicy(ctx context.Context, role, policyARN string) error {
	_, err := s.client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(role),
		PolicyArn: aws.String(policyARN),
	})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("detaching %s from %s: %w", policyARN, role, err)
	}
	return nil
}

// InlinePolicies lists the inline policy names of role.
func (s *IAMService) InlinePolicies(ctx context.Context, role string) ([]string, error) {
	paginator := iam.NewListRolePoliciesPaginator(s.client, &iam.ListRolePoliciesInput{
		RoleName: aws.String(role),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNoSuchEntity(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("listing inline policies of %s: %w", role, err)
		}
		names = append(names, page.PolicyNames...)
	}
	return names, nil
}

func (s *IAMService) DeleteInlinePolicy(ctx context.Context, role, name string) error {
	_, err := s.client.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(role),
		PolicyName: aws.String(name),
	})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("deleting inline policy %s of %s: %w", name, role, err)
	}
	return nil
}

func (s *IAMService) DeleteRole(ctx context.Context, role string) error {
	_, err := s.client.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(role)})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("deleting role %s: %w", role, err)
	}
	return nil
}

func isEntityExists(err error) bool {
	var e *iamtypes.EntityAlreadyExistsException
	return errors.As(err, &e)
}

func isNoSuchEntity(err error) bool {
	var e *iamtypes.NoSuchEntityException
	return errors.As(err, &e)
}

func isLimitExceeded(err error) bool {
	var e *iamtypes.LimitExceededException
	return errors.As(err, &e)
}
