package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/workspaces"
	wstypes "github.com/aws/aws-sdk-go-v2/service/workspaces/types"
)

type workspacesAPI interface {
	TerminateWorkspaces(ctx context.Context, params *workspaces.TerminateWorkspacesInput, optFns ...func(*workspaces.Options)) (*workspaces.TerminateWorkspacesOutput, error)
}

// WorkspacesClient implements WorkspaceService.
type WorkspacesClient struct {
	client workspacesAPI
}

// NewWorkspacesClient creates a workspace client.
func NewWorkspacesClient(client workspacesAPI) *WorkspacesClient {
	return &WorkspacesClient{client: client}
}

// Terminate requests termination of one workspace. Per-workspace failures come
// back in the response body rather than as an error, so both are checked.
func (c *WorkspacesClient) Terminate(ctx context.Context, workspaceID string) error {
	out, err := c.client.TerminateWorkspaces(ctx, &workspaces.TerminateWorkspacesInput{
		TerminateWorkspaceRequests: []wstypes.TerminateRequest{{WorkspaceId: aws.String(workspaceID)}},
	})
	if err != nil {
		return fmt.Errorf("terminating workspace %s: %w", workspaceID, err)
	}
	if len(out.FailedRequests) > 0 {
		f := out.FailedRequests[0]
		return fmt.Errorf("terminating workspace %s: %s: %s",
			workspaceID, aws.ToString(f.ErrorCode), aws.ToString(f.ErrorMessage))
	}
	return nil
}
