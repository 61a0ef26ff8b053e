package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/directoryservice"
)

type directoryAPI interface {
	DescribeDirectories(ctx context.Context, params *directoryservice.DescribeDirectoriesInput, optFns ...func(*directoryservice.Options)) (*directoryservice.DescribeDirectoriesOutput, error)
}

// DirectoryClient implements DirectoryService using Directory Service.
type DirectoryClient struct {
	client directoryAPI
}

// NewDirectoryClient creates a directory client.
func NewDirectoryClient(client directoryAPI) *DirectoryClient {
	return &DirectoryClient{client: client}
}

// DescribeDirectory returns the join parameters of one directory.
func (c *DirectoryClient) DescribeDirectory(ctx context.Context, directoryID string) (*Directory, error) {
	out, err := c.client.DescribeDirectories(ctx, &directoryservice.DescribeDirectoriesInput{
		DirectoryIds: []string{directoryID},
	})
	if err != nil {
		return nil, fmt.Errorf("describing directory %s: %w", directoryID, err)
	}
	if len(out.DirectoryDescriptions) == 0 {
		return nil, fmt.Errorf("directory %s not found", directoryID)
	}

	d := out.DirectoryDescriptions[0]
	return &Directory{
		ID:           directoryID,
		Name:         aws.ToString(d.Name),
		ShortName:    aws.ToString(d.ShortName),
		DNSAddresses: d.DnsIpAddrs,
	}, nil
}
