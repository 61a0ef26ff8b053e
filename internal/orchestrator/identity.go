package orchestrator

import (
	"encoding/json"
	"fmt"
)

const (
	directoryPolicyName = "allow-directory-service"
	roleDescription     = "Instance role for employee %s"
	profileIDLength     = 8
)

// RoleName is the per-employee instance role.
func RoleName(employeeID string) string {
	return "employee-" + employeeID
}

// ProfileName is the per-employee instance profile. Only the first eight
// characters of the id are used to stay within name limits.
func ProfileName(prefix, employeeID string) string {
	short := employeeID
	if len(short) > profileIDLength {
		short = short[:profileIDLength]
	}
	return prefix + "-" + short
}

// DirectoryARN is the ARN of a managed directory.
func DirectoryARN(region, accountID, directoryID string) string {
	return fmt.Sprintf("arn:aws:ds:%s:%s:directory/%s", region, accountID, directoryID)
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal,omitempty"`
	Action    any               `json:"Action"`
	Resource  string            `json:"Resource,omitempty"`
}

func trustPolicy() string {
	return mustJSON(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"Service": "ec2.amazonaws.com"},
			Action:    "sts:AssumeRole",
		}},
	})
}

// directoryPolicy allows joining computers to exactly one directory.
func directoryPolicy(directoryARN string) string {
	return mustJSON(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:   "Allow",
			Action:   []string{"ds:CreateComputer", "ds:DescribeDirectories"},
			Resource: directoryARN,
		}},
	})
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
