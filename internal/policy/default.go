package policy

import "github.com/verdictstack/verdict-engine/internal/models"

// DefaultDefinition returns the policy pack compiled into the binary. It
// mirrors configs/policy/default.yaml and serves as the fallback when no
// pack path is configured.
func DefaultDefinition() Definition {
	return Definition{
		Version: "v1.0.0",
		Rules: []models.PolicyRule{
			{
				ErrorClass:    "ACM_DNS_VALIDATION_PENDING",
				Service:       "acm",
				Patterns:      []string{"dns validation", "pending validation", "pending_validation"},
				RawConfidence: 0.90,
				Tokens:        []string{"acm", "dns", "validation"},
			},
			{
				ErrorClass:    "IAM_PERMISSION_DENIED",
				Service:       "iam",
				Patterns:      []string{"is not authorized to perform", "accessdenied", "access denied"},
				RawConfidence: 0.85,
				Tokens:        []string{"iam", "permission", "denied"},
			},
			{
				ErrorClass:    "API_RATE_THROTTLED",
				Service:       "api",
				Patterns:      []string{"rate exceeded", "throttling", "too many requests"},
				RawConfidence: 0.85,
				Tokens:        []string{"api", "throttle"},
			},
			{
				ErrorClass:    "S3_BUCKET_NAME_CONFLICT",
				Service:       "s3",
				Patterns:      []string{"bucket already exists", "bucketalreadyexists"},
				RawConfidence: 0.95,
				Tokens:        []string{"s3", "bucket", "name"},
			},
			{
				ErrorClass:    "EC2_INSUFFICIENT_CAPACITY",
				Service:       "ec2",
				Patterns:      []string{"insufficient capacity", "insufficientinstancecapacity"},
				RawConfidence: 0.80,
				Tokens:        []string{"ec2", "capacity"},
			},
			{
				ErrorClass:    "SERVICE_QUOTA_EXCEEDED",
				Service:       "quotas",
				Patterns:      []string{"limit exceeded", "limitexceeded", "quota exceeded"},
				RawConfidence: 0.80,
				Tokens:        []string{"quota", "limit"},
			},
			{
				ErrorClass:    "STACK_ROLLBACK_ACTIVE",
				Service:       "cloudformation",
				Patterns:      []string{"rollback_in_progress", "update_rollback_in_progress", "rollback in progress"},
				RawConfidence: 0.75,
				Tokens:        []string{"cloudformation", "rollback"},
			},
			{
				ErrorClass:    "RESOURCE_DEPENDENCY_BLOCKED",
				Service:       "cloudformation",
				Patterns:      []string{"dependencyviolation", "resource is in use", "has a dependent object"},
				RawConfidence: 0.70,
				Tokens:        []string{"cloudformation", "dependency"},
			},
		},
		Playbooks: map[string]models.Playbook{
			"ACM_DNS_VALIDATION_PENDING": {
				Action: models.ActionWaitAndRetry,
				Steps: []string{
					"Confirm the validation CNAME record exists in the hosted zone.",
					"Re-run the deployment once the certificate leaves the pending state.",
				},
			},
			"IAM_PERMISSION_DENIED": {
				Action: models.ActionOpenIssue,
				Steps: []string{
					"Capture the denied action and principal from the status reason.",
					"File an issue against the owning team to extend the role policy.",
				},
			},
			"API_RATE_THROTTLED": {
				Action: models.ActionWaitAndRetry,
				Steps: []string{
					"Back off and re-run the deployment; throttling is transient.",
					"If throttling persists across retries, request a rate limit increase.",
				},
			},
			"S3_BUCKET_NAME_CONFLICT": {
				Action: models.ActionOpenIssue,
				Steps: []string{
					"Bucket names are global; pick a name scoped with the account or environment.",
					"File an issue to rename the bucket resource in the template.",
				},
			},
			"EC2_INSUFFICIENT_CAPACITY": {
				Action: models.ActionWaitAndRetry,
				Steps: []string{
					"Retry later or target a different availability zone.",
				},
			},
			"SERVICE_QUOTA_EXCEEDED": {
				Action: models.ActionOpenIssue,
				Steps: []string{
					"Identify the exhausted quota from the status reason.",
					"File an issue to request a quota increase or reduce usage.",
				},
			},
			"STACK_ROLLBACK_ACTIVE": {
				Action: models.ActionWaitAndRetry,
				Steps: []string{
					"Wait for the rollback to settle before re-deploying.",
				},
			},
			"RESOURCE_DEPENDENCY_BLOCKED": {
				Action: models.ActionHumanRequired,
				Steps: []string{
					"Identify the blocking dependency from the status reason.",
					"Detach or delete the dependent resource manually, then re-run.",
				},
			},
			models.ErrorClassUnknown: unknownPlaybook(),
		},
	}
}
