package validation

import (
	"fmt"
	"strings"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/policy"
)

// ValidateSpecification checks a specification against the organizational
// ruleset and returns every violation found. An empty result means the
// specification is policy-compliant. The function has no side effects and is
// deterministic for a given (spec, ruleset) pair.
func ValidateSpecification(spec *domain.Specification, rs *policy.Ruleset) []string {
	var violations []string

	if v := checkNaming(spec.ResourceName, rs.Naming.Pattern, spec.Environment); v != "" {
		violations = append(violations, v)
	}

	violations = append(violations, checkRequiredTags(spec.Tags, rs.Tags.Required)...)

	if cap, ok := capabilities[spec.ResourceType]; ok && cap.PolicyCheck != nil {
		violations = append(violations, cap.PolicyCheck(spec.Parameters, rs)...)
	}

	return violations
}

// checkNaming verifies the naming convention: the name must start with the
// target environment and split into at least three hyphen segments
// (environment-application-resource). This is deliberately a heuristic over
// the configured pattern rather than a placeholder-by-placeholder match.
func checkNaming(resourceName, pattern, environment string) string {
	if !strings.HasPrefix(resourceName, environment+"-") {
		return fmt.Sprintf(
			"Naming violation: Resource name must start with environment '%s', got '%s'",
			environment, resourceName)
	}

	parts := strings.Split(resourceName, "-")
	if len(parts) < 3 {
		return fmt.Sprintf(
			"Naming violation: Expected format '%s' with at least 3 parts (environment-application-resource), got '%s' with %d parts",
			pattern, resourceName, len(parts))
	}

	return ""
}

// checkRequiredTags reports one violation per missing or empty required tag,
// never an aggregate message, so users can remediate each tag precisely.
func checkRequiredTags(tags map[string]string, required []string) []string {
	var violations []string
	for _, tag := range required {
		value, ok := tags[tag]
		if !ok {
			violations = append(violations, fmt.Sprintf("Missing required tag: %s", tag))
			continue
		}
		if strings.TrimSpace(value) == "" {
			violations = append(violations, fmt.Sprintf("Required tag '%s' cannot be empty", tag))
		}
	}
	return violations
}

func checkDatabasePolicy(params map[string]any, rs *policy.Ruleset) []string {
	var violations []string
	dbPolicy := rs.Resources.Database

	engine, _ := paramString(params, "engine")
	if !dbPolicy.AllowsEngine(engine) {
		violations = append(violations, fmt.Sprintf(
			"managed-database: Engine '%s' not allowed. Allowed engines: %s",
			strings.ToLower(engine), strings.Join(dbPolicy.AllowedEngines, ", ")))
	}

	retention, _ := paramNumber(params, "backup_retention_period")
	if int(retention) < dbPolicy.MinBackupDays {
		violations = append(violations, fmt.Sprintf(
			"managed-database: Backup retention period (%d days) is less than required minimum (%d days)",
			int(retention), dbPolicy.MinBackupDays))
	}

	if dbPolicy.Encryption {
		encrypted, _ := paramBool(params, "storage_encrypted")
		if !encrypted {
			violations = append(violations,
				"managed-database: Storage encryption is required by organizational policy")
		}
	}

	return violations
}

func checkBucketPolicy(params map[string]any, rs *policy.Ruleset) []string {
	var violations []string
	bucketPolicy := rs.Resources.Bucket

	if bucketPolicy.Versioning {
		versioning, _ := paramBool(params, "versioning")
		if !versioning {
			violations = append(violations,
				"storage-bucket: Versioning is required by organizational policy")
		}
	}

	encryption, _ := paramString(params, "encryption")
	if encryption != bucketPolicy.Encryption {
		violations = append(violations, fmt.Sprintf(
			"storage-bucket: Encryption must be '%s', got '%s'",
			bucketPolicy.Encryption, encryption))
	}

	return violations
}

func checkClusterPolicy(params map[string]any, rs *policy.Ruleset) []string {
	var violations []string
	clusterPolicy := rs.Resources.Cluster

	totalNodes := 0
	if groups, ok := paramList(params, "node_groups"); ok {
		for _, raw := range groups {
			if ng, ok := raw.(map[string]any); ok {
				desired, _ := paramNumber(ng, "desired_size")
				totalNodes += int(desired)
			}
		}
	}
	if totalNodes < clusterPolicy.MinNodes {
		violations = append(violations, fmt.Sprintf(
			"managed-cluster: Total desired nodes (%d) is less than required minimum (%d nodes)",
			totalNodes, clusterPolicy.MinNodes))
	}

	if clusterPolicy.PrivateEndpoint {
		private, _ := paramBool(params, "private_endpoint")
		if !private {
			violations = append(violations,
				"managed-cluster: Private endpoint is required by organizational policy")
		}
	}

	return violations
}
