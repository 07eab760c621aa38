package validation

import (
	"fmt"

	"github.com/calebmassey/infra-provisioner/internal/domain"
)

// Encryption algorithms a storage bucket template can render.
var bucketEncryptionAlgorithms = []string{"AES256", "aws:kms"}

// CheckParameters verifies that parameters are complete and internally
// consistent for the resource type's templates. It returns one message per
// problem; an empty slice means generation can proceed.
//
// This gate is independent of policy validation: a specification can satisfy
// every organizational rule and still be missing an interpolation key a
// template needs.
func CheckParameters(rt domain.ResourceType, params map[string]any) []string {
	cap, ok := capabilities[rt]
	if !ok {
		return []string{fmt.Sprintf("unsupported resource type '%s'", rt)}
	}
	return cap.ParamCheck(params)
}

func checkBucketParams(params map[string]any) []string {
	var errs []string

	for _, field := range []string{"versioning", "encryption", "public_access_block"} {
		if _, ok := params[field]; !ok {
			errs = append(errs, fmt.Sprintf("Missing required storage-bucket parameter: %s", field))
		}
	}

	if enc, ok := paramString(params, "encryption"); ok {
		if !contains(bucketEncryptionAlgorithms, enc) {
			errs = append(errs, fmt.Sprintf(
				"storage-bucket encryption must be one of %v, got '%s'",
				bucketEncryptionAlgorithms, enc))
		}
	}

	return errs
}

func checkClusterParams(params map[string]any) []string {
	var errs []string

	if _, ok := params["kubernetes_version"]; !ok {
		errs = append(errs, "Missing required managed-cluster parameter: kubernetes_version")
	}

	groups, ok := paramList(params, "node_groups")
	if !ok || len(groups) == 0 {
		errs = append(errs, "managed-cluster requires at least one node group")
	} else {
		for i, raw := range groups {
			ng, ok := raw.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Sprintf("Node group %d: must be an object", i))
				continue
			}
			errs = append(errs, checkNodeGroup(i, ng)...)
		}
	}

	if _, ok := params["private_endpoint"]; !ok {
		errs = append(errs, "Missing required managed-cluster parameter: private_endpoint")
	}

	return errs
}

func checkNodeGroup(i int, ng map[string]any) []string {
	var errs []string

	name, _ := paramString(ng, "name")
	if name == "" {
		name = "unnamed"
	}

	for _, field := range []string{"name", "instance_types", "desired_size", "min_size", "max_size"} {
		if _, ok := ng[field]; !ok {
			errs = append(errs, fmt.Sprintf(
				"Node group %d ('%s'): missing required field '%s'", i, name, field))
		}
	}

	desired, hasDesired := paramNumber(ng, "desired_size")
	min, hasMin := paramNumber(ng, "min_size")
	max, hasMax := paramNumber(ng, "max_size")
	if hasDesired && hasMin && hasMax {
		if desired < min {
			errs = append(errs, fmt.Sprintf(
				"Node group %d ('%s'): desired_size (%d) cannot be less than min_size (%d)",
				i, name, int(desired), int(min)))
		}
		if desired > max {
			errs = append(errs, fmt.Sprintf(
				"Node group %d ('%s'): desired_size (%d) cannot be greater than max_size (%d)",
				i, name, int(desired), int(max)))
		}
	}

	if raw, ok := ng["instance_types"]; ok {
		if _, isList := raw.([]any); !isList {
			if _, isStrList := raw.([]string); !isStrList {
				errs = append(errs, fmt.Sprintf(
					"Node group %d ('%s'): instance_types must be a list", i, name))
			}
		}
	}

	return errs
}

func checkDatabaseParams(params map[string]any) []string {
	var errs []string
	required := []string{
		"engine",
		"engine_version",
		"instance_class",
		"allocated_storage",
		"backup_retention_period",
		"storage_encrypted",
	}
	for _, field := range required {
		if _, ok := params[field]; !ok {
			errs = append(errs, fmt.Sprintf("Missing required managed-database parameter: %s", field))
		}
	}
	return errs
}

func checkNetworkParams(params map[string]any) []string {
	var errs []string
	for _, field := range []string{"cidr_block", "enable_dns_hostnames", "enable_dns_support"} {
		if _, ok := params[field]; !ok {
			errs = append(errs, fmt.Sprintf("Missing required virtual-network parameter: %s", field))
		}
	}
	return errs
}
