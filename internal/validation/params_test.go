package validation

import (
	"strings"
	"testing"

	"github.com/calebmassey/infra-provisioner/internal/domain"
)

func TestCheckBucketParams(t *testing.T) {
	errs := CheckParameters(domain.ResourceStorageBucket, map[string]any{
		"versioning":          true,
		"encryption":          "AES256",
		"public_access_block": true,
	})
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
}

func TestCheckBucketParamsMissing(t *testing.T) {
	errs := CheckParameters(domain.ResourceStorageBucket, map[string]any{
		"versioning": true,
	})
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %v", errs)
	}
	if errs[0] != "Missing required storage-bucket parameter: encryption" {
		t.Errorf("Unexpected first error: %s", errs[0])
	}
	if errs[1] != "Missing required storage-bucket parameter: public_access_block" {
		t.Errorf("Unexpected second error: %s", errs[1])
	}
}

func TestCheckBucketParamsBadAlgorithm(t *testing.T) {
	errs := CheckParameters(domain.ResourceStorageBucket, map[string]any{
		"versioning":          true,
		"encryption":          "rot13",
		"public_access_block": true,
	})
	if len(errs) != 1 || !strings.Contains(errs[0], "rot13") {
		t.Errorf("Expected one error naming the algorithm, got %v", errs)
	}
}

func validClusterParams() map[string]any {
	return map[string]any{
		"kubernetes_version": "1.29",
		"private_endpoint":   true,
		"node_groups": []any{
			map[string]any{
				"name":           "general",
				"instance_types": []any{"m5.large", "m5.xlarge"},
				"desired_size":   5,
				"min_size":       3,
				"max_size":       10,
			},
		},
	}
}

func TestCheckClusterParams(t *testing.T) {
	if errs := CheckParameters(domain.ResourceManagedCluster, validClusterParams()); len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
}

func TestCheckClusterParamsDesiredBelowMin(t *testing.T) {
	params := validClusterParams()
	group := params["node_groups"].([]any)[0].(map[string]any)
	group["desired_size"] = 2

	errs := CheckParameters(domain.ResourceManagedCluster, params)
	want := "Node group 0 ('general'): desired_size (2) cannot be less than min_size (3)"
	if len(errs) != 1 || errs[0] != want {
		t.Errorf("Expected [%q], got %v", want, errs)
	}
}

func TestCheckClusterParamsDesiredAboveMax(t *testing.T) {
	params := validClusterParams()
	group := params["node_groups"].([]any)[0].(map[string]any)
	group["desired_size"] = 20

	errs := CheckParameters(domain.ResourceManagedCluster, params)
	want := "Node group 0 ('general'): desired_size (20) cannot be greater than max_size (10)"
	if len(errs) != 1 || errs[0] != want {
		t.Errorf("Expected [%q], got %v", want, errs)
	}
}

func TestCheckClusterParamsNoGroups(t *testing.T) {
	errs := CheckParameters(domain.ResourceManagedCluster, map[string]any{
		"kubernetes_version": "1.29",
		"private_endpoint":   true,
		"node_groups":        []any{},
	})
	if len(errs) != 1 || errs[0] != "managed-cluster requires at least one node group" {
		t.Errorf("Unexpected errors: %v", errs)
	}
}

func TestCheckClusterParamsInstanceTypesNotList(t *testing.T) {
	params := validClusterParams()
	group := params["node_groups"].([]any)[0].(map[string]any)
	group["instance_types"] = "m5.large"

	errs := CheckParameters(domain.ResourceManagedCluster, params)
	want := "Node group 0 ('general'): instance_types must be a list"
	if len(errs) != 1 || errs[0] != want {
		t.Errorf("Expected [%q], got %v", want, errs)
	}
}

func TestCheckDatabaseParamsMissing(t *testing.T) {
	errs := CheckParameters(domain.ResourceManagedDatabase, map[string]any{
		"engine": "postgres",
	})
	if len(errs) != 5 {
		t.Fatalf("Expected 5 errors, got %d: %v", len(errs), errs)
	}
	for _, e := range errs {
		if !strings.HasPrefix(e, "Missing required managed-database parameter: ") {
			t.Errorf("Unexpected error shape: %s", e)
		}
	}
}

func TestCheckNetworkParams(t *testing.T) {
	errs := CheckParameters(domain.ResourceVirtualNetwork, map[string]any{
		"cidr_block":           "10.0.0.0/16",
		"enable_dns_hostnames": true,
		"enable_dns_support":   true,
	})
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}

	errs = CheckParameters(domain.ResourceVirtualNetwork, map[string]any{})
	if len(errs) != 3 {
		t.Errorf("Expected 3 errors, got %v", errs)
	}
}

func TestCheckParametersUnsupportedType(t *testing.T) {
	errs := CheckParameters(domain.ResourceType("quantum-computer"), nil)
	if len(errs) != 1 || !strings.Contains(errs[0], "quantum-computer") {
		t.Errorf("Expected one error naming the type, got %v", errs)
	}
}

func TestNumberCoercion(t *testing.T) {
	// JSON decoding gives float64; direct construction gives int. Both count.
	params := validClusterParams()
	group := params["node_groups"].([]any)[0].(map[string]any)
	group["desired_size"] = float64(5)
	group["min_size"] = float64(3)
	group["max_size"] = float64(10)

	if errs := CheckParameters(domain.ResourceManagedCluster, params); len(errs) != 0 {
		t.Errorf("Expected no errors with float64 sizes, got %v", errs)
	}
}
