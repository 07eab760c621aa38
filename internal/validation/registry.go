// Package validation checks infrastructure specifications against
// organizational policy and checks resource parameters for completeness
// before generation. Both validators accumulate every problem they find and
// never short-circuit, so a caller can report all needed fixes in one pass.
package validation

import (
	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/policy"
)

// Capability bundles the type-specific behavior for one resource type.
// Adding a resource type means adding one entry here; validation and
// generation both dispatch through this table.
type Capability struct {
	// PolicyCheck validates parameters against the ruleset's per-type
	// constraints. Nil means the generic checks are the whole policy.
	PolicyCheck func(params map[string]any, rs *policy.Ruleset) []string

	// ParamCheck verifies the parameters are complete and internally
	// consistent for template rendering. These are "cannot render" errors,
	// not "against policy" violations.
	ParamCheck func(params map[string]any) []string

	// NeedsNetwork marks resource types whose templates reference network
	// context (subnets, security groups).
	NeedsNetwork bool
}

var capabilities = map[domain.ResourceType]Capability{
	domain.ResourceStorageBucket: {
		PolicyCheck: checkBucketPolicy,
		ParamCheck:  checkBucketParams,
	},
	domain.ResourceManagedDatabase: {
		PolicyCheck:  checkDatabasePolicy,
		ParamCheck:   checkDatabaseParams,
		NeedsNetwork: true,
	},
	domain.ResourceManagedCluster: {
		PolicyCheck:  checkClusterPolicy,
		ParamCheck:   checkClusterParams,
		NeedsNetwork: true,
	},
	domain.ResourceVirtualNetwork: {
		// No type-specific policy beyond the generic checks; reserved for
		// future extension.
		ParamCheck: checkNetworkParams,
	},
}

// CapabilityFor returns the capability entry for a resource type.
func CapabilityFor(rt domain.ResourceType) (Capability, bool) {
	c, ok := capabilities[rt]
	return c, ok
}

// Supported reports whether the resource type has a registered capability.
func Supported(rt domain.ResourceType) bool {
	_, ok := capabilities[rt]
	return ok
}
