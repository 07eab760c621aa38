package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResourceType identifies a provisionable infrastructure resource kind.
type ResourceType string

const (
	ResourceStorageBucket   ResourceType = "storage-bucket"
	ResourceManagedDatabase ResourceType = "managed-database"
	ResourceManagedCluster  ResourceType = "managed-cluster"
	ResourceVirtualNetwork  ResourceType = "virtual-network"
)

// ResourceTypes lists every supported resource type.
func ResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceStorageBucket,
		ResourceManagedDatabase,
		ResourceManagedCluster,
		ResourceVirtualNetwork,
	}
}

// Environments valid for a specification.
const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

// ValidEnvironment reports whether env is one of dev, staging, prod.
func ValidEnvironment(env string) bool {
	return env == EnvDev || env == EnvStaging || env == EnvProd
}

// Specification is the structured form of an infrastructure request, produced
// by the parsing collaborator. It is never mutated after creation; a rejected
// specification is discarded, not patched.
type Specification struct {
	ResourceType ResourceType      `json:"resource_type"`
	ResourceName string            `json:"resource_name"`
	Parameters   map[string]any    `json:"parameters"`
	Environment  string            `json:"environment"`
	Tags         map[string]string `json:"tags"`

	// Extra holds fields outside the fixed schema. Kept separate so schema
	// evolution does not require relaxing the known-field checks.
	Extra map[string]any `json:"-"`
}

// specAlias avoids UnmarshalJSON recursion.
type specAlias Specification

// UnmarshalJSON decodes the fixed fields and captures unknown keys in Extra.
func (s *Specification) UnmarshalJSON(data []byte) error {
	var known specAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "resource_type")
	delete(raw, "resource_name")
	delete(raw, "parameters")
	delete(raw, "environment")
	delete(raw, "tags")

	if len(raw) > 0 {
		known.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			known.Extra[k] = val
		}
	}

	*s = Specification(known)
	s.ResourceName = strings.TrimSpace(s.ResourceName)
	return nil
}

// Validate checks the structural invariants of a specification. These are
// schema checks, not organizational-policy checks: a specification failing
// them cannot be rendered at all.
func (s *Specification) Validate() error {
	var problems []string

	switch s.ResourceType {
	case ResourceStorageBucket, ResourceManagedDatabase, ResourceManagedCluster, ResourceVirtualNetwork:
	default:
		problems = append(problems, fmt.Sprintf("unsupported resource_type %q", s.ResourceType))
	}

	if s.ResourceName == "" {
		problems = append(problems, "resource_name cannot be empty or whitespace")
	} else {
		if len(s.ResourceName) < 3 || len(s.ResourceName) > 63 {
			problems = append(problems, fmt.Sprintf("resource_name must be 3-63 characters, got %d", len(s.ResourceName)))
		}
		if !validResourceNameChars(s.ResourceName) {
			problems = append(problems, "resource_name must contain only lowercase letters, numbers, and hyphens")
		}
	}

	if !ValidEnvironment(s.Environment) {
		problems = append(problems, fmt.Sprintf("environment must be one of dev, staging, prod, got %q", s.Environment))
	}

	if len(s.Parameters) == 0 {
		problems = append(problems, "parameters cannot be empty - at least one parameter is required")
	}

	if len(s.Tags) == 0 {
		problems = append(problems, "tags cannot be empty - required organizational tags must be present")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid specification: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validResourceNameChars(name string) bool {
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}
