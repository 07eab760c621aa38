package policy

import "strings"

// Ruleset is the organizational policy in effect for one load. It is
// immutable: reload replaces the whole object, never mutates it in place.
type Ruleset struct {
	Naming       NamingPolicy
	Tags         TagPolicy
	Security     SecurityPolicy
	Resources    ResourcePolicies
	Organization OrganizationPolicy
	Version      string
}

// NamingPolicy holds the resource naming convention.
type NamingPolicy struct {
	// Pattern is a template string with placeholders,
	// e.g. "{environment}-{application}-{resource}".
	Pattern string
}

// TagPolicy holds required tag names and default values.
type TagPolicy struct {
	Required []string
	Defaults map[string]string
}

// SecurityPolicy holds organization-wide security flags.
type SecurityPolicy struct {
	EncryptionRequired bool
	PrivateSubnetsOnly bool
	BackupRequired     bool
}

// ResourcePolicies bundles the per-resource-type constraints.
type ResourcePolicies struct {
	Database DatabasePolicy
	Bucket   BucketPolicy
	Cluster  ClusterPolicy
	Network  NetworkPolicy
}

// DatabasePolicy constrains managed-database resources.
type DatabasePolicy struct {
	AllowedEngines []string
	MinBackupDays  int
	Encryption     bool
}

// AllowsEngine reports whether the engine is allowed (case-insensitive).
func (p DatabasePolicy) AllowsEngine(engine string) bool {
	for _, allowed := range p.AllowedEngines {
		if strings.EqualFold(engine, allowed) {
			return true
		}
	}
	return false
}

// BucketPolicy constrains storage-bucket resources.
type BucketPolicy struct {
	Versioning bool
	Encryption string
}

// ClusterPolicy constrains managed-cluster resources.
type ClusterPolicy struct {
	MinNodes        int
	PrivateEndpoint bool
}

// NetworkPolicy constrains virtual-network resources.
// No constraints today; reserved for future extension.
type NetworkPolicy struct{}

// OrganizationPolicy identifies the owning organization.
type OrganizationPolicy struct {
	Name string
}

// OrganizationSlug returns the organization name lowercased with spaces
// replaced by hyphens, or a placeholder when unset.
func (r *Ruleset) OrganizationSlug() string {
	if r == nil || r.Organization.Name == "" {
		return "your-organization"
	}
	return strings.ReplaceAll(strings.ToLower(r.Organization.Name), " ", "-")
}
