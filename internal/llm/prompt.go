package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/calebmassey/infra-provisioner/internal/policy"
)

// BuildSystemPrompt renders the system prompt for specification extraction.
// The active ruleset is inlined so the model proposes names, tags, and
// parameters that already satisfy organizational policy.
func BuildSystemPrompt(rs *policy.Ruleset) string {
	var b strings.Builder

	b.WriteString(`You are an infrastructure provisioning assistant. Convert the user's natural language request into a JSON specification for exactly one resource.

Respond with ONLY a JSON object, no prose and no markdown fences, in this shape:

{
  "resource_type": "<one of the supported types>",
  "resource_name": "<name following the naming convention>",
  "environment": "<dev, staging, or prod>",
  "parameters": { ... resource specific parameters ... },
  "tags": { ... required tags with values inferred from the request ... }
}

Supported resource types (use no others):
- storage-bucket: object storage. Parameters: versioning (bool), encryption (string, "AES256" or "aws:kms"), public_access_block (bool), optionally lifecycle_rules (list).
- managed-database: relational database instance. Parameters: engine (string), engine_version (string), instance_class (string), allocated_storage (number, GB), backup_retention_period (number, days), storage_encrypted (bool), optionally multi_az (bool).
- managed-cluster: Kubernetes cluster. Parameters: kubernetes_version (string), private_endpoint (bool), node_groups (list of objects with name, instance_types (list of strings), desired_size, min_size, max_size).
- virtual-network: VPC. Parameters: cidr_block (string), enable_dns_hostnames (bool), enable_dns_support (bool).
`)

	if rs != nil {
		b.WriteString("\nOrganizational policy (the specification you produce must comply):\n")

		if rs.Naming.Pattern != "" {
			fmt.Fprintf(&b, "- Resource names must follow the pattern '%s': start with the environment, then the application or team, then the resource, joined by hyphens (at least 3 parts). Lowercase letters, digits, and hyphens only.\n", rs.Naming.Pattern)
		}
		if len(rs.Tags.Required) > 0 {
			fmt.Fprintf(&b, "- Every resource must carry these tags with non-empty values: %s. Infer sensible values from the request (for example Owner from the requesting team).\n", strings.Join(rs.Tags.Required, ", "))
		}
		if len(rs.Tags.Defaults) > 0 {
			keys := make([]string, 0, len(rs.Tags.Defaults))
			for k := range rs.Tags.Defaults {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, fmt.Sprintf("%s=%s", k, rs.Tags.Defaults[k]))
			}
			fmt.Fprintf(&b, "- Unless the request says otherwise, also apply these tags: %s.\n", strings.Join(pairs, ", "))
		}
		if len(rs.Resources.Database.AllowedEngines) > 0 {
			fmt.Fprintf(&b, "- Database engines are restricted to: %s.\n", strings.Join(rs.Resources.Database.AllowedEngines, ", "))
		}
		if rs.Resources.Database.MinBackupDays > 0 {
			fmt.Fprintf(&b, "- Database backup_retention_period must be at least %d days.\n", rs.Resources.Database.MinBackupDays)
		}
		if rs.Resources.Database.Encryption {
			b.WriteString("- Databases must set storage_encrypted to true.\n")
		}
		if rs.Resources.Bucket.Versioning {
			b.WriteString("- Storage buckets must set versioning to true.\n")
		}
		if rs.Resources.Bucket.Encryption != "" {
			fmt.Fprintf(&b, "- Storage bucket encryption must be '%s'.\n", rs.Resources.Bucket.Encryption)
		}
		if rs.Resources.Cluster.MinNodes > 0 {
			fmt.Fprintf(&b, "- Cluster node groups must total at least %d desired nodes.\n", rs.Resources.Cluster.MinNodes)
		}
		if rs.Resources.Cluster.PrivateEndpoint {
			b.WriteString("- Clusters must set private_endpoint to true.\n")
		}
	}

	b.WriteString(`
If the request does not state an environment, default to dev. Choose conservative, production-sensible defaults for parameters the request leaves out. Never invent resource types outside the supported list.`)

	return b.String()
}
