// Package policy loads and caches the organizational policy ruleset.
//
// The ruleset is read from a YAML document, validated eagerly at load time,
// and cached until explicitly reloaded. Consumers always receive a complete,
// consistent snapshot: reload swaps the cached object atomically, so readers
// holding a prior ruleset keep a coherent view.
package policy

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Store loads the policy ruleset from a file and caches it.
type Store struct {
	path string

	mu      sync.Mutex // serializes loads; readers go through the pointer
	current atomic.Pointer[Ruleset]
}

// NewStore creates a policy store backed by the YAML document at path.
// Nothing is read until the first Load.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the cached ruleset, reading and validating the policy file on
// first use. A load failure never caches a partial ruleset.
func (s *Store) Load() (*Ruleset, error) {
	if rs := s.current.Load(); rs != nil {
		return rs, nil
	}
	return s.Reload()
}

// Reload forces a re-read of the policy file, bypassing the cache. In-flight
// consumers of the previous ruleset are unaffected.
func (s *Store) Reload() (*Ruleset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := loadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(rs)
	return rs, nil
}

// rulesetDoc mirrors the YAML document. Sections are pointers so that a
// missing section can be told apart from an empty one, and boolean policy
// fields default to true when omitted.
type rulesetDoc struct {
	Naming       *namingDoc    `yaml:"naming"`
	Tags         *tagsDoc      `yaml:"tags"`
	Security     *securityDoc  `yaml:"security"`
	Resources    *resourcesDoc `yaml:"resources"`
	Organization *orgDoc       `yaml:"organization"`
	Version      string        `yaml:"version"`
}

type namingDoc struct {
	Pattern string `yaml:"pattern"`
}

type tagsDoc struct {
	Required []string          `yaml:"required"`
	Defaults map[string]string `yaml:"defaults"`
}

type securityDoc struct {
	EncryptionRequired *bool `yaml:"encryption_required"`
	PrivateSubnetsOnly *bool `yaml:"private_subnets_only"`
	BackupRequired     *bool `yaml:"backup_required"`
}

type resourcesDoc struct {
	Database *databaseDoc `yaml:"managed-database"`
	Bucket   *bucketDoc   `yaml:"storage-bucket"`
	Cluster  *clusterDoc  `yaml:"managed-cluster"`
	Network  *networkDoc  `yaml:"virtual-network"`
}

type databaseDoc struct {
	AllowedEngines []string `yaml:"allowed_engines"`
	MinBackupDays  *int     `yaml:"min_backup_days"`
	Encryption     *bool    `yaml:"encryption"`
}

type bucketDoc struct {
	Versioning *bool  `yaml:"versioning"`
	Encryption string `yaml:"encryption"`
}

type clusterDoc struct {
	MinNodes        *int  `yaml:"min_nodes"`
	PrivateEndpoint *bool `yaml:"private_endpoint"`
}

type networkDoc struct{}

type orgDoc struct {
	Name string `yaml:"name"`
}

func loadFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file %s: %w", path, err)
	}

	var doc rulesetDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	if err := validateDoc(&doc); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}

	return resolve(&doc), nil
}

// validateDoc enforces the required document structure eagerly, so later
// consumers never have to re-check it.
func validateDoc(doc *rulesetDoc) error {
	if doc.Naming == nil {
		return fmt.Errorf("missing required section 'naming'")
	}
	if doc.Tags == nil {
		return fmt.Errorf("missing required section 'tags'")
	}
	if doc.Security == nil {
		return fmt.Errorf("missing required section 'security'")
	}
	if doc.Resources == nil {
		return fmt.Errorf("missing required section 'resources'")
	}
	if doc.Naming.Pattern == "" {
		return fmt.Errorf("naming section missing 'pattern' field")
	}
	if doc.Tags.Required == nil {
		return fmt.Errorf("tags section missing 'required' field")
	}
	return nil
}

// resolve turns the document into an immutable Ruleset, applying the
// organizational defaults for omitted optional fields.
func resolve(doc *rulesetDoc) *Ruleset {
	rs := &Ruleset{
		Naming: NamingPolicy{Pattern: doc.Naming.Pattern},
		Tags: TagPolicy{
			Required: append([]string(nil), doc.Tags.Required...),
			Defaults: doc.Tags.Defaults,
		},
		Security: SecurityPolicy{
			EncryptionRequired: boolOr(doc.Security.EncryptionRequired, true),
			PrivateSubnetsOnly: boolOr(doc.Security.PrivateSubnetsOnly, true),
			BackupRequired:     boolOr(doc.Security.BackupRequired, true),
		},
		Version: doc.Version,
	}
	if rs.Version == "" {
		rs.Version = "1.0"
	}

	db := doc.Resources.Database
	if db == nil {
		db = &databaseDoc{}
	}
	rs.Resources.Database = DatabasePolicy{
		AllowedEngines: db.AllowedEngines,
		MinBackupDays:  intOr(db.MinBackupDays, 7),
		Encryption:     boolOr(db.Encryption, true),
	}
	if len(rs.Resources.Database.AllowedEngines) == 0 {
		rs.Resources.Database.AllowedEngines = []string{"postgres", "mysql"}
	}

	bucket := doc.Resources.Bucket
	if bucket == nil {
		bucket = &bucketDoc{}
	}
	rs.Resources.Bucket = BucketPolicy{
		Versioning: boolOr(bucket.Versioning, true),
		Encryption: bucket.Encryption,
	}
	if rs.Resources.Bucket.Encryption == "" {
		rs.Resources.Bucket.Encryption = "AES256"
	}

	cluster := doc.Resources.Cluster
	if cluster == nil {
		cluster = &clusterDoc{}
	}
	rs.Resources.Cluster = ClusterPolicy{
		MinNodes:        intOr(cluster.MinNodes, 2),
		PrivateEndpoint: boolOr(cluster.PrivateEndpoint, true),
	}

	if doc.Organization != nil {
		rs.Organization.Name = doc.Organization.Name
	}

	return rs
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
