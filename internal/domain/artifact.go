package domain

import (
	"fmt"
	"sort"
	"time"
)

// ArtifactMetadata records how an artifact set was produced.
type ArtifactMetadata struct {
	GeneratedAt      time.Time `json:"generated_at"`
	RulesetVersion   string    `json:"ruleset_version"`
	GeneratorVersion string    `json:"generator_version"`
}

// RenderedArtifact is the set of rendered code files for one specification.
// Created once per successful generation and immutable afterwards.
type RenderedArtifact struct {
	ResourceType ResourceType      `json:"resource_type"`
	ResourceName string            `json:"resource_name"`
	Environment  string            `json:"environment"`
	Files        map[string]string `json:"files"`
	Metadata     ArtifactMetadata  `json:"metadata"`
}

// Dir returns the canonical output path for the artifact set.
func (a *RenderedArtifact) Dir() string {
	return fmt.Sprintf("artifacts/%s/%s/%s", a.Environment, a.ResourceType, a.ResourceName)
}

// File returns the content of a named file.
func (a *RenderedArtifact) File(name string) (string, bool) {
	content, ok := a.Files[name]
	return content, ok
}

// FileNames returns the artifact file names in sorted order.
func (a *RenderedArtifact) FileNames() []string {
	names := make([]string, 0, len(a.Files))
	for name := range a.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
