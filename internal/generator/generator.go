// Package generator renders a validated infrastructure specification into a
// set of Terraform artifacts. It composes the parameter validator with the
// template engine: parameters are gated first because rendering fails in
// template-fatal ways (missing interpolation keys) that policy validation
// does not cover.
package generator

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/policy"
	"github.com/calebmassey/infra-provisioner/internal/validation"
)

// Version identifies the generator in artifact metadata.
const Version = "0.1.0"

// The all: prefix keeps the underscore-prefixed _common directory in the
// embedded tree.
//
//go:embed all:templates
var templateFS embed.FS

// Resource-specific templates rendered for every type, and the shared set.
var (
	resourceTemplates = []string{"main.tf", "variables.tf", "outputs.tf"}
	commonTemplates   = []string{"provider.tf", "backend.tf"}
)

// Error is a generation failure: unsupported type, failed parameter check,
// missing template, or render failure.
type Error struct {
	Message string
	Errors  []string // parameter-check errors, when applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s:\n  - %s", e.Message, strings.Join(e.Errors, "\n  - "))
}

// Generator renders specifications into artifact sets.
type Generator struct {
	policies  *policy.Store
	formatter Formatter
	templates map[string]*template.Template // "{resource_type}/{file}" and "_common/{file}"
}

// Option configures a Generator.
type Option func(*Generator)

// WithFormatter sets the best-effort output formatter.
func WithFormatter(f Formatter) Option {
	return func(g *Generator) { g.formatter = f }
}

// New creates a Generator with all templates parsed eagerly, so a broken or
// missing template surfaces at startup rather than on the first request.
func New(policies *policy.Store, opts ...Option) (*Generator, error) {
	g := &Generator{
		policies:  policies,
		templates: make(map[string]*template.Template),
	}
	for _, opt := range opts {
		opt(g)
	}

	funcs := template.FuncMap{
		"tfBool":   tfBool,
		"sanitize": sanitize,
	}

	for _, rt := range domain.ResourceTypes() {
		for _, file := range resourceTemplates {
			if err := g.parseTemplate(funcs, string(rt), file); err != nil {
				return nil, err
			}
		}
	}
	for _, file := range commonTemplates {
		if err := g.parseTemplate(funcs, "_common", file); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *Generator) parseTemplate(funcs template.FuncMap, dir, file string) error {
	path := fmt.Sprintf("templates/%s/%s.tmpl", dir, file)
	data, err := templateFS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("required template not found: %s: %w", path, err)
	}
	tmpl, err := template.New(file).Funcs(funcs).Parse(string(data))
	if err != nil {
		return fmt.Errorf("parsing template %s: %w", path, err)
	}
	g.templates[dir+"/"+file] = tmpl
	return nil
}

// Generate renders the artifact set for a specification. The returned set
// always contains exactly five files: main.tf, variables.tf, outputs.tf,
// provider.tf and backend.tf.
func (g *Generator) Generate(ctx context.Context, spec *domain.Specification) (*domain.RenderedArtifact, error) {
	// The type gate runs first so the generator owns the supported-set error;
	// schema validation would otherwise reject the type with a generic message.
	if !validation.Supported(spec.ResourceType) {
		supported := make([]string, 0, len(domain.ResourceTypes()))
		for _, rt := range domain.ResourceTypes() {
			supported = append(supported, string(rt))
		}
		return nil, &Error{Message: fmt.Sprintf(
			"Unsupported resource type '%s'. Supported types: %s",
			spec.ResourceType, strings.Join(supported, ", "))}
	}

	if err := spec.Validate(); err != nil {
		return nil, &Error{Message: err.Error()}
	}

	if paramErrs := validation.CheckParameters(spec.ResourceType, spec.Parameters); len(paramErrs) > 0 {
		return nil, &Error{
			Message: fmt.Sprintf("Invalid parameters for %s", spec.ResourceType),
			Errors:  paramErrs,
		}
	}

	rctx := g.prepareContext(spec)

	files := make(map[string]string, len(resourceTemplates)+len(commonTemplates))
	for _, file := range resourceTemplates {
		content, err := g.render(string(spec.ResourceType)+"/"+file, rctx)
		if err != nil {
			return nil, err
		}
		files[file] = content
	}
	for _, file := range commonTemplates {
		content, err := g.render("_common/"+file, rctx)
		if err != nil {
			return nil, err
		}
		files[file] = content
	}

	if g.formatter != nil {
		for name, content := range files {
			formatted, err := g.formatter.Format(ctx, content)
			if err != nil {
				// Formatting is best-effort; never block generation on it.
				log.Printf("Warning: failed to format %s: %v", name, err)
				continue
			}
			files[name] = formatted
		}
	}

	return &domain.RenderedArtifact{
		ResourceType: spec.ResourceType,
		ResourceName: spec.ResourceName,
		Environment:  spec.Environment,
		Files:        files,
		Metadata: domain.ArtifactMetadata{
			GeneratedAt:      rctx.generatedAt,
			RulesetVersion:   rctx.rulesetVersion,
			GeneratorVersion: Version,
		},
	}, nil
}

func (g *Generator) render(key string, rctx *renderContext) (string, error) {
	tmpl, ok := g.templates[key]
	if !ok {
		return "", &Error{Message: fmt.Sprintf("Required template not found: %s", key)}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rctx); err != nil {
		return "", &Error{Message: fmt.Sprintf("Template rendering failed: %s: %v", key, err)}
	}
	return buf.String(), nil
}

// renderContext is the data handed to every template.
type renderContext struct {
	ResourceType string
	ResourceName string
	// TFName is the resource name with hyphens replaced by underscores;
	// Terraform identifiers disallow hyphens.
	TFName       string
	Environment  string
	Organization string
	NeedsNetwork bool
	GeneratedAt  string
	Parameters   map[string]any
	Tags         map[string]string

	generatedAt    time.Time
	rulesetVersion string
}

func (g *Generator) prepareContext(spec *domain.Specification) *renderContext {
	now := time.Now().UTC()

	rctx := &renderContext{
		ResourceType:   string(spec.ResourceType),
		ResourceName:   spec.ResourceName,
		TFName:         sanitize(spec.ResourceName),
		Environment:    spec.Environment,
		Organization:   "your-organization",
		GeneratedAt:    now.Format(time.RFC3339),
		Parameters:     spec.Parameters,
		Tags:           spec.Tags,
		generatedAt:    now,
		rulesetVersion: "1.0",
	}

	if cap, ok := validation.CapabilityFor(spec.ResourceType); ok {
		rctx.NeedsNetwork = cap.NeedsNetwork
	}

	// The organization name comes from policy; generation still works with a
	// placeholder when the ruleset is unavailable.
	if rs, err := g.policies.Load(); err == nil {
		rctx.Organization = rs.OrganizationSlug()
		rctx.rulesetVersion = rs.Version
	}

	return rctx
}

// tfBool renders any parameter value as a Terraform boolean literal.
func tfBool(v any) string {
	if b, ok := v.(bool); ok && b {
		return "true"
	}
	return "false"
}

// sanitize converts a value into a legal Terraform identifier.
func sanitize(v any) string {
	return strings.ReplaceAll(fmt.Sprint(v), "-", "_")
}
