package publisher

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/calebmassey/infra-provisioner/internal/domain"
)

// Config holds the settings for the GitHub publisher.
type Config struct {
	Token      string
	Owner      string
	Repository string
	BaseBranch string // defaults to main
}

// GitHub publishes artifacts as pull requests using the GitHub API.
type GitHub struct {
	client     *github.Client
	owner      string
	repo       string
	baseBranch string
	now        func() time.Time
}

// Ensure GitHub implements Publisher.
var _ Publisher = (*GitHub)(nil)

// NewGitHub creates a GitHub publisher authenticated with a personal access
// token or installation token.
func NewGitHub(cfg Config) (*GitHub, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if cfg.Owner == "" || cfg.Repository == "" {
		return nil, fmt.Errorf("github owner and repository are required")
	}

	base := cfg.BaseBranch
	if base == "" {
		base = "main"
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)

	return &GitHub{
		client:     github.NewClient(httpClient),
		owner:      cfg.Owner,
		repo:       cfg.Repository,
		baseBranch: base,
		now:        time.Now,
	}, nil
}

// Publish creates a branch with the artifact files committed under the
// artifact directory and opens a pull request against the base branch.
func (g *GitHub) Publish(ctx context.Context, req *domain.ProvisionRequest, artifact *domain.RenderedArtifact) (*domain.Publication, error) {
	branch := BranchName(req.Specification, g.now())

	baseRef, _, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "refs/heads/"+g.baseBranch)
	if err != nil {
		return nil, &Error{Stage: StageRepository, Message: fmt.Sprintf(
			"resolving base branch '%s' in %s/%s", g.baseBranch, g.owner, g.repo), Err: err}
	}

	newRef := &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	}
	if _, _, err := g.client.Git.CreateRef(ctx, g.owner, g.repo, newRef); err != nil {
		return nil, &Error{Stage: StageBranch, Message: fmt.Sprintf("creating branch '%s'", branch), Err: err}
	}

	commitSHA, err := g.commitFiles(ctx, baseRef, artifact, req)
	if err != nil {
		return nil, err
	}

	newRef.Object = &github.GitObject{SHA: github.Ptr(commitSHA)}
	if _, _, err := g.client.Git.UpdateRef(ctx, g.owner, g.repo, newRef, false); err != nil {
		return nil, &Error{Stage: StageCommit, Message: fmt.Sprintf("advancing branch '%s'", branch), Err: err}
	}

	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.Ptr(PullRequestTitle(req.Specification)),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(g.baseBranch),
		Body:  github.Ptr(PullRequestBody(req, artifact)),
	})
	if err != nil {
		return nil, &Error{Stage: StagePullRequest, Message: "creating pull request", Err: err}
	}

	// Labels are a convenience for reviewers, not part of the contract.
	labels := []string{"infrastructure", "automated", "env:" + req.Specification.Environment}
	if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, pr.GetNumber(), labels); err != nil {
		log.Printf("Failed to label PR #%d: %v", pr.GetNumber(), err)
	}

	return &domain.Publication{
		PRNumber:   pr.GetNumber(),
		PRURL:      pr.GetHTMLURL(),
		BranchName: branch,
	}, nil
}

func (g *GitHub) commitFiles(ctx context.Context, baseRef *github.Reference, artifact *domain.RenderedArtifact, req *domain.ProvisionRequest) (string, error) {
	dir := artifact.Dir()

	entries := make([]*github.TreeEntry, 0, len(artifact.Files))
	for _, name := range artifact.FileNames() {
		entries = append(entries, &github.TreeEntry{
			Path:    github.Ptr(path.Join(dir, name)),
			Mode:    github.Ptr("100644"),
			Type:    github.Ptr("blob"),
			Content: github.Ptr(artifact.Files[name]),
		})
	}

	tree, _, err := g.client.Git.CreateTree(ctx, g.owner, g.repo, baseRef.Object.GetSHA(), entries)
	if err != nil {
		return "", &Error{Stage: StageCommit, Message: "creating tree", Err: err}
	}

	parent := &github.Commit{SHA: baseRef.Object.SHA}
	commit, _, err := g.client.Git.CreateCommit(ctx, g.owner, g.repo, &github.Commit{
		Message: github.Ptr(CommitMessage(req.Specification)),
		Tree:    tree,
		Parents: []*github.Commit{parent},
	}, nil)
	if err != nil {
		return "", &Error{Stage: StageCommit, Message: "creating commit", Err: err}
	}

	return commit.GetSHA(), nil
}

// CommitMessage builds the commit message for an artifact commit.
func CommitMessage(spec *domain.Specification) string {
	return fmt.Sprintf("Add %s '%s' (%s)", spec.ResourceType, spec.ResourceName, spec.Environment)
}

// PullRequestTitle builds the pull request title.
func PullRequestTitle(spec *domain.Specification) string {
	return fmt.Sprintf("[Provisioning] %s: %s (%s)", spec.ResourceType, spec.ResourceName, spec.Environment)
}

// PullRequestBody renders the pull request description: what was requested,
// by whom, and which files were generated.
func PullRequestBody(req *domain.ProvisionRequest, artifact *domain.RenderedArtifact) string {
	spec := req.Specification
	var b strings.Builder

	b.WriteString("## Infrastructure Provisioning Request\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Request ID | `%s` |\n", req.ID)
	fmt.Fprintf(&b, "| Resource | %s `%s` |\n", spec.ResourceType, spec.ResourceName)
	fmt.Fprintf(&b, "| Environment | %s |\n", spec.Environment)
	if req.Requester != "" {
		fmt.Fprintf(&b, "| Requested by | %s |\n", req.Requester)
	}
	if req.Team != "" {
		fmt.Fprintf(&b, "| Team | %s |\n", req.Team)
	}

	if req.RequestText != "" {
		b.WriteString("\n### Original request\n\n")
		fmt.Fprintf(&b, "> %s\n", req.RequestText)
	}

	b.WriteString("\n### Generated files\n\n")
	for _, name := range artifact.FileNames() {
		fmt.Fprintf(&b, "- `%s`\n", path.Join(artifact.Dir(), name))
	}

	if len(spec.Tags) > 0 {
		b.WriteString("\n### Tags\n\n")
		keys := make([]string, 0, len(spec.Tags))
		for k := range spec.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s**: %s\n", k, spec.Tags[k])
		}
	}

	b.WriteString("\nReview the plan output before merging. Merging this PR applies the change through the regular Terraform pipeline.\n")
	return b.String()
}
