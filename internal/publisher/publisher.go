// Package publisher opens pull requests carrying rendered infrastructure
// artifacts against the target repository.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/calebmassey/infra-provisioner/internal/domain"
)

// Stage identifies where in the publication flow a failure occurred.
type Stage string

const (
	StageRepository  Stage = "repository"
	StageBranch      Stage = "branch"
	StageCommit      Stage = "commit"
	StagePullRequest Stage = "pull_request"
)

// Error is a publication failure annotated with the stage that failed.
type Error struct {
	Stage   Stage
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("publication failed at %s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("publication failed at %s: %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Publisher delivers a rendered artifact as a reviewable pull request.
type Publisher interface {
	Publish(ctx context.Context, req *domain.ProvisionRequest, artifact *domain.RenderedArtifact) (*domain.Publication, error)
}

// BranchName builds the per-request branch name. The timestamp suffix keeps
// repeated requests for the same resource from colliding.
func BranchName(spec *domain.Specification, t time.Time) string {
	return fmt.Sprintf("provision/%s-%s-%s-%s",
		spec.Environment, spec.ResourceType, spec.ResourceName,
		t.UTC().Format("20060102-150405"))
}
