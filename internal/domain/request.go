package domain

import "time"

// Status is the lifecycle state of a provision request.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusParsing            Status = "parsing"
	StatusGenerating         Status = "generating"
	StatusCreatingArtifactPR Status = "creating_artifact_pr"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// Terminal reports whether no further transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Publication records the result of publishing an artifact set for review.
type Publication struct {
	PRNumber   int    `json:"pr_number"`
	PRURL      string `json:"pr_url"`
	BranchName string `json:"branch_name"`
}

// ProvisionRequest is the lifecycle record for one infrastructure request.
// It is created at submission with status queued and mutated exactly once per
// lifecycle transition, exclusively by the lifecycle controller. Readers get
// copies, never the controller's instance.
type ProvisionRequest struct {
	ID          string `json:"request_id" db:"id"`
	RequestText string `json:"request_text" db:"request_text"`
	Requester   string `json:"requester" db:"requester"`
	Team        string `json:"team,omitempty" db:"team"`
	Service     string `json:"service,omitempty" db:"service"`
	Environment string `json:"environment,omitempty" db:"environment"` // optional override

	Status        Status         `json:"status" db:"status"`
	Specification *Specification `json:"specification,omitempty" db:"-"`
	ArtifactDir   string         `json:"artifact_dir,omitempty" db:"artifact_dir"`
	Publication   *Publication   `json:"publication,omitempty" db:"-"`
	Error         *RequestError  `json:"error,omitempty" db:"-"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a deep-enough copy for read-only exposure. The nested
// structures are never mutated after being set, so sharing them is safe.
func (r *ProvisionRequest) Clone() *ProvisionRequest {
	cp := *r
	return &cp
}

// SubmitInput is the presentation-facing payload for submitting a request.
type SubmitInput struct {
	Request     string `json:"request"`
	Requester   string `json:"requester"`
	Team        string `json:"team,omitempty"`
	Service     string `json:"service,omitempty"`
	Environment string `json:"environment,omitempty"`
}
