// Package service contains the lifecycle controller that drives a provision
// request from submission through parsing, validation, generation, and
// publication.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/generator"
	"github.com/calebmassey/infra-provisioner/internal/llm"
	"github.com/calebmassey/infra-provisioner/internal/policy"
	"github.com/calebmassey/infra-provisioner/internal/publisher"
	"github.com/calebmassey/infra-provisioner/internal/storage"
	"github.com/calebmassey/infra-provisioner/internal/validation"
)

// ArtifactGenerator renders the deployable artifact set for a specification.
type ArtifactGenerator interface {
	Generate(ctx context.Context, spec *domain.Specification) (*domain.RenderedArtifact, error)
}

// Config holds the collaborators and worker settings for the service.
type Config struct {
	Store     storage.Storage
	Policies  *policy.Store
	Parser    llm.Parser
	Generator ArtifactGenerator
	Publisher publisher.Publisher

	Workers   int // defaults to 4
	QueueSize int // defaults to 64
}

// ProvisionService owns every lifecycle transition of provision requests.
// Requests enter through Submit and are processed asynchronously by a fixed
// pool of workers; each request is processed at most once.
type ProvisionService struct {
	store     storage.Storage
	policies  *policy.Store
	parser    llm.Parser
	generator ArtifactGenerator
	publisher publisher.Publisher

	workers int
	jobs    chan string
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	now func() time.Time
}

// New creates a new ProvisionService. Call Start to launch the workers.
func New(cfg Config) *ProvisionService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	return &ProvisionService{
		store:     cfg.Store,
		policies:  cfg.Policies,
		parser:    cfg.Parser,
		generator: cfg.Generator,
		publisher: cfg.Publisher,
		workers:   workers,
		jobs:      make(chan string, queueSize),
		now:       time.Now,
	}
}

// Start launches the worker pool. It is safe to call once.
func (s *ProvisionService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for id := range s.jobs {
				s.process(context.Background(), id)
			}
		}()
	}
}

// Stop drains the queue and waits for in-flight requests to finish.
func (s *ProvisionService) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
}

// Submit validates the input, persists a queued request record, and hands it
// to the worker pool. When the queue is full the request is rejected with
// domain.ErrQueueFull and no record is kept.
func (s *ProvisionService) Submit(ctx context.Context, input domain.SubmitInput) (*domain.ProvisionRequest, error) {
	if strings.TrimSpace(input.Request) == "" {
		return nil, fmt.Errorf("%w: request text is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(input.Requester) == "" {
		return nil, fmt.Errorf("%w: requester is required", domain.ErrInvalidInput)
	}
	if input.Environment != "" && !domain.ValidEnvironment(input.Environment) {
		return nil, fmt.Errorf("%w: environment must be one of dev, staging, prod", domain.ErrInvalidInput)
	}

	req := &domain.ProvisionRequest{
		ID:          newRequestID(),
		RequestText: input.Request,
		Requester:   input.Requester,
		Team:        input.Team,
		Service:     input.Service,
		Environment: input.Environment,
		Status:      domain.StatusQueued,
		CreatedAt:   s.now(),
	}

	// Submitters serialize here; workers only drain. Checking the channel
	// length under the lock guarantees the send below never blocks.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrQueueFull
	}
	if len(s.jobs) >= cap(s.jobs) {
		return nil, domain.ErrQueueFull
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	s.jobs <- req.ID

	return req.Clone(), nil
}

// Status returns the current state of a request.
func (s *ProvisionService) Status(ctx context.Context, id string) (*domain.ProvisionRequest, error) {
	return s.store.GetRequest(ctx, id)
}

// ListByRequester returns the newest requests submitted by a requester.
func (s *ProvisionService) ListByRequester(ctx context.Context, requester string, limit int) ([]*domain.ProvisionRequest, error) {
	return s.store.ListRequestsByRequester(ctx, requester, limit)
}

// DryRunResult is the outcome of a dry run: either a rendered artifact or
// the failure that a real submission would have recorded.
type DryRunResult struct {
	Specification *domain.Specification   `json:"specification,omitempty"`
	Artifact      *domain.RenderedArtifact `json:"artifact,omitempty"`
	Error         *domain.RequestError     `json:"error,omitempty"`
}

// DryRun runs the pipeline through generation without persisting a request
// record and without opening a pull request.
func (s *ProvisionService) DryRun(ctx context.Context, input domain.SubmitInput) (*DryRunResult, error) {
	if strings.TrimSpace(input.Request) == "" {
		return nil, fmt.Errorf("%w: request text is required", domain.ErrInvalidInput)
	}
	if input.Environment != "" && !domain.ValidEnvironment(input.Environment) {
		return nil, fmt.Errorf("%w: environment must be one of dev, staging, prod", domain.ErrInvalidInput)
	}

	rs, err := s.policies.Load()
	if err != nil {
		return nil, fmt.Errorf("loading policy ruleset: %w", err)
	}

	spec, err := s.parser.ParseRequest(ctx, input.Request, rs)
	if err != nil {
		return &DryRunResult{Error: classifyParseError(err)}, nil
	}
	if input.Environment != "" {
		spec.Environment = input.Environment
	}

	if violations := validation.ValidateSpecification(spec, rs); len(violations) > 0 {
		return &DryRunResult{
			Specification: spec,
			Error:         policyViolationError(violations),
		}, nil
	}

	artifact, err := s.generator.Generate(ctx, spec)
	if err != nil {
		return &DryRunResult{
			Specification: spec,
			Error:         classifyGenerateError(err),
		}, nil
	}

	return &DryRunResult{Specification: spec, Artifact: artifact}, nil
}

// process drives one request through the full lifecycle. Every transition is
// persisted before the phase it announces begins, so observers never see a
// status ahead of reality.
func (s *ProvisionService) process(ctx context.Context, id string) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		log.Printf("Request %s vanished before processing: %v", id, err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic processing request %s: %v", id, r)
			s.fail(ctx, req, &domain.RequestError{
				Kind:    domain.ErrorKindUnexpected,
				Message: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	// Parse
	if !s.transition(ctx, req, domain.StatusParsing) {
		return
	}

	rs, err := s.policies.Load()
	if err != nil {
		s.fail(ctx, req, &domain.RequestError{
			Kind:    domain.ErrorKindConfiguration,
			Message: fmt.Sprintf("loading policy ruleset: %v", err),
		})
		return
	}

	spec, err := s.parser.ParseRequest(ctx, req.RequestText, rs)
	if err != nil {
		s.fail(ctx, req, classifyParseError(err))
		return
	}
	if req.Environment != "" {
		spec.Environment = req.Environment
	}
	req.Specification = spec

	// Policy validation gates generation: a request with violations never
	// reaches the generator.
	if violations := validation.ValidateSpecification(spec, rs); len(violations) > 0 {
		s.fail(ctx, req, policyViolationError(violations))
		return
	}

	// Generate
	if !s.transition(ctx, req, domain.StatusGenerating) {
		return
	}

	artifact, err := s.generator.Generate(ctx, spec)
	if err != nil {
		s.fail(ctx, req, classifyGenerateError(err))
		return
	}
	req.ArtifactDir = artifact.Dir()

	// Publish
	if !s.transition(ctx, req, domain.StatusCreatingArtifactPR) {
		return
	}

	pub, err := s.publisher.Publish(ctx, req, artifact)
	if err != nil {
		s.fail(ctx, req, classifyPublishError(err))
		return
	}
	req.Publication = pub

	now := s.now()
	req.Status = domain.StatusCompleted
	req.CompletedAt = &now
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		log.Printf("Failed to record completion of %s: %v", req.ID, err)
	}
}

// transition persists a status change and reports whether processing should
// continue. A persistence failure terminates the request.
func (s *ProvisionService) transition(ctx context.Context, req *domain.ProvisionRequest, status domain.Status) bool {
	req.Status = status
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		log.Printf("Failed to transition %s to %s: %v", req.ID, status, err)
		return false
	}
	return true
}

func (s *ProvisionService) fail(ctx context.Context, req *domain.ProvisionRequest, reqErr *domain.RequestError) {
	now := s.now()
	req.Status = domain.StatusFailed
	req.Error = reqErr
	req.CompletedAt = &now
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		log.Printf("Failed to record failure of %s: %v", req.ID, err)
	}
}

func policyViolationError(violations []string) *domain.RequestError {
	return &domain.RequestError{
		Kind:       domain.ErrorKindPolicyViolation,
		Message:    fmt.Sprintf("specification violates %d organizational policies", len(violations)),
		Violations: violations,
	}
}

func classifyParseError(err error) *domain.RequestError {
	var svcErr *llm.ServiceError
	if errors.As(err, &svcErr) {
		return &domain.RequestError{Kind: domain.ErrorKindUpstream, Message: svcErr.Error()}
	}
	var schemaErr *llm.SchemaError
	if errors.As(err, &schemaErr) {
		return &domain.RequestError{Kind: domain.ErrorKindParsing, Message: schemaErr.Error()}
	}
	return &domain.RequestError{Kind: domain.ErrorKindUnexpected, Message: err.Error()}
}

func classifyGenerateError(err error) *domain.RequestError {
	var genErr *generator.Error
	if errors.As(err, &genErr) {
		return &domain.RequestError{
			Kind:       domain.ErrorKindGeneration,
			Message:    genErr.Message,
			Violations: genErr.Errors,
		}
	}
	return &domain.RequestError{Kind: domain.ErrorKindUnexpected, Message: err.Error()}
}

func classifyPublishError(err error) *domain.RequestError {
	var pubErr *publisher.Error
	if errors.As(err, &pubErr) {
		return &domain.RequestError{Kind: domain.ErrorKindPublication, Message: pubErr.Error()}
	}
	return &domain.RequestError{Kind: domain.ErrorKindUnexpected, Message: err.Error()}
}

func newRequestID() string {
	return "req-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
