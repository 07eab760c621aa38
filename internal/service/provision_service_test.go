package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/llm"
	"github.com/calebmassey/infra-provisioner/internal/policy"
	"github.com/calebmassey/infra-provisioner/internal/publisher"
	"github.com/calebmassey/infra-provisioner/internal/storage/memory"
)

const testPolicyDoc = `
version: "1.0"
naming:
  pattern: "{environment}-{application}-{resource}"
tags:
  required:
    - Owner
security: {}
resources:
  storage-bucket:
    versioning: true
    encryption: AES256
`

// fakeParser returns a canned specification or error.
type fakeParser struct {
	spec *domain.Specification
	err  error
}

func (f *fakeParser) ParseRequest(_ context.Context, _ string, _ *policy.Ruleset) (*domain.Specification, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.spec
	return &cp, nil
}

// fakeGenerator records invocations.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, spec *domain.Specification) (*domain.RenderedArtifact, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RenderedArtifact{
		ResourceType: spec.ResourceType,
		ResourceName: spec.ResourceName,
		Environment:  spec.Environment,
		Files: map[string]string{
			"main.tf": "# main", "variables.tf": "# vars", "outputs.tf": "# out",
			"provider.tf": "# provider", "backend.tf": "# backend",
		},
	}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePublisher returns a canned publication or error.
type fakePublisher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, req *domain.ProvisionRequest, _ *domain.RenderedArtifact) (*domain.Publication, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Publication{
		PRNumber:   42,
		PRURL:      "https://github.com/acme/infra/pull/42",
		BranchName: publisher.BranchName(req.Specification, time.Now()),
	}, nil
}

func compliantSpec() *domain.Specification {
	return &domain.Specification{
		ResourceType: domain.ResourceStorageBucket,
		ResourceName: "staging-logs-bucket",
		Environment:  domain.EnvStaging,
		Parameters: map[string]any{
			"versioning":          true,
			"encryption":          "AES256",
			"public_access_block": true,
		},
		Tags: map[string]string{"Owner": "platform"},
	}
}

type testEnv struct {
	svc   *ProvisionService
	store *memory.Store
	gen   *fakeGenerator
	pub   *fakePublisher
}

func newTestEnv(t *testing.T, parser llm.Parser, gen *fakeGenerator, pub *fakePublisher) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(testPolicyDoc), 0644); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}

	store := memory.New()
	svc := New(Config{
		Store:     store,
		Policies:  policy.NewStore(path),
		Parser:    parser,
		Generator: gen,
		Publisher: pub,
		Workers:   2,
		QueueSize: 8,
	})
	svc.Start()
	t.Cleanup(svc.Stop)

	return &testEnv{svc: svc, store: store, gen: gen, pub: pub}
}

// waitTerminal polls until the request reaches a terminal status.
func waitTerminal(t *testing.T, env *testEnv, id string) *domain.ProvisionRequest {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req, err := env.store.GetRequest(context.Background(), id)
		if err != nil {
			t.Fatalf("GetRequest() error: %v", err)
		}
		if req.Status.Terminal() {
			return req
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Request did not reach a terminal status in time")
	return nil
}

func TestSubmitHappyPath(t *testing.T) {
	env := newTestEnv(t, &fakeParser{spec: compliantSpec()}, &fakeGenerator{}, &fakePublisher{})

	req, err := env.svc.Submit(context.Background(), domain.SubmitInput{
		Request:   "I need a bucket for logs in staging",
		Requester: "casey",
		Team:      "platform",
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	if req.Status != domain.StatusQueued {
		t.Errorf("Expected initial status queued, got %s", req.Status)
	}
	if req.ID == "" {
		t.Fatal("Submit returned empty request ID")
	}

	final := waitTerminal(t, env, req.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("Expected completed, got %s (error: %+v)", final.Status, final.Error)
	}
	if final.Publication == nil || final.Publication.PRNumber != 42 {
		t.Errorf("Expected publication with PR 42, got %+v", final.Publication)
	}
	if final.ArtifactDir != "artifacts/staging/storage-bucket/staging-logs-bucket" {
		t.Errorf("Unexpected artifact dir: %s", final.ArtifactDir)
	}
	if final.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}
	if final.Specification == nil {
		t.Error("Expected specification on the record")
	}
}

func TestPolicyViolationSkipsGeneration(t *testing.T) {
	spec := compliantSpec()
	spec.Tags = map[string]string{} // missing Owner

	gen := &fakeGenerator{}
	env := newTestEnv(t, &fakeParser{spec: spec}, gen, &fakePublisher{})

	req, err := env.svc.Submit(context.Background(), domain.SubmitInput{
		Request:   "bucket without tags",
		Requester: "casey",
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	final := waitTerminal(t, env, req.ID)
	if final.Status != domain.StatusFailed {
		t.Fatalf("Expected failed, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Kind != domain.ErrorKindPolicyViolation {
		t.Fatalf("Expected policy_violation, got %+v", final.Error)
	}
	if !reflect.DeepEqual(final.Error.Violations, []string{"Missing required tag: Owner"}) {
		t.Errorf(`Expected ["Missing required tag: Owner"], got %v`, final.Error.Violations)
	}
	if gen.callCount() != 0 {
		t.Errorf("Generator invoked %d times on a policy-violating request", gen.callCount())
	}
}

func TestParsingFailure(t *testing.T) {
	parser := &fakeParser{err: &llm.SchemaError{Message: "completion service returned invalid JSON"}}
	env := newTestEnv(t, parser, &fakeGenerator{}, &fakePublisher{})

	req, _ := env.svc.Submit(context.Background(), domain.SubmitInput{Request: "???", Requester: "casey"})
	final := waitTerminal(t, env, req.ID)

	if final.Status != domain.StatusFailed {
		t.Fatalf("Expected failed, got %s", final.Status)
	}
	if final.Error.Kind != domain.ErrorKindParsing {
		t.Errorf("Expected parsing_error, got %s", final.Error.Kind)
	}
}

func TestUpstreamFailure(t *testing.T) {
	parser := &fakeParser{err: &llm.ServiceError{StatusCode: 503, Message: "overloaded"}}
	env := newTestEnv(t, parser, &fakeGenerator{}, &fakePublisher{})

	req, _ := env.svc.Submit(context.Background(), domain.SubmitInput{Request: "bucket", Requester: "casey"})
	final := waitTerminal(t, env, req.ID)

	if final.Error == nil || final.Error.Kind != domain.ErrorKindUpstream {
		t.Errorf("Expected upstream_error, got %+v", final.Error)
	}
}

func TestPublicationFailure(t *testing.T) {
	pub := &fakePublisher{err: &publisher.Error{Stage: publisher.StagePullRequest, Message: "creating pull request"}}
	env := newTestEnv(t, &fakeParser{spec: compliantSpec()}, &fakeGenerator{}, pub)

	req, _ := env.svc.Submit(context.Background(), domain.SubmitInput{Request: "bucket", Requester: "casey"})
	final := waitTerminal(t, env, req.ID)

	if final.Status != domain.StatusFailed {
		t.Fatalf("Expected failed, got %s", final.Status)
	}
	if final.Error.Kind != domain.ErrorKindPublication {
		t.Errorf("Expected publication_error, got %s", final.Error.Kind)
	}
	// Generation succeeded before publication failed, so the artifact dir
	// stays on the record for debugging.
	if final.ArtifactDir == "" {
		t.Error("Expected artifact dir on publication failure")
	}
}

func TestEnvironmentOverride(t *testing.T) {
	spec := compliantSpec()
	spec.ResourceName = "prod-logs-bucket"
	spec.Environment = domain.EnvDev // model guessed wrong

	env := newTestEnv(t, &fakeParser{spec: spec}, &fakeGenerator{}, &fakePublisher{})

	req, err := env.svc.Submit(context.Background(), domain.SubmitInput{
		Request:     "bucket for prod logs",
		Requester:   "casey",
		Environment: domain.EnvProd,
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	final := waitTerminal(t, env, req.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("Expected completed, got %s (error: %+v)", final.Status, final.Error)
	}
	if final.Specification.Environment != domain.EnvProd {
		t.Errorf("Expected environment prod after override, got %s", final.Specification.Environment)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, &fakeParser{spec: compliantSpec()}, &fakeGenerator{}, &fakePublisher{})

	tests := []struct {
		name  string
		input domain.SubmitInput
	}{
		{"empty request", domain.SubmitInput{Requester: "casey"}},
		{"empty requester", domain.SubmitInput{Request: "bucket"}},
		{"bad environment", domain.SubmitInput{Request: "bucket", Requester: "casey", Environment: "qa"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Submit(context.Background(), tt.input)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestQueueFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(testPolicyDoc), 0644); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}

	// No Start(): nothing drains the queue.
	svc := New(Config{
		Store:     memory.New(),
		Policies:  policy.NewStore(path),
		Parser:    &fakeParser{spec: compliantSpec()},
		Generator: &fakeGenerator{},
		Publisher: &fakePublisher{},
		Workers:   1,
		QueueSize: 1,
	})

	if _, err := svc.Submit(context.Background(), domain.SubmitInput{Request: "one", Requester: "casey"}); err != nil {
		t.Fatalf("First Submit() error: %v", err)
	}

	_, err := svc.Submit(context.Background(), domain.SubmitInput{Request: "two", Requester: "casey"})
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestDryRunDoesNotPublishOrPersist(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, &fakeParser{spec: compliantSpec()}, &fakeGenerator{}, pub)

	result, err := env.svc.DryRun(context.Background(), domain.SubmitInput{Request: "bucket", Requester: "casey"})
	if err != nil {
		t.Fatalf("DryRun() error: %v", err)
	}
	if result.Error != nil {
		t.Fatalf("Unexpected dry run error: %+v", result.Error)
	}
	if result.Artifact == nil || len(result.Artifact.Files) != 5 {
		t.Errorf("Expected rendered artifact with 5 files, got %+v", result.Artifact)
	}

	pub.mu.Lock()
	calls := pub.calls
	pub.mu.Unlock()
	if calls != 0 {
		t.Errorf("DryRun invoked the publisher %d times", calls)
	}

	requests, err := env.store.ListRequestsByRequester(context.Background(), "casey", 10)
	if err != nil {
		t.Fatalf("ListRequestsByRequester() error: %v", err)
	}
	if len(requests) != 0 {
		t.Errorf("DryRun persisted %d request records", len(requests))
	}
}

func TestDryRunReportsViolations(t *testing.T) {
	spec := compliantSpec()
	spec.Tags = map[string]string{}
	env := newTestEnv(t, &fakeParser{spec: spec}, &fakeGenerator{}, &fakePublisher{})

	result, err := env.svc.DryRun(context.Background(), domain.SubmitInput{Request: "bucket", Requester: "casey"})
	if err != nil {
		t.Fatalf("DryRun() error: %v", err)
	}
	if result.Error == nil || result.Error.Kind != domain.ErrorKindPolicyViolation {
		t.Fatalf("Expected policy_violation, got %+v", result.Error)
	}
	if env.gen.callCount() != 0 {
		t.Error("DryRun invoked the generator on a policy-violating specification")
	}
}

func TestStatusNotFound(t *testing.T) {
	env := newTestEnv(t, &fakeParser{spec: compliantSpec()}, &fakeGenerator{}, &fakePublisher{})

	_, err := env.svc.Status(context.Background(), "req-missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListByRequester(t *testing.T) {
	env := newTestEnv(t, &fakeParser{spec: compliantSpec()}, &fakeGenerator{}, &fakePublisher{})

	var ids []string
	for i := 0; i < 3; i++ {
		req, err := env.svc.Submit(context.Background(), domain.SubmitInput{Request: "bucket", Requester: "casey"})
		if err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
		ids = append(ids, req.ID)
	}
	for _, id := range ids {
		waitTerminal(t, env, id)
	}

	requests, err := env.svc.ListByRequester(context.Background(), "casey", 2)
	if err != nil {
		t.Fatalf("ListByRequester() error: %v", err)
	}
	if len(requests) != 2 {
		t.Errorf("Expected 2 requests with limit 2, got %d", len(requests))
	}

	other, err := env.svc.ListByRequester(context.Background(), "someone-else", 10)
	if err != nil {
		t.Fatalf("ListByRequester() error: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no requests for other requester, got %d", len(other))
	}
}
