package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calebmassey/infra-provisioner/internal/api"
	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/policy"
	"github.com/calebmassey/infra-provisioner/internal/service"
	"github.com/calebmassey/infra-provisioner/internal/storage/memory"
)

const testPolicyDoc = `
naming:
  pattern: "{environment}-{application}-{resource}"
tags:
  required:
    - Owner
security: {}
resources: {}
`

type stubParser struct {
	spec *domain.Specification
}

func (s *stubParser) ParseRequest(_ context.Context, _ string, _ *policy.Ruleset) (*domain.Specification, error) {
	cp := *s.spec
	return &cp, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, spec *domain.Specification) (*domain.RenderedArtifact, error) {
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

type stubPublisher struct{}

func (stubPublisher) Publish(_ context.Context, _ *domain.ProvisionRequest, _ *domain.RenderedArtifact) (*domain.Publication, error) {
	return &domain.Publication{PRNumber: 7, PRURL: "https://github.com/acme/infra/pull/7", BranchName: "provision/test"}, nil
}

// testServer creates a test server with in-memory storage
type testServer struct {
	handler      http.Handler
	store        *memory.Store
	bootstrapKey string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(testPolicyDoc), 0644); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}

	store := memory.New()
	bootstrapKey := "test-bootstrap-key"

	svc := service.New(service.Config{
		Store:    store,
		Policies: policy.NewStore(path),
		Parser: &stubParser{spec: &domain.Specification{
			ResourceType: domain.ResourceStorageBucket,
			ResourceName: "staging-logs-bucket",
			Environment:  domain.EnvStaging,
			Parameters: map[string]any{
				"versioning": true, "encryption": "AES256", "public_access_block": true,
			},
			Tags: map[string]string{"Owner": "platform"},
		}},
		Generator: stubGenerator{},
		Publisher: stubPublisher{},
		Workers:   1,
		QueueSize: 4,
	})
	svc.Start()
	t.Cleanup(svc.Stop)

	handler := api.NewRouter(store, svc, bootstrapKey)

	return &testServer{
		handler:      handler,
		store:        store,
		bootstrapKey: bootstrapKey,
	}
}

func (ts *testServer) request(method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/health", nil, "")

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %s", resp["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	// Request without auth header
	rr := ts.request("GET", "/api/v1/requests?user=casey", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with invalid auth header format
	req := httptest.NewRequest("GET", "/api/v1/requests?user=casey", nil)
	req.Header.Set("Authorization", "Basic invalid")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with invalid API key
	rr = ts.request("GET", "/api/v1/requests?user=casey", nil, "invalid-key")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestBootstrapKeyAuth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/api/v1/requests?user=casey", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 with bootstrap key, got %d", rr.Code)
	}
}

func TestSubmitAndPollRequest(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("POST", "/api/v1/provision", domain.SubmitInput{
		Request:   "I need a bucket for logs in staging",
		Requester: "casey",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var submitted domain.ProvisionRequest
	if err := json.Unmarshal(rr.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if submitted.ID == "" {
		t.Fatal("Expected a request ID")
	}
	if submitted.Status != domain.StatusQueued {
		t.Errorf("Expected status queued, got %s", submitted.Status)
	}

	// Poll until the background run finishes
	deadline := time.Now().Add(5 * time.Second)
	var final domain.ProvisionRequest
	for time.Now().Before(deadline) {
		rr = ts.request("GET", "/api/v1/requests/"+submitted.ID+"/status", nil, ts.bootstrapKey)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &final); err != nil {
			t.Fatalf("Decoding status response: %v", err)
		}
		if final.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if final.Status != domain.StatusCompleted {
		t.Fatalf("Expected completed, got %s (error: %+v)", final.Status, final.Error)
	}
	if final.Publication == nil || final.Publication.PRNumber != 7 {
		t.Errorf("Expected publication with PR 7, got %+v", final.Publication)
	}
}

func TestStatusNotFound(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/api/v1/requests/req-nope/status", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestSubmitInvalidInput(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("POST", "/api/v1/provision", domain.SubmitInput{Requester: "casey"}, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty request text, got %d", rr.Code)
	}
}

func TestListRequiresUserParam(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/api/v1/requests", nil, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without user param, got %d", rr.Code)
	}

	rr = ts.request("GET", "/api/v1/requests?user=casey&limit=zero", nil, ts.bootstrapKey)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad limit, got %d", rr.Code)
	}
}

func TestDryRunEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("POST", "/api/v1/dry-run", domain.SubmitInput{
		Request:   "I need a bucket for logs in staging",
		Requester: "casey",
	}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result service.DryRunResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if result.Artifact == nil || len(result.Artifact.Files) != 5 {
		t.Errorf("Expected artifact with 5 files, got %+v", result.Artifact)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Create API key using bootstrap key
	createReq := domain.CreateAPIKeyRequest{Name: "Test Key"}
	rr := ts.request("POST", "/api/v1/keys", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var created domain.CreateAPIKeyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if created.Key == "" {
		t.Fatal("Expected the key to be returned on creation")
	}

	// Once a real key exists the bootstrap key stops working
	rr = ts.request("GET", "/api/v1/keys", nil, ts.bootstrapKey)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected bootstrap key to be rejected after first key, got %d", rr.Code)
	}

	// The new key works
	rr = ts.request("GET", "/api/v1/keys", nil, created.Key)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 with new key, got %d", rr.Code)
	}

	var keys []domain.APIKey
	if err := json.Unmarshal(rr.Body.Bytes(), &keys); err != nil {
		t.Fatalf("Decoding keys: %v", err)
	}
	if len(keys) != 1 || keys[0].Name != "Test Key" {
		t.Errorf("Unexpected key list: %+v", keys)
	}

	// Delete the key
	rr = ts.request("DELETE", "/api/v1/keys/"+keys[0].ID, nil, created.Key)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}
}
