// Package llm turns natural language infrastructure requests into structured
// specifications using the Anthropic messages API. The core treats this as an
// external collaborator: upstream failures (network, auth, rate limits) are
// reported as ServiceError, while responses that cannot be decoded into a
// valid specification are reported as SchemaError.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/policy"
)

const (
	defaultModel   = "claude-sonnet-4-5"
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	maxTokens      = 4096
)

// Parser parses raw request text into a specification.
type Parser interface {
	ParseRequest(ctx context.Context, text string, rs *policy.Ruleset) (*domain.Specification, error)
}

// ServiceError is an upstream failure: the completion service was
// unreachable, rejected the credentials, or rate-limited the call.
type ServiceError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("completion service error: %s", e.Message)
}

// SchemaError is a data-shape failure: the service responded, but the
// response could not be decoded into a valid specification.
type SchemaError struct {
	Message string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return e.Message
}

// ClientConfig holds configuration for the Anthropic client.
type ClientConfig struct {
	APIKey  string
	Model   string        // defaults to claude-sonnet-4-5
	BaseURL string        // defaults to https://api.anthropic.com
	Timeout time.Duration // per-call timeout, defaults to 60s
}

// Client implements Parser against the Anthropic messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Ensure Client implements Parser.
var _ Parser = (*Client)(nil)

// NewClient creates a new Anthropic client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// -- Anthropic API types --

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// ParseRequest sends the request text to the completion service with a
// ruleset-derived system prompt and decodes the response into a validated
// specification.
func (c *Client) ParseRequest(ctx context.Context, text string, rs *policy.Ruleset) (*domain.Specification, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SchemaError{Message: "infrastructure request cannot be empty"}
	}

	raw, err := c.complete(ctx, BuildSystemPrompt(rs), text)
	if err != nil {
		return nil, err
	}

	return DecodeSpecification(raw)
}

func (c *Client) complete(ctx context.Context, system, userContent string) (string, error) {
	req := apiRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: 0, // deterministic output
		System:      system,
		Messages:    []message{{Role: "user", Content: userContent}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &ServiceError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ServiceError{Message: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &SchemaError{Message: fmt.Sprintf("invalid completion response: %v", err)}
	}

	for _, block := range apiResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", &SchemaError{Message: "completion response contained no text content"}
}

// DecodeSpecification decodes model output into a validated specification.
// Markdown code fences around the JSON are tolerated and stripped.
func DecodeSpecification(raw string) (*domain.Specification, error) {
	cleaned := stripFences(raw)

	var spec domain.Specification
	if err := json.Unmarshal([]byte(cleaned), &spec); err != nil {
		log.Printf("Invalid JSON from completion service: %v", err)
		return nil, &SchemaError{Message: fmt.Sprintf(
			"completion service returned invalid JSON: %v", err)}
	}

	if err := spec.Validate(); err != nil {
		return nil, &SchemaError{Message: err.Error()}
	}

	return &spec, nil
}

// stripFences removes a wrapping markdown code block (```json ... ```).
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	lines := strings.Split(s, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
