package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	app_errors "ollama-chat/internal/errors"
)

const (
	DefaultStatusTimeout   = 3 * time.Second
	DefaultGenerateTimeout = 300 * time.Second

	maxStreamLine = 1 << 20
	maxErrorBody  = 4 << 10
)

// StreamResponse is one decoded line of a streaming generation.
type StreamResponse struct {
	Model     string
	CreatedAt string
	Content   string
	Done      bool
}

// LLMProvider defines the interface for interacting with the local Ollama server.
type LLMProvider interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	// GenerateStream sends every fragment on ch and closes ch before returning.
	GenerateStream(ctx context.Context, req *GenerateRequest, ch chan<- StreamResponse) error
	ListModels(ctx context.Context) ([]string, error)
	Version(ctx context.Context) (string, error)
	// PullModel sends progress on ch and closes ch before returning.
	PullModel(ctx context.Context, req *PullModelRequest, ch chan<- Progress) error
}

type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	System  string   `json:"system,omitempty"`
	Stream  bool     `json:"stream"`
	Options *Options `json:"options,omitempty"`
}

type GenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

type PullModelRequest struct {
	Name   string `json:"name" validate:"required"`
	Stream bool   `json:"stream"`
}

// StatusError is returned when Ollama answers with a non-200 status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama returned status %d", e.Code)
	}
	return fmt.Sprintf("ollama returned status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return app_errors.ErrServer }

type ollamaProvider struct {
	baseURL string
	// generation requests can run for minutes; status checks must fail fast.
	client       *http.Client
	statusClient *http.Client
}

// ProviderOption customizes the provider built by NewOllamaProvider.
type ProviderOption func(*ollamaProvider)

// WithStatusTimeout sets the timeout for version and model-list calls.
func WithStatusTimeout(d time.Duration) ProviderOption {
	return func(p *ollamaProvider) { p.statusClient.Timeout = d }
}

// WithGenerateTimeout sets the timeout for generation and pull calls.
func WithGenerateTimeout(d time.Duration) ProviderOption {
	return func(p *ollamaProvider) { p.client.Timeout = d }
}

func NewOllamaProvider(baseURL string, opts ...ProviderOption) LLMProvider {
	p := &ollamaProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: DefaultGenerateTimeout},
		statusClient: &http.Client{Timeout: DefaultStatusTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ollamaProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false
	resp, err := p.post(ctx, p.client, "/api/generate", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("%w: could not decode generate response: %v", app_errors.ErrDecode, err)
	}
	return &genResp, nil
}

func (p *ollamaProvider) GenerateStream(ctx context.Context, req *GenerateRequest, ch chan<- StreamResponse) error {
	defer close(ch)
	req.Stream = true
	resp, err := p.post(ctx, p.client, "/api/generate", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	type ollamaStreamChunk struct {
		Model     string `json:"model"`
		CreatedAt string `json:"created_at"`
		Response  string `json:"response"`
		Done      bool   `json:"done"`
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// One bad line never aborts the stream.
			slog.Debug("Skipping malformed stream line", "error", err, "line", string(line))
			continue
		}

		select {
		case ch <- StreamResponse{Model: chunk.Model, CreatedAt: chunk.CreatedAt, Content: chunk.Response, Done: chunk.Done}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: stream interrupted: %v", app_errors.ErrUnreachable, err)
	}
	return nil
}

func (p *ollamaProvider) ListModels(ctx context.Context) ([]string, error) {
	resp, err := p.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("%w: could not decode model list: %v", app_errors.ErrDecode, err)
	}

	seen := make(map[string]struct{}, len(tags.Models))
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name == "" {
			continue
		}
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *ollamaProvider) Version(ctx context.Context) (string, error) {
	resp, err := p.get(ctx, "/api/version")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var v struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("%w: could not decode version: %v", app_errors.ErrDecode, err)
	}
	return v.Version, nil
}

func (p *ollamaProvider) PullModel(ctx context.Context, req *PullModelRequest, ch chan<- Progress) error {
	defer close(ch)
	req.Stream = true
	resp, err := p.post(ctx, p.client, "/api/pull", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var status PullStatus
		if err := json.Unmarshal(line, &status); err != nil {
			slog.Debug("Skipping malformed pull line", "error", err, "line", string(line))
			continue
		}
		if status.Error != "" {
			return fmt.Errorf("%w: pull failed: %s", app_errors.ErrServer, status.Error)
		}

		progress := status.Progress()
		select {
		case ch <- progress:
		case <-ctx.Done():
			return ctx.Err()
		}
		if progress.Phase == PhaseSuccess {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: pull interrupted: %v", app_errors.ErrUnreachable, err)
	}
	return nil
}

func (p *ollamaProvider) get(ctx context.Context, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	return p.do(p.statusClient, httpReq)
}

func (p *ollamaProvider) post(ctx context.Context, client *http.Client, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return p.do(client, httpReq)
}

// do executes the request and classifies failures into the transport taxonomy.
// The caller owns the body of a successful response.
func (p *ollamaProvider) do(client *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", app_errors.ErrUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(bodyBytes)}
	}
	return resp, nil
}

// errorMessage extracts Ollama's {"error": "..."} payload, falling back to raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
