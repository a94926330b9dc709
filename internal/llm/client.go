// Package llm is a small chat-completions client that asks for strictly
// structured JSON output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-4o-mini"
	maxBodyBytes   = 1 << 20
)

var retryDelay = 2 * time.Second

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("llm: api key not configured")
	// ErrMalformedOutput is returned when the model answered but its content
	// is not the requested JSON shape.
	ErrMalformedOutput = errors.New("llm: malformed structured output")
)

// ── Error type ───────────────────────────────────────────────────────────────

type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func isClientError(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 400 && ae.StatusCode < 500 && ae.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// IsUnavailable reports whether err means the service could not be reached
// or refused to serve, as opposed to answering with something unusable.
func IsUnavailable(err error) bool {
	if err == nil || errors.Is(err, ErrMalformedOutput) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		switch {
		case ae.StatusCode >= 500, ae.StatusCode == http.StatusTooManyRequests,
			ae.StatusCode == http.StatusUnauthorized, ae.StatusCode == http.StatusForbidden,
			ae.StatusCode == http.StatusPaymentRequired:
			return true
		}
		return false
	}
	return true
}

// ── Client ───────────────────────────────────────────────────────────────────

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	apiKey     string
	endpoint   string
	model      string
	timeout    time.Duration
	maxRetries int
	http       *http.Client
	log        *zap.Logger
}

func New(o Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := o.Model
	if model == "" {
		model = defaultModel
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := o.MaxRetries
	if retries < 0 {
		retries = 0
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		apiKey:     strings.TrimSpace(o.APIKey),
		endpoint:   base + "/chat/completions",
		model:      model,
		timeout:    timeout,
		maxRetries: retries,
		http:       hc,
		log:        log,
	}
}

// Configured reports whether the client has credentials to call out.
func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// Schema names a strict JSON schema for the response_format parameter.
type Schema struct {
	Name   string
	Schema map[string]any
}

// ── Response types ───────────────────────────────────────────────────────────

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Choices []chatCompletionChoice `json:"choices"`
	Error   *errorPayload          `json:"error,omitempty"`
}

type chatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      chatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Providers disagree on whether the code is a number or a string.
type errorPayload struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// ── Public API ───────────────────────────────────────────────────────────────

// CompleteJSON sends a system and user message and decodes the assistant's
// structured answer into out. Transport failures and 5xx answers are retried;
// client errors and malformed output are not.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, schema Schema, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schema.Name,
				"strict": true,
				"schema": schema.Schema,
			},
		},
		"temperature": 0.0,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		content, err := c.execute(ctx, bodyBytes)
		if err == nil {
			if err := decodeContent(content, out); err != nil {
				return err
			}
			return nil
		}
		lastErr = err
		if isClientError(err) || ctx.Err() != nil {
			break
		}
		c.log.Warn("llm request failed", zap.String("schema", schema.Name), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("%s failed after %d attempts: %w", schema.Name, c.maxRetries+1, lastErr)
}

// ── Internal ─────────────────────────────────────────────────────────────────

func (c *Client) execute(ctx context.Context, bodyBytes []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "catalogctl/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", parseAPIError(resp.StatusCode, rawBody)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(rawBody, &completion); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrMalformedOutput, err)
	}

	// Some gateways answer 200 with an inline error object.
	if completion.Error != nil && completion.Error.Message != "" {
		return "", &APIError{
			StatusCode: http.StatusBadGateway,
			Code:       codeString(completion.Error.Code),
			Message:    completion.Error.Message,
		}
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices in response", ErrMalformedOutput)
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content in response", ErrMalformedOutput)
	}
	return content, nil
}

func decodeContent(content string, out any) error {
	content = stripFence(content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: %v (raw: %.200s)", ErrMalformedOutput, err, content)
	}
	return nil
}

// stripFence drops a markdown code fence some models wrap JSON in even when
// asked not to.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error errorPayload `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       codeString(errResp.Error.Code),
			Message:    errResp.Error.Message,
		}
	}

	msg := string(body)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return &APIError{StatusCode: statusCode, Code: "unknown", Message: msg}
}

func codeString(v any) string {
	switch c := v.(type) {
	case nil:
		return "unknown"
	case string:
		return c
	case float64:
		return fmt.Sprintf("%d", int64(c))
	default:
		return fmt.Sprint(c)
	}
}
