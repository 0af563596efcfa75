package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
	"github.com/yungbote/bookdraft-backend/internal/platform/promptstyle"
)

// Client talks to the Responses API and returns the assistant's raw output
// text. JSON parsing is left to the gateway.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int

	temperature *float64

	// Models that rejected temperature once; omitted afterwards.
	noTempMu   sync.RWMutex
	noTempSeen map[string]bool
}

var _ llm.Backend = (*Client)(nil)

func NewClient(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com"), "/")

	var temp *float64
	if raw := strings.ToLower(envutil.String("OPENAI_TEMPERATURE", "0.4")); raw != "off" && raw != "none" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			temp = &f
		}
	}

	return &Client{
		log:     log.With("service", "OpenAIClient"),
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   envutil.String("OPENAI_MODEL", "gpt-4.1"),
		// The gateway owns the call deadline; this only guards against a client
		// constructed without one.
		httpClient:  &http.Client{Timeout: envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 180*time.Second)},
		maxRetries:  envutil.IntRange("OPENAI_MAX_RETRIES", 2, 0, 6),
		temperature: temp,
		noTempSeen:  map[string]bool{},
	}, nil
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model           string         `json:"model"`
	Input           []inputMessage `json:"input"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	Text            struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Status            string `json:"status"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details,omitempty"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
}

func extractOutputText(resp responsesResponse) (text string, refusal string) {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			switch c.Type {
			case "output_text":
				out.WriteString(c.Text)
			case "refusal":
				refusal = c.Refusal
			}
		}
	}
	return out.String(), refusal
}

// Generate asks for a single JSON object in json_object mode. The schema,
// when present, is embedded in the user prompt by the caller; this provider
// does not enforce it.
func (c *Client) Generate(ctx context.Context, call llm.Call) (llm.Output, error) {
	model := strings.TrimSpace(call.Model)
	if model == "" {
		model = c.model
	}
	req := responsesRequest{
		Model: model,
		Input: []inputMessage{
			{Role: "system", Content: promptstyle.ApplySystem(call.System, "json")},
			{Role: "user", Content: call.User},
		},
		MaxOutputTokens: call.MaxTokens,
	}
	req.Text.Format = map[string]any{"type": "json_object"}
	if !c.modelIsNoTemp(model) {
		req.Temperature = c.temperature
	}

	var resp responsesResponse
	err := c.doWithRetry(ctx, "/v1/responses", &req, &resp)
	if err != nil && req.Temperature != nil && isUnsupportedTemperature(err) {
		c.noteNoTemp(model)
		req.Temperature = nil
		err = c.doWithRetry(ctx, "/v1/responses", &req, &resp)
	}
	if err != nil {
		return llm.Output{}, err
	}

	text, refusal := extractOutputText(resp)
	if refusal != "" {
		return llm.Output{}, fmt.Errorf("model refused: %s", refusal)
	}
	out := llm.Output{Text: text, StopReason: resp.Status}
	if resp.IncompleteDetails != nil {
		out.StopReason = resp.IncompleteDetails.Reason
	}
	if strings.TrimSpace(text) == "" {
		return out, fmt.Errorf("no output_text found in response (status=%s)", out.StopReason)
	}
	return out, nil
}

func (c *Client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *Client) doWithRetry(ctx context.Context, path string, body any, out any) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			return nil
		}
		if attempt >= c.maxRetries || !isRetryable(ctx, err) {
			return err
		}

		sleepFor := retryAfter(resp, backoff)
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
}

// Deadline errors are never retried here: the gateway turns them into a
// timeout so the caller can shrink the token budget instead.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}

func retryAfter(resp *http.Response, def time.Duration) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			def = time.Duration(secs) * time.Second
		}
	}
	if def > 10*time.Second {
		return 10 * time.Second
	}
	return def
}

func isUnsupportedTemperature(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(httpErr.Body)
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, needle := range []string{"unsupported parameter", "unknown parameter", "not supported", "does not support", "only the default"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func (c *Client) modelIsNoTemp(model string) bool {
	c.noTempMu.RLock()
	defer c.noTempMu.RUnlock()
	return c.noTempSeen[strings.ToLower(model)]
}

func (c *Client) noteNoTemp(model string) {
	c.noTempMu.Lock()
	c.noTempSeen[strings.ToLower(model)] = true
	c.noTempMu.Unlock()
}
