package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/gptrelay/pkg/llm"
)

// maxErrorBody bounds how much of an error response is kept in the error text.
const maxErrorBody = 512

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
	now        func() time.Time
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		now: time.Now,
	}
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

type choice struct {
	Message llm.Message `json:"message"`
}

// responseUsage is the OpenAI token usage format.
type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends a chat completion request and returns the full response.
// Every failure is returned as *llm.Error.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	if strings.TrimSpace(c.config.APIKey) == "" {
		return nil, llm.NewError(llm.KindAuthentication, 0, errors.New("no API key configured"))
	}

	reqBody := chatRequest{
		Model:     c.config.Model,
		Messages:  messages,
		MaxTokens: c.config.MaxTokens,
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, llm.NewError(llm.KindUnknown, 0, fmt.Errorf("marshaling request: %w", err))
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewError(llm.KindUnknown, 0, fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, llm.NewError(llm.KindTransient, 0, fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewError(llm.KindTransient, resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, llm.NewError(llm.KindMalformed, resp.StatusCode, fmt.Errorf("parsing response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewError(llm.KindMalformed, resp.StatusCode, errors.New("no choices in response"))
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return nil, llm.NewError(llm.KindMalformed, resp.StatusCode, errors.New("empty completion content"))
	}

	return &llm.Response{
		Content: content,
		Usage: llm.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
	}, nil
}

// statusError maps a non-200 response onto an error kind.
func (c *Client) statusError(resp *http.Response, body []byte) *llm.Error {
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	cause := fmt.Errorf("API error: %s", text)

	code := resp.StatusCode
	switch {
	case code == http.StatusTooManyRequests:
		e := llm.NewError(llm.KindRateLimited, code, cause)
		e.RetryAfter = c.retryAfter(resp.Header)
		return e
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return llm.NewError(llm.KindAuthentication, code, cause)
	case code == http.StatusRequestTimeout || code == http.StatusConflict || code >= 500:
		return llm.NewError(llm.KindTransient, code, cause)
	default:
		return llm.NewError(llm.KindUnknown, code, cause)
	}
}

// retryAfter reads the wait requested by the service. It understands the
// non-standard retry-after-ms header as well as Retry-After in seconds or
// as an HTTP date.
func (c *Client) retryAfter(h http.Header) time.Duration {
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(c.now()); d > 0 {
			return d
		}
	}
	return 0
}
