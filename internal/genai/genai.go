// Package genai provides the completion client: one prompt in, reply text out, over an
// OpenAI-compatible chat completions endpoint.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default endpoint settings.
const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "meta-llama/llama-3.3-8b-instruct:free"
	DefaultTitle   = "Chat App"
	DefaultTimeout = 60 * time.Second
)

// ErrAPIKeyMissing is returned by NewClient when no credential is configured.
var ErrAPIKeyMissing = errors.New("completion API key not set")

// ServiceError reports a non-success response from the completion endpoint.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion service returned status %d: %s", e.StatusCode, e.Message)
}

// NetworkError reports a transport failure before any response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ResponseError reports a success response whose body could not be decoded.
type ResponseError struct {
	Err error
}

func (e *ResponseError) Error() string {
	return "malformed completion response: " + e.Err.Error()
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the completion client.
type Opts struct {
	APIKey  string
	BaseURL string
	Model   string
	Referer string
	Title   string
	Timeout time.Duration
}

// Option defines a configuration option for the completion client.
type Option func(*Opts)

// WithAPIKey sets the bearer credential.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the model identifier sent with each request.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithReferer sets the HTTP-Referer attribution header.
func WithReferer(referer string) Option {
	return func(o *Opts) { o.Referer = referer }
}

// WithTitle sets the X-Title attribution header.
func WithTitle(title string) Option {
	return func(o *Opts) { o.Title = title }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the chat completions service.
type Client struct {
	chat  chatService
	model string
}

// NewClient initializes a completion client. Requests are never retried.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
		Title:   DefaultTitle,
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("genai.NewClient: configuring", "apiKey_set", cfg.APIKey != "", "baseURL", cfg.BaseURL, "model", cfg.Model, "timeout", cfg.Timeout)
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
		option.WithHeader("X-Title", cfg.Title),
	}
	if cfg.Referer != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	cli := openai.NewClient(reqOpts...)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete sends prompt as a single user message and returns the first choice's content.
// An empty reply yields models.NoResponseText. Failures are *ServiceError, *NetworkError or *ResponseError.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	slog.Debug("Client.Complete: sending request", "model", c.model, "promptLength", len(prompt))

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		classified := classify(err)
		slog.Error("Client.Complete: request failed", "model", c.model, "error", classified)
		return "", classified
	}
	if resp == nil || len(resp.Choices) == 0 {
		slog.Warn("Client.Complete: no choices returned", "model", c.model)
		return models.NoResponseText, nil
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		slog.Warn("Client.Complete: empty content returned", "model", c.model)
		return models.NoResponseText, nil
	}
	slog.Debug("Client.Complete: reply received", "model", c.model, "replyLength", len(content))
	return content, nil
}

// classify maps client failures to ServiceError (non-2xx), NetworkError (transport or
// deadline) or ResponseError (anything else, such as an undecodable body).
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ServiceError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &NetworkError{Err: err}
	}
	return &ResponseError{Err: err}
}
