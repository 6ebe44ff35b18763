// Package gemini adapts the Google Gen AI SDK to the agent's model session API
// and the media resolver's file API.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/haasonsaas/slackagent/internal/agent"
	"github.com/haasonsaas/slackagent/internal/backoff"
	"github.com/haasonsaas/slackagent/internal/conversation"
	"github.com/haasonsaas/slackagent/internal/media"
	"github.com/haasonsaas/slackagent/internal/observability"
	"github.com/haasonsaas/slackagent/internal/tools"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.0-flash-exp"

// Config configures the Gemini client.
type Config struct {
	APIKey            string
	Model             string
	SystemInstruction string

	// MaxRetries is the number of attempts per model request on transient
	// errors (429, 5xx). Default: 3.
	MaxRetries int
	Retry      backoff.Policy

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

type chat interface {
	Send(ctx context.Context, parts ...*genai.Part) (*genai.GenerateContentResponse, error)
}

type chatFactory func(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chat, error)

type fileAPI interface {
	Upload(ctx context.Context, r io.Reader, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	List(ctx context.Context, config *genai.ListFilesConfig) (genai.Page[genai.File], error)
}

// Client implements agent.ModelClient and media.FileService.
type Client struct {
	newChat chatFactory
	files   fileAPI
	config  Config
	logger  *slog.Logger
}

var (
	_ agent.ModelClient = (*Client)(nil)
	_ media.FileService = (*Client)(nil)
)

// New creates a client for the Gemini API.
func New(ctx context.Context, config Config) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("gemini: API key is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	factory := func(ctx context.Context, model string, cfg *genai.GenerateContentConfig, history []*genai.Content) (chat, error) {
		return gc.Chats.Create(ctx, model, cfg, history)
	}
	return newClient(factory, gc.Files, config), nil
}

func newClient(factory chatFactory, files fileAPI, config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.Retry.Initial <= 0 {
		config.Retry = backoff.DefaultPolicy()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		newChat: factory,
		files:   files,
		config:  config,
		logger:  logger.With("component", "gemini"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// Open starts a chat seeded with prior and able to call declared.
func (c *Client) Open(ctx context.Context, declared []tools.Tool, prior []conversation.Turn) (agent.Session, error) {
	cfg := &genai.GenerateContentConfig{Tools: ToTools(declared)}
	if c.config.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(c.config.SystemInstruction, genai.RoleUser)
	}
	ch, err := c.newChat(ctx, c.config.Model, cfg, ToContents(prior))
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat: %w", err)
	}
	return &session{client: c, chat: ch}, nil
}

type session struct {
	client *Client
	chat   chat
}

// Send sends parts as the next user message. Transient API errors are retried;
// the chat only records history for successful sends.
func (s *session) Send(ctx context.Context, parts []conversation.Part) (*agent.Response, error) {
	c := s.client
	ctx, span := c.config.Tracer.Start(ctx, "model.send",
		attribute.String("model", c.config.Model),
		attribute.Int("parts", len(parts)),
	)
	start := time.Now()

	resp, err := backoff.Retry(ctx, c.config.Retry, c.config.MaxRetries, isRetryable, func(attempt int) (*genai.GenerateContentResponse, error) {
		if attempt > 1 {
			c.logger.WarnContext(ctx, "retrying model request", "attempt", attempt)
		}
		return s.chat.Send(ctx, ToParts(parts)...)
	})

	status := "success"
	if err != nil {
		status = "error"
		c.config.Metrics.RecordError("gemini", errorType(err))
	}
	c.config.Metrics.RecordModelRequest(c.config.Model, status, time.Since(start))
	observability.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("gemini: send: %w", err)
	}
	return &agent.Response{Parts: FromResponse(resp)}, nil
}

// Upload stores data under displayName.
func (c *Client) Upload(ctx context.Context, data []byte, displayName, mimeType string) (*media.RemoteFile, error) {
	file, err := c.files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: upload %s: %w", displayName, err)
	}
	return toRemote(file), nil
}

// Get returns the current state of handle. Missing or inaccessible files
// report media.ErrHandleGone.
func (c *Client) Get(ctx context.Context, handle string) (*media.RemoteFile, error) {
	file, err := c.files.Get(ctx, handle, nil)
	if err != nil {
		if code := statusCode(err); code == http.StatusNotFound || code == http.StatusForbidden {
			return nil, fmt.Errorf("gemini: get %s: %w", handle, media.ErrHandleGone)
		}
		return nil, fmt.Errorf("gemini: get %s: %w", handle, err)
	}
	return toRemote(file), nil
}

// List returns up to pageSize of the most recent uploads.
func (c *Client) List(ctx context.Context, pageSize int) ([]*media.RemoteFile, error) {
	page, err := c.files.List(ctx, &genai.ListFilesConfig{PageSize: int32(pageSize)})
	if err != nil {
		return nil, fmt.Errorf("gemini: list files: %w", err)
	}
	files := make([]*media.RemoteFile, 0, len(page.Items))
	for _, item := range page.Items {
		if item != nil {
			files = append(files, toRemote(item))
		}
	}
	return files, nil
}

func toRemote(file *genai.File) *media.RemoteFile {
	if file == nil {
		return &media.RemoteFile{}
	}
	return &media.RemoteFile{
		Handle:      file.Name,
		DisplayName: file.DisplayName,
		URI:         file.URI,
		MIMEType:    file.MIMEType,
		State:       toState(file.State),
	}
}

func toState(state genai.FileState) media.FileState {
	switch state {
	case genai.FileStateProcessing:
		return media.StateProcessing
	case genai.FileStateActive:
		return media.StateActive
	case genai.FileStateFailed:
		return media.StateFailed
	default:
		return media.StateUnspecified
	}
}

func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

// isRetryable reports whether err is a rate limit, server error or timeout.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code := statusCode(err); code != 0 {
		return code == http.StatusTooManyRequests || code >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "deadline exceeded", "connection reset", "connection refused", "unavailable"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func errorType(err error) string {
	code := statusCode(err)
	switch {
	case code == http.StatusTooManyRequests:
		return "rate_limit"
	case code >= 500:
		return "server"
	case code >= 400:
		return "client"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}
