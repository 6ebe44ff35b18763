package slack

import (
	"context"
	"io"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// APIClient is the subset of the Slack Web API the bridge uses.
type APIClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// SocketClient is the Socket Mode connection.
type SocketClient interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...interface{})
	Events() <-chan socketmode.Event
}

var _ APIClient = (*slack.Client)(nil)

type socketModeClient struct {
	client *socketmode.Client
}

func (c socketModeClient) RunContext(ctx context.Context) error {
	return c.client.RunContext(ctx)
}

func (c socketModeClient) Ack(req socketmode.Request, payload ...interface{}) {
	c.client.Ack(req, payload...)
}

func (c socketModeClient) Events() <-chan socketmode.Event {
	return c.client.Events
}

// MockAPIClient is a test double for APIClient.
type MockAPIClient struct {
	AuthTestFunc     func(ctx context.Context) (*slack.AuthTestResponse, error)
	RepliesFunc      func(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetFileFunc      func(ctx context.Context, downloadURL string, writer io.Writer) error
	PostMessageFunc  func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Func func(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

func (m *MockAPIClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if m.AuthTestFunc != nil {
		return m.AuthTestFunc(ctx)
	}
	return &slack.AuthTestResponse{UserID: "UBOT", BotID: "BBOT", Team: "TestTeam"}, nil
}

func (m *MockAPIClient) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	if m.RepliesFunc != nil {
		return m.RepliesFunc(ctx, params)
	}
	return nil, false, "", nil
}

func (m *MockAPIClient) GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error {
	if m.GetFileFunc != nil {
		return m.GetFileFunc(ctx, downloadURL, writer)
	}
	_, err := writer.Write([]byte("file:" + downloadURL))
	return err
}

func (m *MockAPIClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.PostMessageFunc != nil {
		return m.PostMessageFunc(ctx, channelID, options...)
	}
	return channelID, "1234567890.123456", nil
}

func (m *MockAPIClient) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	if m.UploadFileV2Func != nil {
		return m.UploadFileV2Func(ctx, params)
	}
	return &slack.FileSummary{ID: "F12345", Title: params.Title}, nil
}

// MockSocketClient is a test double for SocketClient.
type MockSocketClient struct {
	RunFunc    func(ctx context.Context) error
	AckFunc    func(req socketmode.Request, payload ...interface{})
	EventsChan chan socketmode.Event
}

// NewMockSocketClient returns a mock with a buffered event channel.
func NewMockSocketClient() *MockSocketClient {
	return &MockSocketClient{EventsChan: make(chan socketmode.Event, 100)}
}

func (m *MockSocketClient) RunContext(ctx context.Context) error {
	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	if m.AckFunc != nil {
		m.AckFunc(req, payload...)
	}
}

func (m *MockSocketClient) Events() <-chan socketmode.Event {
	return m.EventsChan
}
