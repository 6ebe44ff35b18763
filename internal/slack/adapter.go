// Package slack connects the bridge to Slack: it receives app mentions over
// Socket Mode, reads thread transcripts, downloads private files and posts
// replies.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/slackagent/internal/backoff"
	"github.com/haasonsaas/slackagent/internal/media"
	"github.com/haasonsaas/slackagent/internal/observability"
	"github.com/haasonsaas/slackagent/internal/thread"
	"github.com/haasonsaas/slackagent/internal/trace"
)

// Config holds the configuration for the Slack adapter.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode

	// FetchAttempts bounds downloads of private files. Default: 3.
	FetchAttempts int
	Retry         backoff.Policy

	// RepliesPageSize is the page size for thread transcript reads. Default: 200.
	RepliesPageSize int

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Validate checks that both tokens are present and well-formed.
func (c Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("slack: bot token is required")
	}
	if !strings.HasPrefix(c.BotToken, "xoxb-") {
		return errors.New("slack: bot token must start with xoxb-")
	}
	if c.AppToken == "" {
		return errors.New("slack: app token is required")
	}
	if !strings.HasPrefix(c.AppToken, "xapp-") {
		return errors.New("slack: app token must start with xapp-")
	}
	return nil
}

// Mention is an app_mention event.
type Mention struct {
	EventID  string
	Channel  string
	User     string
	TS       string
	ThreadTS string
	Text     string
	Files    []media.Attachment
}

// InThread reports whether the mention was posted as a thread reply.
func (m Mention) InThread() bool {
	return m.ThreadTS != ""
}

// DedupeKey identifies the event across Socket Mode redeliveries.
func (m Mention) DedupeKey() string {
	if m.EventID != "" {
		return m.EventID
	}
	return m.Channel + ":" + m.TS
}

// MentionHandler processes one mention. It runs on its own goroutine after
// the event has been acknowledged.
type MentionHandler func(ctx context.Context, mention Mention)

// Reply is an answer to post in a thread.
type Reply struct {
	Channel  string
	ThreadTS string
	Text     string
	Trace    []trace.Record
}

// Adapter implements the Slack side of the bridge.
type Adapter struct {
	cfg       Config
	api       APIClient
	socket    SocketClient
	logger    *slog.Logger
	botUserID string
	wg        sync.WaitGroup
}

// NewAdapter creates an adapter backed by the Slack Web API and Socket Mode.
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(client, socketmode.OptionDebug(false))
	return NewAdapterWithClients(cfg, client, socketModeClient{client: socket}), nil
}

// NewAdapterWithClients creates an adapter over injected clients.
func NewAdapterWithClients(cfg Config, api APIClient, socket SocketClient) *Adapter {
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 3
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}
	if cfg.RepliesPageSize <= 0 {
		cfg.RepliesPageSize = 200
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		api:    api,
		socket: socket,
		logger: logger.With("component", "slack"),
	}
}

// Run authenticates, connects Socket Mode and dispatches mentions to handle
// until ctx is done. It waits for in-flight handlers before returning.
func (a *Adapter) Run(ctx context.Context, handle MentionHandler) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.logger.Info("slack adapter started", "bot_user_id", auth.UserID, "team", auth.Team)

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.socket.RunContext(ctx)
	}()

	defer a.wg.Wait()
	events := a.socket.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("slack: socket mode: %w", err)
		case event, ok := <-events:
			if !ok {
				return nil
			}
			a.handleEvent(ctx, event, handle)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, event socketmode.Event, handle MentionHandler) {
	switch event.Type {
	case socketmode.EventTypeConnecting:
		a.logger.Debug("connecting to socket mode")
	case socketmode.EventTypeConnectionError:
		a.logger.Warn("socket mode connection error", "data", fmt.Sprint(event.Data))
		a.cfg.Metrics.RecordError("slack", "connection")
	case socketmode.EventTypeConnected:
		a.logger.Info("connected to socket mode")
	case socketmode.EventTypeEventsAPI:
		a.handleEventsAPI(ctx, event, handle)
	case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
		if event.Request != nil {
			a.socket.Ack(*event.Request)
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event, handle MentionHandler) {
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		a.logger.Warn("unexpected events api payload", "type", fmt.Sprintf("%T", event.Data))
		return
	}
	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok {
		return
	}
	if ev.User != "" && ev.User == a.botUserID {
		return
	}

	mention := Mention{
		Channel:  ev.Channel,
		User:     ev.User,
		TS:       ev.TimeStamp,
		ThreadTS: ev.ThreadTimeStamp,
		Text:     ev.Text,
	}
	if event.Request != nil {
		eventID, files, err := decodeEnvelope(event.Request.Payload)
		if err != nil {
			a.logger.Warn("decoding mention payload", "channel", ev.Channel, "ts", ev.TimeStamp, "error", err)
		}
		mention.EventID = eventID
		mention.Files = files
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		handle(ctx, mention)
	}()
}

// decodeEnvelope extracts the event ID and attached files from a raw Events
// API payload. slackevents.AppMentionEvent does not carry files.
func decodeEnvelope(payload json.RawMessage) (string, []media.Attachment, error) {
	if len(payload) == 0 {
		return "", nil, nil
	}
	var envelope struct {
		EventID string `json:"event_id"`
		Event   struct {
			Files []slack.File `json:"files"`
		} `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", nil, err
	}
	return envelope.EventID, attachments(envelope.Event.Files), nil
}

func attachments(files []slack.File) []media.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]media.Attachment, 0, len(files))
	for _, f := range files {
		url := f.URLPrivateDownload
		if url == "" {
			url = f.URLPrivate
		}
		out = append(out, media.Attachment{
			ID:       f.ID,
			Name:     f.Name,
			MIMEType: f.Mimetype,
			URL:      url,
		})
	}
	return out
}

// Replies returns the full thread rooted at threadTS, oldest first.
func (a *Adapter) Replies(ctx context.Context, channel, threadTS string) ([]thread.Message, error) {
	var (
		messages []thread.Message
		cursor   string
	)
	for {
		page, hasMore, next, err := a.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channel,
			Timestamp: threadTS,
			Cursor:    cursor,
			Limit:     a.cfg.RepliesPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: conversations.replies %s/%s: %w", channel, threadTS, err)
		}
		for _, msg := range page {
			messages = append(messages, thread.Message{
				TS:    msg.Timestamp,
				User:  msg.User,
				IsBot: a.botAuthored(msg),
				Text:  msg.Text,
				Files: attachments(msg.Files),
			})
		}
		if !hasMore || next == "" {
			return messages, nil
		}
		cursor = next
	}
}

// botAuthored reports whether msg was posted by a bot. Uploads made by this
// bot through files.uploadV2 can arrive without bot_profile, so the bot's own
// user ID counts too.
func (a *Adapter) botAuthored(msg slack.Message) bool {
	if msg.BotProfile != nil || msg.BotID != "" {
		return true
	}
	return a.botUserID != "" && msg.User == a.botUserID
}

// Fetch downloads a private file with the bot token. Transient failures are
// retried with backoff.
func (a *Adapter) Fetch(ctx context.Context, url string) ([]byte, error) {
	data, err := backoff.Retry(ctx, a.cfg.Retry, a.cfg.FetchAttempts, retryableFetch, func(attempt int) ([]byte, error) {
		var buf bytes.Buffer
		if err := a.api.GetFileContext(ctx, url, &buf); err != nil {
			if attempt < a.cfg.FetchAttempts {
				a.logger.DebugContext(ctx, "file download failed", "attempt", attempt, "error", err)
			}
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		a.cfg.Metrics.RecordError("slack", "fetch")
		return nil, fmt.Errorf("slack: download file: %w", err)
	}
	return data, nil
}

func retryableFetch(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return true
	}
	var status interface{ Retryable() bool }
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return true
}

// Publish posts reply in its thread. A non-empty trace is attached as the
// function_call.json artifact with the text as its comment.
func (a *Adapter) Publish(ctx context.Context, reply Reply) error {
	if len(reply.Trace) == 0 {
		_, _, err := a.api.PostMessageContext(ctx, reply.Channel,
			slack.MsgOptionText(reply.Text, false),
			slack.MsgOptionTS(reply.ThreadTS),
		)
		if err != nil {
			a.cfg.Metrics.RecordError("slack", "post")
			return fmt.Errorf("slack: post message: %w", err)
		}
		return nil
	}

	body, err := trace.Encode(reply.Trace)
	if err != nil {
		return fmt.Errorf("slack: encode trace: %w", err)
	}
	_, err = a.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:         reply.Channel,
		ThreadTimestamp: reply.ThreadTS,
		Filename:        trace.ArtifactName,
		Title:           trace.ArtifactName,
		InitialComment:  reply.Text,
		Reader:          bytes.NewReader(body),
		FileSize:        len(body),
	})
	if err != nil {
		a.cfg.Metrics.RecordError("slack", "upload")
		return fmt.Errorf("slack: upload trace: %w", err)
	}
	return nil
}
