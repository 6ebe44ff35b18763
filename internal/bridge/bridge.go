// Package bridge handles one Slack mention end to end: rebuild the thread
// conversation, run the agent and post its answer.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/slackagent/internal/agent"
	"github.com/haasonsaas/slackagent/internal/cache"
	"github.com/haasonsaas/slackagent/internal/conversation"
	"github.com/haasonsaas/slackagent/internal/media"
	"github.com/haasonsaas/slackagent/internal/observability"
	"github.com/haasonsaas/slackagent/internal/slack"
	"github.com/haasonsaas/slackagent/internal/thread"
)

// Transcripts reads thread history.
type Transcripts interface {
	Replies(ctx context.Context, channel, threadTS string) ([]thread.Message, error)
}

// Reconstructor builds the model conversation for a mention.
type Reconstructor interface {
	Reconstruct(ctx context.Context, messages []thread.Message) (conversation.Context, error)
	FromEvent(ctx context.Context, text string, files []media.Attachment) (conversation.Context, error)
}

// Runner runs one agent turn.
type Runner interface {
	Run(ctx context.Context, input conversation.Context) (*agent.Result, error)
}

// Publisher posts replies.
type Publisher interface {
	Publish(ctx context.Context, reply slack.Reply) error
}

// Config wires a Handler.
type Config struct {
	Transcripts   Transcripts
	Reconstructor Reconstructor
	Agent         Runner
	Publisher     Publisher

	// Dedupe drops redelivered events. Nil disables deduplication.
	Dedupe *cache.Dedupe

	// TurnTimeout bounds a whole turn. Zero means no limit.
	TurnTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Handler processes mentions. Turns in the same thread run one at a time.
type Handler struct {
	cfg    Config
	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:    cfg,
		logger: logger.With("component", "bridge"),
		locks:  make(map[string]*threadLock),
	}
}

// OnMention adapts the handler to slack.MentionHandler. Failures are logged
// and counted by HandleMention.
func (h *Handler) OnMention(ctx context.Context, mention slack.Mention) {
	_ = h.HandleMention(ctx, mention)
}

// HandleMention runs the turn for mention. On any failure nothing is posted
// and the event is released from the dedupe cache.
func (h *Handler) HandleMention(ctx context.Context, mention slack.Mention) (err error) {
	if h.cfg.Dedupe != nil && h.cfg.Dedupe.Seen(mention.DedupeKey()) {
		h.logger.DebugContext(ctx, "dropping redelivered mention", "event_id", mention.EventID, "ts", mention.TS)
		h.cfg.Metrics.MentionHandled("duplicate", 0)
		return nil
	}

	turnID := uuid.NewString()
	threadKey := mention.Channel + ":" + rootTS(mention)
	ctx = observability.WithTurn(ctx, turnID, rootTS(mention))
	if h.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.TurnTimeout)
		defer cancel()
	}

	ctx, span := h.cfg.Tracer.Start(ctx, "turn",
		attribute.String("turn_id", turnID),
		attribute.String("channel", mention.Channel),
		attribute.Bool("in_thread", mention.InThread()),
	)
	start := time.Now()
	defer func() {
		observability.EndSpan(span, err)
		if err != nil {
			// Nothing was posted, so a redelivery of this event may retry it.
			if h.cfg.Dedupe != nil {
				h.cfg.Dedupe.Forget(mention.DedupeKey())
			}
			h.cfg.Metrics.MentionHandled("failed", time.Since(start))
			h.logger.ErrorContext(ctx, "turn failed",
				"channel", mention.Channel,
				"ts", mention.TS,
				"trace_id", observability.TraceID(ctx),
				"error", err,
			)
			return
		}
		h.cfg.Metrics.MentionHandled("replied", time.Since(start))
	}()

	unlock := h.lockThread(threadKey)
	defer unlock()

	h.logger.InfoContext(ctx, "handling mention",
		"channel", mention.Channel,
		"user", mention.User,
		"ts", mention.TS,
		"files", len(mention.Files),
	)

	input, err := h.buildContext(ctx, mention)
	if err != nil {
		h.cfg.Metrics.RecordError("thread", "reconstruct")
		return err
	}

	result, err := h.cfg.Agent.Run(ctx, input)
	if err != nil {
		h.cfg.Metrics.RecordError("agent", "run")
		return fmt.Errorf("run agent: %w", err)
	}

	reply := slack.Reply{
		Channel:  mention.Channel,
		ThreadTS: mention.TS,
		Text:     result.Text,
		Trace:    result.Trace,
	}
	if err := h.cfg.Publisher.Publish(ctx, reply); err != nil {
		h.cfg.Metrics.RecordError("bridge", "publish")
		return fmt.Errorf("publish reply: %w", err)
	}
	h.logger.InfoContext(ctx, "replied",
		"channel", mention.Channel,
		"tool_rounds", result.Rounds,
		"trace_records", len(result.Trace),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (h *Handler) buildContext(ctx context.Context, mention slack.Mention) (conversation.Context, error) {
	if !mention.InThread() {
		input, err := h.cfg.Reconstructor.FromEvent(ctx, mention.Text, mention.Files)
		if err != nil {
			return conversation.Context{}, fmt.Errorf("build message: %w", err)
		}
		return input, nil
	}

	messages, err := h.cfg.Transcripts.Replies(ctx, mention.Channel, mention.ThreadTS)
	if err != nil {
		return conversation.Context{}, fmt.Errorf("read thread: %w", err)
	}
	input, err := h.cfg.Reconstructor.Reconstruct(ctx, upTo(messages, mention.TS))
	if err != nil {
		return conversation.Context{}, fmt.Errorf("reconstruct thread: %w", err)
	}
	return input, nil
}

// upTo drops messages posted after the mention so the mention is always the
// incoming message.
func upTo(messages []thread.Message, ts string) []thread.Message {
	for i, msg := range messages {
		if msg.TS == ts {
			return messages[:i+1]
		}
	}
	return messages
}

func rootTS(m slack.Mention) string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	return m.TS
}

func (h *Handler) lockThread(key string) func() {
	h.locksMu.Lock()
	lock := h.locks[key]
	if lock == nil {
		lock = &threadLock{}
		h.locks[key] = lock
	}
	lock.refs++
	h.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		h.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(h.locks, key)
		}
		h.locksMu.Unlock()
	}
}
