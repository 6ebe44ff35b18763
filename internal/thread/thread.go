// Package thread rebuilds the model conversation for a mention from the chat
// thread it was posted in.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/slackagent/internal/conversation"
	"github.com/haasonsaas/slackagent/internal/media"
	"github.com/haasonsaas/slackagent/internal/trace"
)

// ErrEmptyThread is returned when a transcript has no messages.
var ErrEmptyThread = errors.New("thread has no messages")

// Message is one chat message of a thread transcript, oldest first.
type Message struct {
	TS    string
	User  string
	IsBot bool
	Text  string
	Files []media.Attachment
}

// MediaResolver turns an attachment into an uploaded media reference.
// A nil reference without error means the attachment is not supported.
type MediaResolver interface {
	Resolve(ctx context.Context, att media.Attachment, fetch media.FetchFunc) (*conversation.Media, error)
}

// Reconstructor converts thread transcripts into a conversation.Context.
type Reconstructor struct {
	Media  MediaResolver
	Fetch  media.FetchFunc
	Logger *slog.Logger
}

func (r *Reconstructor) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Reconstruct builds the context for the last message of messages. Each
// message contributes exactly one Turn, preceded by the turns of any trace
// artifact attached to it.
func (r *Reconstructor) Reconstruct(ctx context.Context, messages []Message) (conversation.Context, error) {
	if len(messages) == 0 {
		return conversation.Context{}, ErrEmptyThread
	}

	var turns []conversation.Turn
	for _, msg := range messages {
		role := conversation.RoleUser
		if msg.IsBot {
			role = conversation.RoleModel
		}

		spliced, parts, err := r.messageParts(ctx, msg.TS, msg.Text, msg.Files)
		if err != nil {
			return conversation.Context{}, err
		}
		turns = append(turns, spliced...)
		turns = append(turns, conversation.Turn{Role: role, Parts: parts})
	}

	last := turns[len(turns)-1]
	return conversation.Context{
		Incoming: last.Parts,
		Prior:    turns[:len(turns)-1],
	}, nil
}

// FromEvent builds the context for a mention outside any thread: the
// incoming message is the event text followed by its media, and there is no
// history. Trace artifacts are ignored since there is nothing to replay them
// into.
func (r *Reconstructor) FromEvent(ctx context.Context, text string, files []media.Attachment) (conversation.Context, error) {
	var parts []conversation.Part
	if text != "" {
		parts = append(parts, conversation.Text{Text: text})
	}
	for _, file := range files {
		if file.Name == trace.ArtifactName {
			r.logger().DebugContext(ctx, "ignoring trace artifact on top-level mention", "file_id", file.ID)
			continue
		}
		ref, err := r.resolveMedia(ctx, "", file)
		if err != nil {
			return conversation.Context{}, err
		}
		if ref != nil {
			parts = append(parts, *ref)
		}
	}
	return conversation.Context{Incoming: parts}, nil
}

func (r *Reconstructor) messageParts(ctx context.Context, ts, text string, files []media.Attachment) ([]conversation.Turn, []conversation.Part, error) {
	var (
		spliced []conversation.Turn
		parts   []conversation.Part
	)
	for _, file := range files {
		if file.Name == trace.ArtifactName {
			turns, err := r.decodeArtifact(ctx, file)
			if err != nil {
				return nil, nil, fmt.Errorf("message %s: %w", ts, err)
			}
			spliced = append(spliced, turns...)
			continue
		}

		ref, err := r.resolveMedia(ctx, ts, file)
		if err != nil {
			return nil, nil, err
		}
		if ref != nil {
			parts = append(parts, *ref)
		}
	}
	if text != "" {
		parts = append(parts, conversation.Text{Text: text})
	}
	return spliced, parts, nil
}

// resolveMedia returns nil for attachments that cannot be resolved; only
// cancellation of ctx is reported as an error.
func (r *Reconstructor) resolveMedia(ctx context.Context, ts string, file media.Attachment) (*conversation.Media, error) {
	if r.Media == nil {
		return nil, nil
	}
	ref, err := r.Media.Resolve(ctx, file, r.Fetch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger().WarnContext(ctx, "dropping attachment",
			"message_ts", ts,
			"file_id", file.ID,
			"file_name", file.Name,
			"error", err,
		)
		return nil, nil
	}
	return ref, nil
}

func (r *Reconstructor) decodeArtifact(ctx context.Context, file media.Attachment) ([]conversation.Turn, error) {
	if r.Fetch == nil {
		return nil, fmt.Errorf("fetch trace artifact %s: no fetcher configured", file.ID)
	}
	data, err := r.Fetch(ctx, file.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch trace artifact %s: %w", file.ID, err)
	}
	turns, err := trace.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode trace artifact %s: %w", file.ID, err)
	}
	return turns, nil
}
