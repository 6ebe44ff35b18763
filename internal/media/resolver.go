// Package media maps chat attachments to files uploaded to the model backend,
// reusing earlier uploads of the same attachment where the backend still has them.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/slackagent/internal/backoff"
	"github.com/haasonsaas/slackagent/internal/conversation"
	"github.com/haasonsaas/slackagent/internal/observability"
)

var (
	// ErrHandleGone is returned by a FileService when a handle no longer exists
	// or is no longer readable by this client.
	ErrHandleGone = errors.New("file handle no longer exists")

	// ErrResolution wraps any fetch, upload or backend failure.
	ErrResolution = errors.New("media resolution failed")

	// ErrProcessingTimeout indicates async media never left the processing state.
	ErrProcessingTimeout = errors.New("media processing timed out")
)

// RemoteFile is a file as reported by the model backend.
type RemoteFile struct {
	Handle      string
	DisplayName string
	URI         string
	MIMEType    string
	State       FileState
}

// FileService is the model backend's file API.
type FileService interface {
	Upload(ctx context.Context, data []byte, displayName, mimeType string) (*RemoteFile, error)
	Get(ctx context.Context, handle string) (*RemoteFile, error)
	List(ctx context.Context, pageSize int) ([]*RemoteFile, error)
}

// Attachment identifies an external file attached to a chat message.
type Attachment struct {
	ID       string
	Name     string
	MIMEType string
	URL      string
}

// FetchFunc downloads the raw bytes behind an attachment URL.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Config tunes the resolver.
type Config struct {
	// PollInterval is the wait between state checks of async media. Default: 5s.
	PollInterval time.Duration

	// MaxPollAttempts caps state checks before ErrProcessingTimeout. Default: 60.
	MaxPollAttempts int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Resolver resolves attachments to uploaded media references.
type Resolver struct {
	files    FileService
	cache    *Cache
	cfg      Config
	logger   *slog.Logger
	inflight inflight[*conversation.Media]
}

// NewResolver creates a resolver backed by files and cache. A nil cache gets a
// fresh one.
func NewResolver(files FileService, cache *Cache, cfg Config) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 60
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		files:  files,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With("component", "media"),
	}
}

// Cache returns the underlying upload cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Warm seeds the cache from the most recent uploads, keyed by display name.
func (r *Resolver) Warm(ctx context.Context, pageSize int) (int, error) {
	files, err := r.files.List(ctx, pageSize)
	if err != nil {
		return 0, fmt.Errorf("warm media cache: %w", err)
	}
	added := 0
	for _, f := range files {
		if f == nil || f.DisplayName == "" {
			continue
		}
		if r.cache.PutIfAbsent(CachedUpload{
			ExternalID: f.DisplayName,
			Handle:     f.Handle,
			URI:        f.URI,
			MIMEType:   f.MIMEType,
			State:      f.State,
		}) {
			added++
		}
	}
	r.logger.Info("media cache warmed", "files", len(files), "cached", added)
	return added, nil
}

// Resolve returns a media reference for att, or nil when its MIME type is not
// supported. Errors wrap ErrResolution or ErrProcessingTimeout.
func (r *Resolver) Resolve(ctx context.Context, att Attachment, fetch FetchFunc) (*conversation.Media, error) {
	mime := ResolveMIME(att.MIMEType, att.Name)
	if !Supported(mime) {
		r.cfg.Metrics.MediaResolved("unsupported")
		r.logger.Debug("dropping unsupported attachment", "file_id", att.ID, "mime_type", att.MIMEType)
		return nil, nil
	}
	att.MIMEType = mime

	key := att.ID
	if key == "" {
		key = att.URL
	}
	ref, err, shared := r.inflight.do(key, func() (*conversation.Media, error) {
		return r.resolve(ctx, att, fetch)
	})
	if shared {
		r.logger.Debug("shared in-flight media resolution", "file_id", att.ID)
	}
	return ref, err
}

func (r *Resolver) resolve(ctx context.Context, att Attachment, fetch FetchFunc) (_ *conversation.Media, err error) {
	ctx, span := r.cfg.Tracer.Start(ctx, "media.resolve",
		attribute.String("file_id", att.ID),
		attribute.String("mime_type", att.MIMEType),
		attribute.String("media_kind", string(KindFromMIME(att.MIMEType))),
	)
	defer func() { observability.EndSpan(span, err) }()

	var file *RemoteFile
	outcome := "upload"
	if cached, ok := r.cache.Get(att.ID); ok {
		current, getErr := r.files.Get(ctx, cached.Handle)
		switch {
		case getErr == nil:
			file = current
			outcome = "hit"
		case errors.Is(getErr, ErrHandleGone):
			r.logger.Info("cached upload gone, re-uploading", "file_id", att.ID, "handle", cached.Handle)
			r.cache.Delete(att.ID)
			outcome = "reupload"
		default:
			r.cfg.Metrics.MediaResolved("error")
			return nil, fmt.Errorf("%w: get %s: %v", ErrResolution, cached.Handle, getErr)
		}
	}

	if file == nil {
		if fetch == nil {
			r.cfg.Metrics.MediaResolved("error")
			return nil, fmt.Errorf("%w: no fetcher for %s", ErrResolution, att.ID)
		}
		data, fetchErr := fetch(ctx, att.URL)
		if fetchErr != nil {
			r.cfg.Metrics.MediaResolved("error")
			return nil, fmt.Errorf("%w: fetch %s: %v", ErrResolution, att.ID, fetchErr)
		}
		uploaded, upErr := r.files.Upload(ctx, data, att.ID, att.MIMEType)
		if upErr != nil {
			r.cfg.Metrics.MediaResolved("error")
			return nil, fmt.Errorf("%w: upload %s: %v", ErrResolution, att.ID, upErr)
		}
		file = uploaded
		r.logger.Info("uploaded attachment", "file_id", att.ID, "handle", file.Handle, "bytes", len(data))
	}

	if IsAsync(att.MIMEType) && file.State == StateProcessing {
		file, err = r.waitProcessed(ctx, att, file)
		if err != nil {
			return nil, err
		}
	}
	if file.State == StateFailed {
		r.cache.Delete(att.ID)
		r.cfg.Metrics.MediaResolved("error")
		return nil, fmt.Errorf("%w: backend failed to process %s", ErrResolution, att.ID)
	}

	r.remember(att, file)
	r.cfg.Metrics.MediaResolved(outcome)
	span.SetAttributes(attribute.String("outcome", outcome))

	mime := file.MIMEType
	if mime == "" {
		mime = att.MIMEType
	}
	return &conversation.Media{Handle: file.Handle, URI: file.URI, MIMEType: mime}, nil
}

// waitProcessed polls until file leaves the processing state. The handle is
// cached even on timeout so a later turn resumes waiting instead of uploading again.
func (r *Resolver) waitProcessed(ctx context.Context, att Attachment, file *RemoteFile) (*RemoteFile, error) {
	handle := file.Handle
	r.logger.Info("waiting for media processing", "file_id", att.ID, "handle", handle)

	done, err := backoff.Poll(ctx, r.cfg.PollInterval, r.cfg.MaxPollAttempts, func(int) (*RemoteFile, bool, error) {
		current, err := r.files.Get(ctx, handle)
		if err != nil {
			return nil, false, err
		}
		return current, current.State != StateProcessing, nil
	})
	switch {
	case err == nil:
		return done, nil
	case errors.Is(err, backoff.ErrPollExhausted):
		r.remember(att, file)
		r.cfg.Metrics.MediaResolved("timeout")
		return nil, fmt.Errorf("%w: %s still processing after %d checks", ErrProcessingTimeout, handle, r.cfg.MaxPollAttempts)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		r.cfg.Metrics.MediaResolved("error")
		return nil, fmt.Errorf("%w: poll %s: %v", ErrResolution, handle, err)
	}
}

func (r *Resolver) remember(att Attachment, file *RemoteFile) {
	r.cache.Put(CachedUpload{
		ExternalID: att.ID,
		Handle:     file.Handle,
		URI:        file.URI,
		MIMEType:   att.MIMEType,
		State:      file.State,
	})
}
