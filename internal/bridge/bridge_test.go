package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/slackagent/internal/agent"
	"github.com/haasonsaas/slackagent/internal/cache"
	"github.com/haasonsaas/slackagent/internal/conversation"
	"github.com/haasonsaas/slackagent/internal/slack"
	"github.com/haasonsaas/slackagent/internal/thread"
	"github.com/haasonsaas/slackagent/internal/tools"
	"github.com/haasonsaas/slackagent/internal/trace"
)

type fakeTranscripts struct {
	messages []thread.Message
	err      error
	calls    int32
}

func (f *fakeTranscripts) Replies(ctx context.Context, channel, threadTS string) ([]thread.Message, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.messages, f.err
}

type fakeRunner struct {
	mu      sync.Mutex
	inputs  []conversation.Context
	result  *agent.Result
	err     error
	delay   time.Duration
	running int32
	overlap int32
}

func (f *fakeRunner) Run(ctx context.Context, input conversation.Context) (*agent.Result, error) {
	if atomic.AddInt32(&f.running, 1) > 1 {
		atomic.StoreInt32(&f.overlap, 1)
	}
	defer atomic.AddInt32(&f.running, -1)
	time.Sleep(f.delay)
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	return f.result, f.err
}

type fakePublisher struct {
	mu      sync.Mutex
	replies []slack.Reply
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, reply slack.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.replies = append(f.replies, reply)
	return nil
}

func newHandler(transcripts *fakeTranscripts, runner *fakeRunner, publisher *fakePublisher) *Handler {
	return New(Config{
		Transcripts:   transcripts,
		Reconstructor: &thread.Reconstructor{},
		Agent:         runner,
		Publisher:     publisher,
		Dedupe:        cache.NewDedupe(cache.DedupeOptions{TTL: time.Minute}),
	})
}

func TestHandleMentionTopLevel(t *testing.T) {
	transcripts := &fakeTranscripts{}
	runner := &fakeRunner{result: &agent.Result{Text: "Hello!"}}
	publisher := &fakePublisher{}
	h := newHandler(transcripts, runner, publisher)

	err := h.HandleMention(context.Background(), slack.Mention{EventID: "Ev1", Channel: "C1", TS: "100.1", Text: "hi"})
	if err != nil {
		t.Fatalf("HandleMention() error = %v", err)
	}
	if transcripts.calls != 0 {
		t.Fatal("top-level mentions must not read a transcript")
	}
	if len(runner.inputs) != 1 || len(runner.inputs[0].Prior) != 0 {
		t.Fatalf("inputs = %#v", runner.inputs)
	}
	want := slack.Reply{Channel: "C1", ThreadTS: "100.1", Text: "Hello!"}
	if len(publisher.replies) != 1 || publisher.replies[0].Text != want.Text ||
		publisher.replies[0].ThreadTS != want.ThreadTS || len(publisher.replies[0].Trace) != 0 {
		t.Fatalf("replies = %#v", publisher.replies)
	}
}

func TestHandleMentionInThread(t *testing.T) {
	transcripts := &fakeTranscripts{messages: []thread.Message{
		{TS: "100.0", Text: "first"},
		{TS: "100.1", IsBot: true, Text: "answer"},
		{TS: "100.2", Text: "<@UBOT> again"},
		{TS: "100.3", Text: "posted after the mention"},
	}}
	var tr trace.Trace
	tr.AddCall("get_current_weather", map[string]any{"city": "Paris"})
	tr.AddResult("get_current_weather", map[string]any{"weather": "sunny"})
	runner := &fakeRunner{result: &agent.Result{Text: "It is sunny", Trace: tr.Records(), Rounds: 1}}
	publisher := &fakePublisher{}
	h := newHandler(transcripts, runner, publisher)

	err := h.HandleMention(context.Background(), slack.Mention{Channel: "C1", TS: "100.2", ThreadTS: "100.0", Text: "<@UBOT> again"})
	if err != nil {
		t.Fatalf("HandleMention() error = %v", err)
	}
	input := runner.inputs[0]
	if len(input.Prior) != 2 {
		t.Fatalf("prior = %#v", input.Prior)
	}
	if text, _ := conversation.FirstText(input.Incoming); text != "<@UBOT> again" {
		t.Fatalf("incoming = %#v", input.Incoming)
	}
	if len(publisher.replies[0].Trace) != 2 || publisher.replies[0].ThreadTS != "100.2" {
		t.Fatalf("reply = %#v", publisher.replies[0])
	}
}

func TestHandleMentionDropsDuplicates(t *testing.T) {
	runner := &fakeRunner{result: &agent.Result{Text: "ok"}}
	publisher := &fakePublisher{}
	h := newHandler(&fakeTranscripts{}, runner, publisher)

	mention := slack.Mention{EventID: "Ev1", Channel: "C1", TS: "1.0", Text: "hi"}
	for i := 0; i < 3; i++ {
		if err := h.HandleMention(context.Background(), mention); err != nil {
			t.Fatalf("HandleMention() error = %v", err)
		}
	}
	if len(runner.inputs) != 1 || len(publisher.replies) != 1 {
		t.Fatalf("runs = %d replies = %d", len(runner.inputs), len(publisher.replies))
	}
}

func TestHandleMentionRetriesRedeliveryAfterFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("model unavailable")}
	publisher := &fakePublisher{}
	dedupe := cache.NewDedupe(cache.DedupeOptions{TTL: time.Minute})
	h := New(Config{
		Transcripts:   &fakeTranscripts{},
		Reconstructor: &thread.Reconstructor{},
		Agent:         runner,
		Publisher:     publisher,
		Dedupe:        dedupe,
	})

	mention := slack.Mention{EventID: "Ev7", Channel: "C1", TS: "1.0", Text: "hi"}
	if err := h.HandleMention(context.Background(), mention); err == nil {
		t.Fatal("expected error")
	}
	if dedupe.Len() != 0 {
		t.Fatalf("failed turn left %d dedupe entries", dedupe.Len())
	}

	runner.err = nil
	runner.result = &agent.Result{Text: "ok"}
	if err := h.HandleMention(context.Background(), mention); err != nil {
		t.Fatalf("HandleMention() error = %v", err)
	}
	if len(runner.inputs) != 2 || len(publisher.replies) != 1 {
		t.Fatalf("runs = %d replies = %d", len(runner.inputs), len(publisher.replies))
	}
	if err := h.HandleMention(context.Background(), mention); err != nil {
		t.Fatalf("HandleMention() error = %v", err)
	}
	if len(runner.inputs) != 2 {
		t.Fatalf("successful turn was not deduplicated: runs = %d", len(runner.inputs))
	}
}

func TestHandleMentionFailuresPostNothing(t *testing.T) {
	tests := []struct {
		name        string
		transcripts *fakeTranscripts
		runner      *fakeRunner
		publisher   *fakePublisher
		mention     slack.Mention
		want        error
	}{
		{
			name:        "transcript read fails",
			transcripts: &fakeTranscripts{err: errors.New("ratelimited")},
			runner:      &fakeRunner{result: &agent.Result{Text: "x"}},
			mention:     slack.Mention{Channel: "C1", TS: "2.0", ThreadTS: "1.0"},
		},
		{
			name:        "empty thread",
			transcripts: &fakeTranscripts{},
			runner:      &fakeRunner{result: &agent.Result{Text: "x"}},
			mention:     slack.Mention{Channel: "C1", TS: "2.0", ThreadTS: "1.0"},
			want:        thread.ErrEmptyThread,
		},
		{
			name:        "tool not found",
			transcripts: &fakeTranscripts{},
			runner:      &fakeRunner{err: &tools.Error{Tool: "launch", Err: tools.ErrToolNotFound}},
			mention:     slack.Mention{Channel: "C1", TS: "2.0"},
			want:        tools.ErrToolNotFound,
		},
		{
			name:        "loop exceeded",
			transcripts: &fakeTranscripts{},
			runner:      &fakeRunner{err: agent.ErrToolLoopExceeded},
			mention:     slack.Mention{Channel: "C1", TS: "2.0"},
			want:        agent.ErrToolLoopExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &fakePublisher{}
			h := newHandler(tt.transcripts, tt.runner, publisher)
			err := h.HandleMention(context.Background(), tt.mention)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if len(publisher.replies) != 0 {
				t.Fatalf("replies = %#v", publisher.replies)
			}
		})
	}
}

func TestHandleMentionPublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("channel_not_found")}
	h := newHandler(&fakeTranscripts{}, &fakeRunner{result: &agent.Result{Text: "x"}}, publisher)
	if err := h.HandleMention(context.Background(), slack.Mention{Channel: "C1", TS: "1.0"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestHandleMentionSerializesThread(t *testing.T) {
	transcripts := &fakeTranscripts{messages: []thread.Message{{TS: "1.0", Text: "root"}}}
	runner := &fakeRunner{result: &agent.Result{Text: "ok"}, delay: 20 * time.Millisecond}
	publisher := &fakePublisher{}
	h := newHandler(transcripts, runner, publisher)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := []string{"2.0", "3.0", "4.0", "5.0"}[i]
			if err := h.HandleMention(context.Background(), slack.Mention{Channel: "C1", TS: ts, ThreadTS: "1.0"}); err != nil {
				t.Errorf("HandleMention() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&runner.overlap) != 0 {
		t.Fatal("turns in the same thread overlapped")
	}
	if len(publisher.replies) != 4 {
		t.Fatalf("replies = %d", len(publisher.replies))
	}
	if len(h.locks) != 0 {
		t.Fatalf("thread locks leaked: %d", len(h.locks))
	}
}
