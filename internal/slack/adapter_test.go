package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/slackagent/internal/backoff"
	"github.com/haasonsaas/slackagent/internal/trace"
)

func testConfig() Config {
	return Config{
		BotToken:      "xoxb-test",
		AppToken:      "xapp-test",
		FetchAttempts: 3,
		Retry:         backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{BotToken: "xoxb-1", AppToken: "xapp-1"}},
		{name: "missing bot", cfg: Config{AppToken: "xapp-1"}, wantErr: true},
		{name: "wrong bot prefix", cfg: Config{BotToken: "xoxp-1", AppToken: "xapp-1"}, wantErr: true},
		{name: "missing app", cfg: Config{BotToken: "xoxb-1"}, wantErr: true},
		{name: "wrong app prefix", cfg: Config{BotToken: "xoxb-1", AppToken: "xoxb-2"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func mentionEvent(t *testing.T, ev *slackevents.AppMentionEvent, payload string) socketmode.Event {
	t.Helper()
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Type: string(slackevents.AppMention),
				Data: ev,
			},
		},
		Request: &socketmode.Request{Type: "events_api", EnvelopeID: "env-1", Payload: json.RawMessage(payload)},
	}
}

func TestRunDispatchesMentions(t *testing.T) {
	socket := NewMockSocketClient()
	var acks int
	var mu sync.Mutex
	socket.AckFunc = func(req socketmode.Request, payload ...interface{}) {
		mu.Lock()
		acks++
		mu.Unlock()
	}
	adapter := NewAdapterWithClients(testConfig(), &MockAPIClient{}, socket)

	payload := `{"event_id":"Ev1","event":{"type":"app_mention","files":[
		{"id":"F1","name":"cat.png","mimetype":"image/png","url_private_download":"https://files/cat.png"},
		{"id":"F2","name":"doc.pdf","mimetype":"application/pdf","url_private":"https://files/doc.pdf"}
	]}}`
	socket.EventsChan <- mentionEvent(t, &slackevents.AppMentionEvent{User: "UBOT", Channel: "C1", TimeStamp: "100.2"}, "")
	socket.EventsChan <- mentionEvent(t, &slackevents.AppMentionEvent{
		User: "U1", Channel: "C1", TimeStamp: "100.1", ThreadTimeStamp: "99.0", Text: "<@UBOT> hi",
	}, payload)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Mention, 2)
	done := make(chan error, 1)
	go func() {
		done <- adapter.Run(ctx, func(ctx context.Context, m Mention) { got <- m })
	}()

	var mention Mention
	select {
	case mention = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("mention not dispatched")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if mention.EventID != "Ev1" || mention.DedupeKey() != "Ev1" || !mention.InThread() {
		t.Fatalf("mention = %+v", mention)
	}
	if len(mention.Files) != 2 {
		t.Fatalf("files = %+v", mention.Files)
	}
	if mention.Files[0].URL != "https://files/cat.png" || mention.Files[1].URL != "https://files/doc.pdf" {
		t.Fatalf("file urls = %+v", mention.Files)
	}
	select {
	case m := <-got:
		t.Fatalf("self mention dispatched: %+v", m)
	default:
	}
	mu.Lock()
	defer mu.Unlock()
	if acks != 2 {
		t.Fatalf("acks = %d, want 2", acks)
	}
}

func TestRunAuthFailure(t *testing.T) {
	api := &MockAPIClient{AuthTestFunc: func(context.Context) (*slack.AuthTestResponse, error) {
		return nil, errors.New("invalid_auth")
	}}
	adapter := NewAdapterWithClients(testConfig(), api, NewMockSocketClient())
	if err := adapter.Run(context.Background(), func(context.Context, Mention) {}); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestMentionDedupeKeyFallback(t *testing.T) {
	m := Mention{Channel: "C1", TS: "1.2"}
	if m.DedupeKey() != "C1:1.2" {
		t.Fatalf("DedupeKey() = %q", m.DedupeKey())
	}
}

func TestReplies(t *testing.T) {
	var cursors []string
	api := &MockAPIClient{RepliesFunc: func(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
		cursors = append(cursors, params.Cursor)
		if params.Cursor == "" {
			return []slack.Message{
				{Msg: slack.Msg{Timestamp: "1", User: "U1", Text: "question"}},
				{Msg: slack.Msg{Timestamp: "2", BotID: "B1", Text: "answer", Files: []slack.File{
					{ID: "FT", Name: trace.ArtifactName, Mimetype: "application/json", URLPrivateDownload: "https://files/trace"},
				}}},
			}, true, "next", nil
		}
		return []slack.Message{
			{Msg: slack.Msg{Timestamp: "3", BotProfile: &slack.BotProfile{ID: "B2"}, Text: "other bot"}},
			{Msg: slack.Msg{Timestamp: "4", User: "U1", Text: "follow-up"}},
		}, false, "", nil
	}}
	adapter := NewAdapterWithClients(testConfig(), api, NewMockSocketClient())

	messages, err := adapter.Replies(context.Background(), "C1", "1")
	if err != nil {
		t.Fatalf("Replies() error = %v", err)
	}
	if len(messages) != 4 || len(cursors) != 2 || cursors[1] != "next" {
		t.Fatalf("messages = %d cursors = %v", len(messages), cursors)
	}
	wantBot := []bool{false, true, true, false}
	for i, msg := range messages {
		if msg.IsBot != wantBot[i] {
			t.Errorf("message %d IsBot = %v", i, msg.IsBot)
		}
	}
	if messages[1].Files[0].Name != trace.ArtifactName {
		t.Fatalf("files = %+v", messages[1].Files)
	}
}

func TestRepliesTreatsOwnUploadsAsBot(t *testing.T) {
	api := &MockAPIClient{RepliesFunc: func(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
		return []slack.Message{
			{Msg: slack.Msg{Timestamp: "1", User: "U1", Text: "<@UBOT> weather?"}},
			{Msg: slack.Msg{Timestamp: "2", User: "UBOT", SubType: "file_share", Text: "It is sunny", Files: []slack.File{
				{ID: "FT", Name: trace.ArtifactName, URLPrivateDownload: "https://files/trace"},
			}}},
		}, false, "", nil
	}}
	adapter := NewAdapterWithClients(testConfig(), api, NewMockSocketClient())
	adapter.botUserID = "UBOT"

	messages, err := adapter.Replies(context.Background(), "C1", "1")
	if err != nil {
		t.Fatalf("Replies() error = %v", err)
	}
	if messages[0].IsBot || !messages[1].IsBot {
		t.Fatalf("IsBot = %v, %v", messages[0].IsBot, messages[1].IsBot)
	}
}

func TestFetchRetries(t *testing.T) {
	var calls int
	api := &MockAPIClient{GetFileFunc: func(ctx context.Context, downloadURL string, w io.Writer) error {
		calls++
		if calls < 3 {
			return slack.StatusCodeError{Code: 503, Status: "503 Service Unavailable"}
		}
		_, err := w.Write([]byte("payload"))
		return err
	}}
	adapter := NewAdapterWithClients(testConfig(), api, NewMockSocketClient())

	data, err := adapter.Fetch(context.Background(), "https://files/x")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != "payload" || calls != 3 {
		t.Fatalf("data = %q calls = %d", data, calls)
	}
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var calls int
	api := &MockAPIClient{GetFileFunc: func(ctx context.Context, downloadURL string, w io.Writer) error {
		calls++
		return slack.StatusCodeError{Code: 404, Status: "404 Not Found"}
	}}
	adapter := NewAdapterWithClients(testConfig(), api, NewMockSocketClient())

	if _, err := adapter.Fetch(context.Background(), "https://files/x"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestPublishPlainText(t *testing.T) {
	var posted bool
	api := &MockAPIClient{
		PostMessageFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
			posted = true
			_, values, err := slack.UnsafeApplyMsgOptions("xoxb-test", channelID, "https://slack.com/api/", options...)
			if err != nil {
				t.Fatalf("apply options: %v", err)
			}
			assertValue(t, values, "text", "Sunny in Paris")
			assertValue(t, values, "thread_ts", "100.1")
			return channelID, "100.2", nil
		},
		UploadFileV2Func: func(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
			t.Fatal("plain replies must not upload an artifact")
			return nil, nil
		},
	}
	adapter := NewAdapterWithClients(testConfig(), api, NewMockSocketClient())

	if err := adapter.Publish(context.Background(), Reply{Channel: "C1", ThreadTS: "100.1", Text: "Sunny in Paris"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !posted {
		t.Fatal("message not posted")
	}
}

func assertValue(t *testing.T, values url.Values, key, want string) {
	t.Helper()
	if got := values.Get(key); got != want {
		t.Fatalf("%s = %q, want %q", key, got, want)
	}
}

func TestPublishWithTrace(t *testing.T) {
	var tr trace.Trace
	tr.AddCall("get_current_weather", map[string]any{"city": "Paris"})
	tr.AddResult("get_current_weather", map[string]any{"weather": "sunny"})

	var uploaded slack.UploadFileV2Parameters
	var body []byte
	api := &MockAPIClient{
		UploadFileV2Func: func(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
			uploaded = params
			body, _ = io.ReadAll(params.Reader)
			return &slack.FileSummary{ID: "F1"}, nil
		},
		PostMessageFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
			t.Fatal("traced replies are posted as an upload")
			return "", "", nil
		},
	}
	adapter := NewAdapterWithClients(testConfig(), api, NewMockSocketClient())

	err := adapter.Publish(context.Background(), Reply{Channel: "C1", ThreadTS: "100.1", Text: "Sunny", Trace: tr.Records()})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if uploaded.Filename != trace.ArtifactName || uploaded.InitialComment != "Sunny" || uploaded.ThreadTimestamp != "100.1" {
		t.Fatalf("upload params = %+v", uploaded)
	}
	if uploaded.FileSize != len(body) || uploaded.FileSize == 0 {
		t.Fatalf("file size = %d, body = %d", uploaded.FileSize, len(body))
	}
	turns, err := trace.Decode(body)
	if err != nil || len(turns) != 2 {
		t.Fatalf("uploaded artifact does not decode: %v, %v", turns, err)
	}
}

func TestPublishErrors(t *testing.T) {
	api := &MockAPIClient{PostMessageFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
		return "", "", errors.New("channel_not_found")
	}}
	adapter := NewAdapterWithClients(testConfig(), api, NewMockSocketClient())
	if err := adapter.Publish(context.Background(), Reply{Channel: "C1", Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
