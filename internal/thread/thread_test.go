package thread

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/haasonsaas/slackagent/internal/conversation"
	"github.com/haasonsaas/slackagent/internal/media"
	"github.com/haasonsaas/slackagent/internal/trace"
)

type stubResolver struct {
	refs  map[string]*conversation.Media
	errs  map[string]error
	calls []string
}

func (s *stubResolver) Resolve(ctx context.Context, att media.Attachment, fetch media.FetchFunc) (*conversation.Media, error) {
	s.calls = append(s.calls, att.ID)
	if err := s.errs[att.ID]; err != nil {
		return nil, err
	}
	return s.refs[att.ID], nil
}

func fetchFrom(bodies map[string][]byte) media.FetchFunc {
	return func(ctx context.Context, url string) ([]byte, error) {
		body, ok := bodies[url]
		if !ok {
			return nil, fmt.Errorf("no body for %s", url)
		}
		return body, nil
	}
}

func TestReconstructEmpty(t *testing.T) {
	r := &Reconstructor{}
	if _, err := r.Reconstruct(context.Background(), nil); !errors.Is(err, ErrEmptyThread) {
		t.Fatalf("error = %v, want ErrEmptyThread", err)
	}
}

func TestReconstructPriorTurns(t *testing.T) {
	r := &Reconstructor{}
	messages := []Message{
		{TS: "1", Text: "hi bot"},
		{TS: "2", IsBot: true, Text: "hello"},
		{TS: "3", Text: ""},
		{TS: "4", Text: "what now?"},
	}

	got, err := r.Reconstruct(context.Background(), messages)
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	if len(got.Prior) != len(messages)-1 {
		t.Fatalf("prior turns = %d, want %d", len(got.Prior), len(messages)-1)
	}
	wantRoles := []conversation.Role{conversation.RoleUser, conversation.RoleModel, conversation.RoleUser}
	for i, turn := range got.Prior {
		if turn.Role != wantRoles[i] {
			t.Errorf("turn %d role = %s, want %s", i, turn.Role, wantRoles[i])
		}
	}
	if len(got.Prior[2].Parts) != 0 {
		t.Errorf("empty message should yield an empty turn, got %v", got.Prior[2].Parts)
	}
	want := []conversation.Part{conversation.Text{Text: "what now?"}}
	if !reflect.DeepEqual(got.Incoming, want) {
		t.Fatalf("incoming = %#v", got.Incoming)
	}
}

func TestReconstructSplicesTraceArtifact(t *testing.T) {
	var tr trace.Trace
	tr.AddCall("get_current_weather", map[string]any{"city": "Paris"})
	tr.AddResult("get_current_weather", map[string]any{"weather": "sunny"})
	body, err := trace.Encode(tr.Records())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	r := &Reconstructor{Fetch: fetchFrom(map[string][]byte{"https://files/trace": body})}
	messages := []Message{
		{TS: "1", Text: "weather in Paris?"},
		{TS: "2", IsBot: true, Text: "It is sunny.", Files: []media.Attachment{
			{ID: "FT", Name: trace.ArtifactName, MIMEType: "application/json", URL: "https://files/trace"},
		}},
		{TS: "3", Text: "thanks"},
	}

	got, err := r.Reconstruct(context.Background(), messages)
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	if len(got.Prior) != 4 {
		t.Fatalf("prior turns = %d, want 4: %#v", len(got.Prior), got.Prior)
	}
	call, ok := got.Prior[1].Parts[0].(conversation.ToolCall)
	if !ok || got.Prior[1].Role != conversation.RoleModel || call.Name != "get_current_weather" {
		t.Fatalf("turn 1 = %#v", got.Prior[1])
	}
	result, ok := got.Prior[2].Parts[0].(conversation.ToolResult)
	if !ok || got.Prior[2].Role != conversation.RoleUser || result.Name != "get_current_weather" {
		t.Fatalf("turn 2 = %#v", got.Prior[2])
	}
	if got.Prior[3].Role != conversation.RoleModel {
		t.Fatalf("answer turn role = %s", got.Prior[3].Role)
	}
	if text, _ := conversation.FirstText(got.Prior[3].Parts); text != "It is sunny." {
		t.Fatalf("answer text = %q", text)
	}
}

func TestReconstructTraceFailuresAbort(t *testing.T) {
	tests := []struct {
		name   string
		bodies map[string][]byte
	}{
		{name: "fetch fails", bodies: map[string][]byte{}},
		{name: "unknown part type", bodies: map[string][]byte{"u": []byte(`[{"part_type":"mystery","name":"x"}]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reconstructor{Fetch: fetchFrom(tt.bodies)}
			_, err := r.Reconstruct(context.Background(), []Message{
				{TS: "1", IsBot: true, Files: []media.Attachment{{ID: "F", Name: trace.ArtifactName, URL: "u"}}},
				{TS: "2", Text: "next"},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.name == "unknown part type" && !errors.Is(err, trace.ErrUnknownPartType) {
				t.Fatalf("error = %v, want ErrUnknownPartType", err)
			}
		})
	}
}

func TestReconstructMediaParts(t *testing.T) {
	resolver := &stubResolver{
		refs: map[string]*conversation.Media{
			"IMG": {Handle: "files/1", URI: "uri-1", MIMEType: "image/png"},
		},
		errs: map[string]error{
			"VID": fmt.Errorf("%w: still processing", media.ErrProcessingTimeout),
		},
	}
	r := &Reconstructor{Media: resolver}

	got, err := r.Reconstruct(context.Background(), []Message{{
		TS:   "1",
		Text: "look at these",
		Files: []media.Attachment{
			{ID: "IMG", Name: "a.png", MIMEType: "image/png"},
			{ID: "ZIP", Name: "a.zip", MIMEType: "application/zip"},
			{ID: "VID", Name: "b.mp4", MIMEType: "video/mp4"},
		},
	}})
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	want := []conversation.Part{
		conversation.Media{Handle: "files/1", URI: "uri-1", MIMEType: "image/png"},
		conversation.Text{Text: "look at these"},
	}
	if !reflect.DeepEqual(got.Incoming, want) {
		t.Fatalf("incoming = %#v", got.Incoming)
	}
	if len(got.Prior) != 0 {
		t.Fatalf("prior = %#v", got.Prior)
	}
	if !reflect.DeepEqual(resolver.calls, []string{"IMG", "ZIP", "VID"}) {
		t.Fatalf("resolver calls = %v", resolver.calls)
	}
}

func TestFromEvent(t *testing.T) {
	resolver := &stubResolver{refs: map[string]*conversation.Media{
		"PDF": {Handle: "files/9", MIMEType: "application/pdf"},
	}}
	r := &Reconstructor{Media: resolver}

	got, err := r.FromEvent(context.Background(), "summarize", []media.Attachment{{ID: "PDF", Name: "doc.pdf"}})
	if err != nil {
		t.Fatalf("FromEvent() error = %v", err)
	}
	if len(got.Prior) != 0 {
		t.Fatalf("prior = %#v", got.Prior)
	}
	if len(got.Incoming) != 2 {
		t.Fatalf("incoming = %#v", got.Incoming)
	}
	want := []conversation.Part{
		conversation.Text{Text: "summarize"},
		conversation.Media{Handle: "files/9", MIMEType: "application/pdf"},
	}
	if !reflect.DeepEqual(got.Incoming, want) {
		t.Fatalf("incoming = %#v", got.Incoming)
	}
}

func TestFromEventIgnoresTraceArtifact(t *testing.T) {
	fetched := 0
	r := &Reconstructor{
		Media: &stubResolver{},
		Fetch: func(ctx context.Context, url string) ([]byte, error) {
			fetched++
			return []byte(`[{"part_type":"function_call","role":"model","name":"f","args":{}}]`), nil
		},
	}

	got, err := r.FromEvent(context.Background(), "hi", []media.Attachment{{ID: "F1", Name: trace.ArtifactName, URL: "u"}})
	if err != nil {
		t.Fatalf("FromEvent() error = %v", err)
	}
	if len(got.Prior) != 0 {
		t.Fatalf("top-level mention produced %d prior turns", len(got.Prior))
	}
	if fetched != 0 {
		t.Fatalf("trace artifact fetched %d times", fetched)
	}
	if !reflect.DeepEqual(got.Incoming, []conversation.Part{conversation.Text{Text: "hi"}}) {
		t.Fatalf("incoming = %#v", got.Incoming)
	}
}
