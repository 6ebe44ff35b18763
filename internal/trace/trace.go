// Package trace encodes the per-turn tool-call trace into the durable
// function_call.json artifact and decodes it back into conversation turns.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/slackagent/internal/conversation"
)

// ArtifactName is the reserved filename the thread reconstructor recognizes.
const ArtifactName = "function_call.json"

const (
	PartTypeFunctionCall     = "function_call"
	PartTypeFunctionResponse = "function_response"
)

var (
	// ErrUnknownPartType indicates a corrupted artifact with an unrecognized discriminator.
	ErrUnknownPartType = errors.New("unknown part type")

	// ErrIncomplete indicates a function_call without a matching function_response.
	ErrIncomplete = errors.New("trace has unanswered function calls")
)

// Record is the wire form of a ToolCall or ToolResult.
type Record struct {
	PartType string            `json:"part_type"`
	Role     conversation.Role `json:"role,omitempty"`
	Name     string            `json:"name"`
	Args     map[string]any    `json:"args,omitempty"`
	Response any               `json:"response,omitempty"`
}

// Trace accumulates the records produced during one orchestration run.
type Trace struct {
	records []Record
}

// AddCall appends a function_call record.
func (t *Trace) AddCall(name string, args map[string]any) {
	if args == nil {
		args = map[string]any{}
	}
	t.records = append(t.records, Record{
		PartType: PartTypeFunctionCall,
		Role:     conversation.RoleModel,
		Name:     name,
		Args:     args,
	})
}

// AddResult appends a function_response record.
func (t *Trace) AddResult(name string, value any) {
	t.records = append(t.records, Record{
		PartType: PartTypeFunctionResponse,
		Role:     conversation.RoleUser,
		Name:     name,
		Response: value,
	})
}

// Records returns a copy of the accumulated records.
func (t *Trace) Records() []Record {
	if t == nil {
		return nil
	}
	return append([]Record(nil), t.records...)
}

// Len returns the number of records.
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Empty reports whether no tool was called.
func (t *Trace) Empty() bool {
	return t.Len() == 0
}

// Complete returns ErrIncomplete when some function_call has no later
// function_response with the same name.
func (t *Trace) Complete() error {
	pending := map[string]int{}
	for _, rec := range t.Records() {
		switch rec.PartType {
		case PartTypeFunctionCall:
			pending[rec.Name]++
		case PartTypeFunctionResponse:
			// One response answers every outstanding call of that name.
			delete(pending, rec.Name)
		}
	}
	for name := range pending {
		return fmt.Errorf("%w: %s", ErrIncomplete, name)
	}
	return nil
}

// Encode serializes records as an indented UTF-8 JSON array.
func Encode(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode trace: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
