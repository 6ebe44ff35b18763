package trace

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/slackagent/internal/conversation"
)

// wireElement accepts both the flat record shape and the older grouped shape
// ({"role": ..., "parts": [...]}) where responses used a "value" key.
type wireElement struct {
	PartType string            `json:"part_type"`
	Role     conversation.Role `json:"role"`
	Name     string            `json:"name"`
	Args     map[string]any    `json:"args"`
	Response any               `json:"response"`
	Value    any               `json:"value"`
	Parts    []wireElement     `json:"parts"`
}

// Decode parses a trace artifact into turns. Consecutive records with the same
// role are grouped into one Turn. A missing role defaults to model for calls and
// user for responses. An unrecognized part_type fails with ErrUnknownPartType.
func Decode(data []byte) ([]conversation.Turn, error) {
	var elements []wireElement
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}

	var turns []conversation.Turn
	appendPart := func(role conversation.Role, part conversation.Part) {
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Parts = append(turns[n-1].Parts, part)
			return
		}
		turns = append(turns, conversation.Turn{Role: role, Parts: []conversation.Part{part}})
	}

	for i, el := range elements {
		if el.PartType == "" && el.Parts != nil {
			role := el.Role
			if !role.Valid() {
				return nil, fmt.Errorf("decode trace: element %d: invalid role %q", i, el.Role)
			}
			parts := make([]conversation.Part, 0, len(el.Parts))
			for j, inner := range el.Parts {
				part, _, err := decodePart(inner)
				if err != nil {
					return nil, fmt.Errorf("decode trace: element %d part %d: %w", i, j, err)
				}
				parts = append(parts, part)
			}
			turns = append(turns, conversation.Turn{Role: role, Parts: parts})
			continue
		}

		part, role, err := decodePart(el)
		if err != nil {
			return nil, fmt.Errorf("decode trace: element %d: %w", i, err)
		}
		appendPart(role, part)
	}
	return turns, nil
}

func decodePart(el wireElement) (conversation.Part, conversation.Role, error) {
	switch el.PartType {
	case PartTypeFunctionCall:
		args := el.Args
		if args == nil {
			args = map[string]any{}
		}
		return conversation.ToolCall{Name: el.Name, Args: args}, roleOr(el.Role, conversation.RoleModel), nil
	case PartTypeFunctionResponse:
		value := el.Response
		if value == nil {
			value = el.Value
		}
		return conversation.ToolResult{Name: el.Name, Value: value}, roleOr(el.Role, conversation.RoleUser), nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownPartType, el.PartType)
	}
}

func roleOr(role, fallback conversation.Role) conversation.Role {
	if role.Valid() {
		return role
	}
	return fallback
}
