package gemini

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/slackagent/internal/conversation"
	"github.com/haasonsaas/slackagent/internal/tools"
)

// resultKey wraps every tool result sent back to the model.
const resultKey = "result"

// ToTools converts registered tools to a single Gemini tool declaring one
// function per registered tool.
func ToTools(declared []tools.Tool) []*genai.Tool {
	if len(declared) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(declared))
	for _, tool := range declared {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  ToSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// ToSchema converts a JSON Schema object to Gemini's Schema type. Keywords
// Gemini does not understand are dropped.
func ToSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = ToSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = ToSchema(items)
	}
	return schema
}

// ToPart converts one conversation part.
func ToPart(part conversation.Part) *genai.Part {
	switch p := part.(type) {
	case conversation.Text:
		return genai.NewPartFromText(p.Text)
	case conversation.Media:
		uri := p.URI
		if uri == "" {
			uri = p.Handle
		}
		return genai.NewPartFromURI(uri, p.MIMEType)
	case conversation.ToolCall:
		args := p.Args
		if args == nil {
			args = map[string]any{}
		}
		return genai.NewPartFromFunctionCall(p.Name, args)
	case conversation.ToolResult:
		return genai.NewPartFromFunctionResponse(p.Name, map[string]any{resultKey: p.Value})
	default:
		return nil
	}
}

// ToParts converts parts in order.
func ToParts(parts []conversation.Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, part := range parts {
		if converted := ToPart(part); converted != nil {
			out = append(out, converted)
		}
	}
	return out
}

// ToContents converts prior turns to chat history. Turns without parts are
// dropped; the API rejects empty contents.
func ToContents(turns []conversation.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		parts := ToParts(turn.Parts)
		if len(parts) == 0 {
			continue
		}
		role := genai.RoleUser
		if turn.Role == conversation.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.Role(role)))
	}
	return contents
}

// FromResponse returns the parts of the first candidate. Thought parts are
// skipped.
func FromResponse(resp *genai.GenerateContentResponse) []conversation.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var parts []conversation.Part
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		switch {
		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			parts = append(parts, conversation.ToolCall{Name: part.FunctionCall.Name, Args: args})
		case part.FunctionResponse != nil:
			value := any(part.FunctionResponse.Response)
			if wrapped, ok := part.FunctionResponse.Response[resultKey]; ok {
				value = wrapped
			}
			parts = append(parts, conversation.ToolResult{Name: part.FunctionResponse.Name, Value: value})
		case part.FileData != nil:
			parts = append(parts, conversation.Media{URI: part.FileData.FileURI, MIMEType: part.FileData.MIMEType})
		case part.Text != "":
			parts = append(parts, conversation.Text{Text: part.Text})
		}
	}
	return parts
}
