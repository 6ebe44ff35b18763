// Package conversation defines the model-facing conversation types shared by the
// thread reconstructor, the history decoder and the turn orchestrator.
package conversation

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Part is one ordered content unit inside a Turn. The set of implementations is
// closed: Text, Media, ToolCall and ToolResult.
type Part interface{ isPart() }

// Text is a plain text segment.
type Text struct {
	Text string
}

func (Text) isPart() {}

// Media references content already uploaded to the model backend.
type Media struct {
	// Handle is the backend resource name (e.g. "files/abc123").
	Handle   string
	URI      string
	MIMEType string
}

func (Media) isPart() {}

// ToolCall is a model request to invoke a registered tool.
type ToolCall struct {
	Name string
	Args map[string]any
}

func (ToolCall) isPart() {}

// ToolResult carries the value a tool returned for a ToolCall with the same name.
type ToolResult struct {
	Name  string
	Value any
}

func (ToolResult) isPart() {}

// Turn is one role-tagged message unit.
type Turn struct {
	Role  Role
	Parts []Part
}

// Context is the reconstructed input for a single orchestration run.
type Context struct {
	// Incoming holds the parts of the message being answered.
	Incoming []Part
	// Prior holds the turns that precede Incoming, oldest first.
	Prior []Turn
}

// ToolCalls returns the ToolCall parts of parts in order.
func ToolCalls(parts []Part) []ToolCall {
	var calls []ToolCall
	for _, p := range parts {
		if call, ok := p.(ToolCall); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// FirstText returns the first Text part in parts.
func FirstText(parts []Part) (string, bool) {
	for _, p := range parts {
		if text, ok := p.(Text); ok {
			return text.Text, true
		}
	}
	return "", false
}
