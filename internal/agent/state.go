package agent

import "github.com/haasonsaas/slackagent/internal/conversation"

// State is a step of the send / inspect / execute cycle.
type State int

const (
	StateSending State = iota
	StateInspectingResponse
	StateExecutingTools
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateInspectingResponse:
		return "inspecting_response"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// next is the transition function. resp is the latest model response and is
// only consulted when leaving StateInspectingResponse.
func next(state State, resp *Response) State {
	switch state {
	case StateSending:
		return StateInspectingResponse
	case StateInspectingResponse:
		if resp != nil && len(conversation.ToolCalls(resp.Parts)) > 0 {
			return StateExecutingTools
		}
		return StateDone
	case StateExecutingTools:
		return StateSending
	default:
		return StateDone
	}
}
