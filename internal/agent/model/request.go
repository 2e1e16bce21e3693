package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

// Input is either a plain string (one user message) or a message array.
type Input []InputMessage

func (in *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*in = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = Input{{Role: string(schema.User), Content: s}}
		return nil
	}
	var msgs []InputMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("input must be a string or a message array: %w", err)
	}
	*in = msgs
	return nil
}

// Messages converts the input into eino messages. When ignoreFirstSystem is
// set, the first system message is dropped.
func (in Input) Messages(ignoreFirstSystem bool) []*schema.Message {
	out := make([]*schema.Message, 0, len(in))
	skipped := false
	for _, m := range in {
		msg := m.ToSchema()
		if ignoreFirstSystem && !skipped && msg.Role == schema.System {
			skipped = true
			continue
		}
		out = append(out, msg)
	}
	return out
}

// States is the graph definition of a request.
type States struct {
	Nodes                   []Node `json:"nodes"`
	AppendSystemPrompt      bool   `json:"append_system_prompt,omitempty"`
	IgnoreFirstSystemPrompt bool   `json:"ignore_first_system_prompt,omitempty"`
}

// ResponseRequest is the body of POST /v1/responses.
type ResponseRequest struct {
	Model         string                `json:"model"`
	Input         Input                 `json:"input"`
	States        States                `json:"states"`
	Tools         []ToolSpec            `json:"tools,omitempty"`
	Variables     []VariableDeclaration `json:"variables,omitempty"`
	Stream        bool                  `json:"stream,omitempty"`
	SessionID     string                `json:"session_id,omitempty"`
	CreateSession bool                  `json:"create_session,omitempty"`
	// StateTTL is the session TTL in seconds.
	StateTTL *int `json:"state_ttl,omitempty"`
}

// Validate checks top-level contract violations and fills generated node ids.
func (r *ResponseRequest) Validate() error {
	if r.Model == "" {
		return errx.InvalidRequest("model is required")
	}
	if len(r.States.Nodes) == 0 {
		return errx.InvalidRequest("states.nodes must not be empty")
	}
	if r.StateTTL != nil && *r.StateTTL <= 0 {
		return errx.InvalidRequest("state_ttl must be positive")
	}
	for i, m := range r.Input {
		if !m.ValidRole() {
			return errx.InvalidRequest("input[%d]: unknown role %q", i, m.Role)
		}
	}

	declared := make(map[string]struct{}, len(r.Variables))
	for i, v := range r.Variables {
		if v.VariableID == "" {
			return errx.InvalidRequest("variables[%d]: variable_id is required", i)
		}
		if _, dup := declared[v.VariableID]; dup {
			return errx.InvalidRequest("variables[%d]: duplicate variable_id %q", i, v.VariableID)
		}
		declared[v.VariableID] = struct{}{}
		if !v.Format.Type.Valid() {
			return errx.InvalidRequest("variable %q: unknown format type %q", v.VariableID, v.Format.Type)
		}
		if v.Format.Type == FormatList && len(v.Format.Options) == 0 {
			return errx.InvalidRequest("variable %q: list format requires options", v.VariableID)
		}
	}

	seen := make(map[string]struct{}, len(r.States.Nodes))
	for i := range r.States.Nodes {
		n := &r.States.Nodes[i]
		if n.ID == "" {
			n.ID = fmt.Sprintf("node_%d", i+1)
		}
		if _, dup := seen[n.ID]; dup {
			return errx.InvalidRequest("duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		switch n.Type {
		case NodeTalk:
			if n.Talk == nil {
				n.Talk = &TalkNode{}
			}
		case NodeAPIRequest:
			if n.APIRequest == nil || n.APIRequest.Endpoint == "" {
				return errx.InvalidRequest("node %q: endpoint is required", n.ID)
			}
		default:
			return errx.InvalidRequest("node %q: unsupported type %q", n.ID, n.Type)
		}
	}
	return nil
}

// Usage aggregates the cost of a turn. TotalTime is in seconds.
type Usage struct {
	TotalTokens int     `json:"total_tokens"`
	TotalTime   float64 `json:"total_time"`
}

// Response is the turn result returned to the caller.
type Response struct {
	ID        string      `json:"id"`
	Object    string      `json:"object"`
	Created   int64       `json:"created"`
	Model     string      `json:"model"`
	SessionID string      `json:"session_id"`
	Events    []Event     `json:"events"`
	Usage     Usage       `json:"usage"`
	Error     *EventError `json:"error,omitempty"`
}

// ResponseObject is the constant object tag of Response.
const ResponseObject = "response"
