package model

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

// NodeType discriminates the Node tagged union.
type NodeType string

const (
	NodeTalk       NodeType = "talk"
	NodeAPIRequest NodeType = "api_request"
)

// TransitionCondition gates entry into a node.
type TransitionCondition struct {
	Condition         string   `json:"condition,omitempty"`
	RequiredVariables []string `json:"required_variables,omitempty"`
}

// InputMessage is the wire form of a conversation message.
type InputMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToSchema converts the wire message into an eino message. Unknown roles
// are treated as user messages.
func (m InputMessage) ToSchema() *schema.Message {
	switch schema.RoleType(strings.ToLower(m.Role)) {
	case schema.System:
		return schema.SystemMessage(m.Content)
	case schema.Assistant:
		return schema.AssistantMessage(m.Content, nil)
	case schema.Tool:
		return schema.ToolMessage(m.Content, m.ToolCallID)
	default:
		return schema.UserMessage(m.Content)
	}
}

// ValidRole reports whether the role is one of system/user/assistant/tool.
func (m InputMessage) ValidRole() bool {
	switch schema.RoleType(strings.ToLower(m.Role)) {
	case schema.System, schema.User, schema.Assistant, schema.Tool:
		return true
	}
	return false
}

// ToolSpec is a callable tool offered to the model, in the common
// {"type":"function","function":{...}} shape. The flat {name,description,
// parameters} shape is accepted too.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func (t *ToolSpec) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type     string        `json:"type"`
		Function *ToolFunction `json:"function"`
		ToolFunction
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Type = aux.Type
	if t.Type == "" {
		t.Type = "function"
	}
	if aux.Function != nil {
		t.Function = *aux.Function
	} else {
		t.Function = aux.ToolFunction
	}
	return nil
}

// TalkNode invokes the language model.
type TalkNode struct {
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Tools        []ToolSpec     `json:"tools,omitempty"`
	State        map[string]any `json:"state,omitempty"`
	Content      []InputMessage `json:"content,omitempty"`
}

// APIRequestNode calls an external HTTP endpoint.
type APIRequestNode struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     any               `json:"body,omitempty"`
	Content  []InputMessage    `json:"content,omitempty"`
	// Outputs maps variable ids to gjson paths in the response body.
	Outputs   map[string]string `json:"outputs,omitempty"`
	TimeoutMS int               `json:"timeout_ms,omitempty"`
}

// HTTPMethod returns the upper-cased method, defaulting to POST when a body
// is present and GET otherwise.
func (a *APIRequestNode) HTTPMethod() string {
	if a.Method != "" {
		return strings.ToUpper(a.Method)
	}
	if a.Body != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

// Node is one unit of graph work. Exactly one of Talk or APIRequest is set,
// matching Type.
type Node struct {
	ID                  string
	Type                NodeType
	TransitionCondition *TransitionCondition
	Talk                *TalkNode
	APIRequest          *APIRequestNode
}

type nodeHead struct {
	ID                  string               `json:"id,omitempty"`
	Type                NodeType             `json:"type"`
	TransitionCondition *TransitionCondition `json:"transition_condition,omitempty"`
}

// UnmarshalJSON decodes the flat wire form; a missing type means talk.
func (n *Node) UnmarshalJSON(data []byte) error {
	var head nodeHead
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*n = Node{ID: head.ID, Type: head.Type, TransitionCondition: head.TransitionCondition}
	switch head.Type {
	case NodeTalk, "":
		var t TalkNode
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("talk node %q: %w", head.ID, err)
		}
		n.Type = NodeTalk
		n.Talk = &t
	case NodeAPIRequest:
		var a APIRequestNode
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("api_request node %q: %w", head.ID, err)
		}
		n.APIRequest = &a
	default:
		return fmt.Errorf("%w: %q", errx.ErrUnsupportedNodeType, head.Type)
	}
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	head := nodeHead{ID: n.ID, Type: n.Type, TransitionCondition: n.TransitionCondition}
	switch n.Type {
	case NodeTalk:
		return json.Marshal(struct {
			nodeHead
			*TalkNode
		}{head, n.Talk})
	case NodeAPIRequest:
		return json.Marshal(struct {
			nodeHead
			*APIRequestNode
		}{head, n.APIRequest})
	default:
		return nil, fmt.Errorf("%w: %q", errx.ErrUnsupportedNodeType, n.Type)
	}
}

// RequiredVariables returns the ids that must be bound before entry.
func (n *Node) RequiredVariables() []string {
	if n.TransitionCondition == nil {
		return nil
	}
	return n.TransitionCondition.RequiredVariables
}

// Condition returns the entry expression, or "" when unconditional.
func (n *Node) Condition() string {
	if n.TransitionCondition == nil {
		return ""
	}
	return strings.TrimSpace(n.TransitionCondition.Condition)
}
