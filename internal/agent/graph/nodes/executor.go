package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/events"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

// Eino node names, used in graph wiring and logs.
const (
	NodeTalkChatModel       = "TalkChatModel"
	NodeExtractionInput     = "ExtractionInput"
	NodeExtractionChatModel = "ExtractionChatModel"
	NodeExtractionParser    = "ExtractionParser"
)

// Turn is the read-only context a node executes against. Session is the
// working copy as of the previous completed node; executors never mutate
// it and report changes through Result instead.
type Turn struct {
	Request *model.ResponseRequest
	Session *model.Session
	Stream  bool
}

// Result is the delta a node produces. The orchestrator applies it only
// when the node completes.
type Result struct {
	// Messages are appended to the session history.
	Messages []*schema.Message
	// Variables are the bindings made by the node, already validated.
	Variables   map[string]any
	Diagnostics []model.Diagnostic
	ToolCalls   []schema.ToolCall
	Usage       model.Tally
}

func newResult() *Result {
	return &Result{Variables: map[string]any{}}
}

func (r *Result) diagnose(d model.Diagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)
}

// Executor runs one node variant. Implementations emit content events
// only; node_start and the terminal event belong to the orchestrator.
type Executor interface {
	Execute(ctx context.Context, node *model.Node, turn *Turn, emit events.Emitter) (*Result, error)
}

// OutputOwner is implemented by executors whose node owns a known set of
// variables. When such a node fails, those variables are unbound in the
// working session.
type OutputOwner interface {
	OutputIDs(node *model.Node, req *model.ResponseRequest) []string
}

// Registry maps every node type to its executor.
type Registry map[model.NodeType]Executor

func (r Registry) Lookup(t model.NodeType) (Executor, error) {
	if e, ok := r[t]; ok && e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", errx.ErrUnsupportedNodeType, t)
}

func nodeError(node *model.Node, reason string, err error) *errx.NodeExecutionError {
	return &errx.NodeExecutionError{NodeID: node.ID, Reason: reason, Err: err}
}

func cloneVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func contentMessages(in []model.InputMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.ToSchema())
	}
	return out
}

var (
	_ Executor = (*TalkExecutor)(nil)
	_ Executor = (*APIRequestExecutor)(nil)

	_ OutputOwner = (*APIRequestExecutor)(nil)
)
