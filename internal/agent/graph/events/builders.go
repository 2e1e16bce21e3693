package events

import (
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

func NodeStart(n *model.Node) model.Event {
	return model.Event{Type: model.EventNodeStart, NodeID: n.ID, NodeType: n.Type}
}

func Content(n *model.Node, text string) model.Event {
	return model.Event{Type: model.EventContent, NodeID: n.ID, NodeType: n.Type, Content: text}
}

// NodeComplete carries the variables the node bound and any non-fatal
// diagnostics.
func NodeComplete(n *model.Node, vars map[string]any, diags []model.Diagnostic) model.Event {
	return model.Event{
		Type:        model.EventNodeComplete,
		NodeID:      n.ID,
		NodeType:    n.Type,
		Variables:   vars,
		Diagnostics: diags,
	}
}

func NodeError(n *model.Node, err error, diags []model.Diagnostic) model.Event {
	return model.Event{
		Type:        model.EventNodeError,
		NodeID:      n.ID,
		NodeType:    n.Type,
		Error:       &model.EventError{Code: errx.Code(err), Message: err.Error()},
		Diagnostics: diags,
	}
}
