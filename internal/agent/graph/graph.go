package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/conditions"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/events"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/nodes"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/variables"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// DefaultMaxSteps bounds node executions per turn when unconfigured.
const DefaultMaxSteps = 64

// Orchestrator walks a request's node list once, in declaration order,
// executing every node whose entry gate holds at the moment it is reached.
// A skipped node is never revisited within the turn.
type Orchestrator struct {
	executors nodes.Registry
	evaluator *conditions.Evaluator
	cfg       model.GraphConfig
}

func NewOrchestrator(executors nodes.Registry, evaluator *conditions.Evaluator, cfg model.GraphConfig) *Orchestrator {
	if evaluator == nil {
		evaluator = conditions.NewEvaluator()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return &Orchestrator{executors: executors, evaluator: evaluator, cfg: cfg}
}

// Outcome is the terminal state of one traversal.
type Outcome struct {
	// Session holds the deltas of every completed node.
	Session *model.Session
	Usage   model.Tally
	Steps   int
	// Err is a terminal turn error: step limit exceeded or cancellation.
	// Node failures are reported as node_error events and do not set it.
	Err error
}

// Run traverses req's graph against session. The session is not modified;
// the outcome carries an updated copy.
func (o *Orchestrator) Run(ctx context.Context, req *model.ResponseRequest, session *model.Session, stream bool, emit events.Emitter) *Outcome {
	out := &Outcome{Session: session.Clone()}
	log := logx.With().Str("session_id", session.ID).Logger()

	for i := range req.States.Nodes {
		node := &req.States.Nodes[i]
		if err := ctx.Err(); err != nil {
			out.Err = cancelled(err)
			return out
		}

		verdict := o.evaluator.Check(node, out.Session.Variables, out.Session.LastAssistantContent())
		if !verdict.Enter {
			log.Debug().
				Str("node_id", node.ID).
				Strs("missing", verdict.Missing).
				AnErr("condition_error", verdict.Err).
				Msg("Node skipped")
			continue
		}

		if out.Steps >= o.cfg.MaxSteps {
			out.Err = fmt.Errorf("%w: %d node executions", errx.ErrGraphStepLimitExceeded, o.cfg.MaxSteps)
			log.Warn().Int("max_steps", o.cfg.MaxSteps).Msg("Graph step limit exceeded")
			return out
		}
		out.Steps++

		if err := o.step(ctx, node, req, stream, emit, out); err != nil {
			out.Err = err
			return out
		}
	}
	return out
}

// Unresolved lists variables referenced by node gates that are neither
// declared in req, bound by an api_request output nor bound in vars. Gates
// on such variables cannot pass this turn.
func (o *Orchestrator) Unresolved(req *model.ResponseRequest, vars map[string]any) []string {
	known := make(map[string]bool, len(req.Variables)+len(vars))
	for _, d := range req.Variables {
		known[d.VariableID] = true
	}
	for id, v := range vars {
		if v != nil {
			known[id] = true
		}
	}
	for i := range req.States.Nodes {
		if spec := req.States.Nodes[i].APIRequest; spec != nil {
			for id := range spec.Outputs {
				known[id] = true
			}
		}
	}

	var out []string
	add := func(id string) {
		root, _, _ := strings.Cut(id, ".")
		if known[id] || known[root] {
			return
		}
		known[id] = true
		out = append(out, id)
	}
	for i := range req.States.Nodes {
		node := &req.States.Nodes[i]
		for _, id := range node.RequiredVariables() {
			add(id)
		}
		// Parse errors surface when the node is checked during traversal.
		ids, _ := o.evaluator.Identifiers(node.Condition())
		for _, id := range ids {
			add(id)
		}
	}
	return out
}

// step executes one node. It returns an error only when the turn must
// stop; node failures are emitted as node_error and swallowed.
func (o *Orchestrator) step(ctx context.Context, node *model.Node, req *model.ResponseRequest, stream bool, emit events.Emitter, out *Outcome) error {
	log := logx.With().Str("session_id", out.Session.ID).Str("node_id", node.ID).Str("node_type", string(node.Type)).Logger()

	if err := emit.Emit(ctx, events.NodeStart(node)); err != nil {
		return abort(ctx, err)
	}

	exec, err := o.executors.Lookup(node.Type)
	if err != nil {
		return o.fail(ctx, node, err, nil, nil, emit)
	}

	nctx := ctx
	if o.cfg.NodeTimeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, o.cfg.NodeTimeout)
		defer cancel()
	}

	turn := &nodes.Turn{Request: req, Session: out.Session, Stream: stream}
	res, err := exec.Execute(nctx, node, turn, emit)
	if res != nil {
		out.Usage.Merge(res.Usage)
	}
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Err(err).Msg("Node interrupted by cancellation")
			return cancelled(ctx.Err())
		}
		if errors.Is(err, events.ErrClosed) {
			return err
		}
		var nodeErr *errx.NodeExecutionError
		if !errors.As(err, &nodeErr) {
			reason := "execution failed"
			if errors.Is(nctx.Err(), context.DeadlineExceeded) {
				reason = fmt.Sprintf("timed out after %s", o.cfg.NodeTimeout)
			}
			err = &errx.NodeExecutionError{NodeID: node.ID, Reason: reason, Err: err}
		}
		log.Warn().Err(err).Msg("Node failed")
		var diags []model.Diagnostic
		if res != nil {
			diags = res.Diagnostics
		}
		unbound := unbindOutputs(exec, node, req, out.Session)
		return o.fail(ctx, node, err, diags, unbound, emit)
	}

	apply(out.Session, res)
	ev := events.NodeComplete(node, res.Variables, res.Diagnostics)
	ev.ToolCalls = res.ToolCalls
	if err := emit.Emit(ctx, ev); err != nil {
		return abort(ctx, err)
	}
	log.Debug().Int("bound", len(res.Variables)).Int("diagnostics", len(res.Diagnostics)).Msg("Node complete")
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, node *model.Node, err error, diags []model.Diagnostic, unbound map[string]any, emit events.Emitter) error {
	ev := events.NodeError(node, err, diags)
	ev.Variables = unbound
	if emitErr := emit.Emit(ctx, ev); emitErr != nil {
		return abort(ctx, emitErr)
	}
	return nil
}

// apply merges a completed node's delta into the working session. A nil
// binding unsets the variable.
func apply(s *model.Session, res *nodes.Result) {
	s.Messages = append(s.Messages, res.Messages...)
	for id, v := range res.Variables {
		if v == nil {
			delete(s.Variables, id)
			continue
		}
		s.Variables[id] = v
	}
}

// unbindOutputs removes the variables owned by a failed node from the working
// session. The removed ids are returned as nil bindings.
func unbindOutputs(exec nodes.Executor, node *model.Node, req *model.ResponseRequest, s *model.Session) map[string]any {
	owner, ok := exec.(nodes.OutputOwner)
	if !ok {
		return nil
	}
	store := variables.NewStore(s.Variables, req.Variables)
	var unbound map[string]any
	for _, id := range owner.OutputIDs(node, req) {
		if !store.Bound(id) {
			continue
		}
		store.Unset(id)
		if unbound == nil {
			unbound = map[string]any{}
		}
		unbound[id] = nil
	}
	return unbound
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %v", errx.ErrTurnCancelled, cause)
}

func abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	return err
}
