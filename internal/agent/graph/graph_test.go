package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/conditions"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/events"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/nodes"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

type execFunc func(ctx context.Context, node *model.Node, turn *nodes.Turn, emit events.Emitter) (*nodes.Result, error)

func (f execFunc) Execute(ctx context.Context, node *model.Node, turn *nodes.Turn, emit events.Emitter) (*nodes.Result, error) {
	return f(ctx, node, turn, emit)
}

// binder completes every node by emitting its id and binding <id>_done.
var binder = execFunc(func(ctx context.Context, node *model.Node, _ *nodes.Turn, emit events.Emitter) (*nodes.Result, error) {
	if err := emit.Emit(ctx, events.Content(node, node.ID)); err != nil {
		return nil, err
	}
	return &nodes.Result{
		Messages:  []*schema.Message{schema.AssistantMessage("from "+node.ID, nil)},
		Variables: map[string]any{node.ID + "_done": true},
		Usage:     model.Tally{Tokens: 10},
	}, nil
})

func talk(id, condition string, required ...string) model.Node {
	n := model.Node{ID: id, Type: model.NodeTalk, Talk: &model.TalkNode{}}
	if condition != "" || len(required) > 0 {
		n.TransitionCondition = &model.TransitionCondition{Condition: condition, RequiredVariables: required}
	}
	return n
}

func request(ns ...model.Node) *model.ResponseRequest {
	return &model.ResponseRequest{Model: "gemini-2.5-flash", States: model.States{Nodes: ns}}
}

func newSession() *model.Session {
	return model.NewSession("sess-1", time.Minute, time.Now())
}

// runCollect runs the orchestrator against a real Stream so the ordering
// guard is exercised.
func runCollect(t *testing.T, ctx context.Context, o *Orchestrator, req *model.ResponseRequest, s *model.Session) (*Outcome, []model.Event) {
	t.Helper()
	st := events.NewStream(events.DefaultBuffer)
	var (
		wg  sync.WaitGroup
		evs []model.Event
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		evs = events.Collect(context.Background(), st.Events())
	}()
	out := o.Run(ctx, req, s, false, st)
	st.Close()
	wg.Wait()
	return out, evs
}

type step struct {
	typ  model.EventType
	node string
}

func steps(evs []model.Event) []step {
	out := make([]step, len(evs))
	for i, ev := range evs {
		out[i] = step{ev.Type, ev.NodeID}
	}
	return out
}

func TestRunSinglePassFirstMatch(t *testing.T) {
	o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder}, conditions.NewEvaluator(), model.GraphConfig{})
	req := request(
		talk("a", ""),
		talk("b", "", "never_bound"),
		talk("c", "a_done == true"),
		talk("d", "c_done == false"),
		// e's requirement is bound by f, but traversal never goes back.
		talk("e", "", "f_done"),
		talk("f", ""),
	)
	session := newSession()

	out, evs := runCollect(t, context.Background(), o, req, session)
	require.NoError(t, out.Err)
	assert.Equal(t, 3, out.Steps)
	assert.Equal(t, 30, out.Usage.Tokens)

	assert.Equal(t, []step{
		{model.EventNodeStart, "a"}, {model.EventContent, "a"}, {model.EventNodeComplete, "a"},
		{model.EventNodeStart, "c"}, {model.EventContent, "c"}, {model.EventNodeComplete, "c"},
		{model.EventNodeStart, "f"}, {model.EventContent, "f"}, {model.EventNodeComplete, "f"},
	}, steps(evs))
	assert.Equal(t, map[string]any{"a_done": true}, evs[2].Variables)

	assert.Equal(t, map[string]any{"a_done": true, "c_done": true, "f_done": true}, out.Session.Variables)
	assert.Len(t, out.Session.Messages, 3)
	assert.Empty(t, session.Variables, "input session must not be modified")
}

func TestRunNodeErrorSkipsDependents(t *testing.T) {
	failing := execFunc(func(context.Context, *model.Node, *nodes.Turn, events.Emitter) (*nodes.Result, error) {
		return &nodes.Result{Diagnostics: []model.Diagnostic{{Code: "probe"}}},
			&errx.NodeExecutionError{NodeID: "quote", Reason: "upstream returned non-2xx", Status: 500}
	})
	o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder, model.NodeAPIRequest: failing}, nil, model.GraphConfig{})

	quote := model.Node{ID: "quote", Type: model.NodeAPIRequest, APIRequest: &model.APIRequestNode{Endpoint: "http://x"}}
	out, evs := runCollect(t, context.Background(), o, request(quote, talk("present", "", "price"), talk("fallback", "")), newSession())
	require.NoError(t, out.Err)

	assert.Equal(t, []step{
		{model.EventNodeStart, "quote"}, {model.EventNodeError, "quote"},
		{model.EventNodeStart, "fallback"}, {model.EventContent, "fallback"}, {model.EventNodeComplete, "fallback"},
	}, steps(evs))
	require.NotNil(t, evs[1].Error)
	assert.Equal(t, errx.ErrNodeExecution.Error(), evs[1].Error.Code)
	assert.Contains(t, evs[1].Error.Message, "status 500")
	assert.Equal(t, []model.Diagnostic{{Code: "probe"}}, evs[1].Diagnostics)
	assert.NotContains(t, out.Session.Variables, "price")
}

func TestRunStepLimit(t *testing.T) {
	o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder}, nil, model.GraphConfig{MaxSteps: 2})

	ns := make([]model.Node, 0, 10)
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		ns = append(ns, talk(id, ""))
	}
	out, evs := runCollect(t, context.Background(), o, request(ns...), newSession())

	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, errx.ErrGraphStepLimitExceeded)
	assert.Equal(t, 2, out.Steps)
	assert.Len(t, evs, 6)
	assert.Equal(t, map[string]any{"n1_done": true, "n2_done": true}, out.Session.Variables)
}

func TestRunTerminatesWithinBound(t *testing.T) {
	for _, max := range []int{1, 3, 7} {
		o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder}, nil, model.GraphConfig{MaxSteps: max})
		ns := make([]model.Node, 0, 20)
		for i := 0; i < 20; i++ {
			ns = append(ns, talk(string(rune('a'+i)), ""))
		}
		out, _ := runCollect(t, context.Background(), o, request(ns...), newSession())
		assert.LessOrEqual(t, out.Steps, max)
		assert.ErrorIs(t, out.Err, errx.ErrGraphStepLimitExceeded)
	}
}

func TestRunCancellationKeepsCompletedNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupted := execFunc(func(ctx context.Context, node *model.Node, _ *nodes.Turn, emit events.Emitter) (*nodes.Result, error) {
		cancel()
		return &nodes.Result{Variables: map[string]any{"partial": true}}, ctx.Err()
	})
	o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder, model.NodeAPIRequest: interrupted}, nil, model.GraphConfig{})

	api := model.Node{ID: "api", Type: model.NodeAPIRequest, APIRequest: &model.APIRequestNode{Endpoint: "http://x"}}
	out := o.Run(ctx, request(talk("first", ""), api, talk("never", "")), newSession(), false, &sink{})

	assert.ErrorIs(t, out.Err, errx.ErrTurnCancelled)
	assert.Equal(t, map[string]any{"first_done": true}, out.Session.Variables)
	assert.Equal(t, 2, out.Steps)
}

func TestRunNodeTimeout(t *testing.T) {
	slow := execFunc(func(ctx context.Context, node *model.Node, _ *nodes.Turn, _ events.Emitter) (*nodes.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder, model.NodeAPIRequest: slow}, nil, model.GraphConfig{NodeTimeout: 20 * time.Millisecond})

	api := model.Node{ID: "api", Type: model.NodeAPIRequest, APIRequest: &model.APIRequestNode{Endpoint: "http://x"}}
	out, evs := runCollect(t, context.Background(), o, request(api, talk("next", "")), newSession())
	require.NoError(t, out.Err)
	require.Len(t, evs, 5)
	assert.Equal(t, model.EventNodeError, evs[1].Type)
	assert.Contains(t, evs[1].Error.Message, "timed out")
	assert.Equal(t, model.EventNodeComplete, evs[4].Type)
}

func TestRunContentCondition(t *testing.T) {
	o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder}, nil, model.GraphConfig{})
	out, evs := runCollect(t, context.Background(), o,
		request(talk("ask", ""), talk("yes", "content contains 'FROM ASK'"), talk("no", "content contains 'nothing'")),
		newSession())
	require.NoError(t, out.Err)
	assert.Equal(t, "yes", evs[len(evs)-1].NodeID)
}

func TestRunUnsupportedNodeType(t *testing.T) {
	o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder}, nil, model.GraphConfig{})
	api := model.Node{ID: "api", Type: model.NodeAPIRequest, APIRequest: &model.APIRequestNode{Endpoint: "http://x"}}

	out, evs := runCollect(t, context.Background(), o, request(api), newSession())
	require.NoError(t, out.Err)
	require.Len(t, evs, 2)
	assert.Equal(t, errx.ErrUnsupportedNodeType.Error(), evs[1].Error.Code)
}

// Every executed node yields one start, any content, then one terminal event.
func TestRunEventOrdering(t *testing.T) {
	flaky := execFunc(func(ctx context.Context, node *model.Node, turn *nodes.Turn, emit events.Emitter) (*nodes.Result, error) {
		_ = emit.Emit(ctx, events.Content(node, "partial"))
		return nil, errors.New("boom")
	})
	o := NewOrchestrator(nodes.Registry{model.NodeTalk: binder, model.NodeAPIRequest: flaky}, nil, model.GraphConfig{})
	api := func(id string) model.Node {
		return model.Node{ID: id, Type: model.NodeAPIRequest, APIRequest: &model.APIRequestNode{Endpoint: "http://x"}}
	}

	_, evs := runCollect(t, context.Background(), o, request(talk("a", ""), api("b"), talk("c", ""), api("d")), newSession())

	perNode := map[string][]model.EventType{}
	var order []string
	for _, ev := range evs {
		if _, ok := perNode[ev.NodeID]; !ok {
			order = append(order, ev.NodeID)
		}
		perNode[ev.NodeID] = append(perNode[ev.NodeID], ev.Type)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	for id, types := range perNode {
		require.GreaterOrEqual(t, len(types), 2, id)
		assert.Equal(t, model.EventNodeStart, types[0], id)
		assert.True(t, types[len(types)-1].Terminal(), id)
		for _, mid := range types[1 : len(types)-1] {
			assert.Equal(t, model.EventContent, mid, id)
		}
	}
}

type sink struct{}

func (sink) Emit(context.Context, model.Event) error { return nil }

func TestUnresolvedGateVariables(t *testing.T) {
	o := NewOrchestrator(nodes.Registry{}, nil, model.GraphConfig{})
	quote := model.Node{ID: "quote", Type: model.NodeAPIRequest, APIRequest: &model.APIRequestNode{
		Endpoint: "http://x",
		Outputs:  map[string]string{"price": "price"},
	}}
	req := request(
		talk("ask", "!(destination != null && cabin != null) || content contains 'again'"),
		talk("pay", "", "card", "destination"),
		quote,
		talk("show", "price > 0 && profile.tier == 'gold' && cabin == 'Business'"),
		talk("broken", "a &&"),
	)
	req.Variables = []model.VariableDeclaration{{VariableID: "destination"}}

	got := o.Unresolved(req, map[string]any{"profile": map[string]any{"tier": "gold"}, "stale": nil})
	assert.Equal(t, []string{"cabin", "card"}, got)

	assert.Empty(t, o.Unresolved(req, map[string]any{"cabin": "Business", "card": "visa"}))
}
