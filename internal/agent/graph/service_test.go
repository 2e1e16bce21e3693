package graph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/events"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/nodes"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/repo"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/sessions"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

type echoGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *echoGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return fmt.Sprintf("reply %d", g.calls)
}

func (g *echoGenerator) Generate(context.Context, []*schema.Message, []*schema.ToolInfo) (*schema.Message, error) {
	return schema.AssistantMessage(g.next(), nil), nil
}

func (g *echoGenerator) Stream(context.Context, []*schema.Message, []*schema.ToolInfo) (*schema.StreamReader[*schema.Message], error) {
	reply := g.next()
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage(reply[:3], nil),
		schema.AssistantMessage(reply[3:], nil),
	}), nil
}

func (g *echoGenerator) ModelName() string { return "gemini-2.5-flash" }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	sm := sessions.NewManager(repo.NewMemorySessionRepository(repo.WithClock(clock.Now)),
		model.SessionConfig{MaxMessages: 50, LockTimeout: time.Second},
		sessions.WithClock(clock.Now))
	t.Cleanup(func() { _ = sm.Close() })

	apiCfg := model.APIRequestConfig{Timeout: time.Second, MaxResponseSize: 1 << 20}
	mm := conversations.NewMessagesManager(model.ExtractionModelConfig{ContextMessages: 6})
	registry := nodes.Registry{
		model.NodeTalk:       nodes.NewTalkExecutor(nodes.StaticProvider{Gen: &echoGenerator{}}, nil, mm),
		model.NodeAPIRequest: nodes.NewAPIRequestExecutor(nodes.NewHTTPTransport(apiCfg), apiCfg),
	}
	orch := NewOrchestrator(registry, nil, model.GraphConfig{MaxSteps: 16, NodeTimeout: 5 * time.Second})
	return NewService(sm, orch), clock
}

func greetRequest(sessionID, input string) *model.ResponseRequest {
	return &model.ResponseRequest{
		Model:     "gemini-2.5-flash",
		Input:     model.Input{{Role: "user", Content: input}},
		SessionID: sessionID,
		States:    model.States{Nodes: []model.Node{{Type: model.NodeTalk, Talk: &model.TalkNode{SystemPrompt: "Be brief."}}}},
	}
}

func TestInvokeMintsSessionAndAppendsHistory(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	first, err := svc.Invoke(ctx, greetRequest("", "hello"))
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, model.ResponseObject, first.Object)
	assert.Nil(t, first.Error)
	require.Len(t, first.Events, 3)
	assert.Equal(t, "node_1", first.Events[0].NodeID)
	assert.Equal(t, "reply 1", first.Events[1].Content)

	second, err := svc.Invoke(ctx, greetRequest(first.SessionID, "again"))
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	s, err := svc.Sessions().Get(ctx, first.SessionID)
	require.NoError(t, err)
	var contents []string
	for _, m := range s.Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"hello", "reply 1", "again", "reply 2"}, contents)
}

func TestInvokeUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Invoke(context.Background(), greetRequest("nope", "hi"))
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
	assert.Equal(t, http.StatusNotFound, errx.StatusOf(err))

	req := greetRequest("chosen-id", "hi")
	req.CreateSession = true
	resp, err := svc.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "chosen-id", resp.SessionID)
}

func TestInvokeExpiredSession(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)

	req := greetRequest("", "hi")
	ttl := 1
	req.StateTTL = &ttl
	first, err := svc.Invoke(ctx, req)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	_, err = svc.Invoke(ctx, greetRequest(first.SessionID, "still there?"))
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
}

func TestInvokeUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"down"}`)
	}))
	defer upstream.Close()

	svc, _ := newTestService(t)
	req := greetRequest("", "quote please")
	req.States.Nodes = []model.Node{
		{ID: "quote", Type: model.NodeAPIRequest, APIRequest: &model.APIRequestNode{
			Endpoint: upstream.URL,
			Outputs:  map[string]string{"price": "price"},
		}},
		{ID: "present", Type: model.NodeTalk, Talk: &model.TalkNode{},
			TransitionCondition: &model.TransitionCondition{RequiredVariables: []string{"price"}}},
		{ID: "apologise", Type: model.NodeTalk, Talk: &model.TalkNode{}},
	}

	resp, err := svc.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)

	var seen []string
	for _, ev := range resp.Events {
		seen = append(seen, string(ev.Type)+":"+ev.NodeID)
	}
	assert.Equal(t, []string{
		"node_start:quote", "node_error:quote",
		"node_start:apologise", "content:apologise", "node_complete:apologise",
	}, seen)
}

func TestInvokeFailedRequestUnbindsOutputs(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"down"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"price":10}`)
	}))
	defer upstream.Close()

	ctx := context.Background()
	svc, _ := newTestService(t)
	quote := func(sessionID string) *model.ResponseRequest {
		req := greetRequest(sessionID, "quote please")
		req.States.Nodes = []model.Node{
			{ID: "quote", Type: model.NodeAPIRequest, APIRequest: &model.APIRequestNode{
				Endpoint: upstream.URL,
				Outputs:  map[string]string{"price": "price"},
			}},
			{ID: "present", Type: model.NodeTalk, Talk: &model.TalkNode{},
				TransitionCondition: &model.TransitionCondition{RequiredVariables: []string{"price"}}},
		}
		return req
	}

	first, err := svc.Invoke(ctx, quote(""))
	require.NoError(t, err)
	s, err := svc.Sessions().Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, s.Variables["price"])

	second, err := svc.Invoke(ctx, quote(first.SessionID))
	require.NoError(t, err)

	var seen []string
	for _, ev := range second.Events {
		seen = append(seen, string(ev.Type)+":"+ev.NodeID)
	}
	assert.Equal(t, []string{"node_start:quote", "node_error:quote"}, seen)
	require.Contains(t, second.Events[1].Variables, "price")
	assert.Nil(t, second.Events[1].Variables["price"])

	s, err = svc.Sessions().Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.NotContains(t, s.Variables, "price")
}

func TestInvokeValidation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Invoke(context.Background(), &model.ResponseRequest{Model: "m"})
	assert.ErrorIs(t, err, errx.ErrInvalidRequest)
}

func TestStreamDeliversFragments(t *testing.T) {
	svc, _ := newTestService(t)
	req := greetRequest("", "hi")
	req.Stream = true

	st, result, err := svc.Stream(context.Background(), req)
	require.NoError(t, err)

	var contents []string
	for ev := range st.Events() {
		if ev.Type == model.EventContent {
			contents = append(contents, ev.Content)
		}
	}
	assert.Equal(t, []string{"rep", "ly 1"}, contents)

	resp := <-result
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.SessionID)
	assert.Empty(t, resp.Events)
}

func TestTurnCommitsOnceAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc, _ := newTestService(t)

	turn, err := svc.Begin(ctx, greetRequest("", "hi"))
	require.NoError(t, err)
	cancel()

	resp := turn.Run(ctx, false, events.NewStream(events.DefaultBuffer))
	require.NotNil(t, resp.Error)
	assert.Equal(t, errx.ErrTurnCancelled.Error(), resp.Error.Code)

	s, err := svc.Sessions().Get(context.Background(), turn.SessionID())
	require.NoError(t, err)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "hi", s.Messages[0].Content)
}
