package nodes

import (
	"context"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/parsers"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == model.EventContent {
			out = append(out, ev.Content)
		}
	}
	return out
}

type fakeGenerator struct {
	mu       sync.Mutex
	reply    *schema.Message
	chunks   []*schema.Message
	err      error
	messages []*schema.Message
	tools    []*schema.ToolInfo
}

func (g *fakeGenerator) record(msgs []*schema.Message, tools []*schema.ToolInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = msgs
	g.tools = tools
}

func (g *fakeGenerator) Generate(_ context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
	g.record(msgs, tools)
	return g.reply, g.err
}

func (g *fakeGenerator) Stream(_ context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.StreamReader[*schema.Message], error) {
	g.record(msgs, tools)
	if g.err != nil {
		return nil, g.err
	}
	return schema.StreamReaderFromArray(g.chunks), nil
}

func (g *fakeGenerator) ModelName() string { return "gemini-2.5-flash" }

type fakeExtractor struct {
	values map[string]string
	err    error
	calls  int
	decls  []model.VariableDeclaration
}

func (f *fakeExtractor) Extract(_ context.Context, _ []*schema.Message, decls []model.VariableDeclaration) (*ExtractionResult, error) {
	f.calls++
	f.decls = decls
	if f.err != nil {
		return nil, f.err
	}
	return &ExtractionResult{Extraction: &parsers.Extraction{Values: f.values}, Usage: model.Tally{Tokens: 5}}, nil
}

// fakeChatModel is an Eino BaseChatModel for chain and graph tests.
type fakeChatModel struct {
	mu     sync.Mutex
	reply  *schema.Message
	chunks []*schema.Message
	inputs [][]*schema.Message
	opts   *einomodel.Options
}

func (m *fakeChatModel) Generate(_ context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	m.opts = einomodel.GetCommonOptions(&einomodel.Options{}, opts...)
	return m.reply, nil
}

func (m *fakeChatModel) Stream(_ context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	m.opts = einomodel.GetCommonOptions(&einomodel.Options{}, opts...)
	return schema.StreamReaderFromArray(m.chunks), nil
}

func newTurn(vars map[string]any, history ...*schema.Message) *Turn {
	s := model.NewSession("sess-1", time.Minute, time.Unix(1_700_000_000, 0))
	if vars != nil {
		s.Variables = vars
	}
	s.Messages = append(s.Messages, history...)
	return &Turn{Request: &model.ResponseRequest{Model: "gemini-2.5-flash"}, Session: s}
}

func withUsage(msg *schema.Message, total int) *schema.Message {
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{TotalTokens: total}}
	return msg
}
