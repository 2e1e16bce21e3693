package nodes

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/events"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/prompts"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/tools"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/variables"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// TalkExecutor runs talk nodes: it calls the talk model over the session
// history and extracts declared variables from the reply.
type TalkExecutor struct {
	generators GeneratorProvider
	extractor  Extractor
	messages   *conversations.MessagesManager
}

// NewTalkExecutor builds a talk executor. A nil extractor disables
// variable extraction.
func NewTalkExecutor(generators GeneratorProvider, extractor Extractor, mm *conversations.MessagesManager) *TalkExecutor {
	return &TalkExecutor{generators: generators, extractor: extractor, messages: mm}
}

func (e *TalkExecutor) Execute(ctx context.Context, node *model.Node, turn *Turn, emit events.Emitter) (*Result, error) {
	talk := node.Talk
	if talk == nil {
		talk = &model.TalkNode{}
	}
	res := newResult()
	store := variables.NewStore(cloneVars(turn.Session.Variables), turn.Request.Variables)

	e.bindState(node, talk.State, store, res)

	systemPrompt, content, err := prompts.RenderNodeMessages(ctx, talk.SystemPrompt, contentMessages(talk.Content), store.Values())
	if err != nil {
		return res, nodeError(node, "render prompt", err)
	}
	messages := e.messages.BuildTalkContext(turn.Session.Messages, systemPrompt, content, turn.Request.States.AppendSystemPrompt)

	toolInfos, err := tools.ToToolInfos(tools.Merge(turn.Request.Tools, talk.Tools))
	if err != nil {
		return res, nodeError(node, "invalid tools", err)
	}

	gen, err := e.generators.Generator(ctx, turn.Request.Model)
	if err != nil {
		return res, nodeError(node, "resolve model", err)
	}

	var reply *schema.Message
	if turn.Stream {
		reply, err = e.stream(ctx, node, gen, messages, toolInfos, emit)
	} else {
		reply, err = e.generate(ctx, node, gen, messages, toolInfos, emit)
	}
	if err != nil {
		return res, err
	}
	res.Usage.Add(gen.ModelName(), reply)

	assistant := schema.AssistantMessage(reply.Content, reply.ToolCalls)
	res.Messages = append(res.Messages, assistant)
	res.ToolCalls = reply.ToolCalls
	if len(reply.ToolCalls) > 0 {
		logx.Debug().Str("node_id", node.ID).Int("tool_count", len(reply.ToolCalls)).Msg("Model requested tools")
	}

	history := make([]*schema.Message, 0, len(turn.Session.Messages)+1)
	history = append(history, turn.Session.Messages...)
	history = append(history, assistant)
	if err := e.extract(ctx, node, history, store, res); err != nil {
		return res, err
	}
	return res, nil
}

// bindState applies the node's initial bindings. Rejected values are
// reported as diagnostics and left unbound.
func (e *TalkExecutor) bindState(node *model.Node, state map[string]any, store *variables.Store, res *Result) {
	ids := make([]string, 0, len(state))
	for id := range state {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		value := variables.RenderValue(state[id], store.Values())
		if err := store.Set(id, value); err != nil {
			res.diagnose(formatDiagnostic(model.DiagnosticStateRejected, id, err))
			logx.Warn().Err(err).Str("node_id", node.ID).Str("variable_id", id).Msg("State binding rejected")
			continue
		}
		res.Variables[id], _ = store.Get(id)
	}
}

func (e *TalkExecutor) generate(ctx context.Context, node *model.Node, gen Generator, messages []*schema.Message, toolInfos []*schema.ToolInfo, emit events.Emitter) (*schema.Message, error) {
	reply, err := gen.Generate(ctx, messages, toolInfos)
	if err != nil {
		return nil, nodeError(node, "generation failed", err)
	}
	if reply == nil {
		return nil, nodeError(node, "generation failed", errors.New("empty model response"))
	}
	if reply.Content != "" {
		if err := emit.Emit(ctx, events.Content(node, reply.Content)); err != nil {
			return nil, err
		}
	}
	return reply, nil
}

// stream emits one content event per non-empty fragment and returns the
// concatenated reply.
func (e *TalkExecutor) stream(ctx context.Context, node *model.Node, gen Generator, messages []*schema.Message, toolInfos []*schema.ToolInfo, emit events.Emitter) (*schema.Message, error) {
	sr, err := gen.Stream(ctx, messages, toolInfos)
	if err != nil {
		return nil, nodeError(node, "generation failed", err)
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nodeError(node, "generation stream failed", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if err := emit.Emit(ctx, events.Content(node, chunk.Content)); err != nil {
				return nil, err
			}
		}
	}
	if len(chunks) == 0 {
		return nil, nodeError(node, "generation failed", errors.New("empty model stream"))
	}
	reply, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, nodeError(node, "concat stream", err)
	}
	return reply, nil
}

// extract binds applicable declared variables from the conversation.
// Extraction failures are non-fatal; only cancellation aborts the node.
func (e *TalkExecutor) extract(ctx context.Context, node *model.Node, history []*schema.Message, store *variables.Store, res *Result) error {
	if e.extractor == nil {
		return nil
	}
	var decls []model.VariableDeclaration
	for _, d := range store.Declarations() {
		if d.Extractable(node.ID) {
			decls = append(decls, d)
		}
	}
	if len(decls) == 0 {
		return nil
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].VariableID < decls[j].VariableID })

	out, err := e.extractor.Extract(ctx, history, decls)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logx.Warn().Err(err).Str("node_id", node.ID).Msg("Variable extraction failed")
		res.diagnose(model.Diagnostic{Code: model.DiagnosticExtractionFailed, Message: err.Error()})
		return nil
	}
	res.Usage.Merge(out.Usage)
	if out.Extraction == nil {
		return nil
	}
	for _, msg := range out.Extraction.Errors {
		logx.Debug().Str("node_id", node.ID).Str("detail", msg).Msg("Skipped extraction record")
	}

	for _, d := range decls {
		raw, ok := out.Extraction.Values[d.VariableID]
		if !ok {
			continue
		}
		value, err := variables.Coerce(d.VariableID, raw, d.Format)
		if err == nil {
			err = store.Set(d.VariableID, value)
		}
		if err != nil {
			res.diagnose(formatDiagnostic(model.DiagnosticExtractionFailed, d.VariableID, err))
			logx.Debug().Err(err).Str("node_id", node.ID).Str("variable_id", d.VariableID).Msg("Extracted value rejected")
			continue
		}
		res.Variables[d.VariableID], _ = store.Get(d.VariableID)
	}
	return nil
}

func formatDiagnostic(code, variableID string, err error) model.Diagnostic {
	d := model.Diagnostic{Code: code, VariableID: variableID, Message: err.Error()}
	var fe *errx.FormatError
	if errors.As(err, &fe) {
		d.Reason = fe.Reason
	}
	return d
}
