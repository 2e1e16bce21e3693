package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/observers"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/parsers"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/prompts"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// Extractor pulls declared variable values out of a conversation.
type Extractor interface {
	Extract(ctx context.Context, history []*schema.Message, decls []model.VariableDeclaration) (*ExtractionResult, error)
}

// ExtractionInput is the input of the extraction graph.
type ExtractionInput struct {
	History      []*schema.Message
	Declarations []model.VariableDeclaration
}

// ExtractionResult holds the raw extracted values and the model usage.
type ExtractionResult struct {
	Extraction *parsers.Extraction
	Usage      model.Tally
}

type extractionState struct {
	Usage model.Tally
}

// ChatExtractor runs extraction as a three step Eino graph:
// input converter, extraction chat model, parser.
type ChatExtractor struct {
	runnable compose.Runnable[ExtractionInput, ExtractionResult]
}

func NewChatExtractor(ctx context.Context, chatModel einomodel.BaseChatModel, modelName string, mm *conversations.MessagesManager) (*ChatExtractor, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("extraction chat model is nil")
	}
	if mm == nil {
		return nil, fmt.Errorf("messages manager is nil")
	}

	g := compose.NewGraph[ExtractionInput, ExtractionResult](
		compose.WithGenLocalState(func(ctx context.Context) *extractionState {
			return &extractionState{}
		}),
	)

	if err := g.AddLambdaNode(NodeExtractionInput, newExtractionInputNode(mm)); err != nil {
		return nil, fmt.Errorf("add extraction input node: %w", err)
	}
	if err := g.AddChatModelNode(NodeExtractionChatModel, chatModel,
		compose.WithStatePostHandler(newExtractionChatModelPostHandler(modelName)),
	); err != nil {
		return nil, fmt.Errorf("add extraction model node: %w", err)
	}
	if err := g.AddLambdaNode(NodeExtractionParser, newExtractionParserNode()); err != nil {
		return nil, fmt.Errorf("add extraction parser node: %w", err)
	}

	edges := [][2]string{
		{compose.START, NodeExtractionInput},
		{NodeExtractionInput, NodeExtractionChatModel},
		{NodeExtractionChatModel, NodeExtractionParser},
		{NodeExtractionParser, compose.END},
	}
	for _, edge := range edges {
		if err := g.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}

	runnable, err := g.Compile(ctx, compose.WithGraphName("extraction"))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling extraction graph")
		return nil, fmt.Errorf("error compiling extraction graph: %w", err)
	}
	return &ChatExtractor{runnable: runnable}, nil
}

func (e *ChatExtractor) Extract(ctx context.Context, history []*schema.Message, decls []model.VariableDeclaration) (*ExtractionResult, error) {
	out, err := e.runnable.Invoke(ctx, ExtractionInput{History: history, Declarations: decls},
		compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func newExtractionInputNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in ExtractionInput) ([]*schema.Message, error) {
		systemPrompt, err := prompts.RenderExtractionSystem(ctx, in.Declarations)
		if err != nil {
			return nil, fmt.Errorf("render extraction system prompt: %w", err)
		}
		return mm.BuildExtractionContext(in.History, systemPrompt), nil
	})
}

// newExtractionChatModelPostHandler tallies usage and cost of the
// extraction call into the graph state.
func newExtractionChatModelPostHandler(modelName string) func(context.Context, *schema.Message, *extractionState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *extractionState) (*schema.Message, error) {
		state.Usage.Add(modelName, out)
		if out != nil && out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
			u := out.ResponseMeta.Usage
			logx.Debug().
				Str("node", NodeExtractionChatModel).
				Str("model", modelName).
				Int("prompt_tokens", u.PromptTokens).
				Int("completion_tokens", u.CompletionTokens).
				Int("total_tokens", u.TotalTokens).
				Float64("total_cost_usd", state.Usage.CostUSD).
				Msg("LLM usage")
		}
		return out, nil
	}
}

func newExtractionParserNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, resp *schema.Message) (ExtractionResult, error) {
		if resp == nil {
			return ExtractionResult{}, fmt.Errorf("extraction model returned no message")
		}
		parsed, err := parsers.ParseExtraction(resp.Content)
		if err != nil {
			logx.Error().Err(err).Msg("Error parsing extraction response")
			return ExtractionResult{}, err
		}

		var usage model.Tally
		if err := compose.ProcessState(ctx, func(_ context.Context, state *extractionState) error {
			usage = state.Usage
			return nil
		}); err != nil {
			return ExtractionResult{}, fmt.Errorf("failed to access state: %w", err)
		}
		return ExtractionResult{Extraction: parsed, Usage: usage}, nil
	})
}
