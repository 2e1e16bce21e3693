package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/observers"
)

// Generator is the generation capability used by talk nodes.
type Generator interface {
	Generate(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error)
	Stream(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.StreamReader[*schema.Message], error)
	// ModelName is used to price token usage.
	ModelName() string
}

// GeneratorProvider resolves the generator for the model named in a request.
type GeneratorProvider interface {
	Generator(ctx context.Context, modelName string) (Generator, error)
}

// ChatModelGenerator runs a chat model inside a compiled Eino chain so
// model and prompt callbacks fire for every call.
type ChatModelGenerator struct {
	name     string
	runnable compose.Runnable[[]*schema.Message, *schema.Message]
}

func NewChatModelGenerator(ctx context.Context, modelName string, chatModel einomodel.BaseChatModel) (*ChatModelGenerator, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel, compose.WithNodeName(NodeTalkChatModel))

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile talk chain: %w", err)
	}
	return &ChatModelGenerator{name: modelName, runnable: runnable}, nil
}

func (g *ChatModelGenerator) ModelName() string {
	return g.name
}

func (g *ChatModelGenerator) Generate(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
	return g.runnable.Invoke(ctx, messages, g.options(tools)...)
}

func (g *ChatModelGenerator) Stream(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.StreamReader[*schema.Message], error) {
	return g.runnable.Stream(ctx, messages, g.options(tools)...)
}

func (g *ChatModelGenerator) options(tools []*schema.ToolInfo) []compose.Option {
	opts := []compose.Option{compose.WithCallbacks(observers.NewModelCallbacks())}
	if len(tools) > 0 {
		opts = append(opts, compose.WithChatModelOption(einomodel.WithTools(tools)))
	}
	return opts
}

// StaticProvider serves the same generator for every model name.
type StaticProvider struct {
	Gen Generator
}

func (p StaticProvider) Generator(context.Context, string) (Generator, error) {
	if p.Gen == nil {
		return nil, fmt.Errorf("no generator configured")
	}
	return p.Gen, nil
}
