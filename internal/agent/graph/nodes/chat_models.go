package nodes

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey     string
	BaseURL    string
	Talk       *model.TalkModelConfig
	Extraction *model.ExtractionModelConfig
}

// ChatModels owns the Gemini client and the models built from it. Talk
// models are created per requested model name and cached.
type ChatModels struct {
	client *genai.Client
	talk   model.TalkModelConfig

	Extraction          *gemini.ChatModel
	ExtractionModelName string

	mu         sync.Mutex
	generators map[string]Generator
}

// NewChatModels creates the Gemini client, the extraction model and the
// default talk model.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.Talk == nil || config.Extraction == nil {
		return nil, fmt.Errorf("chat model config is incomplete")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	extraction, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Extraction.Model,
		Temperature: &config.Extraction.Temperature,
		MaxTokens:   &config.Extraction.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating extraction model")
		return nil, fmt.Errorf("error creating extraction model: %w", err)
	}

	cms := &ChatModels{
		client:              client,
		talk:                *config.Talk,
		Extraction:          extraction,
		ExtractionModelName: config.Extraction.Model,
		generators:          map[string]Generator{},
	}

	// Build the default talk model eagerly so bad configuration fails at startup.
	if _, err := cms.Generator(ctx, ""); err != nil {
		return nil, err
	}
	return cms, nil
}

// Generator returns the talk generator for modelName, creating it on first
// use. An empty name selects the configured talk model.
func (cm *ChatModels) Generator(ctx context.Context, modelName string) (Generator, error) {
	if modelName == "" {
		modelName = cm.talk.Model
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if g, ok := cm.generators[modelName]; ok {
		return g, nil
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      cm.client,
		Model:       modelName,
		Temperature: &cm.talk.Temperature,
		MaxTokens:   &cm.talk.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(1024)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Str("model", modelName).Msg("Error creating talk model")
		return nil, fmt.Errorf("error creating talk model %q: %w", modelName, err)
	}

	g, err := NewChatModelGenerator(ctx, modelName, chatModel)
	if err != nil {
		return nil, err
	}
	cm.generators[modelName] = g
	logx.Debug().Str("model", modelName).Msg("Talk model ready")
	return g, nil
}
