package prompts

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/variables"
)

// RenderNodeMessages substitutes {{variable}} placeholders in a talk node's
// system prompt and content, and passes the result through the Eino prompt
// component so prompt callbacks fire.
//
// Placeholders are replaced before formatting; a messages placeholder keeps
// Eino from interpreting braces in user supplied text.
func RenderNodeMessages(ctx context.Context, systemPrompt string, content []*schema.Message, vars map[string]any) (string, []*schema.Message, error) {
	system := variables.Render(systemPrompt, vars)

	rendered := make([]*schema.Message, 0, len(content))
	for _, m := range content {
		if m == nil {
			continue
		}
		c := *m
		c.Content = variables.Render(m.Content, vars)
		rendered = append(rendered, &c)
	}

	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("node_system", true),
		schema.MessagesPlaceholder("node_content", true),
	)
	in := map[string]any{"node_content": rendered}
	if system != "" {
		in["node_system"] = []*schema.Message{schema.SystemMessage(system)}
	}
	msgs, err := tpl.Format(ctx, in)
	if err != nil {
		return "", nil, fmt.Errorf("node prompt render: %w", err)
	}

	if system != "" {
		if len(msgs) == 0 || msgs[0] == nil || msgs[0].Role != schema.System {
			return "", nil, fmt.Errorf("node prompt render: system message lost")
		}
		return msgs[0].Content, msgs[1:], nil
	}
	return "", msgs, nil
}
