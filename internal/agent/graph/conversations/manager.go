package conversations

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
)

// MessagesManager assembles the message lists sent to the talk and
// extraction models from session history.
type MessagesManager struct {
	extractionMaxTurns int
}

func NewMessagesManager(config model.ExtractionModelConfig) *MessagesManager {
	return &MessagesManager{extractionMaxTurns: config.ContextMessages}
}

// =========== Talk context ===========

// BuildTalkContext returns system prompt, history and node content in that
// order. With appendSystem the node prompt is appended to the first prior
// system message; otherwise it replaces every prior system message. An
// empty system prompt leaves history untouched.
func (cm *MessagesManager) BuildTalkContext(history []*schema.Message, systemPrompt string, content []*schema.Message, appendSystem bool) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+len(content)+1)

	switch {
	case systemPrompt == "":
		messages = append(messages, nonNil(history)...)
	case appendSystem:
		merged := systemPrompt
		rest := make([]*schema.Message, 0, len(history))
		found := false
		for _, m := range nonNil(history) {
			if !found && m.Role == schema.System {
				found = true
				if strings.TrimSpace(m.Content) != "" {
					merged = m.Content + "\n\n" + systemPrompt
				}
				continue
			}
			rest = append(rest, m)
		}
		messages = append(messages, schema.SystemMessage(merged))
		messages = append(messages, rest...)
	default:
		messages = append(messages, schema.SystemMessage(systemPrompt))
		for _, m := range nonNil(history) {
			if m.Role != schema.System {
				messages = append(messages, m)
			}
		}
	}

	return append(messages, nonNil(content)...)
}

// =========== Extraction context ===========

// BuildExtractionContext wraps the recent conversation into a single user
// message for the extraction model.
func (cm *MessagesManager) BuildExtractionContext(history []*schema.Message, systemPrompt string) []*schema.Message {
	recentMessages := trimTail(history, cm.extractionMaxTurns)

	var contextBuilder strings.Builder
	contextBuilder.WriteString("<conversation_context>\n")
	for _, msg := range recentMessages {
		if msg == nil || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			contextBuilder.WriteString("UserMessage(" + msg.Content + ")\n")
		case schema.Assistant:
			contextBuilder.WriteString("AssistantMessage(" + msg.Content + ")\n")
		case schema.Tool:
			contextBuilder.WriteString("ToolMessage(" + msg.Content + ")\n")
		}
	}
	contextBuilder.WriteString("</conversation_context>")

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(contextBuilder.String()),
	}
}

// ====================== Helper function ======================
func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 || len(messages) <= maxTurns {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxTurns:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}

func nonNil(messages []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
