package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/parsers"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
)

//go:embed template/extraction_prompt.txt
var extractionSystemPrompt string

type extractionVariable struct {
	ID          string
	Name        string
	Type        model.FormatType
	Description string
	Format      string
	Options     string
}

// RenderExtractionSystem renders the extraction system prompt for the given
// declarations via the Eino prompt component, which emits prompt callbacks.
func RenderExtractionSystem(ctx context.Context, decls []model.VariableDeclaration) (string, error) {
	if len(decls) == 0 {
		return "", fmt.Errorf("extraction prompt: no variables")
	}

	vars := make([]extractionVariable, 0, len(decls))
	for _, d := range decls {
		vars = append(vars, extractionVariable{
			ID:          d.VariableID,
			Name:        d.DisplayName(),
			Type:        d.Format.Type,
			Description: d.ExtractionDescription,
			Format:      d.Format.Description,
			Options:     strings.Join(d.Format.Options, " | "),
		})
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(extractionSystemPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Variables": vars,
		"TD":        parsers.TupleDelimiter,
		"RD":        parsers.RecordDelimiter,
		"CD":        parsers.CompletionDelimiter,
	})
	if err != nil {
		return "", fmt.Errorf("extraction prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("extraction prompt render: empty result")
	}
	return msgs[0].Content, nil
}
