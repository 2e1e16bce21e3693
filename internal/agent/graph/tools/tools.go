package tools

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
)

// Merge combines request level and node level tools. A node tool replaces a
// request tool of the same name; order is request first, then node.
func Merge(request, node []model.ToolSpec) []model.ToolSpec {
	if len(node) == 0 {
		return request
	}
	byName := make(map[string]int, len(request)+len(node))
	out := make([]model.ToolSpec, 0, len(request)+len(node))
	for _, list := range [][]model.ToolSpec{request, node} {
		for _, t := range list {
			if i, ok := byName[t.Function.Name]; ok {
				out[i] = t
				continue
			}
			byName[t.Function.Name] = len(out)
			out = append(out, t)
		}
	}
	return out
}

// ToToolInfos converts wire tool specs into Eino tool descriptions. The
// parameters document is passed through as a JSON schema.
func ToToolInfos(specs []model.ToolSpec) ([]*schema.ToolInfo, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]*schema.ToolInfo, 0, len(specs))
	for _, s := range specs {
		if s.Function.Name == "" {
			return nil, fmt.Errorf("tool without name")
		}
		info := &schema.ToolInfo{Name: s.Function.Name, Desc: s.Function.Description}
		if len(s.Function.Parameters) > 0 {
			js, err := parametersSchema(s.Function.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", s.Function.Name, err)
			}
			info.ParamsOneOf = schema.NewParamsOneOfByJSONSchema(js)
		}
		out = append(out, info)
	}
	return out, nil
}

// parametersSchema decodes a tool's parameters. The root must describe an
// object; nested schemas are taken as given.
func parametersSchema(params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	if js.Type == "" && len(js.TypeEnhanced) == 0 {
		js.Type = string(schema.Object)
	}
	if js.Type != string(schema.Object) {
		return nil, fmt.Errorf("parameters must be an object schema")
	}
	return &js, nil
}
