package variables

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

// Validate checks value against format and returns its normalised form:
// numbers become float64, list selections take the declared spelling and
// objects are re-decoded into plain JSON values.
func Validate(variableID string, value any, format model.VariableFormat) (any, error) {
	fail := func(reason string, detail string, args ...any) error {
		return &errx.FormatError{VariableID: variableID, Reason: reason, Detail: fmt.Sprintf(detail, args...)}
	}

	switch format.Type {
	case model.FormatString:
		s, ok := value.(string)
		if !ok {
			return nil, fail(errx.ReasonTypeMismatch, "want string, got %T", value)
		}
		return s, nil

	case model.FormatNumber:
		f, ok := toFloat(value)
		if !ok {
			return nil, fail(errx.ReasonTypeMismatch, "want number, got %T", value)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fail(errx.ReasonTypeMismatch, "number is not finite")
		}
		return f, nil

	case model.FormatBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fail(errx.ReasonTypeMismatch, "want boolean, got %T", value)
		}
		return b, nil

	case model.FormatList:
		if len(format.Options) == 0 {
			return nil, fail(errx.ReasonMissingOptions, "list format declares no options")
		}
		s, ok := value.(string)
		if !ok {
			return nil, fail(errx.ReasonTypeMismatch, "want one of %v, got %T", format.Options, value)
		}
		opt, ok := matchOption(s, format.Options)
		if !ok {
			return nil, fail(errx.ReasonInvalidOption, "%q is not one of %v", s, format.Options)
		}
		return opt, nil

	case model.FormatObject:
		return normalizeJSON(variableID, value)

	default:
		return nil, fail(errx.ReasonUnknownType, "%q", format.Type)
	}
}

// Coerce parses raw model output against format before validating it.
func Coerce(variableID, raw string, format model.VariableFormat) (any, error) {
	s := unquote(strings.TrimSpace(raw))
	mismatch := func(want string) error {
		return &errx.FormatError{VariableID: variableID, Reason: errx.ReasonTypeMismatch, Detail: fmt.Sprintf("%q is not a %s", safeSnippet(s), want)}
	}

	switch format.Type {
	case model.FormatNumber:
		cleaned := strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, mismatch("number")
		}
		return Validate(variableID, f, format)

	case model.FormatBoolean:
		switch strings.ToLower(s) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return nil, mismatch("boolean")

	case model.FormatObject:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, mismatch("JSON document")
		}
		return v, nil

	default:
		return Validate(variableID, s, format)
	}
}

func matchOption(s string, options []string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, opt := range options {
		if opt == s {
			return opt, true
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt, s) {
			return opt, true
		}
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalizeJSON round-trips v through encoding/json so stored values look
// the same regardless of backend.
func normalizeJSON(variableID string, v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &errx.FormatError{VariableID: variableID, Reason: errx.ReasonNotSerializable, Detail: err.Error()}
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, &errx.FormatError{VariableID: variableID, Reason: errx.ReasonNotSerializable, Detail: err.Error()}
	}
	return out, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

func safeSnippet(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
