package parsers

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

const (
	RecordDelimiter     = "##"
	TupleDelimiter      = "<||>"
	CompletionDelimiter = "<|COMPLETE|>"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024 // 64KB
	maxRecords    = 200
	maxTupleLen   = 8 * 1024 // 8KB per tuple
	maxErrSnippet = 200
)

const recordVariable = "variable"

// Extraction is the parsed output of the extraction model. Values holds raw
// text per variable id; typing happens against the declared format.
type Extraction struct {
	Values    map[string]string
	Errors    []string
	Truncated bool
}

type rawTuple struct {
	Type  string
	Parts []string
}

func parseRawTuple(s string) (*rawTuple, error) {
	if s == "" {
		return nil, fmt.Errorf("empty tuple")
	}
	if len(s) > maxTupleLen {
		return nil, fmt.Errorf("tuple too large")
	}

	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("invalid tuple parens")
	}
	inner := s[1 : len(s)-1]
	// at most 3 segments so values may contain the delimiter
	parts := strings.SplitN(inner, TupleDelimiter, 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid tuple parts")
	}
	return &rawTuple{Type: strings.TrimSpace(parts[0]), Parts: parts}, nil
}

// ParseExtraction parses records of the form
// (variable<||>id<||>value)##...<|COMPLETE|>. Bad records are skipped and
// described in Errors. When a variable appears twice the last record wins.
func ParseExtraction(content string) (out *Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "extraction_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("extraction parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			out = nil
		}
	}()

	out = &Extraction{Values: map[string]string{}}

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "extraction_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
		out.Truncated = true
	}
	if idx := strings.Index(content, CompletionDelimiter); idx >= 0 {
		content = content[:idx]
	}
	content = stripCodeFence(content)

	processed := 0
	for _, rec := range strings.Split(content, RecordDelimiter) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		if processed >= maxRecords {
			out.Errors = append(out.Errors, "records capped")
			break
		}
		processed++

		rt, rerr := parseRawTuple(rec)
		if rerr != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("bad_record: %s", safeSnippet(rec)))
			continue
		}
		if !strings.EqualFold(rt.Type, recordVariable) {
			out.Errors = append(out.Errors, fmt.Sprintf("unknown tuple type: %s", safeSnippet(rt.Type)))
			continue
		}
		if len(rt.Parts) < 3 {
			out.Errors = append(out.Errors, "variable: insufficient parts")
			continue
		}
		id := strings.TrimSpace(rt.Parts[1])
		val := strings.TrimSpace(rt.Parts[2])
		if id == "" || !utf8.ValidString(id) {
			out.Errors = append(out.Errors, "variable: invalid id")
			continue
		}
		if !utf8.ValidString(val) {
			out.Errors = append(out.Errors, fmt.Sprintf("variable %s: invalid value utf8", id))
			continue
		}
		if val == "" || strings.EqualFold(val, "null") || strings.EqualFold(val, "none") {
			continue
		}
		out.Values[id] = val
	}
	return out, nil
}

// stripCodeFence drops a surrounding ``` block some models wrap output in.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
