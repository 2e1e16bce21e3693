package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph/events"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/variables"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// APIRequestExecutor runs api_request nodes against the Transport.
type APIRequestExecutor struct {
	transport Transport
	cfg       model.APIRequestConfig
}

func NewAPIRequestExecutor(transport Transport, cfg model.APIRequestConfig) *APIRequestExecutor {
	return &APIRequestExecutor{transport: transport, cfg: cfg}
}

func (e *APIRequestExecutor) Execute(ctx context.Context, node *model.Node, turn *Turn, emit events.Emitter) (*Result, error) {
	spec := node.APIRequest
	res := newResult()
	if spec == nil {
		return res, nodeError(node, "missing api_request definition", nil)
	}
	vars := turn.Session.Variables

	req, err := buildRequest(spec, vars)
	if err != nil {
		return res, nodeError(node, "build request", err)
	}

	timeout := e.cfg.Timeout
	if spec.TimeoutMS > 0 {
		timeout = time.Duration(spec.TimeoutMS) * time.Millisecond
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logx.Debug().Str("node_id", node.ID).Str("method", req.Method).Str("url", req.URL).Msg("Calling endpoint")
	started := time.Now()
	resp, err := e.transport.Do(callCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return res, nodeError(node, fmt.Sprintf("timeout after %s", timeout), err)
		}
		return res, nodeError(node, "transport failed", err)
	}
	logx.Debug().
		Str("node_id", node.ID).
		Int("status", resp.Status).
		Int("bytes", len(resp.Body)).
		Dur("elapsed", time.Since(started)).
		Msg("Endpoint responded")

	if resp.Status < 200 || resp.Status > 299 {
		return res, &errx.NodeExecutionError{
			NodeID: node.ID,
			Reason: "upstream returned non-2xx",
			Status: resp.Status,
			Err:    errors.New(snippet(resp.Body)),
		}
	}

	expectJSON := len(spec.Outputs) > 0 || strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "json")
	if expectJSON && len(resp.Body) > 0 && !gjson.ValidBytes(resp.Body) {
		return res, &errx.NodeExecutionError{NodeID: node.ID, Reason: "malformed response body", Status: resp.Status}
	}
	if len(spec.Outputs) > 0 && len(resp.Body) == 0 {
		return res, &errx.NodeExecutionError{NodeID: node.ID, Reason: "empty response body", Status: resp.Status}
	}

	store := variables.NewStore(cloneVars(vars), turn.Request.Variables)
	if len(spec.Outputs) > 0 {
		bindOutputs(spec.Outputs, resp.Body, store, res)
	} else if expectJSON {
		bindDeclared(resp.Body, store, res)
	}

	if len(resp.Body) > 0 {
		if err := emit.Emit(ctx, events.Content(node, string(resp.Body))); err != nil {
			return res, err
		}
	}

	for _, msg := range contentMessages(spec.Content) {
		msg.Content = variables.Render(msg.Content, store.Values())
		res.Messages = append(res.Messages, msg)
	}
	return res, nil
}

// OutputIDs lists the variables node binds on success: the keys of its
// outputs or, without outputs, the declarations scoped to node.
func (e *APIRequestExecutor) OutputIDs(node *model.Node, req *model.ResponseRequest) []string {
	spec := node.APIRequest
	if spec == nil {
		return nil
	}
	var ids []string
	if len(spec.Outputs) > 0 {
		for id := range spec.Outputs {
			ids = append(ids, id)
		}
	} else if req != nil {
		for _, d := range req.Variables {
			if slices.Contains(d.Nodes, node.ID) {
				ids = append(ids, d.VariableID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// buildRequest substitutes variables into endpoint, headers and body.
func buildRequest(spec *model.APIRequestNode, vars map[string]any) (*HTTPRequest, error) {
	endpoint := variables.RenderURL(spec.Endpoint, vars)
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}

	header := http.Header{}
	for k, v := range spec.Headers {
		header.Set(k, variables.Render(v, vars))
	}

	var body []byte
	if spec.Body != nil {
		switch b := variables.RenderValue(spec.Body, vars).(type) {
		case string:
			body = []byte(b)
		default:
			body, err = json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			if header.Get("Content-Type") == "" {
				header.Set("Content-Type", "application/json")
			}
		}
	}

	return &HTTPRequest{Method: spec.HTTPMethod(), URL: u.String(), Header: header, Body: body}, nil
}

// bindOutputs binds each output variable from its gjson path.
func bindOutputs(outputs map[string]string, body []byte, store *variables.Store, res *Result) {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r := gjson.GetBytes(body, outputs[id])
		if !r.Exists() {
			res.diagnose(model.Diagnostic{Code: model.DiagnosticOutputMissing, VariableID: id, Message: fmt.Sprintf("path %q not found", outputs[id])})
			continue
		}
		bind(id, r.Value(), store, res)
	}
}

// bindDeclared binds declared variables found as top-level keys of a JSON
// object body. Absent keys are ignored.
func bindDeclared(body []byte, store *variables.Store, res *Result) {
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return
	}
	fields := doc.Map()
	decls := store.Declarations()
	sort.Slice(decls, func(i, j int) bool { return decls[i].VariableID < decls[j].VariableID })
	for _, d := range decls {
		if r, ok := fields[d.VariableID]; ok {
			bind(d.VariableID, r.Value(), store, res)
		}
	}
}

func bind(id string, value any, store *variables.Store, res *Result) {
	if err := store.Set(id, value); err != nil {
		res.diagnose(formatDiagnostic(model.DiagnosticOutputRejected, id, err))
		return
	}
	res.Variables[id], _ = store.Get(id)
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
