package conditions

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// Evaluator decides node entry. Parsed expressions are cached by source
// text and the evaluator is safe for concurrent use.
type Evaluator struct {
	cache sync.Map // string -> compiled
}

type compiled struct {
	expr Expr
	err  error
}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

func (e *Evaluator) compile(src string) (Expr, error) {
	if c, ok := e.cache.Load(src); ok {
		cc := c.(compiled)
		return cc.expr, cc.err
	}
	expr, err := Parse(src)
	e.cache.Store(src, compiled{expr: expr, err: err})
	return expr, err
}

// Evaluate runs src against env. A blank expression is true. Parse and
// evaluation failures return false with an error matching
// errx.ErrExpressionEvaluation.
func (e *Evaluator) Evaluate(src string, env Env) (bool, error) {
	if src == "" {
		return true, nil
	}
	expr, err := e.compile(src)
	if err != nil {
		return false, fmt.Errorf("%w: parse %q: %v", errx.ErrExpressionEvaluation, src, err)
	}
	v, err := expr.eval(env)
	if err != nil {
		return false, fmt.Errorf("%w: eval %q: %v", errx.ErrExpressionEvaluation, src, err)
	}
	return v.truthy(), nil
}

// Identifiers lists the distinct identifiers src references, in source
// order, without the reserved content identifier.
func (e *Evaluator) Identifiers(src string) ([]string, error) {
	if src == "" {
		return nil, nil
	}
	expr, err := e.compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", errx.ErrExpressionEvaluation, src, err)
	}
	var out []string
	for _, id := range Identifiers(expr) {
		if id == ContentIdent || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Verdict explains an entry decision.
type Verdict struct {
	Enter bool
	// Missing lists required variables that are not bound.
	Missing []string
	// Err is set when the condition could not be evaluated.
	Err error
}

// Check evaluates the entry gate of node against the given variables and
// latest assistant content.
func (e *Evaluator) Check(node *model.Node, vars map[string]any, content string) Verdict {
	var missing []string
	for _, id := range node.RequiredVariables() {
		if v, ok := vars[id]; !ok || v == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return Verdict{Missing: missing}
	}
	ok, err := e.Evaluate(node.Condition(), VarEnv{Vars: vars, Content: content})
	if err != nil {
		logx.Warn().Err(err).Str("node_id", node.ID).Msg("condition evaluated as false")
	}
	return Verdict{Enter: ok, Err: err}
}

// CanEnter reports whether every required variable is bound and the
// node's condition holds.
func (e *Evaluator) CanEnter(node *model.Node, vars map[string]any, content string) bool {
	return e.Check(node, vars, content).Enter
}
