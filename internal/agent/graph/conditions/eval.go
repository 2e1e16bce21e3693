package conditions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

type kind int

const (
	kindUndefined kind = iota
	kindNull
	kindBool
	kindNumber
	kindString
	kindList
	kindObject
)

type value struct {
	kind kind
	b    bool
	n    float64
	s    string
	raw  any
}

func boolValue(b bool) value      { return value{kind: kindBool, b: b} }
func numberValue(n float64) value { return value{kind: kindNumber, n: n} }
func stringValue(s string) value  { return value{kind: kindString, s: s} }

func fromAny(v any) value {
	switch x := v.(type) {
	case nil:
		return value{kind: kindNull}
	case bool:
		return boolValue(x)
	case string:
		return stringValue(x)
	case float64:
		return numberValue(x)
	case float32:
		return numberValue(float64(x))
	case int:
		return numberValue(float64(x))
	case int64:
		return numberValue(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return numberValue(f)
		}
		return stringValue(x.String())
	case []any:
		return value{kind: kindList, raw: x}
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return value{kind: kindList, raw: items}
	case map[string]any:
		return value{kind: kindObject, raw: x}
	default:
		return value{kind: kindObject, raw: x}
	}
}

func (v value) truthy() bool {
	switch v.kind {
	case kindBool:
		return v.b
	case kindNumber:
		return v.n != 0
	case kindString:
		return v.s != ""
	case kindList:
		return len(v.raw.([]any)) > 0
	case kindObject:
		return v.raw != nil
	default:
		return false
	}
}

func equal(a, b value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case kindNull:
		return true
	case kindBool:
		return a.b == b.b
	case kindNumber:
		return a.n == b.n
	case kindString:
		return a.s == b.s
	default:
		return reflect.DeepEqual(a.raw, b.raw)
	}
}

// Env resolves identifiers during evaluation.
type Env interface {
	Lookup(path string) (any, bool)
}

// ContentIdent is the reserved identifier bound to the latest assistant
// text when no variable of that name exists.
const ContentIdent = "content"

// VarEnv resolves identifiers against session variables. Dotted paths walk
// into object values.
type VarEnv struct {
	Vars    map[string]any
	Content string
}

func (e VarEnv) Lookup(path string) (any, bool) {
	if v, ok := e.Vars[path]; ok {
		return v, true
	}
	if path == ContentIdent {
		return e.Content, true
	}
	parts := strings.Split(path, ".")
	cur, ok := e.Vars[parts[0]]
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (e literalExpr) eval(Env) (value, error) { return e.v, nil }

func (e identExpr) eval(env Env) (value, error) {
	v, ok := env.Lookup(e.path)
	if !ok {
		return value{kind: kindUndefined}, nil
	}
	return fromAny(v), nil
}

func (e notExpr) eval(env Env) (value, error) {
	x, err := e.x.eval(env)
	if err != nil {
		return value{}, err
	}
	return boolValue(!x.truthy()), nil
}

func (e logicalExpr) eval(env Env) (value, error) {
	l, err := e.l.eval(env)
	if err != nil {
		return value{}, err
	}
	if e.and && !l.truthy() {
		return boolValue(false), nil
	}
	if !e.and && l.truthy() {
		return boolValue(true), nil
	}
	r, err := e.r.eval(env)
	if err != nil {
		return value{}, err
	}
	return boolValue(r.truthy()), nil
}

func (e compareExpr) eval(env Env) (value, error) {
	l, err := e.l.eval(env)
	if err != nil {
		return value{}, err
	}
	r, err := e.r.eval(env)
	if err != nil {
		return value{}, err
	}
	// Undefined operands never satisfy a comparison, != included.
	if l.kind == kindUndefined || r.kind == kindUndefined {
		return boolValue(false), nil
	}

	switch e.op {
	case tokEq:
		return boolValue(equal(l, r)), nil
	case tokNeq:
		return boolValue(!equal(l, r)), nil
	case tokContains:
		return boolValue(contains(l, r)), nil
	}

	var cmp int
	switch {
	case l.kind == kindNumber && r.kind == kindNumber:
		switch {
		case l.n < r.n:
			cmp = -1
		case l.n > r.n:
			cmp = 1
		}
	case l.kind == kindString && r.kind == kindString:
		cmp = strings.Compare(l.s, r.s)
	default:
		return value{}, fmt.Errorf("cannot order %s and %s", kindName(l.kind), kindName(r.kind))
	}

	switch e.op {
	case tokLt:
		return boolValue(cmp < 0), nil
	case tokLte:
		return boolValue(cmp <= 0), nil
	case tokGt:
		return boolValue(cmp > 0), nil
	default:
		return boolValue(cmp >= 0), nil
	}
}

func contains(haystack, needle value) bool {
	switch haystack.kind {
	case kindString:
		if needle.kind != kindString {
			return false
		}
		return strings.Contains(strings.ToLower(haystack.s), strings.ToLower(needle.s))
	case kindList:
		for _, item := range haystack.raw.([]any) {
			if equal(fromAny(item), needle) {
				return true
			}
		}
	case kindObject:
		if m, ok := haystack.raw.(map[string]any); ok && needle.kind == kindString {
			_, found := m[needle.s]
			return found
		}
	}
	return false
}

func kindName(k kind) string {
	switch k {
	case kindNull:
		return "null"
	case kindBool:
		return "boolean"
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	case kindList:
		return "list"
	case kindObject:
		return "object"
	default:
		return "undefined"
	}
}
