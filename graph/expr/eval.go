package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

type node interface {
	eval(vars map[string]any) (any, error)
}

type literalNode struct {
	value any
}

func (n *literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type pathNode struct {
	root  string
	steps []any // string field names or int indexes
	text  string
}

func (n *pathNode) eval(vars map[string]any) (any, error) {
	cur, ok := vars[n.root]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefined, n.root)
	}
	for _, step := range n.steps {
		cur, ok = lookup(cur, step)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUndefined, n.text)
		}
	}
	return cur, nil
}

type notNode struct {
	operand node
}

func (n *notNode) eval(vars map[string]any) (any, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type logicalNode struct {
	or          bool
	left, right node
}

func (n *logicalNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	if truthy(l) == n.or {
		return n.or, nil
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}
	return truthy(r), nil
}

type compareNode struct {
	op          tokenKind
	left, right node
}

func (n *compareNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokEq:
		return equal(l, r), nil
	case tokNeq:
		return !equal(l, r), nil
	}
	c, err := order(l, r)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokLt:
		return c < 0, nil
	case tokLte:
		return c <= 0, nil
	case tokGt:
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

// lookup resolves one path step against a map or slice value.
func lookup(v any, step any) (any, bool) {
	switch container := v.(type) {
	case map[string]any:
		key, ok := step.(string)
		if !ok {
			return nil, false
		}
		out, ok := container[key]
		return out, ok
	case []any:
		idx, ok := step.(int)
		if !ok || idx >= len(container) {
			return nil, false
		}
		return container[idx], true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		key, ok := step.(string)
		if !ok || rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !out.IsValid() {
			return nil, false
		}
		return out.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, ok := step.(int)
		if !ok || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	}
	return nil, false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

func order(a, b any) (int, error) {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case math.IsNaN(x) || math.IsNaN(y):
				return 0, fmt.Errorf("%w: NaN is not ordered", ErrType)
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	return 0, fmt.Errorf("%w: cannot order %T and %T", ErrType, a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
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

func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	if f, ok := number(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}
