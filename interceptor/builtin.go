package interceptor

import (
	"sort"

	"github.com/reflowlabs/reflow/logging"
)

// pathStackKey stores the stack of original db values saved by nested
// Path interceptors.
const pathStackKey = "reflow.interceptor/path-db-stack"

// Path focuses the db coeffect on a nested sub-path of a
// map[string]any state for everything nested inside it, and grafts the
// produced db effect back into the full state in the after phase.
//
// Missing path segments read as nil; writing creates the intermediate
// maps. The surrounding state maps are copied, never mutated.
func Path(path ...string) Interceptor {
	return Interceptor{
		ID: "path",
		Before: func(c *Context) (*Context, error) {
			stack, _ := c.Coeffects[pathStackKey].([]any)
			db := c.DB()
			c.Coeffects[pathStackKey] = append(stack, db)
			c.SetDB(getIn(db, path))
			return c, nil
		},
		After: func(c *Context) (*Context, error) {
			stack, _ := c.Coeffects[pathStackKey].([]any)
			if len(stack) == 0 {
				return c, nil
			}
			orig := stack[len(stack)-1]
			c.Coeffects[pathStackKey] = stack[:len(stack)-1]
			c.SetDB(orig)
			if sub, ok := c.EffectDB(); ok {
				c.SetEffectDB(assocIn(orig, path, sub))
			}
			return c, nil
		},
	}
}

// After runs a side-effecting function on the result db once the inner
// chain has produced it. The function's return value is ignored.
func After(f func(db any)) Interceptor {
	return Interceptor{
		ID: "after",
		After: func(c *Context) (*Context, error) {
			f(resultDB(c))
			return c, nil
		},
	}
}

// Enrich transforms the result db. Returning nil leaves the result
// unchanged.
func Enrich(f func(db any) any) Interceptor {
	return Interceptor{
		ID: "enrich",
		After: func(c *Context) (*Context, error) {
			if nv := f(resultDB(c)); nv != nil {
				c.SetEffectDB(nv)
			}
			return c, nil
		},
	}
}

// Debug logs event entry and the produced effect kinds through the
// given logger.
func Debug(l logging.Logger) Interceptor {
	if l == nil {
		l = logging.Default()
	}
	return Interceptor{
		ID: "debug",
		Before: func(c *Context) (*Context, error) {
			ev := c.Event()
			l.Debug("handling event", "event", ev.Key, "payload", ev.Payload)
			return c, nil
		},
		After: func(c *Context) (*Context, error) {
			kinds := make([]string, 0, len(c.Effects))
			for k := range c.Effects {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			l.Debug("handled event", "event", c.Event().Key, "effects", kinds)
			return c, nil
		},
	}
}

// resultDB returns the db effect if the inner chain produced one, the
// db coeffect otherwise.
func resultDB(c *Context) any {
	if v, ok := c.EffectDB(); ok {
		return v
	}
	return c.DB()
}

// getIn walks a nested map[string]any by path. A missing segment or a
// non-map intermediate reads as nil.
func getIn(v any, path []string) any {
	for _, seg := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[seg]
	}
	return v
}

// assocIn sets a value at a nested path, copying every map along the
// way and creating intermediates as needed.
func assocIn(v any, path []string, value any) any {
	if len(path) == 0 {
		return value
	}

	m, _ := v.(map[string]any)
	out := make(map[string]any, len(m)+1)
	for k, mv := range m {
		out[k] = mv
	}
	out[path[0]] = assocIn(m[path[0]], path[1:], value)
	return out
}
