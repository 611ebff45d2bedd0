package interceptor

// Well-known coeffect and effect keys.
const (
	// CoeffectDB holds the state snapshot taken at dispatch.
	CoeffectDB = "db"

	// CoeffectEvent holds the Event being processed.
	CoeffectEvent = "event"

	// EffectDB requests a direct state replacement.
	EffectDB = "db"

	// EffectFX requests an ordered list of effects.
	EffectFX = "fx"
)

// Event is the (key, payload) pair stored under CoeffectEvent.
type Event struct {
	Key     string
	Payload any
}

// Context is the execution context threaded through an interceptor
// chain.
//
// Coeffects is the read-only input bag for the event; Effects is the
// write-only accumulator map being built. Queue holds the interceptors
// still to run in the before phase; Stack holds those already run, to
// be unwound in reverse for the after phase. At every point of the
// before phase, Queue followed by the reverse of Stack equals the
// original chain.
type Context struct {
	Coeffects map[string]any
	Effects   map[string]any
	Queue     []Interceptor
	Stack     []Interceptor
}

// NewContext builds the initial context for a dispatch.
func NewContext(coeffects map[string]any, chain []Interceptor) *Context {
	if coeffects == nil {
		coeffects = make(map[string]any)
	}
	queue := make([]Interceptor, len(chain))
	copy(queue, chain)
	return &Context{
		Coeffects: coeffects,
		Effects:   make(map[string]any),
		Queue:     queue,
		Stack:     make([]Interceptor, 0, len(chain)),
	}
}

// DB returns the state snapshot coeffect.
func (c *Context) DB() any {
	return c.Coeffects[CoeffectDB]
}

// SetDB replaces the state snapshot coeffect.
func (c *Context) SetDB(v any) {
	c.Coeffects[CoeffectDB] = v
}

// Event returns the event coeffect.
func (c *Context) Event() Event {
	ev, _ := c.Coeffects[CoeffectEvent].(Event)
	return ev
}

// EffectDB returns the accumulated db effect, if any.
func (c *Context) EffectDB() (any, bool) {
	v, ok := c.Effects[EffectDB]
	return v, ok
}

// SetEffectDB sets the db effect.
func (c *Context) SetEffectDB(v any) {
	c.Effects[EffectDB] = v
}
