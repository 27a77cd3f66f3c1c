package pipeline

// Context is the mutable annotation bag shared by the stages of one
// pipeline run. Stages use it for timestamps and trace markers that
// should not travel in the immutable envelopes.
//
// A Context belongs to exactly one run. The runner executes stages
// sequentially on the calling goroutine, so no locking is needed;
// sharing a Context across concurrent runs is a caller bug.
type Context struct {
	values *Fields
}

// NewContext returns an empty run context.
func NewContext() *Context {
	return &Context{values: NewFields()}
}

// Set stores value under key, replacing any existing value.
func (c *Context) Set(key string, value any) {
	c.values.Set(key, value)
}

// SetIfAbsent stores value under key only when the key is not present.
// It reports whether the value was stored. Stages use this so the first
// writer of an annotation wins.
func (c *Context) SetIfAbsent(key string, value any) bool {
	return c.values.SetIfAbsent(key, value)
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	return c.values.Get(key)
}

// Keys returns the annotation keys in insertion order.
func (c *Context) Keys() []string { return c.values.Keys() }

// Len returns the number of annotations.
func (c *Context) Len() int { return c.values.Len() }

// Snapshot returns a clone of the annotations, for logging after a run.
func (c *Context) Snapshot() *Fields { return c.values.Clone() }
