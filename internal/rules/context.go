// File: internal/rules/context.go
package rules

import (
	"fmt"

	"github.com/riftlab/automaton/api/schemas"
)

// Context is the per-cycle bag of recognition results, typed variables, and
// metadata that conditions evaluate against. It is owned by exactly one Judge
// invocation and discarded after the cycle; nothing here is goroutine-safe.
type Context struct {
	Recognition map[string]schemas.RecognitionResult
	Variables   map[string]schemas.Value
	Metadata    map[string]string
}

// NewContext returns an empty evaluation context.
func NewContext() *Context {
	return &Context{
		Recognition: make(map[string]schemas.RecognitionResult),
		Variables:   make(map[string]schemas.Value),
		Metadata:    make(map[string]string),
	}
}

// AddSense folds one sense result into the context, keyed by template name.
func (c *Context) AddSense(res *schemas.SenseResult) {
	if res == nil {
		return
	}
	for _, r := range res.Results {
		c.Recognition[r.TemplateName] = r
	}
}

// SetVar stores a typed variable.
func (c *Context) SetVar(name string, v schemas.Value) {
	c.Variables[name] = v
}

// Env materializes the expression environment. Variables appear under their
// own names; recognition results are reached through accessor functions that
// return an error for unknown names, so missing data surfaces as a rule
// evaluation failure instead of evaluating as false.
func (c *Context) Env() map[string]any {
	env := make(map[string]any, len(c.Variables)+8)
	for name, v := range c.Variables {
		env[name] = v.Native()
	}

	env["found"] = func(name string) (bool, error) {
		r, ok := c.Recognition[name]
		if !ok {
			return false, fmt.Errorf("no recognition result for template %q", name)
		}
		return r.Found(), nil
	}
	env["confidence"] = func(name string) (float64, error) {
		r, ok := c.Recognition[name]
		if !ok {
			return 0, fmt.Errorf("no recognition result for template %q", name)
		}
		return r.Confidence, nil
	}
	env["position"] = func(name string) (map[string]any, error) {
		r, ok := c.Recognition[name]
		if !ok {
			return nil, fmt.Errorf("no recognition result for template %q", name)
		}
		if r.Position == nil {
			return nil, fmt.Errorf("template %q matched without a position", name)
		}
		return map[string]any{"x": r.Position.X, "y": r.Position.Y}, nil
	}
	env["metadata"] = func(key string) (string, error) {
		v, ok := c.Metadata[key]
		if !ok {
			return "", fmt.Errorf("no metadata entry %q", key)
		}
		return v, nil
	}
	return env
}
