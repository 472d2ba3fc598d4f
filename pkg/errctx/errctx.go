// Package errctx carries a lightweight failure context used to
// decorate top-level error messages. A component sets the context
// immediately before an operation that might fail; only the final
// error printer consults it, so individual call sites never format
// their own diagnostics.
package errctx

import "fmt"

// Kind classifies what was being processed when a failure occurred.
type Kind string

const (
	KindAttribute Kind = "attribute"
	KindSection   Kind = "section"
	KindMode      Kind = "mode"
	KindReference Kind = "reference"
	KindEnvVar    Kind = "environment variable"
	KindSysProp   Kind = "system property"
	KindRuntime   Kind = "runtime installation"
)

// Context records the most recent kind/key/value triple. The launch
// pipeline is single-threaded, so no locking is needed; one Context
// lives on each launch session.
type Context struct {
	kind  Kind
	key   string
	value string
	set   bool
}

// Set records what is about to be processed.
func (c *Context) Set(kind Kind, key, value string) {
	c.kind = kind
	c.key = key
	c.value = value
	c.set = true
}

// Clear discards the recorded context.
func (c *Context) Clear() {
	c.set = false
}

// Describe returns the human-readable suffix for the current context.
func (c *Context) Describe() (string, bool) {
	if !c.set {
		return "", false
	}
	if c.value == "" {
		return fmt.Sprintf("while processing %s %s", c.kind, c.key), true
	}
	return fmt.Sprintf("while processing %s %s: %s", c.kind, c.key, c.value), true
}

// Decorate appends the current context to err for top-level display.
// Returns err unchanged when no context is set or err is nil.
func (c *Context) Decorate(err error) error {
	if err == nil {
		return nil
	}
	if desc, ok := c.Describe(); ok {
		return fmt.Errorf("%w %s", err, desc)
	}
	return err
}
