// Package caplet implements the override-module chain. Caplets are
// registered by name ahead of time; the chain is built from the
// archive's declared caplet list and composed into an explicit
// dispatch table at freeze time. No reflection, no stack inspection:
// the most specific override runs first, and the continuation each
// wrapper receives is the next implementation toward the chain head.
package caplet

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/launch"
	"github.com/provide-io/encap/pkg/ref"
)

var (
	// ErrNotRegistered is returned when a declared caplet has no
	// registered factory.
	ErrNotRegistered = errors.New("caplet not registered")

	// ErrFrozen is returned when a caplet is appended after the
	// dispatch table was built.
	ErrFrozen = errors.New("caplet chain is frozen")
)

// Identity is the launch identity shared by every caplet in one
// chain: which archive, which application, which mode.
type Identity struct {
	ArchivePath string
	AppID       string
	Mode        string
}

// Caplet is one override module instance.
type Caplet interface {
	Name() string
}

// Factory builds a caplet instance for one launch.
type Factory func(id Identity, logger hclog.Logger) (Caplet, error)

// Operation function types. Each interceptable pipeline operation has
// one; a caplet overrides an operation by wrapping its continuation.
type (
	// AttributeFunc post-processes a resolved attribute's raw values.
	AttributeFunc func(name string, values []string) []string

	// LookupFunc turns a descriptor into a reference handle.
	LookupFunc func(descriptor, expectedExt string) (ref.Handle, error)

	// RuntimeFunc selects the runtime installation.
	RuntimeFunc func(ctx context.Context) (launch.Installation, error)

	// PlanFunc assembles the launch plan.
	PlanFunc func(ctx context.Context) (*launch.Plan, error)

	// EnvFunc overlays the child environment.
	EnvFunc func(env []string) []string

	// PreLaunchFunc runs after the plan is final, before spawn.
	PreLaunchFunc func(plan *launch.Plan) error

	// CleanupFunc runs on the session's single cleanup path.
	CleanupFunc func()
)

// A caplet implements any subset of these to intercept the matching
// operation. The next argument is the toward-head continuation; not
// calling it replaces the operation entirely.
type (
	AttributeWrapper interface {
		WrapAttribute(next AttributeFunc) AttributeFunc
	}
	LookupWrapper interface {
		WrapLookup(next LookupFunc) LookupFunc
	}
	RuntimeWrapper interface {
		WrapRuntime(next RuntimeFunc) RuntimeFunc
	}
	PlanWrapper interface {
		WrapPlan(next PlanFunc) PlanFunc
	}
	EnvWrapper interface {
		WrapEnv(next EnvFunc) EnvFunc
	}
	PreLaunchWrapper interface {
		WrapPreLaunch(next PreLaunchFunc) PreLaunchFunc
	}
	CleanupWrapper interface {
		WrapCleanup(next CleanupFunc) CleanupFunc
	}
)

// Registry maps caplet names to factories. One registry lives on each
// launch session; nothing is process-global.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty caplet registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a caplet name to its factory. Re-registering a name
// replaces the factory.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Registered reports whether a factory exists for name.
func (r *Registry) Registered(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Build constructs a chain from the declared caplet names, in
// declaration order (head first). Duplicate names collapse to their
// first occurrence.
func (r *Registry) Build(names []string, id Identity, logger hclog.Logger) (*Chain, error) {
	chain := NewChain(id, logger)
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
		}
		c, err := factory(id, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build caplet %q: %w", name, err)
		}
		if err := chain.Append(c); err != nil {
			return nil, err
		}
	}
	return chain, nil
}
