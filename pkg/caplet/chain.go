package caplet

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/launch"
	"github.com/provide-io/encap/pkg/ref"
)

// Ops holds the base implementation of every interceptable operation,
// supplied by the engine at freeze time. Nil entries become no-ops.
type Ops struct {
	Attribute     AttributeFunc
	Lookup        LookupFunc
	SelectRuntime RuntimeFunc
	BuildPlan     PlanFunc
	Environment   EnvFunc
	PreLaunch     PreLaunchFunc
	Cleanup       CleanupFunc
}

// Chain is the ordered caplet list plus, once frozen, the composed
// dispatch table. Append-only, head to tail; appending a caplet
// already present is a no-op. The chain owns the shared launch
// identity.
type Chain struct {
	id      Identity
	caplets []Caplet
	frozen  bool
	table   Ops
	logger  hclog.Logger
}

// NewChain creates an empty chain for one launch identity.
func NewChain(id Identity, logger hclog.Logger) *Chain {
	return &Chain{id: id, logger: logger}
}

// Identity returns the launch identity the chain was built for.
func (ch *Chain) Identity() Identity {
	return ch.id
}

// Append adds a caplet at the tail. Appending one already in the
// chain (by name) is a no-op, so wrapping an archive with another
// that carries the same caplet does not apply it twice.
func (ch *Chain) Append(c Caplet) error {
	if ch.frozen {
		return fmt.Errorf("%w: cannot append %q", ErrFrozen, c.Name())
	}
	if ch.Has(c.Name()) {
		ch.logger.Debug("Caplet already in chain, append is a no-op", "caplet", c.Name())
		return nil
	}
	ch.caplets = append(ch.caplets, c)
	ch.logger.Debug("🧷 Appended caplet", "caplet", c.Name(), "position", len(ch.caplets)-1)
	return nil
}

// Has reports whether a caplet with the given name is in the chain.
func (ch *Chain) Has(name string) bool {
	for _, c := range ch.caplets {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// Nearest returns the caplet with the given name at or before the
// position of the caplet named from, searching toward the head; nil
// when none matches. An empty from searches from the tail.
func (ch *Chain) Nearest(from, name string) Caplet {
	start := len(ch.caplets) - 1
	if from != "" {
		start = -1
		for i, c := range ch.caplets {
			if c.Name() == from {
				start = i
				break
			}
		}
	}
	for i := start; i >= 0; i-- {
		if ch.caplets[i].Name() == name {
			return ch.caplets[i]
		}
	}
	return nil
}

// Order returns the caplet names head to tail.
func (ch *Chain) Order() []string {
	names := make([]string, len(ch.caplets))
	for i, c := range ch.caplets {
		names[i] = c.Name()
	}
	return names
}

// Freeze builds the dispatch table: for each operation, the base
// implementation wrapped head to tail, so the tail-most override is
// outermost and runs first, and each override's continuation is the
// next implementation toward the head. After Freeze the chain shape
// is fixed.
func (ch *Chain) Freeze(base Ops) {
	ch.table = fillNoOps(base)

	for _, c := range ch.caplets {
		if w, ok := c.(AttributeWrapper); ok {
			ch.table.Attribute = w.WrapAttribute(ch.table.Attribute)
		}
		if w, ok := c.(LookupWrapper); ok {
			ch.table.Lookup = w.WrapLookup(ch.table.Lookup)
		}
		if w, ok := c.(RuntimeWrapper); ok {
			ch.table.SelectRuntime = w.WrapRuntime(ch.table.SelectRuntime)
		}
		if w, ok := c.(PlanWrapper); ok {
			ch.table.BuildPlan = w.WrapPlan(ch.table.BuildPlan)
		}
		if w, ok := c.(EnvWrapper); ok {
			ch.table.Environment = w.WrapEnv(ch.table.Environment)
		}
		if w, ok := c.(PreLaunchWrapper); ok {
			ch.table.PreLaunch = w.WrapPreLaunch(ch.table.PreLaunch)
		}
		if w, ok := c.(CleanupWrapper); ok {
			ch.table.Cleanup = w.WrapCleanup(ch.table.Cleanup)
		}
	}

	ch.frozen = true
	ch.logger.Debug("🧊 Caplet chain frozen", "caplets", len(ch.caplets))
}

// Frozen reports whether the dispatch table has been built.
func (ch *Chain) Frozen() bool {
	return ch.frozen
}

func fillNoOps(base Ops) Ops {
	if base.Attribute == nil {
		base.Attribute = func(_ string, values []string) []string { return values }
	}
	if base.Lookup == nil {
		base.Lookup = func(descriptor, _ string) (ref.Handle, error) {
			return nil, fmt.Errorf("no lookup implementation for %q", descriptor)
		}
	}
	if base.SelectRuntime == nil {
		base.SelectRuntime = func(context.Context) (launch.Installation, error) {
			return launch.Installation{}, nil
		}
	}
	if base.BuildPlan == nil {
		base.BuildPlan = func(context.Context) (*launch.Plan, error) {
			return &launch.Plan{}, nil
		}
	}
	if base.Environment == nil {
		base.Environment = func(env []string) []string { return env }
	}
	if base.PreLaunch == nil {
		base.PreLaunch = func(*launch.Plan) error { return nil }
	}
	if base.Cleanup == nil {
		base.Cleanup = func() {}
	}
	return base
}

// Dispatch entry points, used by the engine once the chain is frozen.

func (ch *Chain) Attribute(name string, values []string) []string {
	return ch.table.Attribute(name, values)
}

func (ch *Chain) Lookup(descriptor, expectedExt string) (ref.Handle, error) {
	return ch.table.Lookup(descriptor, expectedExt)
}

func (ch *Chain) SelectRuntime(ctx context.Context) (launch.Installation, error) {
	return ch.table.SelectRuntime(ctx)
}

func (ch *Chain) BuildPlan(ctx context.Context) (*launch.Plan, error) {
	return ch.table.BuildPlan(ctx)
}

func (ch *Chain) Environment(env []string) []string {
	return ch.table.Environment(env)
}

func (ch *Chain) PreLaunch(plan *launch.Plan) error {
	return ch.table.PreLaunch(plan)
}

func (ch *Chain) Cleanup() {
	ch.table.Cleanup()
}
