package launch

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/vercmp"
)

// ErrNoRuntime is returned when no installation satisfies the
// declared version constraints.
var ErrNoRuntime = errors.New("no matching runtime installation")

// Select picks the runtime to launch with. Order: an explicit
// override home is trusted without probing; then the surrounding
// environment's current runtime, if it satisfies the constraints;
// then the highest discovered installation that does. candidates must
// be sorted highest-first, as Discover returns them.
func Select(override string, current *Installation, candidates []Installation, cons vercmp.Constraints, logger hclog.Logger) (Installation, error) {
	if override != "" {
		home := runtimeHome(override)
		if home == "" {
			return Installation{}, fmt.Errorf("%w: override %q holds no runnable runtime", ErrNoRuntime, override)
		}
		logger.Info("☕ Using runtime override", "home", home)
		return NewInstallation(home, ""), nil
	}

	if current != nil {
		if ok := satisfies(*current, cons, logger); ok {
			logger.Info("☕ Current runtime satisfies constraints", "home", current.Home, "version", current.Version)
			return *current, nil
		}
	}

	for _, inst := range candidates {
		if satisfies(inst, cons, logger) {
			logger.Info("☕ Selected runtime", "home", inst.Home, "version", inst.Version)
			return inst, nil
		}
	}

	return Installation{}, fmt.Errorf(
		"%w: constraints %s not met by %d installations (set %s to widen the search)",
		ErrNoRuntime, cons.String(), len(candidates), EnvRuntimeHome)
}

func satisfies(inst Installation, cons vercmp.Constraints, logger hclog.Logger) bool {
	if cons.RequireDevKit && !inst.JDK {
		logger.Trace("Rejecting runtime-only installation, development kit required", "home", inst.Home)
		return false
	}
	if cons.Empty() {
		return true
	}
	if inst.Version == "" {
		return false
	}
	v, err := vercmp.Parse(inst.Version)
	if err != nil {
		logger.Trace("Rejecting installation with unparseable version", "home", inst.Home, "version", inst.Version)
		return false
	}
	ok, err := cons.Satisfies(v)
	if err != nil {
		logger.Warn("Malformed version constraint", "constraints", cons.String(), "error", err)
		return false
	}
	return ok
}
