// Package engine drives one launch end to end: identity binding,
// attribute resolution, cache preparation, plan assembly through the
// caplet chain, and the child process itself. One Session exists per
// launch; no process-wide mutable state survives it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/appcache"
	"github.com/provide-io/encap/pkg/archive"
	"github.com/provide-io/encap/pkg/attr"
	"github.com/provide-io/encap/pkg/caplet"
	"github.com/provide-io/encap/pkg/deps"
	"github.com/provide-io/encap/pkg/errctx"
	"github.com/provide-io/encap/pkg/launch"
	"github.com/provide-io/encap/pkg/manifest"
	"github.com/provide-io/encap/pkg/ref"
	"github.com/provide-io/encap/pkg/shellparse"
)

var (
	// ErrNoTarget is returned when an empty-shell capsule has no
	// target archive to bind to.
	ErrNoTarget = errors.New("empty capsule has no target archive")

	// ErrNotPrepared is returned when Run is called before Prepare.
	ErrNotPrepared = errors.New("launch session is not prepared")
)

// Options configures a Session beyond the archive itself.
type Options struct {
	// Mode selects a named mode section; falls back to ENCAP_MODE.
	Mode string

	// Trampoline prints the literal command line instead of spawning.
	Trampoline bool

	// Registry supplies the caplet factories. Nil means an empty
	// registry: any declared caplet is then unknown.
	Registry *caplet.Registry

	Logger hclog.Logger
}

// Session owns everything belonging to one launch. Construction binds
// the identity; Prepare builds the cache and plan; Run spawns the
// child and relays its exit status; Close is the single idempotent
// cleanup path, safe from normal exit, signal, and fatal error alike.
type Session struct {
	logger hclog.Logger
	ectx   *errctx.Context

	archivePath string
	reader      *archive.Reader
	doc         *manifest.Document
	appID       string
	appArgs     []string

	store   *attr.Store
	cache   *appcache.Cache
	cacheOn bool
	refs    *ref.Resolver
	planner *launch.Planner
	chain   *caplet.Chain
	plan    *launch.Plan
	agent   *AgentChannel

	trampoline bool

	cleanups    []func()
	cleanupOnce sync.Once
}

// NewSession binds the launch identity: it opens the archive (binding
// an empty shell to its target exactly once), validates and resolves
// the attribute document, and wires the cache, resolver, and caplet
// chain. args are the command-line arguments following the archive.
func NewSession(archivePath string, args []string, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Session{
		logger:     logger,
		ectx:       &errctx.Context{},
		trampoline: opts.Trampoline,
	}

	if err := s.bind(archivePath, args); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.resolveAttributes(opts.Mode); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.wire(opts.Registry); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// bind opens the archive and, for an empty shell, binds it to its
// target archive exactly once: the first argument, else ENCAP_TARGET.
// The two documents merge, wrapper overridden by wrapped, caplet
// lists concatenated.
func (s *Session) bind(archivePath string, args []string) error {
	rdr, err := archive.Open(archivePath, s.logger)
	if err != nil {
		return err
	}
	s.onCleanup(func() { rdr.Close() })

	doc, err := rdr.Manifest()
	if err != nil {
		return err
	}

	s.archivePath = archivePath
	s.reader = rdr
	s.doc = doc
	s.appArgs = args

	if !isEmptyShell(doc) {
		if err := doc.ValidateLauncher(); err != nil {
			return err
		}
		return nil
	}

	target := ""
	if len(args) > 0 && archive.IsArchive(args[0]) {
		target, s.appArgs = args[0], args[1:]
	} else if t := os.Getenv("ENCAP_TARGET"); t != "" {
		target = t
	}
	if target == "" {
		return fmt.Errorf("%w: pass a capsule path or set ENCAP_TARGET", ErrNoTarget)
	}

	s.logger.Info("🐚 Empty shell binding to target", "shell", archivePath, "target", target)
	wrapped, err := archive.Open(target, s.logger)
	if err != nil {
		return err
	}
	s.onCleanup(func() { wrapped.Close() })

	wrappedDoc, err := wrapped.Manifest()
	if err != nil {
		return err
	}

	s.archivePath = target
	s.reader = wrapped
	s.doc = manifest.Merge(doc, wrappedDoc)
	return s.doc.ValidateLauncher()
}

// isEmptyShell reports whether the document declares nothing
// runnable: no entry point, no application artifact, no script, in
// any section.
func isEmptyShell(doc *manifest.Document) bool {
	for _, name := range doc.SectionNames() {
		section := doc.Section(name)
		for _, key := range []string{launch.AttrEntryPoint, launch.AttrApplication, launch.AttrScript} {
			if section[key] != "" {
				return false
			}
		}
	}
	return true
}

// resolveAttributes builds the typed attribute store, applies the
// mode, and finalizes the declaration checks.
func (s *Session) resolveAttributes(mode string) error {
	reg := attr.NewRegistry()
	if err := reg.RegisterAll(launch.Declarations()); err != nil {
		return err
	}

	s.store = attr.NewStore(s.doc, reg, attr.CurrentPlatform(), s.ectx, s.logger)

	if mode == "" {
		mode = os.Getenv("ENCAP_MODE")
	}
	if mode != "" {
		if err := s.store.SetMode(mode); err != nil {
			return err
		}
	}
	if err := s.store.Finalize(); err != nil {
		return err
	}

	s.appID = s.store.GetString(launch.AttrAppID)
	if s.appID == "" {
		s.appID = s.store.GetString(launch.AttrAppName)
	}
	if s.appID == "" {
		base := filepath.Base(s.archivePath)
		s.appID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	s.logger.Info("🧩 Launch identity bound", "app_id", s.appID, "archive", s.archivePath, "mode", s.store.Mode())
	return nil
}

// wire builds the cache handle, dependency backend, reference
// resolver, planner, and the frozen caplet chain.
func (s *Session) wire(registry *caplet.Registry) error {
	extract, err := s.store.GetBool(launch.AttrExtract)
	if err != nil {
		return err
	}
	s.cacheOn = extract && os.Getenv("ENCAP_CACHE") != "none"

	var cacheDir string
	var repoRoots []string
	if s.cacheOn {
		root, temporary := appcache.CacheRoot(s.logger)
		s.cache = appcache.New(root, temporary, s.appID, s.logger)
		s.onCleanup(s.cache.Close)
		cacheDir = s.cache.Dir()
		repoRoots = append(repoRoots, s.cache.DepsDir())
	}
	repoRoots = append(repoRoots, deps.RepositoryRoots()...)

	backend := deps.NewLocalStore(repoRoots, s.logger)
	s.refs = ref.NewResolver(cacheDir, backend, s.ectx, s.logger)

	s.planner = &launch.Planner{
		Store:               s.store,
		Refs:                s.refs,
		ArchivePath:         s.archivePath,
		AppID:               s.appID,
		CacheDir:            cacheDir,
		SuppliedArgs:        s.appArgs,
		SuppliedRuntimeArgs: s.suppliedRuntimeArgs(),
		Trampoline:          s.trampoline,
		Ectx:                s.ectx,
		Logger:              s.logger,
	}

	if registry == nil {
		registry = caplet.NewRegistry()
	}
	id := caplet.Identity{ArchivePath: s.archivePath, AppID: s.appID, Mode: s.store.Mode()}
	chain, err := registry.Build(s.store.GetList(launch.AttrCaplets), id, s.logger)
	if err != nil {
		return err
	}
	chain.Freeze(caplet.Ops{
		Lookup: s.refs.Lookup,
		SelectRuntime: func(ctx context.Context) (launch.Installation, error) {
			if err := s.planner.SelectRuntime(ctx); err != nil {
				return launch.Installation{}, err
			}
			return s.planner.Runtime, nil
		},
		BuildPlan: s.planner.Build,
	})
	// lookups issued while building the plan go through the chain too
	s.planner.Lookup = chain.Lookup
	s.chain = chain
	s.onCleanup(chain.Cleanup)
	return nil
}

// suppliedRuntimeArgs parses ENCAP_RUNTIME_ARGS with shell quoting
// rules, so a value carrying spaces survives as one argument.
func (s *Session) suppliedRuntimeArgs() []string {
	raw := os.Getenv("ENCAP_RUNTIME_ARGS")
	if raw == "" {
		return nil
	}
	args, err := shellparse.Split(raw)
	if err != nil {
		s.logger.Warn("⚠️ Ignoring malformed ENCAP_RUNTIME_ARGS", "value", raw, "error", err)
		return nil
	}
	return args
}

// Prepare runs the pipeline up to a final plan: cache extraction,
// runtime selection, plan assembly, environment overlay, and the
// chain's pre-launch hook. The cache commits only when all of it
// succeeded.
func (s *Session) Prepare(ctx context.Context) error {
	if s.cache != nil {
		if err := s.cache.Ensure(ctx, s.reader); err != nil {
			return s.ectx.Decorate(err)
		}
	}

	inst, err := s.chain.SelectRuntime(ctx)
	if err != nil {
		return s.ectx.Decorate(err)
	}
	s.planner.Runtime = inst

	// absolute references against the environment's default runtime
	// follow the selection
	if current := launch.CurrentRuntime(); current != nil && inst.Home != "" {
		s.refs.SetRuntimeRemap(current.Home, inst.Home)
	}

	plan, err := s.chain.BuildPlan(ctx)
	if err != nil {
		return s.ectx.Decorate(err)
	}
	plan.Env = s.chain.Environment(plan.Env)

	if s.store.Has(launch.AttrAgents) && !plan.Script {
		agent, err := StartAgentChannel(s.logger)
		if err != nil {
			return err
		}
		s.agent = agent
		s.onCleanup(agent.Close)
		plan.Env = append(plan.Env, EnvAgentAddr+"="+agent.Addr())
	}

	if err := s.chain.PreLaunch(plan); err != nil {
		return s.ectx.Decorate(err)
	}

	s.plan = plan
	s.onCleanup(plan.Cleanup)

	if s.cache != nil {
		if err := s.cache.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Plan returns the assembled plan, nil before Prepare.
func (s *Session) Plan() *launch.Plan {
	return s.plan
}

// Agent returns the agent channel, nil when none is running.
func (s *Session) Agent() *AgentChannel {
	return s.agent
}

// onCleanup registers a step for the single cleanup path. Steps run
// in reverse registration order.
func (s *Session) onCleanup(f func()) {
	s.cleanups = append(s.cleanups, f)
}

// Close runs every cleanup step exactly once. Never fails.
func (s *Session) Close() {
	s.cleanupOnce.Do(func() {
		for i := len(s.cleanups) - 1; i >= 0; i-- {
			s.cleanups[i]()
		}
		s.logger.Debug("🧹 Launch session cleaned up")
	})
}
