package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/archive"
	"github.com/provide-io/encap/pkg/attr"
	"github.com/provide-io/encap/pkg/errctx"
	"github.com/provide-io/encap/pkg/manifest"
	"github.com/provide-io/encap/pkg/ref"
	"github.com/provide-io/encap/pkg/shellparse"
	"github.com/provide-io/encap/pkg/vercmp"
)

var (
	// ErrNoEntryPoint is returned when no entry point is declared and
	// none can be read from the application artifact.
	ErrNoEntryPoint = errors.New("no entry point declared or discoverable")

	// ErrExtractDisabled is returned when an attribute needs an app
	// cache but extraction is declared unnecessary.
	ErrExtractDisabled = errors.New("attribute requires extraction")

	// ErrCommandLineTooLong is returned under trampoline mode when
	// the plan exceeds the platform command-line ceiling; the pathing
	// mitigation cannot produce a literal printable command.
	ErrCommandLineTooLong = errors.New("command line exceeds platform limit and trampoline mode forbids a pathing archive")
)

// commandLineCeiling is the platform's hard command-line length
// limit, 0 for none. A variable so tests can force the mitigation.
var commandLineCeiling = platformCommandLineCeiling

// Planner assembles a Plan from the resolved attribute store. Stages
// run in declaration order: later stages depend on earlier stages'
// resolved side effects (cache population before native-library copy
// before library-path assembly).
type Planner struct {
	Store       *attr.Store
	Refs        *ref.Resolver
	ArchivePath string
	AppID       string
	CacheDir    string // "" when the app declares no extraction

	// SuppliedArgs are the application arguments given on the command
	// line; SuppliedRuntimeArgs come from ENCAP_RUNTIME_ARGS.
	SuppliedArgs        []string
	SuppliedRuntimeArgs []string

	Trampoline bool

	Runtime Installation // set by SelectRuntime, or injected

	// Lookup classifies a reference descriptor; nil means the
	// resolver's own lookup. The engine points this at the caplet
	// chain so overrides see every plain lookup.
	Lookup func(descriptor, expectedExt string) (ref.Handle, error)

	Ectx   *errctx.Context
	Logger hclog.Logger
}

func (p *Planner) lookup(descriptor, expectedExt string) (ref.Handle, error) {
	if p.Lookup != nil {
		return p.Lookup(descriptor, expectedExt)
	}
	return p.Refs.Lookup(descriptor, expectedExt)
}

// Constraints reads the declared runtime version requirements.
func (p *Planner) Constraints() (vercmp.Constraints, error) {
	minUpdate, err := p.Store.GetInt(AttrMinUpdateVersion)
	if err != nil {
		return vercmp.Constraints{}, err
	}
	jdk, err := p.Store.GetBool(AttrJDKRequired)
	if err != nil {
		return vercmp.Constraints{}, err
	}
	return vercmp.Constraints{
		Min:           p.Store.GetString(AttrMinRuntimeVersion),
		Max:           p.Store.GetString(AttrMaxRuntimeVersion),
		Exact:         p.Store.GetString(AttrRuntimeVersion),
		MinUpdate:     int(minUpdate),
		RequireDevKit: jdk,
	}, nil
}

// SelectRuntime resolves the runtime to launch with and feeds its
// major version back into the attribute store so runtime-qualified
// sections activate.
func (p *Planner) SelectRuntime(ctx context.Context) error {
	cons, err := p.Constraints()
	if err != nil {
		return err
	}

	p.Ectx.Set(errctx.KindRuntime, "constraints", cons.String())

	override := os.Getenv(EnvRuntimeHome)

	var current *Installation
	var candidates []Installation
	if override == "" {
		current = CurrentRuntime()
		if current != nil && current.Version == "" && !cons.Empty() {
			if probed, err := Probe(ctx, current.Exe, p.Logger); err == nil {
				current.Version = probed
			} else {
				p.Logger.Debug("Could not probe current runtime", "home", current.Home, "error", err)
				current = nil
			}
		}
		candidates = Discover(ctx, InstallationRoots(), p.Logger)
	}

	selected, err := Select(override, current, candidates, cons, p.Logger)
	if err != nil {
		return err
	}
	p.Runtime = selected

	if selected.Version != "" {
		if v, err := vercmp.Parse(selected.Version); err == nil {
			p.Store.SetRuntimeMajor(v.Major())
		}
	}
	return nil
}

// Build assembles the launch plan. SelectRuntime must have run (or
// Runtime been injected) unless the application declares a startup
// script.
func (p *Planner) Build(ctx context.Context) (*Plan, error) {
	if err := p.checkExtractConstraints(); err != nil {
		return nil, err
	}

	classpath, err := p.buildClasspath(ctx)
	if err != nil {
		return nil, err
	}
	libraryPath, err := p.buildLibraryPath(ctx)
	if err != nil {
		return nil, err
	}

	env, err := p.buildEnv(classpath, libraryPath)
	if err != nil {
		return nil, err
	}

	appArgs := shellparse.Expand(p.Store.GetList(AttrArgs), p.SuppliedArgs)

	// script short-circuit: the script runs directly; classpath and
	// library path still travel to it through the environment
	if script := p.Store.GetReference(AttrScript); script != "" {
		return p.buildScriptPlan(ctx, script, appArgs, env, classpath, libraryPath)
	}

	entryPoint, err := p.entryPoint(ctx)
	if err != nil {
		return nil, err
	}

	runtimeArgs := dedupeRuntimeArgs(append(p.Store.GetList(AttrRuntimeArgs), p.SuppliedRuntimeArgs...))

	props, err := p.systemProperties(ctx, libraryPath)
	if err != nil {
		return nil, err
	}

	bootFlags, err := p.bootClasspathFlags(ctx)
	if err != nil {
		return nil, err
	}

	agentFlags, err := p.agentFlags(ctx)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Exe:         p.Runtime.Exe,
		Env:         env,
		Classpath:   classpath,
		LibraryPath: libraryPath,
	}

	cpValue := strings.Join(classpath, string(os.PathListSeparator))
	args := make([]string, 0, len(runtimeArgs)+len(props)+len(bootFlags)+len(agentFlags)+len(appArgs)+3)
	args = append(args, runtimeArgs...)
	args = append(args, props...)
	args = append(args, bootFlags...)
	args = append(args, agentFlags...)
	args = append(args, "-cp", cpValue, entryPoint)
	args = append(args, appArgs...)
	plan.Args = args

	if err := p.mitigateCommandLine(plan, classpath, cpValue); err != nil {
		return nil, err
	}

	p.Logger.Info("🚀 Launch plan assembled", "exe", plan.Exe, "args", len(plan.Args), "classpath_entries", len(classpath))
	return plan, nil
}

// checkExtractConstraints rejects attributes that have nothing to
// resolve against when extraction is disabled.
func (p *Planner) checkExtractConstraints() error {
	if p.CacheDir != "" {
		return nil
	}
	for _, name := range []string{AttrLibraryPathP, AttrLibraryPathA, AttrAgents, AttrNativeAgents, AttrNativeDependencies} {
		if p.Store.Has(name) {
			p.Ectx.Set(errctx.KindAttribute, name, "")
			return fmt.Errorf("%w: %q declared together with %s=false", ErrExtractDisabled, name, AttrExtract)
		}
	}
	return nil
}

func (p *Planner) buildScriptPlan(ctx context.Context, script string, appArgs, env []string, classpath, libraryPath []string) (*Plan, error) {
	h, err := p.lookup(script, "")
	if err != nil {
		return nil, err
	}
	path, err := p.Refs.ResolveOne(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to mark script executable: %w", err)
	}

	p.Logger.Info("📜 Startup script short-circuit", "script", path)
	return &Plan{
		Exe:         path,
		Args:        appArgs,
		Env:         env,
		Script:      true,
		Classpath:   classpath,
		LibraryPath: libraryPath,
	}, nil
}

// entryPoint returns the declared entry point, falling back to the
// one embedded in the application artifact, then the archive itself.
func (p *Planner) entryPoint(ctx context.Context) (string, error) {
	if ep := p.Store.GetString(AttrEntryPoint); ep != "" {
		return ep, nil
	}

	if app := p.Store.GetReference(AttrApplication); app != "" {
		h, err := p.lookup(app, "jar")
		if err != nil {
			return "", err
		}
		if path, err := p.Refs.ResolveOne(ctx, h); err == nil {
			if ep := archive.EmbeddedEntryPoint(path, p.Logger); ep != "" {
				return ep, nil
			}
		}
	}

	if ep := archive.EmbeddedEntryPoint(p.ArchivePath, p.Logger); ep != "" {
		return ep, nil
	}

	p.Ectx.Set(errctx.KindAttribute, AttrEntryPoint, "")
	return "", ErrNoEntryPoint
}

// buildClasspath assembles the classpath: own archive, application
// artifact (with its embedded entries), declared extra paths, the
// cache default contents, then resolved dependency artifacts.
// Duplicates collapse to first occurrence.
func (p *Planner) buildClasspath(ctx context.Context) ([]string, error) {
	var cp []string

	include, err := p.Store.GetBool(AttrCapsuleInClassPath)
	if err != nil {
		return nil, err
	}
	if include {
		cp = append(cp, p.ArchivePath)
	}

	if app := p.Store.GetReference(AttrApplication); app != "" {
		h, err := p.Refs.LookupTagged(app, "jar", ref.TagAppArtifact, "")
		if err != nil {
			return nil, err
		}
		paths, err := p.Refs.Resolve(ctx, h)
		if err != nil {
			return nil, err
		}
		cp = append(cp, paths...)
	}

	for _, entry := range p.Store.GetList(AttrAppClassPath) {
		h, err := p.lookup(entry, "jar")
		if err != nil {
			return nil, err
		}
		paths, err := p.Refs.Resolve(ctx, h)
		if err != nil {
			return nil, err
		}
		cp = append(cp, paths...)
	}

	if p.CacheDir != "" {
		cp = append(cp, p.CacheDir)
		h, err := p.lookup("*.jar", "jar")
		if err != nil {
			return nil, err
		}
		jars, err := p.Refs.Resolve(ctx, h)
		if err != nil {
			return nil, err
		}
		cp = append(cp, jars...)
	}

	for _, dep := range p.Store.GetList(AttrDependencies) {
		h, err := p.lookup(dep, "jar")
		if err != nil {
			return nil, err
		}
		paths, err := p.Refs.Resolve(ctx, h)
		if err != nil {
			return nil, err
		}
		cp = append(cp, paths...)
	}

	return dedupeKeepFirst(cp), nil
}

// buildLibraryPath assembles the native-library search path: declared
// prepends, the platform base, declared appends, then the cache
// directory itself. Native dependencies are resolved first so their
// copies land in the cache before the path is read.
func (p *Planner) buildLibraryPath(ctx context.Context) ([]string, error) {
	for _, entry := range p.Store.GetList(AttrNativeDependencies) {
		desc, rename := splitRename(entry)
		h, err := p.Refs.LookupTagged(desc, nativeLibExt, ref.TagNativeDep, rename)
		if err != nil {
			return nil, err
		}
		if _, err := p.Refs.Resolve(ctx, h); err != nil {
			return nil, err
		}
	}

	var lp []string
	for _, entry := range p.Store.GetList(AttrLibraryPathP) {
		paths, err := p.resolveAll(ctx, entry, "")
		if err != nil {
			return nil, err
		}
		lp = append(lp, paths...)
	}
	lp = append(lp, platformLibraryPathBase()...)
	for _, entry := range p.Store.GetList(AttrLibraryPathA) {
		paths, err := p.resolveAll(ctx, entry, "")
		if err != nil {
			return nil, err
		}
		lp = append(lp, paths...)
	}
	if p.CacheDir != "" {
		lp = append(lp, p.CacheDir)
	}
	return dedupeKeepFirst(lp), nil
}

func (p *Planner) resolveAll(ctx context.Context, descriptor, ext string) ([]string, error) {
	h, err := p.lookup(descriptor, ext)
	if err != nil {
		return nil, err
	}
	return p.Refs.Resolve(ctx, h)
}

// systemProperties renders -D flags: declared properties, security
// settings, and the native-library path.
func (p *Planner) systemProperties(ctx context.Context, libraryPath []string) ([]string, error) {
	var props []string
	for _, entry := range p.Store.MapEntries(AttrSystemProperties) {
		p.Ectx.Set(errctx.KindSysProp, entry.Key, entry.Value)
		if entry.Value == "" {
			props = append(props, "-D"+entry.Key)
		} else {
			props = append(props, "-D"+entry.Key+"="+entry.Value)
		}
	}

	if sm := p.Store.GetString(AttrSecurityManager); sm != "" {
		props = append(props, "-Djava.security.manager="+sm)
	}
	if policy := p.Store.GetReference(AttrSecurityPolicy); policy != "" {
		path, err := p.resolveOnePath(ctx, policy)
		if err != nil {
			return nil, err
		}
		// leading = replaces the default policy entirely
		props = append(props, "-Djava.security.policy=="+path)
	}
	if policy := p.Store.GetReference(AttrSecurityPolicyA); policy != "" {
		path, err := p.resolveOnePath(ctx, policy)
		if err != nil {
			return nil, err
		}
		props = append(props, "-Djava.security.policy="+path)
	}

	if len(libraryPath) > 0 {
		props = append(props, "-Djava.library.path="+strings.Join(libraryPath, string(os.PathListSeparator)))
	}
	return props, nil
}

func (p *Planner) resolveOnePath(ctx context.Context, descriptor string) (string, error) {
	h, err := p.lookup(descriptor, "")
	if err != nil {
		return "", err
	}
	return p.Refs.ResolveOne(ctx, h)
}

func (p *Planner) bootClasspathFlags(ctx context.Context) ([]string, error) {
	var flags []string
	sep := string(os.PathListSeparator)

	if entries := p.Store.GetList(AttrBootClassPath); len(entries) > 0 {
		paths, err := p.resolveEach(ctx, entries)
		if err != nil {
			return nil, err
		}
		flags = append(flags, "-Xbootclasspath:"+strings.Join(paths, sep))
	}
	if entries := p.Store.GetList(AttrBootClassPathP); len(entries) > 0 {
		paths, err := p.resolveEach(ctx, entries)
		if err != nil {
			return nil, err
		}
		flags = append(flags, "-Xbootclasspath/p:"+strings.Join(paths, sep))
	}
	if entries := p.Store.GetList(AttrBootClassPathA); len(entries) > 0 {
		paths, err := p.resolveEach(ctx, entries)
		if err != nil {
			return nil, err
		}
		flags = append(flags, "-Xbootclasspath/a:"+strings.Join(paths, sep))
	}
	return flags, nil
}

func (p *Planner) resolveEach(ctx context.Context, descriptors []string) ([]string, error) {
	var out []string
	for _, d := range descriptors {
		paths, err := p.resolveAll(ctx, d, "jar")
		if err != nil {
			return nil, err
		}
		out = append(out, paths...)
	}
	return out, nil
}

// agentFlags resolves each declared agent to exactly one file and
// renders its flag with options appended.
func (p *Planner) agentFlags(ctx context.Context) ([]string, error) {
	var flags []string

	for _, entry := range p.Store.MapEntries(AttrAgents) {
		p.Ectx.Set(errctx.KindAttribute, AttrAgents, entry.Key)
		h, err := p.lookup(entry.Key, "jar")
		if err != nil {
			return nil, err
		}
		path, err := p.Refs.ResolveOne(ctx, h)
		if err != nil {
			return nil, err
		}
		flag := "-javaagent:" + path
		if entry.Value != "" {
			flag += "=" + entry.Value
		}
		flags = append(flags, flag)
	}

	for _, entry := range p.Store.MapEntries(AttrNativeAgents) {
		p.Ectx.Set(errctx.KindAttribute, AttrNativeAgents, entry.Key)
		h, err := p.lookup(entry.Key, nativeLibExt)
		if err != nil {
			return nil, err
		}
		path, err := p.Refs.ResolveOne(ctx, h)
		if err != nil {
			return nil, err
		}
		flag := "-agentpath:" + path
		if entry.Value != "" {
			flag += "=" + entry.Value
		}
		flags = append(flags, flag)
	}

	return flags, nil
}

// buildEnv overlays declared environment assignments over the current
// process environment and exports the identity variables.
func (p *Planner) buildEnv(classpath, libraryPath []string) ([]string, error) {
	env := os.Environ()
	sep := string(os.PathListSeparator)

	for _, assignment := range p.Store.GetList(AttrEnvironment) {
		key, value, ifAbsent, err := parseAssignment(assignment)
		if err != nil {
			return nil, err
		}
		p.Ectx.Set(errctx.KindEnvVar, key, value)
		if ifAbsent {
			env = setEnvIfAbsent(env, key, value)
		} else {
			env = setEnv(env, key, value)
		}
	}

	env = setEnv(env, EnvArchive, p.ArchivePath)
	env = setEnv(env, EnvAppID, p.AppID)
	if p.CacheDir != "" {
		env = setEnv(env, EnvAppCacheDir, p.CacheDir)
	}
	if p.Runtime.Home != "" {
		env = setEnv(env, EnvRuntimeHome, p.Runtime.Home)
	}
	env = setEnv(env, EnvClasspath, strings.Join(classpath, sep))
	env = setEnv(env, EnvLibraryPath, strings.Join(libraryPath, sep))
	return env, nil
}

// parseAssignment splits a declared environment entry: "K=v"
// overwrites, "K?=v" sets only when absent, a bare "K" sets empty.
func parseAssignment(assignment string) (key, value string, ifAbsent bool, err error) {
	eq := strings.Index(assignment, "=")
	if eq < 0 {
		return assignment, "", false, nil
	}
	key, value = assignment[:eq], assignment[eq+1:]
	if strings.HasSuffix(key, "?") {
		key, ifAbsent = strings.TrimSuffix(key, "?"), true
	}
	if key == "" {
		return "", "", false, fmt.Errorf("malformed environment assignment %q", assignment)
	}
	return key, value, ifAbsent, nil
}

// mitigateCommandLine synthesizes a pathing archive when the plan
// exceeds the platform command-line ceiling, substituting one file
// for the whole classpath.
func (p *Planner) mitigateCommandLine(plan *Plan, classpath []string, cpValue string) error {
	if commandLineCeiling <= 0 {
		return nil
	}
	total := len(plan.Exe)
	for _, a := range plan.Args {
		total += len(a) + 1
	}
	if total < commandLineCeiling {
		return nil
	}
	if p.Trampoline {
		return fmt.Errorf("%w: %d >= %d", ErrCommandLineTooLong, total, commandLineCeiling)
	}

	pathing, err := p.writePathingArchive(classpath)
	if err != nil {
		return err
	}
	plan.PathingArchive = pathing
	for i, a := range plan.Args {
		if a == cpValue {
			plan.Args[i] = pathing
			break
		}
	}
	p.Logger.Info("📦 Command line over platform limit, substituted pathing archive", "path", pathing, "length", total)
	return nil
}

// writePathingArchive writes a minimal archive whose sole declared
// classpath re-expresses the real one, relative to the archive's own
// directory where possible.
func (p *Planner) writePathingArchive(classpath []string) (string, error) {
	dir := p.CacheDir
	if dir == "" {
		dir = os.TempDir()
	}
	tmp, err := os.CreateTemp(dir, "pathing-*.jar")
	if err != nil {
		return "", fmt.Errorf("failed to create pathing archive: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	entries := make([]string, 0, len(classpath))
	for _, cp := range classpath {
		if rel, err := filepath.Rel(dir, cp); err == nil && !strings.HasPrefix(rel, "..") {
			entries = append(entries, filepath.ToSlash(rel))
		} else {
			entries = append(entries, cp)
		}
	}

	w, err := archive.NewWriter(path)
	if err != nil {
		os.Remove(path)
		return "", err
	}
	doc := manifest.New(map[string]string{AttrAppClassPath: strings.Join(entries, " ")})
	if err := w.AddManifest(doc); err != nil {
		w.Close()
		os.Remove(path)
		return "", err
	}
	if err := w.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// dedupeRuntimeArgs collapses runtime arguments by normalization key:
// the last value wins, insertion order of first occurrence is kept.
func dedupeRuntimeArgs(args []string) []string {
	type slot struct {
		index int
		value string
	}
	byKey := make(map[string]*slot, len(args))
	order := make([]string, 0, len(args))

	for _, arg := range args {
		key := runtimeArgKey(arg)
		if s, ok := byKey[key]; ok {
			s.value = arg
			continue
		}
		byKey[key] = &slot{index: len(order), value: arg}
		order = append(order, key)
	}

	out := make([]string, len(order))
	for _, key := range order {
		s := byKey[key]
		out[s.index] = s.value
	}
	return out
}

// runtimeArgKey computes the dedupe key: heap/stack-size flags
// collapse by prefix, -D and -XX flags by option name, everything
// else by full text.
func runtimeArgKey(arg string) string {
	for _, prefix := range []string{"-Xmx", "-Xms", "-Xss"} {
		if strings.HasPrefix(arg, prefix) {
			return prefix
		}
	}
	if strings.HasPrefix(arg, "-D") {
		if eq := strings.Index(arg, "="); eq >= 0 {
			return arg[:eq]
		}
		return arg
	}
	if strings.HasPrefix(arg, "-XX:+") || strings.HasPrefix(arg, "-XX:-") {
		return "-XX:" + arg[5:]
	}
	return arg
}

// splitRename splits a native-dependency entry "descriptor,newname".
// A comma inside a coordinate's exclusion list is not a rename.
func splitRename(entry string) (descriptor, rename string) {
	comma := strings.LastIndex(entry, ",")
	if comma < 0 || strings.LastIndex(entry, ")") > comma {
		return entry, ""
	}
	return strings.TrimSpace(entry[:comma]), strings.TrimSpace(entry[comma+1:])
}

func dedupeKeepFirst(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
