package launch

import (
	"os"

	"github.com/provide-io/encap/pkg/shellparse"
)

// Plan is the fully assembled child-process launch: everything the
// engine needs to spawn, and everything a trampoline needs to print.
type Plan struct {
	Exe  string
	Args []string // argv[1:]
	Env  []string // complete child environment
	Dir  string   // working directory, "" for inherited

	// Script is set when the plan runs a declared startup script
	// directly instead of the selected runtime.
	Script bool

	// Classpath and LibraryPath are the assembled lists, also
	// exported through Env for the child.
	Classpath   []string
	LibraryPath []string

	// PathingArchive is the synthesized classpath archive, when the
	// command-line ceiling forced one. Deleted by the session cleanup.
	PathingArchive string
}

// CommandLine renders the plan as a single shell-quoted command line,
// the trampoline output format.
func (p *Plan) CommandLine() string {
	return shellparse.Join(append([]string{p.Exe}, p.Args...))
}

// Cleanup removes the plan's synthesized files. Safe to call more
// than once.
func (p *Plan) Cleanup() {
	if p.PathingArchive != "" {
		os.Remove(p.PathingArchive)
		p.PathingArchive = ""
	}
}
