package launch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/vercmp"
)

// ErrProbeFailed is returned when a version-probe subprocess exits
// non-zero or produces no recognizable version line.
var ErrProbeFailed = errors.New("runtime version probe failed")

// probeLineLimit bounds how many diagnostic lines a version probe is
// read for before the output is drained and the exit status checked.
const probeLineLimit = 8

var (
	// quoted version in `java -version` style diagnostics
	probeVersionRe = regexp.MustCompile(`"([0-9][^"]*)"`)

	// version-ish token inside an installation directory name
	dirVersionRe = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)*(?:_[0-9]+)?`)
)

// InstallationRoots returns the directories scanned for runtime
// installations: ENCAP_RUNTIME_ROOTS when set, else the platform
// defaults.
func InstallationRoots() []string {
	if raw := os.Getenv("ENCAP_RUNTIME_ROOTS"); raw != "" {
		return filepath.SplitList(raw)
	}
	return defaultRuntimeRoots()
}

// Discover scans the installation roots and returns every runtime
// found, sorted by descending version so the highest candidate comes
// first. Installations whose directory name carries no parseable
// version are probed with a bounded version subprocess; probe
// failures drop the candidate rather than aborting discovery.
func Discover(ctx context.Context, roots []string, logger hclog.Logger) []Installation {
	var found []Installation
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			logger.Trace("Skipping unreadable installation root", "root", root, "error", err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			home := runtimeHome(filepath.Join(root, entry.Name()))
			if home == "" {
				continue
			}

			version := versionFromDirName(entry.Name())
			if version == "" {
				inst := NewInstallation(home, "")
				probed, err := Probe(ctx, inst.Exe, logger)
				if err != nil {
					logger.Debug("Dropping unprobeable installation", "home", home, "error", err)
					continue
				}
				version = probed
			}

			logger.Debug("☕ Found runtime installation", "home", home, "version", version)
			found = append(found, NewInstallation(home, version))
		}
	}

	// stable: equal versions keep discovery order, first found wins ties
	sort.SliceStable(found, func(i, j int) bool {
		return compareVersions(found[i].Version, found[j].Version) > 0
	})
	return found
}

// compareVersions orders two version strings for candidate ranking.
// An unparseable version sorts below every parseable one, so probe
// output that defeats the parser never outranks a known version.
func compareVersions(a, b string) int {
	va, errA := vercmp.Parse(a)
	vb, errB := vercmp.Parse(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return vercmp.Compare(va, vb)
}

// versionFromDirName extracts a parseable version token from an
// installation directory name like "jdk-17.0.2" or
// "java-11-openjdk-amd64". Returns "" when nothing parses.
func versionFromDirName(name string) string {
	for _, token := range dirVersionRe.FindAllString(name, -1) {
		if _, err := vercmp.Parse(token); err == nil {
			return token
		}
	}
	return ""
}

// Probe runs `exe -version` and extracts the quoted version from its
// diagnostic output. The probe reads a bounded number of lines, then
// drains the stream and waits for the exit status; a non-zero exit is
// fatal for the probe.
func Probe(ctx context.Context, exe string, logger hclog.Logger) (string, error) {
	cmd := exec.CommandContext(ctx, exe, "-version")

	// version diagnostics go to stderr
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	var version string
	scanner := bufio.NewScanner(stderr)
	for lines := 0; lines < probeLineLimit && scanner.Scan(); lines++ {
		line := scanner.Text()
		logger.Trace("Probe output", "exe", exe, "line", line)
		if version == "" {
			if m := probeVersionRe.FindStringSubmatch(line); m != nil {
				version = m[1]
			}
		}
	}
	for scanner.Scan() {
		// drain so the child can finish writing
	}

	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrProbeFailed, exe, err)
	}
	if version == "" {
		return "", fmt.Errorf("%w: %s produced no version line", ErrProbeFailed, exe)
	}
	return version, nil
}
