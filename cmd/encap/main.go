package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/provide-io/encap/pkg/appcache"
	"github.com/provide-io/encap/pkg/archive"
	"github.com/provide-io/encap/pkg/caplet"
	"github.com/provide-io/encap/pkg/deps"
	"github.com/provide-io/encap/pkg/engine"
	"github.com/provide-io/encap/pkg/launch"
	"github.com/provide-io/encap/pkg/logging"
)

const version = "0.1.0"

var (
	logLevel   string
	modeFlag   string
	trampoline bool
	outputPath string
	rootCmd    *cobra.Command
)

func buildTimestamp() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.time" {
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					return t.UTC().Format(time.RFC3339)
				}
			}
		}
	}
	if exePath, err := os.Executable(); err == nil {
		if stat, err := os.Stat(exePath); err == nil {
			return stat.ModTime().UTC().Format(time.RFC3339)
		}
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func newLogger() hclog.Logger {
	level, source := logging.Level(logLevel)
	logger := logging.New("encap", level, os.Stderr)
	logger.Debug("Log level resolved", "level", level, "source", source)
	return logger
}

// fatal prints the single-line summary with the verbosity hint and
// exits 1. At debug or finer the full error already went to the log.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "encap: %v\n", err)
	level, _ := logging.Level(logLevel)
	if hclog.LevelFromString(level) > hclog.Debug {
		fmt.Fprintln(os.Stderr, "encap: re-run with --log-level=debug for a full trace")
	}
	os.Exit(1)
}

func init() {
	rootCmd = &cobra.Command{
		Use:           "encap",
		Short:         "Launch self-contained application capsules",
		Long:          `encap prepares and launches applications packaged as single executable archives.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Named mode to launch in")

	runCmd := &cobra.Command{
		Use:   "run <archive> [args...]",
		Short: "Launch a capsule",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runCapsule(args[0], args[1:])
		},
	}
	runCmd.Flags().BoolVar(&trampoline, "trampoline", false, "Print the command line instead of spawning")
	runCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("encap %s\n", version)
			fmt.Printf("Built: %s\n", buildTimestamp())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "modes <archive>",
		Short: "Print the modes a capsule declares",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			printModes(args[0])
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "runtimes",
		Short: "Print detected runtime installations",
		Run: func(cmd *cobra.Command, args []string) {
			printRuntimes()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "tree <archive>",
		Short: "Print a capsule's dependency tree",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			printTree(args[0])
		},
	})

	mergeCmd := &cobra.Command{
		Use:   "merge <wrapper> <wrapped>",
		Short: "Merge a wrapper and a wrapped capsule into one archive",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			mergeCapsules(args[0], args[1])
		},
	}
	mergeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output archive path (required)")
	if err := mergeCmd.MarkFlagRequired("output"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(mergeCmd)
}

func main() {
	// a capsule appended to this executable launches itself: every
	// argument belongs to the application
	if exePath, err := os.Executable(); err == nil && archive.IsArchive(exePath) {
		runCapsule(exePath, os.Args[1:])
		return
	}

	// bare archive path defaults to run
	if len(os.Args) > 1 && archive.IsArchive(os.Args[1]) {
		runCapsule(os.Args[1], os.Args[2:])
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}

func runCapsule(archivePath string, args []string) {
	logger := newLogger()

	session, err := engine.NewSession(archivePath, args, engine.Options{
		Mode:       modeFlag,
		Trampoline: trampoline,
		Registry:   caplet.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		fatal(err)
	}

	if err := session.Prepare(context.Background()); err != nil {
		session.Close()
		fatal(err)
	}

	code, err := session.Run()
	if err != nil {
		fatal(err)
	}
	os.Exit(code)
}

func printModes(archivePath string) {
	logger := newLogger()
	rdr, err := archive.Open(archivePath, logger)
	if err != nil {
		fatal(err)
	}
	defer rdr.Close()

	doc, err := rdr.Manifest()
	if err != nil {
		fatal(err)
	}
	modes := doc.Modes()
	if len(modes) == 0 {
		fmt.Println("no modes declared")
		return
	}
	for _, mode := range modes {
		fmt.Println(mode)
	}
}

func printRuntimes() {
	logger := newLogger()
	installations := launch.Discover(context.Background(), launch.InstallationRoots(), logger)
	if len(installations) == 0 {
		fmt.Println("no runtime installations found")
		return
	}
	for _, inst := range installations {
		kind := "runtime"
		if inst.JDK {
			kind = "devkit"
		}
		fmt.Printf("%-12s %-8s %s\n", inst.Version, kind, inst.Home)
	}
}

func printTree(archivePath string) {
	logger := newLogger()
	rdr, err := archive.Open(archivePath, logger)
	if err != nil {
		fatal(err)
	}
	defer rdr.Close()

	doc, err := rdr.Manifest()
	if err != nil {
		fatal(err)
	}

	declared := doc.Main()[launch.AttrDependencies]
	if declared == "" {
		fmt.Println("no dependencies declared")
		return
	}

	root, _ := appcache.CacheRoot(logger)
	roots := append([]string{appcache.NewPaths(root, "").DepsDir()}, deps.RepositoryRoots()...)
	backend := deps.NewLocalStore(roots, logger)

	for _, entry := range strings.Fields(declared) {
		coord, err := deps.ParseCoordinate(entry)
		if err != nil {
			fatal(err)
		}
		if err := backend.PrintTree(context.Background(), os.Stdout, coord, "jar"); err != nil {
			fatal(err)
		}
	}
}

func mergeCapsules(wrapperPath, wrappedPath string) {
	logger := newLogger()
	if err := archive.Merge(wrapperPath, wrappedPath, outputPath, logger); err != nil {
		fatal(err)
	}
	fmt.Printf("merged %s over %s into %s\n", wrappedPath, wrapperPath, outputPath)
}
