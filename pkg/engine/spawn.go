package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
)

// pumpStdio reports whether the child's streams must be pumped
// through dedicated goroutines instead of inherited descriptors.
// Inheritance is the default; ENCAP_STDIO_PUMP=1 forces pumping on
// setups where inheritance is unreliable.
func pumpStdio() bool {
	return os.Getenv("ENCAP_STDIO_PUMP") == "1"
}

// Run executes the prepared plan and returns the child's exit code as
// the launcher's own. Under trampoline mode it prints the literal
// command line to stdout instead and returns 0. Shutdown signals are
// forwarded to the child; cleanup runs through Close on every path.
func (s *Session) Run() (int, error) {
	if s.plan == nil {
		return 1, ErrNotPrepared
	}
	defer s.Close()

	if s.trampoline {
		fmt.Fprintln(os.Stdout, s.plan.CommandLine())
		return 0, nil
	}

	cmd := exec.Command(s.plan.Exe, s.plan.Args...)
	cmd.Env = s.plan.Env
	cmd.Dir = s.plan.Dir

	var pumps *sync.WaitGroup
	if pumpStdio() {
		var err error
		pumps, err = startPumps(cmd)
		if err != nil {
			return 1, err
		}
	} else {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	// capture shutdown signals before the child exists so none are
	// lost in the start window; the buffered channel holds them until
	// forwarding begins
	signals := make(chan os.Signal, 4)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	s.logger.Info("🚀 Spawning child", "exe", s.plan.Exe, "args", len(s.plan.Args))
	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("failed to start %s: %w", s.plan.Exe, err)
	}

	// forward shutdown signals to the child; the launcher exits when
	// the child does
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-signals:
				s.logger.Debug("📨 Forwarding signal to child", "signal", sig)
				cmd.Process.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	close(done)
	if pumps != nil {
		pumps.Wait()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			s.logger.Debug("Child exited non-zero", "code", code)
			return code, nil
		}
		return 1, fmt.Errorf("child process failed: %w", err)
	}
	return 0, nil
}

// startPumps wires one goroutine per stream: stdout, stderr, stdin.
// Each is its own closure and terminates at end-of-stream.
func startPumps(cmd *exec.Cmd) (*sync.WaitGroup, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(os.Stdout, stdout)
	}()
	go func() {
		defer wg.Done()
		io.Copy(os.Stderr, stderr)
	}()
	// stdin pump is not waited for: it ends when our own stdin does,
	// which may outlive the child
	go func() {
		defer stdin.Close()
		io.Copy(stdin, os.Stdin)
	}()
	return &wg, nil
}
