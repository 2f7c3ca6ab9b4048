// Package runner spawns the external agent CLI through a shell and streams its
// output as it arrives.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"unicode/utf8"
)

const DefaultShell = "/bin/bash"

var (
	ErrSpawnFailed   = errors.New("spawn failed")
	ErrCommandFailed = errors.New("command failed")
)

// CommandError is returned when the process exits non-zero.
type CommandError struct {
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("Command exited with code %d. Error output: %s", e.ExitCode, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// Runner executes commands as `<shell> -c "<command> <args>"`.
type Runner struct {
	Shell string
	Env   []string
}

func New() *Runner {
	return &Runner{Shell: DefaultShell}
}

// CommandLine joins command and args into a single shell line. The command is
// passed through as written; every argument is single-quoted so the shell
// neither splits nor expands it.
func CommandLine(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, a := range args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// Run starts the command and calls out for every chunk read from stdout or
// stderr. Calls to out are serialized. Run returns nil on exit code 0, a
// *CommandError on any other exit, or an error wrapping ErrSpawnFailed when the
// process (or the command inside the shell) could not be started. Cancelling
// ctx kills the whole process group.
func (r *Runner) Run(ctx context.Context, command string, args []string, out func(string)) error {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}
	line := CommandLine(command, args)
	slog.Debug("spawning agent", "command", line)

	cmd := exec.CommandContext(ctx, shell, "-c", line)
	cmd.Env = append(append(os.Environ(), r.Env...), "FORCE_COLOR=true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %w", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	slog.Debug("agent process started", "pid", cmd.Process.Pid)

	var (
		outMu   sync.Mutex
		errBuf  strings.Builder
		wg      sync.WaitGroup
		forward = func(stream string, chunk string) {
			outMu.Lock()
			defer outMu.Unlock()
			slog.Debug("agent output", "stream", stream, "chunk", chunk)
			if stream == "stderr" {
				errBuf.WriteString(chunk)
			}
			if out != nil {
				out(chunk)
			}
		}
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(stdout, func(c string) { forward("stdout", c) })
	}()
	go func() {
		defer wg.Done()
		pump(stderr, func(c string) { forward("stderr", c) })
	}()
	wg.Wait()

	err = cmd.Wait()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	code := exitErr.ExitCode()
	// The shell reports 127 for an unknown command and 126 when it is not executable.
	if code == 127 || code == 126 {
		return fmt.Errorf("%w: %s exited with code %d: %s", ErrSpawnFailed, command, code, strings.TrimSpace(errBuf.String()))
	}
	return &CommandError{ExitCode: code, Stderr: errBuf.String()}
}

// pump emits what it reads from r, holding back a trailing partial UTF-8
// sequence until the next read completes it.
func pump(r io.Reader, emit func(string)) {
	buf := make([]byte, 32*1024)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := completeUpTo(data)
			if cut > 0 {
				emit(string(data[:cut]))
			}
			carry = append([]byte(nil), data[cut:]...)
		}
		if err != nil {
			if len(carry) > 0 {
				emit(string(carry))
			}
			return
		}
	}
}

// completeUpTo returns the length of the prefix of b that does not end in an
// incomplete UTF-8 sequence.
func completeUpTo(b []byte) int {
	start := len(b) - utf8.UTFMax + 1
	if start < 0 {
		start = 0
	}
	for i := len(b) - 1; i >= start; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}
