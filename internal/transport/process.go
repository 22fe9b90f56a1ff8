package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// Process is a tool server child process speaking NDJSON over stdin/stdout.
// It is both the Channel and its Lifecycle. Close releases the pipes only;
// the child sees EOF on stdin and is expected to exit on its own.
type Process struct {
	*Stream
	cmd *exec.Cmd

	done    chan struct{}
	waitErr error
}

// StartProcess launches spec.Command. The child inherits the current
// environment plus spec.Env.
func StartProcess(spec Spec) (*Process, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, errors.New("transport: stdio command is required")
	}

	// #nosec G204 -- command and args come from the operator's config.
	cmd := exec.Command(spec.Command, slices.Clone(spec.Args)...)
	cmd.Dir = spec.Dir
	detach(cmd)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(spec.Env)...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: open stdin: %w", err)
	}
	// Own the read ends so cmd.Wait never closes them under the reader.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("transport: open stdout: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("transport: open stderr: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("transport: start %s: %w", spec.Command, err)
	}
	stdoutW.Close()
	stderrW.Close()

	p := &Process{
		Stream: NewStream(stdoutR, stdin, spec.maxFrame()),
		cmd:    cmd,
		done:   make(chan struct{}),
	}

	go logStderr(spec.Command, cmd.Process.Pid, stderrR)
	go p.wait()

	return p, nil
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Terminate closes the pipes, waits for the child to exit until ctx is
// done, then kills it.
func (p *Process) Terminate(ctx context.Context) error {
	_ = p.Close()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("transport: kill pid %d: %w", p.Pid(), err)
	}
	<-p.done
	return nil
}

func logStderr(command string, pid int, r io.ReadCloser) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		slog.Debug("tool server stderr", "command", command, "pid", pid, "line", sc.Text())
	}
	if err := sc.Err(); err != nil {
		// Keep the pipe open so the child never sees EPIPE on stderr.
		slog.Debug("tool server stderr unreadable, discarding", "command", command, "pid", pid, "err", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
