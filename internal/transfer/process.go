package transfer

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// DefaultCommand copies with rsync and removes the source once it is safely
// written. Source and destination are appended.
var DefaultCommand = []string{"rsync", "-aP", "--remove-source-files"} //nolint:gochecknoglobals // default, copied before use

const stderrTail = 4096

// Process is a running copy command.
type Process interface {
	// Stdout streams the command's standard output. It must be read to EOF
	// before calling Wait.
	Stdout() io.Reader
	// Wait blocks until the command exits. A non-nil error means the
	// transfer failed.
	Wait() error
}

// Spawner starts copy commands.
type Spawner interface {
	Spawn(src, dst string) (Process, error)
}

// ExecSpawner runs Command with the source and destination appended.
type ExecSpawner struct {
	Command []string
}

// Spawn starts the command. The call returns as soon as the process exists.
func (e ExecSpawner) Spawn(src, dst string) (Process, error) {
	command := e.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	args := append(slices.Clone(command[1:]), src, dst)
	cmd := exec.Command(command[0], args...) //nolint:gosec // G204: command comes from operator config

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command[0], err)
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr, src: src, dst: dst}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *tailBuffer
	src    string
	dst    string
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &ExitError{
		Source:   p.src,
		Dest:     p.dst,
		ExitCode: code,
		Stderr:   strings.TrimSpace(p.stderr.String()),
		Err:      err,
	}
}

// ExitError reports a copy command that did not exit cleanly.
type ExitError struct {
	Source   string
	Dest     string
	ExitCode int    // -1 if the process was killed by a signal
	Stderr   string // last few KB of standard error
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("copy %s -> %s: %v", e.Source, e.Dest, e.Err)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = slices.Clone(t.buf[over:])
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
