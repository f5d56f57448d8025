// Package transfer runs one plot transfer through an external copy command.
package transfer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned when Start is called on a task that left the
// Created state.
var ErrAlreadyStarted = errors.New("transfer already started")

// State is a task's lifecycle position.
type State int

const (
	Created State = iota
	Running
	Succeeded
	Failed
)

var stateNames = [...]string{
	Created:   "created",
	Running:   "running",
	Succeeded: "succeeded",
	Failed:    "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s == Succeeded || s == Failed }

// Spec identifies what a task copies and where.
type Spec struct {
	ID     int64
	Source string
	Dest   string
	BusID  string
}

// Task owns one in-flight transfer. It runs at most once; the done callback
// fires exactly once, after the copy command has exited.
type Task struct {
	Spec

	spawner Spawner
	onDone  func(*Task, error)
	now     func() time.Time

	mu         sync.Mutex
	state      State
	progress   Progress
	startedAt  time.Time
	finishedAt time.Time
	err        error

	done chan struct{}
	once sync.Once
}

// New creates a task in the Created state. onDone may be nil.
func New(spec Spec, spawner Spawner, onDone func(*Task, error)) *Task {
	return &Task{
		Spec:    spec,
		spawner: spawner,
		onDone:  onDone,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Start launches the copy command in the background and returns immediately.
// Spawn failures are reported through the done callback like any other
// failure.
func (t *Task) Start() error {
	t.mu.Lock()
	if t.state != Created {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.state = Running
	t.startedAt = t.now()
	t.mu.Unlock()

	go t.run()
	return nil
}

func (t *Task) run() {
	proc, err := t.spawner.Spawn(t.Source, t.Dest)
	if err != nil {
		t.finish(fmt.Errorf("spawn copy command: %w", err))
		return
	}

	out := proc.Stdout()
	sc := bufio.NewScanner(out)
	sc.Split(scanProgressLines)
	for sc.Scan() {
		if p, ok := ParseProgress(sc.Text()); ok {
			t.mu.Lock()
			t.progress = p
			t.mu.Unlock()
		}
	}
	if sc.Err() != nil {
		// Overlong line; keep the pipe drained so the command can exit.
		_, _ = io.Copy(io.Discard, out)
	}

	t.finish(proc.Wait())
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.finishedAt = t.now()
		t.err = err
		if err != nil {
			t.state = Failed
		} else {
			t.state = Succeeded
		}
		t.mu.Unlock()

		// Done must not fire until the callback has released the task.
		defer close(t.done)
		if t.onDone != nil {
			t.onDone(t, err)
		}
	})
}

// Progress returns the latest progress snapshot.
func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartedAt returns when Start was called, zero before that.
func (t *Task) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// Elapsed returns running time so far, or total running time once finished.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.startedAt.IsZero():
		return 0
	case t.finishedAt.IsZero():
		return t.now().Sub(t.startedAt)
	default:
		return t.finishedAt.Sub(t.startedAt)
	}
}

// Done is closed once the task reaches a terminal state and the completion
// callback has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure, nil while running or after success.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
