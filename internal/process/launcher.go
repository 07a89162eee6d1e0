// Package process launches user scripts under an interpreter and keeps a
// handle per run.
package process

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"codepad/apps/editor/internal/events"
	"codepad/apps/editor/internal/logging"
	"codepad/apps/editor/internal/metrics"
	"codepad/apps/editor/internal/service/ports"
)

var (
	ErrInvalidPath            = errors.New("run_invalid_path")
	ErrRunNotFound            = errors.New("run_not_found")
	ErrInterpreterUnavailable = errors.New("interpreter_unavailable")
	ErrNotRunning             = errors.New("run_not_running")
)

const (
	StateRunning = "running"
	StateExited  = "exited"
	StateKilled  = "killed"
)

type Options struct {
	// Interpreter overrides interpreter discovery, e.g. "python3 -u".
	Interpreter string
	// CaptureOutput wires stdout and stderr to an in-memory buffer. A
	// captured script is killed by SIGPIPE on its next write once the server
	// exits; uncaptured output goes to the null device or a new console.
	CaptureOutput  bool
	MaxOutputBytes int
	Publisher      ports.EventPublisher
	LookPath       func(file string) (string, error)
	GOOS           string
}

type Launcher struct {
	opts Options
	now  func() time.Time

	mu   sync.RWMutex
	runs map[string]*Handle
}

func NewLauncher(opts Options) *Launcher {
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if strings.TrimSpace(opts.GOOS) == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &Launcher{
		opts: opts,
		now:  time.Now,
		runs: map[string]*Handle{},
	}
}

// Start spawns the interpreter on path and returns without waiting. The
// child's working directory is the parent of path. A directory is passed
// through as is, so a package with __main__.py runs.
func (l *Launcher) Start(path string) (*Handle, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("%w: file not found", ErrInvalidPath)
	}

	program, args, err := resolveInterpreter(l.opts.GOOS, l.opts.Interpreter, l.opts.LookPath)
	if err != nil {
		metrics.RecordCodeRun(false)
		return nil, err
	}

	cmd := exec.Command(program, append(append([]string{}, args...), abs)...)
	cmd.Dir = filepath.Dir(abs)
	var output *boundedBuffer
	if l.opts.CaptureOutput {
		output = newBoundedBuffer(l.opts.MaxOutputBytes)
		cmd.Stdout = output
		cmd.Stderr = output
	}
	configureDetached(cmd, l.opts.CaptureOutput)

	if err := cmd.Start(); err != nil {
		metrics.RecordCodeRun(false)
		return nil, fmt.Errorf("start %s: %w", program, err)
	}

	h := &Handle{
		ID:          newRunID(),
		Path:        abs,
		Interpreter: strings.TrimSpace(program + " " + strings.Join(args, " ")),
		PID:         cmd.Process.Pid,
		StartedAt:   l.now(),
		cmd:         cmd,
		output:      output,
		state:       StateRunning,
		done:        make(chan struct{}),
		now:         l.now,
	}
	l.mu.Lock()
	l.runs[h.ID] = h
	l.mu.Unlock()

	metrics.RecordCodeRun(true)
	metrics.IncActiveRuns()
	logging.Info("code run started",
		zap.String("run_id", h.ID),
		zap.String("path", abs),
		zap.String("interpreter", h.Interpreter),
		zap.Int("pid", h.PID),
	)
	l.publish(events.Event{Type: events.TypeRunStarted, Path: abs, RunID: h.ID})

	go l.reap(h)
	return h, nil
}

func (l *Launcher) reap(h *Handle) {
	err := h.cmd.Wait()
	snap := h.finish(err)
	metrics.DecActiveRuns()
	fields := []zap.Field{zap.String("run_id", h.ID), zap.String("state", snap.State)}
	if snap.ExitCode != nil {
		fields = append(fields, zap.Int("exit_code", *snap.ExitCode))
	}
	logging.Info("code run exited", fields...)
	l.publish(events.Event{Type: events.TypeRunExited, Path: h.Path, RunID: h.ID, ExitCode: snap.ExitCode})
}

func (l *Launcher) publish(event events.Event) {
	if l.opts.Publisher != nil {
		l.opts.Publisher.Publish(event)
	}
}

func (l *Launcher) Get(id string) (*Handle, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.runs[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrRunNotFound
	}
	return h, nil
}

// List returns snapshots oldest first.
func (l *Launcher) List() []Snapshot {
	l.mu.RLock()
	handles := make([]*Handle, 0, len(l.runs))
	for _, h := range l.runs {
		handles = append(handles, h)
	}
	l.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool {
		if handles[i].StartedAt.Equal(handles[j].StartedAt) {
			return handles[i].ID < handles[j].ID
		}
		return handles[i].StartedAt.Before(handles[j].StartedAt)
	})
	out := make([]Snapshot, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Snapshot())
	}
	return out
}

func (l *Launcher) Kill(id string) error {
	h, err := l.Get(id)
	if err != nil {
		return err
	}
	return h.Kill()
}

func (l *Launcher) Active() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, h := range l.runs {
		if h.Running() {
			n++
		}
	}
	return n
}

// Prune forgets finished runs that exited more than olderThan ago.
func (l *Launcher) Prune(olderThan time.Duration) int {
	cutoff := l.now().Add(-olderThan)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, h := range l.runs {
		exitedAt, ok := h.exitedBefore(cutoff)
		if ok && !exitedAt.IsZero() {
			delete(l.runs, id)
			removed++
		}
	}
	return removed
}

func newRunID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return "run-" + hex.EncodeToString(b)
}

type Snapshot struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	Interpreter string     `json:"interpreter"`
	PID         int        `json:"pid"`
	State       string     `json:"state"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	ExitedAt    *time.Time `json:"exited_at,omitempty"`
	Output      string     `json:"output,omitempty"`
	Captured    bool       `json:"captured"`
	Truncated   bool       `json:"truncated,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Handle is one launched interpreter process.
type Handle struct {
	ID          string
	Path        string
	Interpreter string
	PID         int
	StartedAt   time.Time

	cmd    *exec.Cmd
	output *boundedBuffer
	done   chan struct{}
	now    func() time.Time

	mu       sync.Mutex
	state    string
	killed   bool
	exitCode *int
	exitedAt time.Time
	waitErr  string
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

func (h *Handle) Kill() error {
	if !h.Running() {
		return ErrNotRunning
	}
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	if err := killProcess(h.cmd); err != nil && h.Running() {
		return fmt.Errorf("kill run %s: %w", h.ID, err)
	}
	return nil
}

func (h *Handle) finish(waitErr error) Snapshot {
	h.mu.Lock()
	if state := h.cmd.ProcessState; state != nil {
		code := state.ExitCode()
		h.exitCode = &code
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		h.waitErr = waitErr.Error()
	}
	h.state = StateExited
	if h.killed {
		h.state = StateKilled
	}
	h.exitedAt = h.now()
	h.mu.Unlock()
	close(h.done)
	return h.Snapshot()
}

func (h *Handle) exitedBefore(cutoff time.Time) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateRunning {
		return time.Time{}, false
	}
	return h.exitedAt, h.exitedAt.Before(cutoff)
}

func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := Snapshot{
		ID:          h.ID,
		Path:        h.Path,
		Interpreter: h.Interpreter,
		PID:         h.PID,
		State:       h.state,
		StartedAt:   h.StartedAt,
		Captured:    h.output != nil,
		Error:       h.waitErr,
	}
	if h.exitCode != nil {
		code := *h.exitCode
		snap.ExitCode = &code
	}
	if !h.exitedAt.IsZero() {
		exitedAt := h.exitedAt
		snap.ExitedAt = &exitedAt
	}
	snap.Output, snap.Truncated = h.output.String()
	return snap
}
