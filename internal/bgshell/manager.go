package bgshell

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loaf/internal/shell"
)

// Read size limits.
const (
	DefaultReadBytes = 8_000
	MaxReadBytes     = 120_000
)

// Stop grace windows before the call returns; the exit transition itself is
// observed asynchronously by the wait goroutine.
const (
	stopGrace      = 120 * time.Millisecond
	stopGraceForce = 50 * time.Millisecond
)

// ErrUnsupported flags operations a session's transport cannot perform.
var ErrUnsupported = errors.New("unsupported for this session transport")

// ErrNotFound flags an unknown session id.
var ErrNotFound = errors.New("background session not found")

// Manager owns the process-wide registry of background shell sessions.
type Manager struct {
	mu        sync.Mutex
	log       *zap.Logger
	sessions  map[string]*Session
	bufferCap int
}

// NewManager builds an empty registry. bufferCap <= 0 uses BufferCap.
func NewManager(log *zap.Logger, bufferCap int) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log, sessions: map[string]*Session{}, bufferCap: bufferCap}
}

// StartRequest describes a new background session.
type StartRequest struct {
	Command      string
	Name         string
	Cwd          string
	Env          map[string]string // delta over the parent environment
	FullTerminal *bool             // nil means true
	Cols         int
	Rows         int
	ReuseSession bool
}

// Start spawns a session, or returns a matching running one when reuse is
// requested. Reuse matches on name, cwd, and the full-terminal flag.
func (m *Manager) Start(req StartRequest) (Snapshot, error) {
	if strings.TrimSpace(req.Command) == "" {
		return Snapshot{}, errors.New("command is required")
	}
	fullTerminal := true
	if req.FullTerminal != nil {
		fullTerminal = *req.FullTerminal
	}
	cwd := req.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	if req.ReuseSession && req.Name != "" {
		if snap, ok := m.findReusable(req.Name, cwd, fullTerminal); ok {
			return snap, nil
		}
	}

	sh, err := shell.Resolve()
	if err != nil {
		return Snapshot{}, err
	}

	sess := &Session{
		ID:           uuid.NewString(),
		Name:         req.Name,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		Cwd:          cwd,
		ShellTag:     sh.Tag,
		ShellPath:    sh.Path,
		Argv:         sh.Argv(req.Command),
		Command:      req.Command,
		Status:       StatusRunning,
		FullTerminal: fullTerminal,
		Stdout:       NewStreamState(m.bufferCap),
		Stderr:       NewStreamState(m.bufferCap),
		done:         make(chan struct{}),
	}

	env := buildEnv(req.Env)
	if fullTerminal {
		sess.Transport = TransportPTY
		sess.Cols = clampCols(req.Cols)
		sess.Rows = clampRows(req.Rows)
		if runtime.GOOS == "windows" {
			env = rehydrateWindowsEnv(env, os.Getenv)
		}
		if err := m.spawnPTY(sess, env); err != nil {
			return Snapshot{}, err
		}
	} else {
		sess.Transport = TransportPipe
		if err := m.spawnPipe(sess, env); err != nil {
			return Snapshot{}, err
		}
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.log.Info("background session started",
		zap.String("id", sess.ID),
		zap.String("name", sess.Name),
		zap.String("transport", string(sess.Transport)),
		zap.Int("pid", sess.PID))
	return sess.snapshot(), nil
}

func (m *Manager) findReusable(name, cwd string, fullTerminal bool) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.mu.Lock()
		match := s.Name == name && s.Cwd == cwd && s.FullTerminal == fullTerminal && s.Status == StatusRunning
		s.mu.Unlock()
		if match {
			return s.snapshot(), true
		}
	}
	return Snapshot{}, false
}

func (m *Manager) spawnPipe(sess *Session, env []string) error {
	cmd := exec.Command(sess.Argv[0], sess.Argv[1:]...)
	cmd.Dir = sess.Cwd
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	sess.cmd = cmd
	sess.stdin = stdin
	sess.PID = cmd.Process.Pid

	go m.pump(sess, sess.Stdout, stdout, nil)
	go m.pump(sess, sess.Stderr, stderr, nil)
	go m.wait(sess)
	return nil
}

func (m *Manager) spawnPTY(sess *Session, env []string) error {
	cmd := exec.Command(sess.Argv[0], sess.Argv[1:]...)
	cmd.Dir = sess.Cwd
	cmd.Env = append(env, "TERM=xterm-256color")

	ptmx, err := startPTY(cmd, sess.Cols, sess.Rows)
	if err != nil {
		return fmt.Errorf("pty spawn: %w", err)
	}
	sess.cmd = cmd
	sess.ptmx = ptmx
	sess.PID = cmd.Process.Pid

	go m.pump(sess, sess.Stdout, ptmx, &sanitizer{})
	go m.wait(sess)
	return nil
}

// pump copies child output into the stream ring, sanitizing PTY chunks.
func (m *Manager) pump(sess *Session, stream *StreamState, r interface{ Read([]byte) (int, error) }, san *sanitizer) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if san != nil {
				chunk = collapseFocusNoise(san.Sanitize(chunk))
			}
			stream.Append(chunk)
			sess.touch()
		}
		if err != nil {
			if san != nil {
				san.Flush()
			}
			return
		}
	}
}

func (m *Manager) wait(sess *Session) {
	err := sess.cmd.Wait()
	code := 0
	signal := ""
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			signal = exitSignalName(exitErr.ProcessState)
		} else {
			code = -1
		}
	}
	sess.markExited(code, signal)
	m.log.Info("background session exited",
		zap.String("id", sess.ID),
		zap.Int("exit_code", code),
		zap.String("signal", signal))
}

// ReadRequest selects a slice of buffered output.
type ReadRequest struct {
	SessionID string
	Stream    string // both|stdout|stderr; empty means both
	MaxBytes  int
	Peek      bool
}

// ReadResult carries the returned slices and loss/backlog flags.
type ReadResult struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Dropped  bool   `json:"dropped,omitempty"`
	More     bool   `json:"more,omitempty"`
	Status   Status `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// Read returns the next incremental slice, advancing the cursor unless peeking.
func (m *Manager) Read(req ReadRequest) (ReadResult, error) {
	sess, err := m.get(req.SessionID)
	if err != nil {
		return ReadResult{}, err
	}
	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultReadBytes
	}
	if maxBytes > MaxReadBytes {
		maxBytes = MaxReadBytes
	}
	stream := req.Stream
	if stream == "" {
		stream = "both"
	}

	var res ReadResult
	switch stream {
	case "both", "stdout":
		out, dropped, more := sess.Stdout.ReadSlice(maxBytes, req.Peek)
		res.Stdout = out
		res.Dropped = res.Dropped || dropped
		res.More = res.More || more
		if stream == "stdout" {
			break
		}
		fallthrough
	case "stderr":
		out, dropped, more := sess.Stderr.ReadSlice(maxBytes, req.Peek)
		res.Stderr = out
		res.Dropped = res.Dropped || dropped
		res.More = res.More || more
	default:
		return ReadResult{}, fmt.Errorf("invalid stream %q", req.Stream)
	}

	sess.mu.Lock()
	res.Status = sess.Status
	if sess.ExitCode != nil {
		code := *sess.ExitCode
		res.ExitCode = &code
	}
	sess.mu.Unlock()
	return res, nil
}

// WriteRequest injects input into a session: raw text or a named key.
type WriteRequest struct {
	SessionID     string
	Input         string
	AppendNewline bool
	Key           string
	Repeat        int
}

// Write sends bytes to the PTY master or the child's stdin.
func (m *Manager) Write(req WriteRequest) error {
	sess, err := m.get(req.SessionID)
	if err != nil {
		return err
	}

	var payload string
	switch {
	case req.Key != "":
		seq, err := KeySequence(req.Key, req.Repeat)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		payload = seq
	default:
		payload = req.Input
		if req.AppendNewline {
			payload += "\n"
		}
	}
	if payload == "" {
		return errors.New("nothing to write")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Status != StatusRunning {
		return fmt.Errorf("session %s has exited", sess.ID)
	}
	sess.LastActivity = time.Now()
	if sess.Transport == TransportPTY {
		_, err = sess.ptmx.Write([]byte(payload))
		return err
	}
	_, err = sess.stdin.Write([]byte(payload))
	return err
}

// Resize changes the PTY dimensions; pipe sessions cannot resize.
func (m *Manager) Resize(id string, cols, rows int) (int, int, error) {
	sess, err := m.get(id)
	if err != nil {
		return 0, 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Transport != TransportPTY {
		return 0, 0, ErrUnsupported
	}
	if sess.Status != StatusRunning || sess.ptmx == nil {
		return 0, 0, fmt.Errorf("session %s has exited", sess.ID)
	}
	cols = clampCols(cols)
	rows = clampRows(rows)
	if err := resizePTY(sess.ptmx, cols, rows); err != nil {
		return 0, 0, err
	}
	sess.Cols = cols
	sess.Rows = rows
	sess.LastActivity = time.Now()
	return cols, rows, nil
}

// Stop terminates a session. force sends SIGKILL instead of SIGTERM. The call
// returns after a short grace; the exit transition lands asynchronously.
func (m *Manager) Stop(id string, force bool) (Snapshot, error) {
	sess, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}

	sess.mu.Lock()
	running := sess.Status == StatusRunning
	proc := (*os.Process)(nil)
	if sess.cmd != nil {
		proc = sess.cmd.Process
	}
	sess.LastActivity = time.Now()
	sess.mu.Unlock()

	if running && proc != nil {
		if force {
			_ = proc.Kill()
		} else {
			signalTermProcess(proc)
		}
	}

	grace := stopGrace
	if force {
		grace = stopGraceForce
	}
	select {
	case <-sess.done:
	case <-time.After(grace):
	}
	return sess.snapshot(), nil
}

// List returns snapshots of every session, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Get returns one session snapshot.
func (m *Manager) Get(id string) (Snapshot, error) {
	sess, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.snapshot(), nil
}

// Prune removes exited sessions from the registry and returns their count.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		exited := s.Status == StatusExited
		s.mu.Unlock()
		if exited {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Shutdown terminates every running session, best effort. Called on process
// exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		running := s.Status == StatusRunning
		var proc *os.Process
		if s.cmd != nil {
			proc = s.cmd.Process
		}
		isPTY := s.Transport == TransportPTY
		s.mu.Unlock()
		if !running || proc == nil {
			continue
		}
		if isPTY {
			_ = proc.Kill()
		} else {
			signalTermProcess(proc)
		}
	}
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// buildEnv merges a delta over the parent environment.
func buildEnv(delta map[string]string) []string {
	if len(delta) == 0 {
		return os.Environ()
	}
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range delta {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
