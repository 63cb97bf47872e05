// Package supervisor spawns child assistant CLI processes on a
// pseudo-terminal, drives them with idle-based response framing, and
// exposes a registry keyed by session id that the session-controller MCP
// server calls into.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
)

const (
	ptyRows = 50
	ptyCols = 200

	readChunkSize = 4096

	defaultIdleThreshold = 4 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	idlePollInterval     = 300 * time.Millisecond

	sendSettleDelay = 200 * time.Millisecond
	keyDebounce     = 150 * time.Millisecond

	stopInterruptWait  = 500 * time.Millisecond
	stopTerminateWait  = 500 * time.Millisecond
	finalOutputMaxChars = 2000
)

// Session is one supervised child process's state. The Registry owns the
// struct; the reader goroutine holds only the *Session it feeds, never a
// pointer back into the Registry.
type Session struct {
	mu sync.Mutex

	pty          *os.File
	cmd          *exec.Cmd
	buffer       []byte
	alive        bool
	lastDataTime time.Time
	messagesSent int
	workingDir   string
	createdAt    time.Time
	plugin       bool

	stopReader chan struct{}
}

// Registry is the process-wide map of session id -> *Session, the only
// process-wide mutable state in this module.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// SpawnOptions configures Start.
type SpawnOptions struct {
	Command    string
	Args       []string
	WorkingDir string
	Plugin     bool
}

// Start spawns command on a 50x200 pseudo-terminal and registers it under
// sessionID, starting the background reader goroutine.
func (r *Registry) Start(sessionID string, opts SpawnOptions) error {
	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return aidamerr.NewValidationError("session %q already exists", sessionID)
	}
	r.mu.Unlock()

	cmd := exec.Command(opts.Command, opts.Args...)
	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		return fmt.Errorf("failed to start pty for session %q: %w", sessionID, err)
	}

	sess := &Session{
		pty: ptmx, cmd: cmd, alive: true,
		lastDataTime: time.Now(), workingDir: opts.WorkingDir,
		createdAt: time.Now(), plugin: opts.Plugin,
		stopReader: make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[sessionID] = sess
	r.mu.Unlock()

	go sess.readLoop()

	return nil
}

// readLoop continuously reads up to 4KiB chunks from the PTY into the
// session's append-only buffer, updating lastDataTime on each non-empty
// read.
func (s *Session) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-s.stopReader:
			return
		default:
		}

		n, err := s.pty.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.buffer = append(s.buffer, buf[:n]...)
			s.lastDataTime = time.Now()
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.alive = false
			s.mu.Unlock()
			return
		}
	}
}

// Get returns the session for sessionID, or aidamerr.NotFoundError.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, aidamerr.NewNotFoundError("interactive_session", sessionID)
	}
	return sess, nil
}

// WaitForIdle records the current buffer length, then polls every 300ms
// until either the buffer has grown and the most recent read is older than
// threshold, or the total wait exceeds timeout. Returns the newly appended
// slice, ANSI/control-code scrubbed.
func (s *Session) WaitForIdle(ctx context.Context, threshold, timeout time.Duration) (string, error) {
	if threshold <= 0 {
		threshold = defaultIdleThreshold
	}
	if timeout <= 0 {
		timeout = defaultIdleTimeout
	}

	s.mu.Lock()
	startLen := len(s.buffer)
	s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			grown := len(s.buffer) > startLen
			idleFor := time.Since(s.lastDataTime)
			var newBytes []byte
			if grown {
				newBytes = append([]byte(nil), s.buffer[startLen:]...)
			}
			s.mu.Unlock()

			if grown && idleFor >= threshold {
				return Scrub(string(newBytes)), nil
			}
			if time.Now().After(deadline) {
				if grown {
					return Scrub(string(newBytes)), nil
				}
				return "", aidamerr.NewTimeoutError("waitForIdle", timeout.String())
			}
		}
	}
}

// Send writes message followed by a carriage return (after a short settle
// delay, matching real typing cadence), optionally waiting for an idle-framed
// response with the echo of message stripped.
func (s *Session) Send(ctx context.Context, message string, timeout time.Duration, wait bool) (string, error) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return "", aidamerr.NewValidationError("session is not alive")
	}
	s.messagesSent++
	s.mu.Unlock()

	if _, err := s.pty.WriteString(message); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	time.Sleep(sendSettleDelay)
	if _, err := s.pty.WriteString("\r"); err != nil {
		return "", fmt.Errorf("failed to write carriage return: %w", err)
	}

	if !wait {
		return "", nil
	}

	response, err := s.WaitForIdle(ctx, defaultIdleThreshold, timeout)
	if err != nil {
		return "", err
	}
	return suppressEcho(response, message), nil
}

// suppressEcho drops the first line of response if it matches the first 50
// characters of the sent message, the local-echo the PTY reflects back.
func suppressEcho(response, sent string) string {
	prefixLen := 50
	if len(sent) < prefixLen {
		prefixLen = len(sent)
	}
	prefix := sent[:prefixLen]

	lines := splitLinesKeepEmpty(response)
	if len(lines) == 0 {
		return response
	}
	if prefix != "" && hasPrefixFold(lines[0], prefix) {
		return joinLines(lines[1:])
	}
	return response
}
