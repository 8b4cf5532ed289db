package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/localserver"
	"github.com/musher-dev/spacelink/internal/remote"
)

// State is a session's position in its lifecycle.
type State int

// Session states. Succeeded, TimedOut and Cancelled are terminal.
const (
	Idle State = iota
	Polling
	Succeeded
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further ticks can run.
func (s State) Terminal() bool {
	return s == Succeeded || s == TimedOut || s == Cancelled
}

// StatusLine is what one tick observed.
type StatusLine struct {
	SessionID   string              `json:"sessionId"`
	HostKey     string              `json:"hostKey"`
	Check       int                 `json:"check"`
	MaxChecks   int                 `json:"maxChecks"`
	Time        time.Time           `json:"time"`
	Server      localserver.Info    `json:"server"`
	Remote      remote.InstallState `json:"remote"`
	FailureKind clierrors.Kind      `json:"failureKind,omitempty"`
	Failure     string              `json:"failure,omitempty"`
	State       State               `json:"state"`
}

// String renders the line for a terminal.
func (l StatusLine) String() string {
	server := "server down"

	switch {
	case l.Server.Accessible:
		server = fmt.Sprintf("server up :%d", l.Server.Port)
	case l.Server.Running:
		server = fmt.Sprintf("server pid %d not answering", l.Server.PID)
	}

	remoteState := "remote not installed"

	switch {
	case l.Remote.ProcessRunning:
		remoteState = "remote running"
	case l.Remote.DirExists:
		remoteState = "remote installed"
	}

	line := fmt.Sprintf("[%d/%d] %s: %s, %s", l.Check, l.MaxChecks, l.HostKey, server, remoteState)
	if l.FailureKind != clierrors.KindNone {
		line += fmt.Sprintf(" (%s: %s)", l.FailureKind, l.Failure)
	}

	return line
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID         string      `json:"id"`
	HostKey    string      `json:"hostKey"`
	StartedAt  time.Time   `json:"startedAt"`
	CheckCount int         `json:"checkCount"`
	MaxChecks  int         `json:"maxChecks"`
	Cancelled  bool        `json:"cancelled"`
	State      State       `json:"state"`
	Last       *StatusLine `json:"last,omitempty"`
}

// Session is one polling run for a host key.
type Session struct {
	ID        string
	HostKey   string
	StartedAt time.Time

	opts   Options
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	checkCount int
	cancelled  bool
	last       *StatusLine
}

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.ID,
		HostKey:    s.HostKey,
		StartedAt:  s.StartedAt,
		CheckCount: s.checkCount,
		MaxChecks:  s.opts.MaxChecks,
		Cancelled:  s.cancelled,
		State:      s.state,
	}

	if s.last != nil {
		last := *s.last
		snap.Last = &last
	}

	return snap
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends or ctx is done, and returns the state
// at that moment.
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.done:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Stop cancels the session. No tick starts after Stop returns and the
// results of an in-flight tick are discarded. It reports whether the session
// was still polling.
func (s *Session) Stop() bool {
	s.mu.Lock()
	wasPolling := !s.state.Terminal()

	if wasPolling {
		s.cancelled = true
		s.state = Cancelled
	}
	s.mu.Unlock()

	s.cancel()

	return wasPolling
}

// begin claims the next tick. It returns false once the session is
// cancelled.
func (s *Session) begin() (check int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled || s.state.Terminal() {
		return 0, false
	}

	s.checkCount++

	return s.checkCount, true
}

// record stores a tick's result and moves the state machine. It returns
// false when the session was cancelled while the tick's probes ran.
func (s *Session) record(line *StatusLine) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return false
	}

	switch {
	case line.Remote.ProcessRunning:
		s.state = Succeeded
	case line.Check >= s.opts.MaxChecks:
		s.state = TimedOut
	}

	line.State = s.state
	s.last = line

	return true
}

// cancelFromContext marks the session cancelled when its parent context
// ended before a terminal state.
func (s *Session) cancelFromContext() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Terminal() {
		s.cancelled = true
		s.state = Cancelled
	}
}
