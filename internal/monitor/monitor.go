// Package monitor polls the local server and the remote install until the
// editor server runs on the space, the check budget runs out, or the session
// is stopped. At most one session polls per host key.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	clierrors "github.com/musher-dev/spacelink/internal/errors"
	"github.com/musher-dev/spacelink/internal/localserver"
	"github.com/musher-dev/spacelink/internal/observability"
	"github.com/musher-dev/spacelink/internal/remote"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultInterval     = 5 * time.Second
	DefaultMaxChecks    = 60
	DefaultProbeTimeout = 10 * time.Second
)

// ServerProber observes the local server.
type ServerProber interface {
	Probe(ctx context.Context) localserver.Info
}

// RemoteProber observes the remote install.
type RemoteProber interface {
	Probe(ctx context.Context) (remote.InstallState, error)
}

// Options configures a session.
type Options struct {
	Interval  time.Duration
	MaxChecks int
	// ProbeTimeout bounds each tick's probes. Probes run detached from the
	// session's cancellation so stopping never kills an in-flight ssh.
	ProbeTimeout time.Duration
	Server       ServerProber
	Remote       RemoteProber
	// OnStatus receives every recorded tick. It is called from the
	// session's goroutine.
	OnStatus func(StatusLine)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}

	if o.MaxChecks <= 0 {
		o.MaxChecks = DefaultMaxChecks
	}

	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}

	return o
}

// Manager owns the per-host-key sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: map[string]*Session{}, now: time.Now}
}

// Start begins polling for hostKey. A session already registered for the key
// is stopped first; the returned session is the only live one for the key.
func (m *Manager) Start(ctx context.Context, hostKey string, opts Options) *Session {
	opts = opts.withDefaults()
	sessionCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		ID:        uuid.NewString(),
		HostKey:   hostKey,
		StartedAt: m.now(),
		opts:      opts,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     Polling,
	}

	m.mu.Lock()
	if prior, ok := m.sessions[hostKey]; ok {
		prior.Stop()
	}

	m.sessions[hostKey] = s
	m.mu.Unlock()

	logger := observability.FromContext(ctx).With(
		slog.String("host", hostKey),
		slog.String("monitor.session_id", s.ID),
	)
	logger.Info("monitor started",
		slog.Int("max_checks", opts.MaxChecks),
		slog.Duration("interval", opts.Interval),
	)

	go m.run(observability.WithLogger(sessionCtx, logger), s)

	return s
}

// Stop cancels the session for hostKey. It reports whether one was polling.
func (m *Manager) Stop(hostKey string) bool {
	m.mu.Lock()
	s, ok := m.sessions[hostKey]
	delete(m.sessions, hostKey)
	m.mu.Unlock()

	return ok && s.Stop()
}

// StopAll cancels every session and returns how many were polling.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	stopped := 0

	for _, s := range sessions {
		if s.Stop() {
			stopped++
		}
	}

	return stopped
}

// Active returns the polling session for hostKey, or nil.
func (m *Manager) Active(hostKey string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[hostKey]
	if !ok || s.State().Terminal() {
		return nil
	}

	return s
}

// Sessions returns snapshots of the registered sessions sorted by host key.
func (m *Manager) Sessions() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.sessions))

	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].HostKey < out[j].HostKey })

	return out
}

// release drops s from the registry unless a newer session replaced it.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[s.HostKey] == s {
		delete(m.sessions, s.HostKey)
	}
}

func (m *Manager) run(ctx context.Context, s *Session) {
	defer close(s.done)
	defer m.release(s)
	defer s.cancel()

	logger := observability.FromContext(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
		case <-timer.C:
		}

		if ctx.Err() != nil {
			s.cancelFromContext()
		}

		check, ok := s.begin()
		if !ok {
			logger.Info("monitor stopped", slog.Int("check", s.Snapshot().CheckCount))
			return
		}

		line := m.tick(ctx, s, check)
		if line == nil {
			logger.Info("monitor stopped during check", slog.Int("check", check))
			return
		}

		if s.opts.OnStatus != nil {
			s.opts.OnStatus(*line)
		}

		if line.State.Terminal() {
			logger.Info("monitor finished", slog.String("state", line.State.String()), slog.Int("check", check))
			return
		}

		timer.Reset(s.opts.Interval)
	}
}

// tick runs one round of probes. It returns nil when the session was
// cancelled while the probes ran.
func (m *Manager) tick(ctx context.Context, s *Session, check int) *StatusLine {
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ProbeTimeout)
	defer cancel()

	probeCtx, end := observability.StartSpan(probeCtx, "monitor.tick",
		attribute.String("monitor.host", s.HostKey),
		attribute.Int("monitor.check", check),
	)

	line := &StatusLine{
		SessionID: s.ID,
		HostKey:   s.HostKey,
		Check:     check,
		MaxChecks: s.opts.MaxChecks,
	}

	var probeErr error

	if s.opts.Server != nil {
		line.Server = s.opts.Server.Probe(probeCtx)
	}

	if s.opts.Remote != nil {
		line.Remote, probeErr = s.opts.Remote.Probe(probeCtx)
	}

	switch {
	case probeErr != nil:
		line.FailureKind = clierrors.Classify(probeErr, "")
		line.Failure = probeErr.Error()
	case line.Server.Error != "":
		line.FailureKind = clierrors.KindProbeFailed
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			line.FailureKind = clierrors.KindTimeout
		}

		line.Failure = line.Server.Error
	}

	line.Time = m.now()

	end(probeErr)

	if !s.record(line) {
		return nil
	}

	observability.FromContext(ctx).Info("monitor check",
		slog.Int("check", check),
		slog.Int("max_checks", line.MaxChecks),
		slog.Bool("server.running", line.Server.Running),
		slog.Bool("server.accessible", line.Server.Accessible),
		slog.Bool("remote.dir_exists", line.Remote.DirExists),
		slog.Bool("remote.process_running", line.Remote.ProcessRunning),
		slog.String("failure.kind", string(line.FailureKind)),
	)

	return line
}
