// ABOUTME: Creates and tracks live capture sessions for the gateway.
// ABOUTME: Fills in defaults, clamps durations, and wires sessions to agents and the file store.

package utsc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
)

// ServiceConfig holds gateway-wide capture settings.
type ServiceConfig struct {
	DefaultDuration    time.Duration
	MaxDuration        time.Duration
	RefreshInterval    time.Duration
	HeartbeatInterval  time.Duration
	PollInterval       time.Duration
	StatusPollInterval time.Duration
	InitialFill        int
	BufferCapacity     int
	Policy             RetriggerPolicy
	DefaultCommunity   string
	TaskTimeout        time.Duration
	FileSettleTime     time.Duration
}

// Request is a subscriber's ask for a live capture.
type Request struct {
	Params          Params
	Duration        time.Duration
	RefreshInterval time.Duration
	AgentID         string
}

// SessionInfo summarizes a running session for the HTTP API.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	MAC       string    `json:"mac_address"`
	CMTSIP    string    `json:"cmts_ip"`
	RFPort    int       `json:"rf_port_ifindex"`
	State     State     `json:"state"`
	Buffered  int       `json:"buffered"`
	Triggers  int       `json:"triggers"`
	StartedAt time.Time `json:"started_at"`
}

// Service owns the set of active sessions.
type Service struct {
	cfg     ServiceConfig
	exec    Executor
	files   FileStore
	clock   clock.Clock
	metrics Metrics
	logger  *slog.Logger

	newDevice func(agentID string) Device

	mu       sync.Mutex
	sessions map[string]*Session
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFileStore reads capture files from fs instead of through an agent.
func WithFileStore(fs FileStore) ServiceOption {
	return func(s *Service) { s.files = fs }
}

// WithDeviceFactory overrides how a session's Device is built.
func WithDeviceFactory(f func(agentID string) Device) ServiceOption {
	return func(s *Service) { s.newDevice = f }
}

// WithServiceClock sets the time source for sessions.
func WithServiceClock(c clock.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithServiceMetrics sets the metrics sink for sessions.
func WithServiceMetrics(m Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service that drives devices through exec.
func NewService(cfg ServiceConfig, exec Executor, logger *slog.Logger, opts ...ServiceOption) *Service {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 60 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Minute
	}
	if cfg.DefaultCommunity == "" {
		cfg.DefaultCommunity = "private"
	}

	s := &Service{
		cfg:      cfg,
		exec:     exec,
		clock:    clock.Real(),
		metrics:  nopMetrics{},
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	s.newDevice = func(agentID string) Device {
		return NewAgentDevice(exec, agentID, cfg.TaskTimeout)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSession builds a session for req that streams to sink. The session is
// not tracked until Run is called.
func (s *Service) NewSession(req Request, sink Sink) *Session {
	p := req.Params
	if p.Community == "" {
		p.Community = s.cfg.DefaultCommunity
	}
	if p.Filename == "" {
		p.Filename = CaptureFilePrefix(p.MAC, s.clock.Now())
	}

	duration := req.Duration
	if duration <= 0 {
		duration = s.cfg.DefaultDuration
	}
	if duration > s.cfg.MaxDuration {
		duration = s.cfg.MaxDuration
	}
	refresh := req.RefreshInterval
	if refresh <= 0 {
		refresh = s.cfg.RefreshInterval
	}

	files := s.files
	if files == nil {
		files = NewAgentStore(s.exec, req.AgentID, s.cfg.TaskTimeout)
	}

	return NewSession(SessionConfig{
		Params:             p,
		Duration:           duration,
		RefreshInterval:    refresh,
		HeartbeatInterval:  s.cfg.HeartbeatInterval,
		PollInterval:       s.cfg.PollInterval,
		StatusPollInterval: s.cfg.StatusPollInterval,
		InitialFill:        s.cfg.InitialFill,
		BufferCapacity:     s.cfg.BufferCapacity,
		Policy:             s.cfg.Policy,
		SettleTime:         s.cfg.FileSettleTime,
	}, SessionDeps{
		Device:  s.newDevice(req.AgentID),
		Files:   files,
		Sink:    sink,
		Clock:   s.clock,
		Metrics: s.metrics,
		Logger:  s.logger,
	})
}

// Run tracks sess while it runs and returns its result.
func (s *Service) Run(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
	}()

	return sess.Run(ctx)
}

// Active lists running sessions ordered by start time.
func (s *Service) Active() []SessionInfo {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		p := sess.Params()
		out = append(out, SessionInfo{
			ID:        sess.ID,
			MAC:       p.MAC,
			CMTSIP:    p.CMTSIP,
			RFPort:    p.RFPortIfIndex,
			State:     sess.State(),
			Buffered:  sess.BufferLen(),
			Triggers:  sess.Triggers(),
			StartedAt: sess.StartedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Stop cancels the session with id. Reports whether it was found.
func (s *Service) Stop(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.Stop()
	}
	return ok
}

// StopAll cancels every running session.
func (s *Service) StopAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
}

// CaptureFilePrefix derives a per-session file name prefix so a session only
// ever ingests files from its own captures.
func CaptureFilePrefix(mac string, at time.Time) string {
	clean := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.ToLower(mac))
	if clean == "" {
		clean = "port"
	}
	return fmt.Sprintf("utsc_%s_%d", clean, at.Unix())
}
