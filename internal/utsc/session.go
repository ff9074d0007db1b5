// ABOUTME: One live UTSC capture: configures the device, ingests bursts, and streams samples.
// ABOUTME: Re-arms the device whenever the buffer runs low so the stream never starves.

package utsc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
	"github.com/svdleer/PyPNMGui-sub000/internal/dedupe"
	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
)

// State is the controller state of a session.
type State string

const (
	StateIdle        State = "idle"
	StateConfiguring State = "configuring"
	StateTriggered   State = "triggered"
	StateSampleReady State = "sample_ready"
	StateError       State = "error"
	StateDone        State = "done"
)

// End reasons reported to metrics and returned by Session.Reason.
const (
	ReasonDuration       = "duration"
	ReasonCancelled      = "cancelled"
	ReasonSubscriberGone = "subscriber_gone"
	ReasonError          = "error"
)

// Metrics receives capture session events.
type Metrics interface {
	SessionStarted()
	SessionEnded(reason string)
	TriggerIssued()
	ParseFailed()
	SampleStreamed()
	SampleDropped()
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted()     {}
func (nopMetrics) SessionEnded(string) {}
func (nopMetrics) TriggerIssued()      {}
func (nopMetrics) ParseFailed()        {}
func (nopMetrics) SampleStreamed()     {}
func (nopMetrics) SampleDropped()      {}

// SessionConfig holds the timing and sizing of one session.
type SessionConfig struct {
	Params             Params
	Duration           time.Duration
	RefreshInterval    time.Duration
	HeartbeatInterval  time.Duration
	PollInterval       time.Duration
	StatusPollInterval time.Duration
	InitialFill        int
	BufferCapacity     int
	Policy             RetriggerPolicy

	// SettleTime is how long an unreadable file must keep the same size
	// before it is given up on. Until then it is retried on every poll.
	SettleTime time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.Duration <= 0 {
		c.Duration = 60 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 500 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = time.Second
	}
	if c.InitialFill <= 0 {
		c.InitialFill = 20
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.Policy == (RetriggerPolicy{}) {
		c.Policy = DefaultRetriggerPolicy()
	}
	if c.SettleTime <= 0 {
		c.SettleTime = 2 * time.Second
	}
}

// unsettledFile is a capture file that failed to read or parse.
type unsettledFile struct {
	size  int64
	since time.Time
}

// Session owns all state for one capture. Nothing is shared across sessions.
type Session struct {
	ID string

	cfg     SessionConfig
	device  Device
	files   FileStore
	sink    Sink
	clock   clock.Clock
	metrics Metrics
	logger  *slog.Logger

	buffer    *Buffer
	seen      *dedupe.Cache
	unsettled map[string]unsettledFile
	notices   chan StreamMessage

	// mu is the per-session state lock. It serializes status observations
	// with the check-decide-mark sequence of a trigger.
	mu             sync.Mutex
	state          State
	status         MeasStatus
	lastTrigger    time.Time
	triggerPending bool
	triggers       int
	startedAt      time.Time
	configured     bool

	wg          sync.WaitGroup
	cancel      context.CancelFunc
	releaseOnce sync.Once
	reason      string
	sent        int
}

// SessionDeps are the collaborators of a session.
type SessionDeps struct {
	Device  Device
	Files   FileStore
	Sink    Sink
	Clock   clock.Clock
	Metrics Metrics
	Logger  *slog.Logger
}

// NewSession prepares a session. Call Run to start it.
func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	id := uuid.New().String()
	return &Session{
		ID:      id,
		cfg:     cfg,
		device:  deps.Device,
		files:   deps.Files,
		sink:    deps.Sink,
		clock:   deps.Clock,
		metrics: deps.Metrics,
		logger: deps.Logger.With(
			"component", "utsc",
			"session_id", id,
			"mac", cfg.Params.MAC,
			"rf_port", cfg.Params.RFPortIfIndex,
		),
		buffer:    NewBuffer(cfg.BufferCapacity),
		seen:      dedupe.NewWithClock(0, 8192, deps.Clock),
		unsettled: make(map[string]unsettledFile),
		notices:   make(chan StreamMessage, 32),
		state:     StateIdle,
	}
}

// State returns the controller state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Triggers returns how many triggers have been issued, including the first.
func (s *Session) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers
}

// BufferLen returns the number of buffered samples.
func (s *Session) BufferLen() int {
	return s.buffer.Len()
}

// Reason returns why the session ended, or "" while it is running.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// StartedAt returns when Run began.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Params returns the capture parameters.
func (s *Session) Params() Params {
	return s.cfg.Params
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) message(kind string) StreamMessage {
	return StreamMessage{
		Type:       kind,
		Timestamp:  protocol.Timestamp(s.clock.Now()),
		SessionID:  s.ID,
		BufferSize: s.buffer.Len(),
	}
}

func (s *Session) errorMessage(err error, fatal bool) StreamMessage {
	m := s.message(MsgError)
	m.Message = err.Error()
	m.Error = err.Error()
	m.Fatal = boolPtr(fatal)
	return m
}

// notify queues a message for the streamer without blocking the caller.
func (s *Session) notify(m StreamMessage) {
	select {
	case s.notices <- m:
	default:
		s.logger.Warn("dropping stream notice, queue full", "type", m.Type)
	}
}

// Run executes the session until the duration elapses, ctx is cancelled,
// the sink fails, or an unrecoverable error occurs. Resources are released
// exactly once before Run returns. A configuration or device error is
// returned after it has been reported to the subscriber.
func (s *Session) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	start := s.clock.Now()
	deadline := s.clock.After(s.cfg.Duration)

	s.mu.Lock()
	s.cancel = cancel
	s.startedAt = start
	s.mu.Unlock()

	s.metrics.SessionStarted()
	s.logger.Info("capture session starting", "duration", s.cfg.Duration, "filename", s.cfg.Params.Filename)

	warnings, err := Validate(s.cfg.Params)
	if err != nil {
		s.setState(StateError)
		_ = s.sink.Send(s.errorMessage(err, true))
		s.release(ReasonError)
		return err
	}

	hello := s.message(MsgConnected)
	hello.Message = "connected to live UTSC stream"
	hello.RefreshMs = s.cfg.RefreshInterval.Milliseconds()
	hello.MAC = s.cfg.Params.MAC
	hello.CenterFreqHz = s.cfg.Params.CenterFreqHz
	hello.SpanHz = s.cfg.Params.SpanHz
	hello.NumBins = s.cfg.Params.NumBins
	hello.DurationS = s.cfg.Duration.Seconds()
	hello.Target = s.cfg.InitialFill
	hello.Warnings = warnings
	if err := s.sink.Send(hello); err != nil {
		s.release(ReasonSubscriberGone)
		return nil
	}

	if err := s.arm(runCtx); err != nil {
		if runCtx.Err() != nil {
			s.release(ReasonCancelled)
			return nil
		}
		s.setState(StateError)
		_ = s.sink.Send(s.errorMessage(err, true))
		s.release(ReasonError)
		return err
	}

	s.wg.Add(2)
	go s.pollFiles(runCtx)
	go s.pollStatus(runCtx)

	reason := s.stream(runCtx, deadline)
	s.release(reason)
	return nil
}

// arm configures the device and issues the first trigger synchronously.
func (s *Session) arm(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateConfiguring
	s.configured = true
	s.mu.Unlock()

	if err := s.device.Configure(ctx, s.cfg.Params); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastTrigger = s.clock.Now()
	s.triggers++
	s.mu.Unlock()

	if err := s.device.Trigger(ctx); err != nil {
		return err
	}
	s.metrics.TriggerIssued()
	s.setState(StateTriggered)
	s.logger.Info("capture armed")
	return nil
}

// stream is the single writer to the sink. It returns the end reason.
func (s *Session) stream(ctx context.Context, deadline <-chan time.Time) string {
	refresh := s.clock.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()
	heartbeat := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	filled := false
	for {
		select {
		case <-ctx.Done():
			return ReasonCancelled

		case <-deadline:
			done := s.message(MsgComplete)
			done.SamplesSent = s.sent
			done.Triggers = s.Triggers()
			done.Message = "capture duration reached"
			_ = s.sink.Send(done)
			return ReasonDuration

		case m := <-s.notices:
			if err := s.sink.Send(m); err != nil {
				return ReasonSubscriberGone
			}

		case <-heartbeat.C:
			m := s.message(MsgHeartbeat)
			m.Elapsed = s.clock.Now().Sub(s.StartedAt()).Seconds()
			if err := s.sink.Send(m); err != nil {
				return ReasonSubscriberGone
			}

		case <-refresh.C:
			if !filled {
				n := s.buffer.Len()
				if n < s.cfg.InitialFill {
					m := s.message(MsgBuffering)
					m.Target = s.cfg.InitialFill
					if err := s.sink.Send(m); err != nil {
						return ReasonSubscriberGone
					}
					s.maybeRetrigger(ctx)
					continue
				}
				filled = true
				m := s.message(MsgBufferingComplete)
				m.Target = s.cfg.InitialFill
				if err := s.sink.Send(m); err != nil {
					return ReasonSubscriberGone
				}
			}

			if sample, ok := s.buffer.Pop(); ok {
				m := s.message(MsgSpectrum)
				m.Filename = sample.Filename
				m.RawData = &RawData{
					Frequencies:  sample.Frequencies,
					Amplitudes:   sample.Amplitudes,
					SpanHz:       s.cfg.Params.SpanHz,
					CenterFreqHz: s.cfg.Params.CenterFreqHz,
				}
				if err := s.sink.Send(m); err != nil {
					return ReasonSubscriberGone
				}
				s.sent++
				s.metrics.SampleStreamed()
			}
			s.maybeRetrigger(ctx)
		}
	}
}

// maybeRetrigger issues a trigger if the policy allows one. The decision and
// the pending mark happen under the state lock; the device call does not.
func (s *Session) maybeRetrigger(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateDone || s.state == StateError || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	if !s.cfg.Policy.ShouldTrigger(s.buffer.Len(), s.lastTrigger, s.triggerPending, now) {
		s.mu.Unlock()
		return
	}
	s.triggerPending = true
	s.lastTrigger = now
	s.triggers++
	s.state = StateTriggered
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := s.device.Trigger(ctx)

		s.mu.Lock()
		s.triggerPending = false
		s.mu.Unlock()

		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("re-trigger failed", "error", err)
				s.notify(s.errorMessage(err, false))
			}
			return
		}
		s.metrics.TriggerIssued()
		s.logger.Debug("re-triggered capture", "buffer", s.buffer.Len())
	}()
}

// pollFiles scans the store for new capture files and buffers them in
// modification-time order.
func (s *Session) pollFiles(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.ingest(ctx) > 0 {
				s.maybeRetrigger(ctx)
			}
		}
	}
}

// ingest buffers every unseen file and returns how many samples were added.
// A file is marked seen once it parses, or once it has failed with an
// unchanged size for SettleTime. Files still being written are retried.
func (s *Session) ingest(ctx context.Context) int {
	files, err := s.files.List(ctx, s.cfg.Params.Filename)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("listing capture files failed", "error", err)
		}
		return 0
	}
	SortByModTime(files)

	added := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return added
		}
		if s.seen.Check(f.Name) {
			continue
		}

		data, err := s.files.Read(ctx, f.Name)
		if err != nil {
			if s.settled(f) {
				s.logger.Warn("giving up on unreadable capture file", "file", f.Name, "error", err)
			} else {
				s.logger.Debug("capture file not readable yet", "file", f.Name, "error", err)
			}
			continue
		}

		p := s.cfg.Params
		sample, err := Parse(f.Name, data, p.NumBins, p.CenterFreqHz, p.SpanHz, f.ModTime)
		if err != nil {
			if !s.settled(f) {
				s.logger.Debug("capture file incomplete, will retry", "file", f.Name, "error", err)
				continue
			}
			s.metrics.ParseFailed()
			s.logger.Warn("skipping unparseable capture file", "file", f.Name, "error", err)
			s.notify(s.errorMessage(err, false))
			continue
		}

		s.seen.Mark(f.Name)
		delete(s.unsettled, f.Name)
		if !s.buffer.Push(sample) {
			s.metrics.SampleDropped()
			s.logger.Warn("capture buffer full, dropping sample", "file", f.Name)
			continue
		}
		added++
	}

	if added > 0 {
		s.mu.Lock()
		if s.state == StateTriggered {
			s.state = StateSampleReady
		}
		s.mu.Unlock()
	}
	return added
}

// settled records a failed attempt on f and reports whether the file has
// kept its size for SettleTime. A settled file is marked seen.
func (s *Session) settled(f FileInfo) bool {
	now := s.clock.Now()
	prev, ok := s.unsettled[f.Name]
	if !ok || prev.size != f.Size {
		s.unsettled[f.Name] = unsettledFile{size: f.Size, since: now}
		return false
	}
	if now.Sub(prev.since) < s.cfg.SettleTime {
		return false
	}
	delete(s.unsettled, f.Name)
	s.seen.Mark(f.Name)
	return true
}

// pollStatus tracks the device's measurement status. It never triggers.
func (s *Session) pollStatus(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := s.device.Status(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Debug("status poll failed", "error", err)
				}
				continue
			}

			s.mu.Lock()
			prev := s.status
			s.status = status
			if status == StatusSampleReady && s.state == StateTriggered {
				s.state = StateSampleReady
			}
			s.mu.Unlock()

			if prev != status {
				s.logger.Info("device status changed", "from", prev.String(), "to", status.String())
			}
			if status == StatusError || status == StatusResourceUnavailable {
				s.notify(s.errorMessage(errors.New("device reported "+status.String()), false))
			}
		}
	}
}

// Stop requests cooperative cancellation. Run returns after resources are released.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// release stops background work and the device. Only the first call has effect.
func (s *Session) release(reason string) {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		configured := s.configured
		if s.state != StateError {
			s.state = StateDone
		}
		s.reason = reason
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()

		if configured {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.device.Stop(stopCtx); err != nil {
				s.logger.Debug("stopping device failed", "error", err)
			}
			stopCancel()
		}

		s.metrics.SessionEnded(reason)
		s.logger.Info("capture session ended",
			"reason", reason,
			"samples_sent", s.sent,
			"triggers", s.Triggers(),
			"dropped", s.buffer.Dropped(),
		)
	})
}
