package calllog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/callmanager/internal/telecom/call"
)

const defaultQueueSize = 64

// Manager turns terminated calls into call-log records. It runs as an
// orchestrator listener and hands records to a writer goroutine, so the
// repository is never called under the owner lock.
type Manager struct {
	repo         Repository
	queue        chan Record
	logEmergency bool
	observe      func(Record)
	writeTimeout time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithEmergencyLogging keeps emergency calls in the log. They are left out
// by default.
func WithEmergencyLogging(on bool) Option {
	return func(m *Manager) {
		m.logEmergency = on
	}
}

// WithObserver calls fn with each record once it has been written
func WithObserver(fn func(Record)) Option {
	return func(m *Manager) {
		m.observe = fn
	}
}

// WithQueueSize sets how many records may wait for the writer
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queue = make(chan Record, n)
		}
	}
}

// NewManager creates a manager writing to repo
func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:         repo,
		queue:        make(chan Record, defaultQueueSize),
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEvent implements call.Listener
func (m *Manager) OnEvent(c *call.Call, ev call.Event) {
	sc, ok := ev.(call.StateChanged)
	if !ok || c == nil {
		return
	}
	if sc.New != call.StateDisconnected && sc.New != call.StateAborted {
		return
	}
	cause := c.DisconnectCause()
	switch {
	case sc.Old == call.StateSelectAccount:
		return
	case c.IsConference():
		return
	case cause.Code == call.DisconnectCanceled:
		return
	}

	t := TypeIncoming
	if !c.IsIncoming() {
		t = TypeOutgoing
	} else if cause.Code == call.DisconnectMissed {
		t = TypeMissed
	}
	m.log(c, t)
}

// LogMissed records an incoming call that was turned away before it was
// shown to the user
func (m *Manager) LogMissed(c *call.Call) {
	m.log(c, TypeMissed)
}

func (m *Manager) log(c *call.Call, t Type) {
	if c.IsEmergency() && !m.logEmergency {
		slog.Debug("[CallLog] Not logging emergency call", "call_id", c.ID())
		return
	}
	r := recordFor(c, t)
	select {
	case m.queue <- r:
	default:
		slog.Warn("[CallLog] Queue full, dropping record", "call_id", c.ID(), "type", t.String())
	}
}

func recordFor(c *call.Call, t Type) Record {
	r := Record{
		ID:           uuid.New().String(),
		CallID:       c.ID(),
		Number:       c.Handle().Normalized(),
		Presentation: c.HandlePresentation().String(),
		Type:         t,
		Video:        c.VideoStateHistory().IsVideo(),
		Start:        c.CreatedAt(),
		Duration:     c.Duration(),
	}
	if gw := c.Gateway(); gw != nil && gw.OriginalAddress != "" {
		r.Number = gw.OriginalAddress.Normalized()
	}
	if acct := c.TargetAccount(); !acct.IsZero() && !c.IsEmergency() {
		r.Account = acct.String()
	}
	if cause := c.DisconnectCause(); cause.Code != call.DisconnectUnknown {
		r.DisconnectCause = cause.String()
	}
	return r
}

// Run writes queued records until ctx is done, then drains what is left
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case r := <-m.queue:
			m.write(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-m.queue:
					m.write(r)
				default:
					return nil
				}
			}
		}
	}
}

func (m *Manager) write(r Record) {
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()
	if err := m.repo.Add(ctx, r); err != nil {
		slog.Error("[CallLog] Failed to write record", "call_id", r.CallID, "error", err)
		return
	}
	slog.Debug("[CallLog] Record written", "call_id", r.CallID, "type", r.Type.String(), "duration", r.Duration)
	if m.observe != nil {
		m.observe(r)
	}
}
