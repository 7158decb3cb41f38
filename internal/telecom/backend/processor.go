package backend

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/call"
)

const (
	// DefaultEmergencyTimeout bounds an emergency attempt while the radio is on but out of service
	DefaultEmergencyTimeout = 25 * time.Second
	// DefaultEmergencyRadioOffTimeout bounds an emergency attempt while the radio is powered off
	DefaultEmergencyRadioOffTimeout = 60 * time.Second
	// DefaultAttemptTimeout bounds every create-connection attempt
	DefaultAttemptTimeout = 60 * time.Second
)

// Processor places calls on connection services. For each call it walks an
// ordered list of candidate accounts, one attempt at a time, until a
// service accepts the call or the list runs out.
//
// Thread Safety: Start, ContinueAfterDisconnect and the cancel funcs it
// installs on calls must run under the owner's lock. Attempt results are
// delivered through the Poster, which must take that same lock.
type Processor struct {
	repo      *Repository
	registrar account.Registrar
	network   Network
	post      func(fn func())

	emergencyTimeout time.Duration
	radioOffTimeout  time.Duration
	attemptTimeout   time.Duration
	afterFunc        func(d time.Duration, fn func()) *time.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	sessions map[string]*session
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithEmergencyTimeouts sets the emergency attempt timeouts; zero or
// negative values disable that timeout.
func WithEmergencyTimeouts(outOfService, radioOff time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.emergencyTimeout = outOfService
		p.radioOffTimeout = radioOff
	}
}

// WithAttemptTimeout bounds each create-connection attempt
func WithAttemptTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.attemptTimeout = d
	}
}

// target is one candidate account for a call
type target struct {
	account    account.Handle
	viaManager bool
}

// session tracks the attempts for one call until it connects or fails
type session struct {
	c        *call.Call
	req      Request
	targets  []target
	next     int
	gen      uint64
	svc      ConnectionService
	cancel   context.CancelFunc
	timer    *time.Timer
	timedOut bool
	last     call.DisconnectCause
	unlisten func()
}

// NewProcessor creates a processor that resolves services through repo and
// accounts through registrar. post must run fn under the lock that guards
// the calls.
func NewProcessor(repo *Repository, registrar account.Registrar, network Network, post func(fn func()), opts ...ProcessorOption) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		repo:             repo,
		registrar:        registrar,
		network:          network,
		post:             post,
		emergencyTimeout: DefaultEmergencyTimeout,
		radioOffTimeout:  DefaultEmergencyRadioOffTimeout,
		attemptTimeout:   DefaultAttemptTimeout,
		afterFunc:        time.AfterFunc,
		ctx:              ctx,
		cancel:           cancel,
		sessions:         make(map[string]*session),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.network == nil {
		p.network = NewNetworkMonitor(ServiceInService, false)
	}
	return p
}

// Close cancels every in-flight attempt. Results still in flight are dropped.
func (p *Processor) Close() {
	p.cancel()
}

// Pending reports whether the processor still tracks callID
func (p *Processor) Pending(callID string) bool {
	_, ok := p.sessions[callID]
	return ok
}

// Start begins creating the connection for c.
func (p *Processor) Start(c *call.Call) {
	if old, ok := p.sessions[c.ID()]; ok {
		slog.Warn("[Processor] Restarting connection for call", "call_id", c.ID())
		p.abort(old)
	}

	s := &session{
		c: c,
		req: Request{
			CallID:      c.ID(),
			Handle:      c.Handle(),
			Gateway:     c.Gateway(),
			Direction:   c.Direction(),
			IsUnknown:   c.IsUnknown(),
			IsEmergency: c.IsEmergency(),
			VideoState:  c.VideoState(),
			Extras:      c.Extras(),
		},
		targets: p.targetsFor(c),
		last:    call.NewDisconnectCause(call.DisconnectError),
	}
	s.last.Reason = ErrNoConnectionService.Error()
	s.unlisten = c.AddListener(call.ListenerFunc(func(c *call.Call, ev call.Event) {
		sc, ok := ev.(call.StateChanged)
		if !ok {
			return
		}
		switch sc.New {
		case call.StateActive, call.StateOnHold, call.StateDisconnected, call.StateAborted:
			if p.sessions[c.ID()] == s {
				p.finish(s)
			}
		}
	}))
	p.sessions[c.ID()] = s

	slog.Info("[Processor] Creating connection",
		"call_id", c.ID(),
		"direction", c.Direction().String(),
		"emergency", c.IsEmergency(),
		"targets", len(s.targets),
	)
	p.attemptNext(s)
}

// ContinueAfterDisconnect retries a call that was disconnected while still
// being placed, when the failure was an error or the emergency timeout and
// another target remains. It reports whether a new attempt was started, in
// which case the caller must not move the call to DISCONNECTED.
func (p *Processor) ContinueAfterDisconnect(c *call.Call, cause call.DisconnectCause) bool {
	s, ok := p.sessions[c.ID()]
	if !ok || !isBeingPlaced(c.State()) {
		return false
	}
	if s.next >= len(s.targets) {
		return false
	}
	if cause.Code != call.DisconnectError && !s.timedOut {
		return false
	}

	slog.Info("[Processor] Retrying call on next target",
		"call_id", c.ID(),
		"cause", cause.String(),
		"timed_out", s.timedOut,
	)
	s.last = cause
	c.ClearConnection()
	p.attemptNext(s)
	return true
}

// targetsFor orders the candidate accounts for c: the connection manager
// for a SIM account, then the call's own account. Emergency calls try the
// emergency accounts, SIM accounts first, and keep the connection manager
// as the last resort.
func (p *Processor) targetsFor(c *call.Call) []target {
	var out []target
	add := func(t target) {
		if t.account.IsZero() {
			return
		}
		if slices.ContainsFunc(out, func(o target) bool { return o.account == t.account }) {
			return
		}
		out = append(out, t)
	}

	acct := c.TargetAccount()
	cm := p.registrar.SimCallManager()
	useManager := !c.IsIncoming() && !c.IsUnknown() && !cm.IsZero() && cm != acct && p.isSIM(acct)

	if !c.IsEmergency() {
		if useManager {
			add(target{account: cm, viaManager: true})
		}
		add(target{account: acct})
		return out
	}

	emergency := p.registrar.EmergencyAccounts()
	slices.SortStableFunc(emergency, func(a, b account.Handle) int {
		switch sa, sb := p.isSIM(a), p.isSIM(b); {
		case sa == sb:
			return 0
		case sa:
			return -1
		default:
			return 1
		}
	})
	if p.isSIM(acct) {
		add(target{account: acct})
	}
	for _, h := range emergency {
		if h != cm {
			add(target{account: h})
		}
	}
	add(target{account: acct})
	if !cm.IsZero() && !c.IsIncoming() {
		add(target{account: cm, viaManager: acct != cm})
	}
	return out
}

func (p *Processor) isSIM(h account.Handle) bool {
	a, ok := p.registrar.Account(h)
	return ok && a.Has(account.CapSIMSubscription)
}

func (p *Processor) hasManagerTarget(s *session) bool {
	cm := p.registrar.SimCallManager()
	if cm.IsZero() {
		return false
	}
	return slices.ContainsFunc(s.targets, func(t target) bool { return t.account == cm })
}

// attemptNext starts an attempt on the next target that has a running
// service, or fails the call when none is left.
func (p *Processor) attemptNext(s *session) {
	c := s.c
	for s.next < len(s.targets) {
		t := s.targets[s.next]
		s.next++

		svc := p.repo.Service(t.account.ComponentID)
		if svc == nil {
			slog.Warn("[Processor] No connection service for account",
				"call_id", c.ID(),
				"account", t.account.String(),
			)
			continue
		}
		p.attempt(s, t, svc)
		return
	}

	slog.Info("[Processor] No more targets", "call_id", c.ID(), "cause", s.last.String())
	p.finish(s)
	c.HandleCreateConnectionFailure(s.last)
}

func (p *Processor) attempt(s *session, t target, svc ConnectionService) {
	c := s.c
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.svc = svc
	s.timedOut = false

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.attemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.attemptTimeout)
	} else {
		ctx, cancel = context.WithCancel(p.ctx)
	}
	s.cancel = cancel
	c.SetPendingAttempt(func() { p.abort(s) })

	req := s.req
	if t.viaManager {
		c.SetConnectionManagerAccount(t.account)
		req.Account = c.TargetAccount()
	} else {
		c.SetConnectionManagerAccount(account.Handle{})
		req.Account = t.account
	}

	slog.Info("[Processor] Attempting connection",
		"call_id", c.ID(),
		"account", t.account.String(),
		"via_manager", t.viaManager,
		"attempt", s.gen,
	)
	p.armEmergencyTimeout(s, t)

	gen := s.gen
	go func() {
		res, err := svc.CreateConnection(ctx, req)
		p.post(func() {
			p.onResult(ctx, s, gen, svc, res, err)
		})
	}()
}

func (p *Processor) onResult(ctx context.Context, s *session, gen uint64, svc ConnectionService, res *Result, err error) {
	c := s.c
	stale := p.sessions[c.ID()] != s || s.gen != gen || ctx.Err() == context.Canceled
	if !stale && err == nil && !awaitsConnection(c) {
		stale = true
	}
	if stale {
		slog.Debug("[Processor] Dropping stale result", "call_id", c.ID(), "attempt", gen, "error", err)
		if err == nil {
			svc.Abort(c.ID())
		}
		return
	}

	if err == nil {
		// The emergency timer keeps running while the call is dialing.
		s.cancel()
		s.cancel = nil
		if res == nil {
			res = &Result{}
		}
		slog.Info("[Processor] Connection created", "call_id", c.ID(), "component", svc.ID())
		c.HandleCreateConnectionSuccess(svc, *res)
		return
	}

	p.stopAttempt(s)
	cause := CauseOf(err)
	s.last = cause
	slog.Info("[Processor] Connection attempt failed",
		"call_id", c.ID(),
		"component", svc.ID(),
		"cause", cause.String(),
		"error", err,
	)
	if shouldFailover(cause, s.timedOut) {
		p.attemptNext(s)
		return
	}
	p.finish(s)
	c.HandleCreateConnectionFailure(cause)
}

func shouldFailover(cause call.DisconnectCause, timedOut bool) bool {
	switch cause.Code {
	case call.DisconnectError, call.DisconnectConnectionManagerNotSupported:
		return true
	}
	return timedOut
}

// armEmergencyTimeout starts the timer that moves an emergency call off a
// radio that cannot reach the network and onto the connection manager.
func (p *Processor) armEmergencyTimeout(s *session, t target) {
	if !s.req.IsEmergency || !p.hasManagerTarget(s) {
		return
	}
	if t.account == p.registrar.SimCallManager() {
		return
	}
	if !p.network.IsWifiConnected() {
		return
	}
	state := p.network.ServiceState()
	if state == ServiceInService {
		return
	}

	d := p.emergencyTimeout
	if state == ServicePowerOff {
		d = p.radioOffTimeout
	}
	if d <= 0 {
		return
	}

	slog.Info("[Processor] Emergency timeout armed",
		"call_id", s.c.ID(),
		"timeout", d,
		"service_state", state.String(),
	)
	gen := s.gen
	s.timer = p.afterFunc(d, func() {
		p.post(func() { p.onEmergencyTimeout(s, gen) })
	})
}

func (p *Processor) onEmergencyTimeout(s *session, gen uint64) {
	c := s.c
	if p.sessions[c.ID()] != s || s.gen != gen {
		return
	}
	if !isBeingPlaced(c.State()) {
		return
	}

	slog.Warn("[Processor] Emergency call timed out", "call_id", c.ID(), "state", c.State().String())
	s.timedOut = true
	s.timer = nil

	if s.cancel != nil {
		// Attempt still in flight: drop it and move on.
		svc := s.svc
		p.stopAttempt(s)
		s.gen++
		svc.Abort(c.ID())
		s.last = call.NewDisconnectCause(call.DisconnectError)
		s.last.Reason = "emergency timeout"
		p.attemptNext(s)
		return
	}
	if conn := c.Connection(); conn != nil {
		conn.Disconnect(c.ID())
	}
}

// abort cancels the in-flight attempt. It is installed on the call as its
// pending-attempt cancel func.
func (p *Processor) abort(s *session) {
	if p.sessions[s.c.ID()] != s {
		return
	}
	slog.Info("[Processor] Aborting connection", "call_id", s.c.ID())
	svc := s.svc
	pending := s.cancel != nil
	p.finish(s)
	if pending && svc != nil {
		svc.Abort(s.c.ID())
	}
}

// stopAttempt releases the resources of the current attempt
func (p *Processor) stopAttempt(s *session) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.c.ClearPendingAttempt()
}

func (p *Processor) finish(s *session) {
	p.stopAttempt(s)
	if s.unlisten != nil {
		s.unlisten()
		s.unlisten = nil
	}
	delete(p.sessions, s.c.ID())
}

// awaitsConnection reports whether a create-connection result may still
// apply to c: it is NEW or CONNECTING, or DIALING with its connection
// dropped for a retry.
func awaitsConnection(c *call.Call) bool {
	switch c.State() {
	case call.StateNew, call.StateConnecting:
		return true
	case call.StateDialing:
		return c.Connection() == nil
	}
	return false
}

func isBeingPlaced(s call.State) bool {
	switch s {
	case call.StateNew, call.StateConnecting, call.StateDialing:
		return true
	}
	return false
}
