// Package sipconn is a connection service that carries calls over SIP.
//
// Outgoing calls are placed with an INVITE to the configured proxy and
// reported as dialing on the first provisional response. Incoming INVITEs
// are announced to the core, which creates the connection and later
// answers or rejects it. Hold uses re-INVITE, DTMF uses SIP INFO.
package sipconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/backend"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// ExtraSIPCallID carries the SIP Call-ID of an incoming INVITE from
// IncomingCall back into the connection request.
const ExtraSIPCallID = "sip.call_id"

const (
	DefaultInviteTimeout = 60 * time.Second
	DefaultPostDialPause = 3 * time.Second
	DefaultDTMFDuration  = 160 * time.Millisecond
	DefaultDTMFGap       = 300 * time.Millisecond

	requestTimeout = 5 * time.Second
)

var (
	ErrUnknownDialog  = errors.New("no SIP dialog")
	ErrNoProxy        = errors.New("no SIP proxy configured")
	ErrUnknownCalls   = errors.New("unknown calls are not supported over SIP")
	ErrUnsupportedURI = errors.New("unsupported address scheme")
)

// Capabilities advertised for SIP calls
const sipCapabilities = call.CapHold | call.CapSupportHold | call.CapMute

// Config holds the SIP identity and media endpoint of the service
type Config struct {
	ComponentID   string
	AccountID     string
	AdvertiseAddr string
	Port          int
	User          string
	DisplayName   string
	// Proxy receives every call to a tel number or to a SIP URI without host
	Proxy     string
	MediaAddr string
	MediaPort int

	InviteTimeout time.Duration
	PostDialPause time.Duration
	DTMFDuration  time.Duration
	DTMFGap       time.Duration
}

func (c *Config) applyDefaults() {
	if c.InviteTimeout <= 0 {
		c.InviteTimeout = DefaultInviteTimeout
	}
	if c.PostDialPause <= 0 {
		c.PostDialPause = DefaultPostDialPause
	}
	if c.DTMFDuration <= 0 {
		c.DTMFDuration = DefaultDTMFDuration
	}
	if c.DTMFGap <= 0 {
		c.DTMFGap = DefaultDTMFGap
	}
	if c.User == "" {
		c.User = "callmanager"
	}
	if c.MediaAddr == "" {
		c.MediaAddr = c.AdvertiseAddr
	}
}

// Option configures a Service
type Option func(*Service)

// WithMediaObserver calls fn whenever the far end of a call announces
// where its audio should be sent.
func WithMediaObserver(fn func(callID string, remote net.Addr)) Option {
	return func(s *Service) { s.onMedia = fn }
}

// WithDeathHandler calls fn once the SIP transport has failed for good.
func WithDeathHandler(fn func(backend.ConnectionService)) Option {
	return func(s *Service) { s.onDeath = fn }
}

// Service implements backend.ConnectionService over SIP.
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	cfg     Config
	client  *sipgo.Client
	adapter backend.Adapter
	onMedia func(string, net.Addr)
	onDeath func(backend.ConnectionService)
	reports reporter

	mu      sync.Mutex
	dialogs map[string]*dialog // by SIP Call-ID
	calls   map[string]*dialog // by core call id
}

// NewService creates a SIP connection service sending through client and
// reporting to adapter.
func NewService(cfg Config, client *sipgo.Client, adapter backend.Adapter, opts ...Option) *Service {
	cfg.applyDefaults()
	s := &Service{
		cfg:     cfg,
		client:  client,
		adapter: adapter,
		dialogs: make(map[string]*dialog),
		calls:   make(map[string]*dialog),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ID() string { return s.cfg.ComponentID }

// Account is the account incoming SIP calls arrive on
func (s *Service) Account() account.Handle {
	return account.Handle{ComponentID: s.cfg.ComponentID, ID: s.cfg.AccountID}
}

// Serve registers the request handlers on srv and listens until ctx ends.
// A listener failure outside shutdown marks the service dead.
func (s *Service) Serve(ctx context.Context, srv *sipgo.Server, network, addr string) error {
	s.Register(srv)
	slog.Info("[SIPConn] Listening", "network", network, "addr", addr, "component", s.cfg.ComponentID)
	err := srv.ListenAndServe(ctx, network, addr)
	if err != nil && ctx.Err() == nil {
		slog.Error("[SIPConn] Transport failed", "error", err)
		s.die()
	}
	return err
}

// die drops every dialog and reports the service dead
func (s *Service) die() {
	s.mu.Lock()
	for _, d := range s.dialogs {
		d.terminate()
	}
	clear(s.dialogs)
	clear(s.calls)
	s.mu.Unlock()

	if s.onDeath != nil {
		s.onDeath(s)
	}
}

func (s *Service) localContact() sip.Uri {
	return sip.Uri{Scheme: "sip", User: s.cfg.User, Host: s.cfg.AdvertiseAddr, Port: s.cfg.Port}
}

// CreateConnection places an outgoing call or claims an incoming INVITE
func (s *Service) CreateConnection(ctx context.Context, req backend.Request) (*backend.Result, error) {
	switch {
	case req.IsUnknown:
		return nil, backend.NewConnectionError(call.DisconnectError, "unknown call", ErrUnknownCalls)
	case req.Direction == call.DirectionIncoming:
		return s.accept(req)
	default:
		return s.dial(ctx, req)
	}
}

func (s *Service) result(state call.State) *backend.Result {
	return &backend.Result{
		State:         state,
		Account:       s.Account(),
		Capabilities:  sipCapabilities,
		VoipAudioMode: true,
	}
}

func (s *Service) dial(ctx context.Context, req backend.Request) (*backend.Result, error) {
	handle := req.Handle
	if req.Gateway != nil && req.Gateway.GatewayAddress != "" {
		handle = req.Gateway.GatewayAddress
	}
	target, postDial, err := s.targetURI(handle)
	if err != nil {
		return nil, backend.NewConnectionError(call.DisconnectError, "invalid number", err)
	}

	localTag := generateTag()
	invite := s.buildINVITE(target, localTag, generateCallID())
	d := newOutboundDialog(invite, localTag)
	d.callID = req.CallID
	d.postDial = postDial

	inviteCtx, cancel := context.WithTimeout(context.Background(), s.cfg.InviteTimeout)
	d.cancel = cancel
	tx, err := s.client.TransactionRequest(inviteCtx, invite)
	if err != nil {
		cancel()
		return nil, backend.NewConnectionError(call.DisconnectError, "transaction failed", err)
	}
	s.track(d)

	slog.Info("[SIPConn] INVITE sent",
		"call_id", req.CallID,
		"sip_call_id", d.sipCallID,
		"target", target.String(),
	)

	for {
		select {
		case <-ctx.Done():
			s.hangup(d)
			return nil, ctx.Err()

		case <-inviteCtx.Done():
			if s.hangup(d) {
				return nil, fmt.Errorf("INVITE: %w", context.DeadlineExceeded)
			}
			return nil, context.Canceled

		case resp := <-tx.Responses():
			if resp == nil {
				s.forget(d)
				return nil, backend.NewConnectionError(call.DisconnectError, "no response", ErrUnknownDialog)
			}
			code := int(resp.StatusCode)
			slog.Debug("[SIPConn] INVITE response", "call_id", req.CallID, "status", code, "reason", resp.Reason)

			switch {
			case code < 180:
				continue
			case code < 200:
				res := s.result(call.StateDialing)
				res.RingbackRequested = s.progress(d, resp)
				go s.watchInvite(d, tx)
				return res, nil
			case code < 300:
				s.answered(d, resp)
				return s.result(call.StateActive), nil
			default:
				s.forget(d)
				return nil, &backend.ConnectionError{
					Cause: causeFromResponse(resp),
					Err:   fmt.Errorf("INVITE rejected: %d %s", code, resp.Reason),
				}
			}

		case <-tx.Done():
			s.forget(d)
			return nil, backend.NewConnectionError(call.DisconnectError, "transaction terminated", tx.Err())
		}
	}
}

// watchInvite follows an outgoing INVITE from its first provisional
// response to the final one.
func (s *Service) watchInvite(d *dialog, tx sip.ClientTransaction) {
	for {
		select {
		case <-d.done:
			return

		case resp := <-tx.Responses():
			if resp == nil {
				continue
			}
			code := int(resp.StatusCode)
			switch {
			case code < 180:
			case code < 200:
				ringback := s.progress(d, resp)
				s.report(func() { s.adapter.SetRingbackRequested(d.callID, ringback) })
			case code < 300:
				s.answered(d, resp)
				s.report(func() { s.adapter.SetActive(d.callID) })
			default:
				if s.forget(d) {
					cause := causeFromResponse(resp)
					slog.Info("[SIPConn] Call failed", "call_id", d.callID, "status", code, "reason", resp.Reason)
					s.ended(d.callID, cause)
				}
				return
			}

		case <-tx.Done():
			s.mu.Lock()
			confirmed := d.confirmed
			s.mu.Unlock()
			if confirmed {
				return
			}
			if s.forget(d) {
				cause := backend.CauseOf(tx.Err())
				s.ended(d.callID, cause)
			}
			return
		}
	}
}

// progress records early media from a provisional response and reports
// whether the caller should hear locally generated ringback.
func (s *Service) progress(d *dialog, resp *sip.Response) bool {
	if len(resp.Body()) == 0 {
		return true
	}
	media, err := parseMedia(resp.Body())
	if err != nil {
		slog.Warn("[SIPConn] Early media rejected", "call_id", d.callID, "error", err)
		return true
	}
	s.mu.Lock()
	d.remote = media
	s.mu.Unlock()
	s.notifyMedia(d.callID, media)
	return false
}

// answered confirms an outgoing dialog on its 2xx and acknowledges it
func (s *Service) answered(d *dialog, resp *sip.Response) {
	media, mediaErr := parseMedia(resp.Body())

	s.mu.Lock()
	d.confirm(resp)
	if mediaErr == nil {
		d.remote = media
	}
	s.mu.Unlock()

	if err := s.client.WriteRequest(buildACK(d.invite, resp)); err != nil {
		slog.Error("[SIPConn] Failed to send ACK", "call_id", d.callID, "error", err)
	}
	if mediaErr != nil {
		slog.Warn("[SIPConn] Answer without usable SDP", "call_id", d.callID, "error", mediaErr)
	} else {
		s.notifyMedia(d.callID, media)
	}
	slog.Info("[SIPConn] Call answered", "call_id", d.callID, "sip_call_id", d.sipCallID)
	s.startPostDial(d)
}

// accept binds an announced incoming INVITE to its core call and starts
// ringing the far end.
func (s *Service) accept(req backend.Request) (*backend.Result, error) {
	sipCallID := req.Extras[ExtraSIPCallID]

	s.mu.Lock()
	d := s.dialogs[sipCallID]
	if d == nil || d.terminated {
		s.mu.Unlock()
		return nil, backend.NewConnectionError(call.DisconnectMissed, "caller hung up", ErrUnknownDialog)
	}
	d.callID = req.CallID
	s.calls[req.CallID] = d
	ringing := d.respond(sip.StatusRinging, "Ringing", nil)
	s.mu.Unlock()

	if err := d.serverTx.Respond(ringing); err != nil {
		slog.Warn("[SIPConn] Failed to send 180 Ringing", "call_id", req.CallID, "error", err)
	}

	res := s.result(call.StateRinging)
	if from := d.invite.From(); from != nil {
		res.Handle, res.HandlePresentation = addressOf(from.Address)
		res.CallerDisplayName = strings.Trim(from.DisplayName, `"`)
		res.CallerDisplayNamePresentation = res.HandlePresentation
	}
	slog.Info("[SIPConn] Incoming call ringing",
		"call_id", req.CallID,
		"sip_call_id", sipCallID,
		"from", res.Handle,
	)
	return res, nil
}

// Answer accepts a ringing incoming call
func (s *Service) Answer(callID string, _ call.VideoState) {
	s.mu.Lock()
	d := s.calls[callID]
	if d == nil || d.terminated || d.confirmed || d.direction != call.DirectionIncoming {
		s.mu.Unlock()
		slog.Warn("[SIPConn] Answer for unknown or answered call", "call_id", callID)
		return
	}
	body := buildSDP(s.cfg.MediaAddr, s.cfg.MediaPort, d.sessionID, d.sdpVersion, dirSendRecv)
	ok := d.respond(sip.StatusOK, "OK", body)
	ct := sip.ContentTypeHeader("application/sdp")
	ok.AppendHeader(&ct)
	ok.AppendHeader(&sip.ContactHeader{Address: s.localContact()})
	d.confirmed = true
	remote := d.remote
	s.mu.Unlock()

	if err := d.serverTx.Respond(ok); err != nil {
		slog.Error("[SIPConn] Failed to send 200 OK", "call_id", callID, "error", err)
		if s.forget(d) {
			cause := call.NewDisconnectCause(call.DisconnectError)
			cause.Reason = "answer failed"
			s.ended(callID, cause)
		}
		return
	}
	s.notifyMedia(callID, remote)
	slog.Info("[SIPConn] Call answered locally", "call_id", callID)
	s.report(func() { s.adapter.SetActive(callID) })
}

// Reject declines a ringing incoming call
func (s *Service) Reject(callID string, withMessage bool, _ string) {
	s.mu.Lock()
	d := s.calls[callID]
	if d == nil || d.confirmed || d.direction != call.DirectionIncoming {
		s.mu.Unlock()
		return
	}
	decline := d.respond(sip.StatusCode(603), "Decline", nil)
	s.mu.Unlock()

	if !s.forget(d) {
		return
	}
	if err := d.serverTx.Respond(decline); err != nil {
		slog.Warn("[SIPConn] Failed to send 603 Decline", "call_id", callID, "error", err)
	}
	slog.Info("[SIPConn] Call rejected", "call_id", callID, "with_message", withMessage)
	s.ended(callID, call.NewDisconnectCause(call.DisconnectRejected))
}

func (s *Service) Hold(callID string)   { s.reinvite(callID, true) }
func (s *Service) Unhold(callID string) { s.reinvite(callID, false) }

// reinvite changes the media direction of a confirmed call
func (s *Service) reinvite(callID string, hold bool) {
	s.mu.Lock()
	d := s.calls[callID]
	if d == nil || !d.confirmed || d.terminated {
		s.mu.Unlock()
		slog.Warn("[SIPConn] Hold change on unconfirmed call", "call_id", callID, "hold", hold)
		return
	}
	body := buildSDP(s.cfg.MediaAddr, s.cfg.MediaPort, d.sessionID, d.nextSDPVersion(), holdDirection(hold))
	req := withSDP(d.request(sip.INVITE, s.localContact()), body)
	s.mu.Unlock()

	go func() {
		resp, err := s.send(req)
		if err != nil {
			slog.Warn("[SIPConn] re-INVITE failed", "call_id", callID, "hold", hold, "error", err)
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			slog.Warn("[SIPConn] re-INVITE refused", "call_id", callID, "status", int(resp.StatusCode))
			return
		}
		if err := s.client.WriteRequest(buildACK(req, resp)); err != nil {
			slog.Warn("[SIPConn] Failed to ACK re-INVITE", "call_id", callID, "error", err)
		}

		s.mu.Lock()
		d.held = hold
		s.mu.Unlock()
		slog.Info("[SIPConn] Hold changed", "call_id", callID, "hold", hold)
		s.report(func() {
			if hold {
				s.adapter.SetOnHold(callID)
			} else {
				s.adapter.SetActive(callID)
			}
		})
	}()
}

// Disconnect ends the call and reports a local disconnect
func (s *Service) Disconnect(callID string) {
	d := s.dialogFor(callID)
	if d == nil || !s.hangup(d) {
		return
	}
	slog.Info("[SIPConn] Call disconnected locally", "call_id", callID)
	s.ended(callID, call.NewDisconnectCause(call.DisconnectLocal))
}

// Abort ends the call without reporting back
func (s *Service) Abort(callID string) {
	if d := s.dialogFor(callID); d != nil && s.hangup(d) {
		slog.Debug("[SIPConn] Call aborted", "call_id", callID)
	}
}

// hangup tears the dialog down with the request its state calls for:
// BYE once confirmed, CANCEL for our pending INVITE, 486 for theirs.
// It reports false when the dialog had already ended.
func (s *Service) hangup(d *dialog) bool {
	s.mu.Lock()
	if d.terminated {
		s.mu.Unlock()
		return false
	}
	confirmed := d.confirmed
	var bye *sip.Request
	var busy *sip.Response
	switch {
	case confirmed:
		bye = d.request(sip.BYE, s.localContact())
	case d.direction == call.DirectionIncoming:
		busy = d.respond(sip.StatusBusyHere, "Busy Here", nil)
	}
	d.localHangup = true
	s.untrackLocked(d)
	s.mu.Unlock()

	switch {
	case bye != nil:
		go func() {
			if _, err := s.send(bye); err != nil {
				slog.Warn("[SIPConn] BYE failed", "call_id", d.callID, "error", err)
			}
		}()
	case busy != nil:
		if err := d.serverTx.Respond(busy); err != nil {
			slog.Warn("[SIPConn] Failed to send 486", "call_id", d.callID, "error", err)
		}
	default:
		go func() {
			if _, err := s.send(buildCANCEL(d.invite)); err != nil {
				slog.Warn("[SIPConn] CANCEL failed", "call_id", d.callID, "error", err)
			}
		}()
	}
	return true
}

// PlayDTMF sends one digit to the far end
func (s *Service) PlayDTMF(callID string, digit rune) {
	s.mu.Lock()
	d := s.calls[callID]
	if d == nil || !d.confirmed || d.terminated {
		s.mu.Unlock()
		return
	}
	info := d.dtmfInfo(s.localContact(), digit, int(s.cfg.DTMFDuration/time.Millisecond))
	s.mu.Unlock()

	go func() {
		if _, err := s.send(info); err != nil {
			slog.Warn("[SIPConn] DTMF INFO failed", "call_id", callID, "digit", string(digit), "error", err)
		}
	}()
}

// StopDTMF is a no-op: INFO digits carry their own duration
func (s *Service) StopDTMF(callID string) {}

// PostDialContinue resumes (or drops) digits held at a ';' wait
func (s *Service) PostDialContinue(callID string, proceed bool) {
	s.mu.Lock()
	d := s.calls[callID]
	if d == nil {
		s.mu.Unlock()
		return
	}
	rest := d.postDial
	d.postDial = ""
	s.mu.Unlock()

	if proceed && rest != "" {
		go s.runPostDial(d, rest)
	}
}

func (s *Service) startPostDial(d *dialog) {
	s.mu.Lock()
	digits := d.postDial
	d.postDial = ""
	s.mu.Unlock()
	if digits != "" {
		go s.runPostDial(d, digits)
	}
}

// runPostDial plays digits after the call connects. ',' pauses and ';'
// waits for PostDialContinue.
func (s *Service) runPostDial(d *dialog, digits string) {
	for i, ch := range digits {
		switch ch {
		case ',':
			if !s.sleep(d, s.cfg.PostDialPause) {
				return
			}
		case ';':
			rest := digits[i+1:]
			s.mu.Lock()
			d.postDial = rest
			s.mu.Unlock()
			s.report(func() { s.adapter.OnPostDialWait(d.callID, rest) })
			return
		default:
			s.report(func() { s.adapter.OnPostDialChar(d.callID, ch) })
			s.PlayDTMF(d.callID, ch)
			if !s.sleep(d, s.cfg.DTMFDuration+s.cfg.DTMFGap) {
				return
			}
		}
	}
}

// sleep waits for wait, reporting false if the dialog ended first
func (s *Service) sleep(d *dialog, wait time.Duration) bool {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.done:
		return false
	}
}

func (s *Service) Conference(callID, otherCallID string) {
	slog.Warn("[SIPConn] Conference not supported", "call_id", callID, "other", otherCallID)
}

func (s *Service) Split(callID string) {
	slog.Warn("[SIPConn] Split not supported", "call_id", callID)
}

func (s *Service) Merge(callID string) {
	slog.Warn("[SIPConn] Merge not supported", "call_id", callID)
}

func (s *Service) Swap(callID string) {
	slog.Warn("[SIPConn] Swap not supported", "call_id", callID)
}

func (s *Service) AudioStateChanged(callID string, state call.AudioState) {
	slog.Debug("[SIPConn] Audio state changed", "call_id", callID, "state", state.String())
}

// send runs a non-INVITE transaction (or a re-INVITE) to its final response
func (s *Service) send(req *sip.Request) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	tx, err := s.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Method, err)
	}
	defer tx.Terminate()

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return nil, fmt.Errorf("%s: no response", req.Method)
			}
			if resp.StatusCode >= 200 {
				return resp, nil
			}
		case <-tx.Done():
			return nil, fmt.Errorf("%s: transaction ended: %w", req.Method, tx.Err())
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", req.Method, ctx.Err())
		}
	}
}

func (s *Service) buildINVITE(target sip.Uri, localTag, sipCallID string) *sip.Request {
	invite := sip.NewRequest(sip.INVITE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	invite.AppendHeader(&sip.FromHeader{
		DisplayName: s.cfg.DisplayName,
		Address:     sip.Uri{Scheme: "sip", User: s.cfg.User, Host: s.cfg.AdvertiseAddr, Port: s.cfg.Port},
		Params:      fromParams,
	})
	invite.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})

	callID := sip.CallIDHeader(sipCallID)
	invite.AppendHeader(&callID)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: s.localContact()})

	body := buildSDP(s.cfg.MediaAddr, s.cfg.MediaPort, 1, 1, dirSendRecv)
	return withSDP(invite, body)
}

// targetURI turns a dialed address into the INVITE Request-URI. Digits
// after the first ',' or ';' are returned separately for post-dial.
func (s *Service) targetURI(h call.Address) (sip.Uri, string, error) {
	host, port := splitHostPort(s.cfg.Proxy)

	switch h.Scheme() {
	case call.SchemeTel:
		number := h.Normalized()
		var postDial string
		if i := strings.IndexAny(number, ",;"); i >= 0 {
			number, postDial = number[:i], number[i:]
		}
		if number == "" {
			return sip.Uri{}, "", fmt.Errorf("empty number %q", h)
		}
		if host == "" {
			return sip.Uri{}, "", ErrNoProxy
		}
		return sip.Uri{Scheme: "sip", User: number, Host: host, Port: port, UriParams: sip.NewParams()}, postDial, nil

	case call.SchemeSIP:
		var u sip.Uri
		if err := sip.ParseUri(string(h), &u); err != nil {
			return sip.Uri{}, "", fmt.Errorf("parse %q: %w", h, err)
		}
		if u.Host == "" {
			if host == "" {
				return sip.Uri{}, "", ErrNoProxy
			}
			u.Host, u.Port = host, port
		}
		return u, "", nil
	}
	return sip.Uri{}, "", fmt.Errorf("%w: %s", ErrUnsupportedURI, h.Scheme())
}

func splitHostPort(hostport string) (string, int) {
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

// addressOf maps a caller URI to a call address and its presentation
func addressOf(u sip.Uri) (call.Address, call.Presentation) {
	if strings.EqualFold(u.User, "anonymous") || strings.HasSuffix(u.Host, "anonymous.invalid") {
		return "", call.PresentationRestricted
	}
	if u.User == "" {
		return "", call.PresentationUnknown
	}
	if isDialable(u.User) {
		return call.Address(call.SchemeTel + ":" + u.User), call.PresentationAllowed
	}
	return call.Address(call.SchemeSIP + ":" + u.User + "@" + u.Host), call.PresentationAllowed
}

func isDialable(user string) bool {
	for i, r := range user {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#':
		case r == '+' && i == 0:
		default:
			return false
		}
	}
	return user != ""
}

func (s *Service) notifyMedia(callID string, m Media) {
	if s.onMedia == nil || callID == "" {
		return
	}
	if addr := m.UDPAddr(); addr != nil {
		s.onMedia(callID, addr)
	}
}

// report queues an adapter call. Reports run one at a time in order,
// never under s.mu.
func (s *Service) report(fn func()) { s.reports.post(fn) }

// ended reports the call disconnected and releases it. The dialog is
// gone by then, so there is nothing left to destroy on this side.
func (s *Service) ended(callID string, cause call.DisconnectCause) {
	s.report(func() {
		s.adapter.SetDisconnected(callID, cause)
		s.adapter.RemoveCall(callID)
	})
}

func (s *Service) track(d *dialog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogs[d.sipCallID] = d
	if d.callID != "" {
		s.calls[d.callID] = d
	}
}

// forget ends and drops the dialog, reporting false if it had already ended
func (s *Service) forget(d *dialog) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.untrackLocked(d)
}

func (s *Service) untrackLocked(d *dialog) bool {
	if s.dialogs[d.sipCallID] == d {
		delete(s.dialogs, d.sipCallID)
	}
	if d.callID != "" && s.calls[d.callID] == d {
		delete(s.calls, d.callID)
	}
	return d.terminate()
}

func (s *Service) dialogFor(callID string) *dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callID]
}

func (s *Service) dialogBySIP(sipCallID string) *dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogs[sipCallID]
}

// reporter runs queued functions one at a time on a single goroutine that
// exits when the queue drains.
type reporter struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (r *reporter) post(fn func()) {
	r.mu.Lock()
	r.queue = append(r.queue, fn)
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()
	go r.drain()
}

func (r *reporter) drain() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.running = false
			r.mu.Unlock()
			return
		}
		fn := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		fn()
	}
}
