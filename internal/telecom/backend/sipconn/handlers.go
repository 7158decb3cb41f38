package sipconn

import (
	"log/slog"
	"strings"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/callmanager/internal/telecom/call"
)

// Register installs the request handlers for calls arriving from the network
func (s *Service) Register(srv *sipgo.Server) {
	srv.OnRequest(sip.INVITE, s.handleINVITE)
	srv.OnRequest(sip.ACK, s.handleACK)
	srv.OnRequest(sip.BYE, s.handleBYE)
	srv.OnRequest(sip.CANCEL, s.handleCANCEL)
	srv.OnRequest(sip.INFO, s.handleINFO)
}

func (s *Service) handleINVITE(req *sip.Request, tx sip.ServerTransaction) {
	if req.CallID() == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Call-ID", nil))
		return
	}
	sipCallID := string(*req.CallID())

	if d := s.dialogBySIP(sipCallID); d != nil {
		s.handleReINVITE(d, req, tx)
		return
	}

	media, err := parseMedia(req.Body())
	if err != nil {
		slog.Warn("[SIPConn] Incoming INVITE without usable SDP", "sip_call_id", sipCallID, "error", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(488), "Not Acceptable Here", nil))
		return
	}

	d := newInboundDialog(req, tx)
	d.remote = media
	if err := tx.Respond(d.respond(sip.StatusTrying, "Trying", nil)); err != nil {
		slog.Warn("[SIPConn] Failed to send 100 Trying", "sip_call_id", sipCallID, "error", err)
	}
	s.track(d)

	slog.Info("[SIPConn] Incoming INVITE",
		"sip_call_id", sipCallID,
		"from", req.From().Address.String(),
	)
	extras := map[string]string{ExtraSIPCallID: sipCallID}
	s.report(func() { s.adapter.IncomingCall(s.Account(), extras) })
}

// handleReINVITE answers a session change from the far end, such as hold
func (s *Service) handleReINVITE(d *dialog, req *sip.Request, tx sip.ServerTransaction) {
	media, err := parseMedia(req.Body())
	if err != nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(488), "Not Acceptable Here", nil))
		return
	}

	s.mu.Lock()
	if !d.confirmed || d.terminated {
		s.mu.Unlock()
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(491), "Request Pending", nil))
		return
	}
	d.remote = media
	body := buildSDP(s.cfg.MediaAddr, s.cfg.MediaPort, d.sessionID, d.nextSDPVersion(), answerDirection(media.Direction, d.held))
	callID := d.callID
	s.mu.Unlock()

	ok := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", body)
	ct := sip.ContentTypeHeader("application/sdp")
	ok.AppendHeader(&ct)
	ok.AppendHeader(&sip.ContactHeader{Address: s.localContact()})
	if err := tx.Respond(ok); err != nil {
		slog.Warn("[SIPConn] Failed to answer re-INVITE", "call_id", callID, "error", err)
		return
	}
	s.notifyMedia(callID, media)
	slog.Info("[SIPConn] Remote session changed", "call_id", callID, "remote_hold", media.OnHold())
}

// answerDirection mirrors the direction offered by the far end
func answerDirection(offered string, held bool) string {
	switch offered {
	case dirSendOnly:
		return dirRecvOnly
	case dirInactive:
		return dirInactive
	case dirRecvOnly:
		return dirSendOnly
	}
	return holdDirection(held)
}

func (s *Service) handleACK(req *sip.Request, _ sip.ServerTransaction) {
	if req.CallID() == nil {
		return
	}
	if d := s.dialogBySIP(string(*req.CallID())); d != nil {
		slog.Debug("[SIPConn] ACK received", "call_id", d.callID)
	}
}

func (s *Service) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	var d *dialog
	if req.CallID() != nil {
		d = s.dialogBySIP(string(*req.CallID()))
	}
	if d == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(481), "Call/Transaction Does Not Exist", nil))
		return
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		slog.Warn("[SIPConn] Failed to answer BYE", "call_id", d.callID, "error", err)
	}
	if !s.forget(d) || d.callID == "" {
		return
	}
	slog.Info("[SIPConn] Call ended by remote", "call_id", d.callID)
	s.ended(d.callID, call.NewDisconnectCause(call.DisconnectRemote))
}

// handleCANCEL ends an incoming call the caller gave up on before it was
// answered; the core sees it as missed.
func (s *Service) handleCANCEL(req *sip.Request, tx sip.ServerTransaction) {
	var d *dialog
	if req.CallID() != nil {
		d = s.dialogBySIP(string(*req.CallID()))
	}
	if d == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(481), "Call/Transaction Does Not Exist", nil))
		return
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))

	s.mu.Lock()
	if d.confirmed || d.direction != call.DirectionIncoming {
		s.mu.Unlock()
		return
	}
	terminated := d.respond(sip.StatusCode(487), "Request Terminated", nil)
	ended := s.untrackLocked(d)
	callID := d.callID
	s.mu.Unlock()

	if !ended {
		return
	}
	_ = d.serverTx.Respond(terminated)
	slog.Info("[SIPConn] Incoming call cancelled", "call_id", callID, "sip_call_id", d.sipCallID)
	if callID != "" {
		s.ended(callID, call.NewDisconnectCause(call.DisconnectMissed))
	}
}

func (s *Service) handleINFO(req *sip.Request, tx sip.ServerTransaction) {
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	if digit, ok := parseDTMFRelay(req.Body()); ok {
		slog.Debug("[SIPConn] Remote DTMF", "digit", string(digit))
	}
}

// parseDTMFRelay reads the Signal line of an application/dtmf-relay body
func parseDTMFRelay(body []byte) (rune, bool) {
	for _, line := range strings.Split(string(body), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "signal") {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) != 1 {
			return 0, false
		}
		return rune(value[0]), true
	}
	return 0, false
}
