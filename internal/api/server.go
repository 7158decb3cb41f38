// Package api serves the call manager's HTTP status API and the bridge
// that feeds peripheral events (wired headset, Bluetooth, dock, headset
// button) into the core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	types "github.com/sebas/callmanager/api/types/v1"
	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/backend"
	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/calllog"
	"github.com/sebas/callmanager/internal/telecom/incall"
	"github.com/sebas/callmanager/internal/telecom/monitor"
	"github.com/sebas/callmanager/internal/telecom/orchestrator"
	"github.com/sebas/callmanager/internal/telecom/peripheral"
	"github.com/sebas/callmanager/internal/telecom/ringer"
)

const (
	defaultCallLogLimit = 50
	maxBodyBytes        = 64 << 10
)

// Core is the part of the orchestrator the API reads and drives.
// Implemented by orchestrator.Orchestrator.
type Core interface {
	Do(fn func())
	Calls() []*call.Call
	ForegroundCall() *call.Call
	CanAddCall() bool
	AudioState() call.AudioState
	OnMediaButton(b orchestrator.MediaButton) bool
	Ringer() *ringer.Ringer
	Services() *backend.Repository
}

var _ Core = (*orchestrator.Orchestrator)(nil)

// AccountLister provides the registered accounts.
// Implemented by account.MemoryRegistrar.
type AccountLister interface {
	All() []account.Account
	UserSelectedOutgoingAccount() account.Handle
}

// PhoneStateProvider provides the published phone state.
// Implemented by monitor.PhoneStateBroadcaster; read under the core's lock.
type PhoneStateProvider interface {
	State() monitor.PhoneState
}

// Peripherals are the monitors the bridge drives. Any of them may be nil.
type Peripherals struct {
	Wired     *peripheral.WiredHeadsetMonitor
	Bluetooth *peripheral.BluetoothMonitor
	Headset   *peripheral.VirtualHeadset
	Dock      *peripheral.DockMonitor
}

// Server provides the HTTP API (headless, API only)
type Server struct {
	addr        string
	httpServer  *http.Server
	core        Core
	peripherals Peripherals
	callLog     calllog.Repository
	accounts    AccountLister
	phoneState  PhoneStateProvider
	startTime   time.Time
}

// Option configures a Server
type Option func(*Server)

// WithPeripherals enables the peripheral bridge
func WithPeripherals(p Peripherals) Option {
	return func(s *Server) { s.peripherals = p }
}

// WithCallLog serves call history from repo
func WithCallLog(repo calllog.Repository) Option {
	return func(s *Server) { s.callLog = repo }
}

// WithAccounts serves the registered accounts
func WithAccounts(a AccountLister) Option {
	return func(s *Server) { s.accounts = a }
}

// WithPhoneState reports the published phone state in stats
func WithPhoneState(p PhoneStateProvider) Option {
	return func(s *Server) { s.phoneState = p }
}

// NewServer creates a new API server
func NewServer(addr string, core Core, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		core:      core,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()

	// Health and stats
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	// Calls and audio
	mux.HandleFunc("/api/v1/calls", s.handleCalls)
	mux.HandleFunc("/api/v1/calls/", s.handleCallByID)
	mux.HandleFunc("/api/v1/audio", s.handleAudio)

	// History and accounts
	mux.HandleFunc("/api/v1/calllog", s.handleCallLog)
	mux.HandleFunc("/api/v1/accounts", s.handleAccounts)

	// Peripheral bridge
	mux.HandleFunc("/api/v1/peripherals", s.handlePeripherals)
	mux.HandleFunc("/api/v1/peripherals/wired", s.handleWired)
	mux.HandleFunc("/api/v1/peripherals/bluetooth", s.handleBluetooth)
	mux.HandleFunc("/api/v1/peripherals/dock", s.handleDock)
	mux.HandleFunc("/api/v1/peripherals/media-button", s.handleMediaButton)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the API's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("[API] Starting HTTP API server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(lis) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("[API] Stopping HTTP API server")
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop closes the server immediately
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, types.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var resp types.StatsResponse
	s.core.Do(func() {
		calls := s.core.Calls()
		resp.TotalCalls = len(calls)
		for _, c := range calls {
			if c.State() == call.StateRinging {
				resp.RingingCalls++
			}
		}
		if fg := s.core.ForegroundCall(); fg != nil {
			resp.ForegroundCall = fg.ID()
		}
		resp.CanAddCall = s.core.CanAddCall()
		resp.RingerState = s.core.Ringer().State().String()
		if s.phoneState != nil {
			resp.PhoneState = s.phoneState.State().String()
		}
	})
	resp.ConnectionCount = len(s.core.Services().All())
	s.writeJSON(w, http.StatusOK, resp)
}

// --- Calls ---

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var resp types.CallsResponse
	s.core.Do(func() {
		fg := s.core.ForegroundCall()
		calls := s.core.Calls()
		resp.Calls = make([]types.Call, 0, len(calls))
		for _, c := range calls {
			resp.Calls = append(resp.Calls, incall.CallSnapshot(c, fg))
		}
		resp.Audio = incall.AudioSnapshot(s.core.AudioState())
		resp.CanAddCall = s.core.CanAddCall()
	})
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCallByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Extract call ID from path: /api/v1/calls/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/calls/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "call id required")
		return
	}
	id, err := url.PathUnescape(path)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid call id encoding")
		return
	}

	var snap *types.Call
	s.core.Do(func() {
		fg := s.core.ForegroundCall()
		for _, c := range s.core.Calls() {
			if c.ID() == id {
				v := incall.CallSnapshot(c, fg)
				snap = &v
				return
			}
		}
	})
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var resp types.AudioState
	s.core.Do(func() { resp = incall.AudioSnapshot(s.core.AudioState()) })
	s.writeJSON(w, http.StatusOK, resp)
}

// --- Call log ---

func (s *Server) handleCallLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.callLog == nil {
		s.writeJSON(w, http.StatusOK, []types.CallLogEntry{})
		return
	}

	limit := defaultCallLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.callLog.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("[API] Failed to read call log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "call log unavailable")
		return
	}

	entries := make([]types.CallLogEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, types.CallLogEntry{
			ID:              rec.ID,
			CallID:          rec.CallID,
			Number:          rec.Number,
			Type:            rec.Type.String(),
			Video:           rec.Video,
			Account:         rec.Account,
			Start:           rec.Start.UTC().Format(time.RFC3339),
			DurationSec:     rec.Duration.Seconds(),
			DisconnectCause: rec.DisconnectCause,
		})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// --- Accounts ---

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.accounts == nil {
		s.writeJSON(w, http.StatusOK, []types.Account{})
		return
	}

	def := s.accounts.UserSelectedOutgoingAccount()
	all := s.accounts.All()
	resp := make([]types.Account, 0, len(all))
	for _, a := range all {
		if !a.Enabled {
			continue
		}
		resp = append(resp, types.Account{
			Handle:       a.Handle.String(),
			Label:        a.Label,
			Address:      a.Address,
			Capabilities: a.Capabilities.Names(),
			Schemes:      a.SupportedSchemes,
			Default:      a.Handle == def,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- Peripherals ---

func (s *Server) handlePeripherals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	p := s.peripherals
	resp := types.PeripheralsResponse{Dock: peripheral.DockUndocked.String()}
	if p.Wired != nil {
		resp.WiredHeadsetPlugged = p.Wired.IsPluggedIn()
	}
	if p.Bluetooth != nil {
		resp.BluetoothAvailable = p.Bluetooth.IsAvailable()
		resp.BluetoothAudioOn = p.Bluetooth.IsAudioConnected()
		resp.BluetoothPending = !resp.BluetoothAudioOn && p.Bluetooth.IsAudioConnectedOrPending()
	}
	if p.Dock != nil {
		resp.Dock = p.Dock.State().String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleWired reports a wired headset plug change.
// POST /api/v1/peripherals/wired {"plugged": true}
func (s *Server) handleWired(w http.ResponseWriter, r *http.Request) {
	var req types.WiredHeadsetRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if s.peripherals.Wired == nil {
		s.writeError(w, http.StatusServiceUnavailable, "wired headset not configured")
		return
	}
	slog.Info("[API] Wired headset changed", "plugged", req.Plugged)
	s.peripherals.Wired.OnPlugChanged(req.Plugged)
	w.WriteHeader(http.StatusNoContent)
}

// handleBluetooth reports the connected headset and its audio link.
// POST /api/v1/peripherals/bluetooth {"device": "hs1", "audio_on": false}
func (s *Server) handleBluetooth(w http.ResponseWriter, r *http.Request) {
	var req types.BluetoothRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if s.peripherals.Bluetooth == nil || s.peripherals.Headset == nil {
		s.writeError(w, http.StatusServiceUnavailable, "bluetooth not configured")
		return
	}
	if req.Device == "" {
		s.peripherals.Headset.SetDevices()
	} else {
		s.peripherals.Headset.SetDevices(req.Device)
	}
	s.peripherals.Headset.SetAudioConnected(req.AudioOn)
	slog.Info("[API] Bluetooth changed", "device", req.Device, "audio_on", req.AudioOn)
	s.peripherals.Bluetooth.OnStateChanged()
	w.WriteHeader(http.StatusNoContent)
}

// handleDock reports a dock change.
// POST /api/v1/peripherals/dock {"state": "car"}
func (s *Server) handleDock(w http.ResponseWriter, r *http.Request) {
	var req types.DockRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if s.peripherals.Dock == nil {
		s.writeError(w, http.StatusServiceUnavailable, "dock not configured")
		return
	}
	state, ok := peripheral.ParseDockState(req.State)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown dock state "+strconv.Quote(req.State))
		return
	}
	slog.Info("[API] Dock changed", "state", state.String())
	s.peripherals.Dock.OnDockChanged(state)
	w.WriteHeader(http.StatusNoContent)
}

// handleMediaButton reports a headset hook press.
// POST /api/v1/peripherals/media-button {"long_press": false}
func (s *Server) handleMediaButton(w http.ResponseWriter, r *http.Request) {
	var req types.MediaButtonRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	b := orchestrator.MediaButtonShortPress
	if req.LongPress {
		b = orchestrator.MediaButtonLongPress
	}
	var handled bool
	s.core.Do(func() { handled = s.core.OnMediaButton(b) })
	s.writeJSON(w, http.StatusOK, types.MediaButtonResponse{Handled: handled})
}

// --- Helpers ---

func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}
