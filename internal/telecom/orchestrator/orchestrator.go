// Package orchestrator owns the set of calls. It decides whether new
// calls are admitted, tracks the foreground call, relays backend reports
// onto the calls and fans call events out to the audio router, the ringer
// and any other registered listener.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/audio"
	"github.com/sebas/callmanager/internal/telecom/backend"
	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/peripheral"
	"github.com/sebas/callmanager/internal/telecom/ringer"
)

const (
	// DefaultNewOutgoingCallCancel is how long a cancelled outgoing call
	// waits for a redial of the same address before it is disconnected
	DefaultNewOutgoingCallCancel = 400 * time.Millisecond
	// DefaultDirectToVoicemail bounds the caller lookup for a new incoming call
	DefaultDirectToVoicemail = 500 * time.Millisecond
)

// Config holds the admission limits and timers
type Config struct {
	MaxLiveCalls     int
	MaxHoldCalls     int
	MaxOutgoingCalls int
	MaxRingingCalls  int
	MaxTopLevelCalls int

	NewOutgoingCallCancel time.Duration
	DirectToVoicemail     time.Duration

	// EmergencyNumbers are matched against the normalized dialed number
	EmergencyNumbers []string
}

// DefaultConfig returns the limits of a single-line phone: one live call,
// one held call and at most two calls on screen.
func DefaultConfig() Config {
	return Config{
		MaxLiveCalls:          1,
		MaxHoldCalls:          1,
		MaxOutgoingCalls:      1,
		MaxRingingCalls:       1,
		MaxTopLevelCalls:      2,
		NewOutgoingCallCancel: DefaultNewOutgoingCallCancel,
		DirectToVoicemail:     DefaultDirectToVoicemail,
		EmergencyNumbers:      []string{"112", "911"},
	}
}

// VoicemailFilter looks up whether a caller should go straight to voicemail.
// It runs outside the orchestrator's lock and must honor ctx.
type VoicemailFilter interface {
	ShouldSendToVoicemail(ctx context.Context, handle call.Address) bool
}

// DTMFTonePlayer plays the local feedback for digits the user presses
type DTMFTonePlayer interface {
	PlayTone(c *call.Call, digit rune)
	StopTone(c *call.Call)
}

// MissedCallLogger records incoming calls that were turned away before
// they joined the call set, so listeners never saw them.
type MissedCallLogger interface {
	LogMissed(c *call.Call)
}

// Deps are the collaborators of an Orchestrator. Registrar, Ringtone and
// Tones are required; the rest have working defaults.
type Deps struct {
	Registrar account.Registrar
	Services  *backend.Repository
	Network   backend.Network
	Hardware  audio.Hardware

	Wired     *peripheral.WiredHeadsetMonitor
	Bluetooth *peripheral.BluetoothMonitor
	Dock      *peripheral.DockMonitor

	Ringtone       ringer.RingtonePlayer
	Tones          ringer.ToneStarter
	Vibrator       ringer.Vibrator
	RingerSettings ringer.Settings
	Contacts       ringer.ContactFilter

	Voicemail   VoicemailFilter
	DTMF        DTMFTonePlayer
	MissedCalls MissedCallLogger

	ProcessorOptions []backend.ProcessorOption
	ArenaOptions     []call.ArenaOption
}

type listenerEntry struct {
	id uint64
	l  call.Listener
}

// Orchestrator is the call manager core.
//
// Thread Safety: the call set, the calls in it and every collaborator are
// guarded by one mutex. Commands, queries and the MarkCallAs methods must
// run under it, either from inside Do or from a listener callback. The
// backend.Adapter methods take the lock themselves and may be called from
// any goroutine.
type Orchestrator struct {
	mu sync.Mutex

	cfg       Config
	arena     *call.Arena
	calls     []*call.Call
	unlisten  map[string]func()
	listeners []listenerEntry
	nextID    uint64

	foreground *call.Call
	canAddCall bool

	locallyDisconnecting map[string]bool
	pendingDisconnect    []*call.Call
	placed               map[string]bool
	emergencyNumbers     map[string]bool

	registrar account.Registrar
	services  *backend.Repository
	processor *backend.Processor
	router    *audio.Router
	ringer    *ringer.Ringer
	wired     *peripheral.WiredHeadsetMonitor
	bluetooth *peripheral.BluetoothMonitor
	dock      *peripheral.DockMonitor
	voicemail VoicemailFilter
	dtmf      DTMFTonePlayer
	missed    MissedCallLogger

	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// New wires the orchestrator with its router, ringer and connection processor
func New(cfg Config, d Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:                  cfg,
		arena:                call.NewArena(d.ArenaOptions...),
		unlisten:             make(map[string]func()),
		canAddCall:           true,
		locallyDisconnecting: make(map[string]bool),
		placed:               make(map[string]bool),
		emergencyNumbers:     make(map[string]bool),
		registrar:            d.Registrar,
		services:             d.Services,
		voicemail:            d.Voicemail,
		dtmf:                 d.DTMF,
		missed:               d.MissedCalls,
		afterFunc:            time.AfterFunc,
	}
	for _, n := range cfg.EmergencyNumbers {
		o.emergencyNumbers[call.Address("tel:"+n).Normalized()] = true
	}
	if o.services == nil {
		o.services = backend.NewRepository()
	}

	o.wired = d.Wired
	if o.wired == nil {
		o.wired = peripheral.NewWiredHeadsetMonitor(false, o.Do)
	}
	o.bluetooth = d.Bluetooth
	if o.bluetooth == nil {
		o.bluetooth = peripheral.NewBluetoothMonitor(nil, peripheral.WithBluetoothPoster(o.Do))
	}
	o.dock = d.Dock
	if o.dock == nil {
		o.dock = peripheral.NewDockMonitor(o.Do)
	}
	hw := d.Hardware
	if hw == nil {
		hw = audio.NewMemoryDriver()
	}

	o.router = audio.NewRouter(o, hw, o.wired, o.bluetooth)
	o.wired.AddListener(o.router.OnWiredHeadsetPluggedChanged)
	o.dock.AddListener(o.router.OnDockChanged)
	o.bluetooth.AddListener(o.router.OnBluetoothStateChanged)

	settings := d.RingerSettings
	if settings == nil {
		settings = ringer.StaticSettings{Volume: 1}
	}
	vibrator := d.Vibrator
	if vibrator == nil {
		vibrator = ringer.LogVibrator{}
	}
	o.ringer = ringer.New(ringer.Deps{
		Calls:    o,
		Focus:    o.router,
		Player:   d.Ringtone,
		Tones:    d.Tones,
		Vibrator: vibrator,
		Settings: settings,
		Filter:   d.Contacts,
	})

	o.processor = backend.NewProcessor(o.services, d.Registrar, d.Network, o.Do, d.ProcessorOptions...)
	o.services.OnDeath(func(svc backend.ConnectionService) {
		o.Do(func() { o.HandleConnectionServiceDeath(svc) })
	})

	o.AddListener(o.router)
	o.AddListener(o.ringer)
	return o
}

// Do runs fn under the orchestrator's lock. It is the poster handed to
// the processor, the peripheral monitors and the tone factory; fn must not
// call Do again.
func (o *Orchestrator) Do(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

// Close stops every in-flight connection attempt
func (o *Orchestrator) Close() {
	o.processor.Close()
}

// AddListener registers l for orchestrator and call events. Listeners run
// under the lock in registration order; a panicking listener is logged
// and skipped. The returned func unregisters l.
func (o *Orchestrator) AddListener(l call.Listener) func() {
	o.nextID++
	id := o.nextID
	o.listeners = append(o.listeners, listenerEntry{id: id, l: l})
	return func() {
		o.listeners = slices.DeleteFunc(o.listeners, func(e listenerEntry) bool { return e.id == id })
	}
}

func (o *Orchestrator) notify(c *call.Call, ev call.Event) {
	for _, e := range slices.Clone(o.listeners) {
		o.dispatch(e.l, c, ev)
	}
}

func (o *Orchestrator) dispatch(l call.Listener, c *call.Call, ev call.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Orchestrator] Listener panicked",
				"event", fmt.Sprintf("%T", ev),
				"panic", r,
			)
		}
	}()
	l.OnEvent(c, ev)
}

// Router returns the audio router
func (o *Orchestrator) Router() *audio.Router { return o.router }

// Ringer returns the ringer
func (o *Orchestrator) Ringer() *ringer.Ringer { return o.ringer }

// Services returns the connection service repository
func (o *Orchestrator) Services() *backend.Repository { return o.services }

// --- Queries ---

// Calls returns the call set in the order the calls were added
func (o *Orchestrator) Calls() []*call.Call {
	return slices.Clone(o.calls)
}

// Call returns the call in the set with the given id, or nil
func (o *Orchestrator) Call(id string) *call.Call {
	for _, c := range o.calls {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// CallCount returns the size of the call set
func (o *Orchestrator) CallCount() int {
	return len(o.calls)
}

// ForegroundCall returns the call the user is interacting with, or nil
func (o *Orchestrator) ForegroundCall() *call.Call {
	return o.foreground
}

// CanAddCall reports whether the user may start another call
func (o *Orchestrator) CanAddCall() bool {
	return o.canAddCall
}

// AudioState returns the router's current audio state
func (o *Orchestrator) AudioState() call.AudioState {
	return o.router.State()
}

// FirstCallWithState returns the first top-level call in one of states.
// States are tried in order and, for each, the foreground call wins.
func (o *Orchestrator) FirstCallWithState(states ...call.State) *call.Call {
	return o.firstCallWithStateExcept(nil, states...)
}

func (o *Orchestrator) firstCallWithStateExcept(skip *call.Call, states ...call.State) *call.Call {
	for _, s := range states {
		if fg := o.foreground; fg != nil && fg != skip && fg.State() == s {
			return fg
		}
		for _, c := range o.calls {
			if c == skip || c.ParentID() != "" {
				continue
			}
			if c.State() == s {
				return c
			}
		}
	}
	return nil
}

// HasActiveOrHoldingCall reports whether any top-level call is ACTIVE or ON_HOLD
func (o *Orchestrator) HasActiveOrHoldingCall() bool {
	return o.FirstCallWithState(call.StateActive, call.StateOnHold) != nil
}

// HasRingingCall reports whether any top-level call is RINGING
func (o *Orchestrator) HasRingingCall() bool {
	return o.FirstCallWithState(call.StateRinging) != nil
}

// HasEmergencyCall reports whether an emergency call is in the set
func (o *Orchestrator) HasEmergencyCall() bool {
	return slices.ContainsFunc(o.calls, (*call.Call).IsEmergency)
}

// OnAudioStateChanged relays a new audio state from the router to listeners
func (o *Orchestrator) OnAudioStateChanged(old, new call.AudioState) {
	o.notify(nil, call.AudioStateChanged{Old: old, New: new})
}

// SetIsTonePlaying is the tone factory's playing listener
func (o *Orchestrator) SetIsTonePlaying(playing bool) {
	o.router.SetIsTonePlaying(playing)
	o.notify(nil, call.IsTonePlayingChanged{Playing: playing})
}

func (o *Orchestrator) countTopLevel(states ...call.State) int {
	return o.countTopLevelExcept(nil, states...)
}

func (o *Orchestrator) countTopLevelExcept(skip *call.Call, states ...call.State) int {
	n := 0
	for _, c := range o.calls {
		if c != skip && c.ParentID() == "" && slices.Contains(states, c.State()) {
			n++
		}
	}
	return n
}

func (o *Orchestrator) isTracked(c *call.Call) bool {
	return slices.Contains(o.calls, c)
}

// lookup finds a call by id whether or not it has joined the call set yet
func (o *Orchestrator) lookup(id string) *call.Call {
	c := o.arena.Get(id)
	if c == nil || c.IsDestroyed() {
		return nil
	}
	return c
}

func (o *Orchestrator) isEmergencyNumber(h call.Address) bool {
	if h.Scheme() != call.SchemeTel {
		return false
	}
	return o.emergencyNumbers[h.Normalized()]
}

func (o *Orchestrator) after(d time.Duration, fn func()) *time.Timer {
	return o.afterFunc(d, func() { o.Do(fn) })
}

// --- Derived state ---

func (o *Orchestrator) updateState() {
	o.updateForegroundCall()
	o.updateCanAddCall()
}

// updateForegroundCall picks the first ACTIVE top-level call, else the
// last top-level call that is alive or ringing.
func (o *Orchestrator) updateForegroundCall() {
	var next *call.Call
	for _, c := range o.calls {
		if c.ParentID() != "" {
			continue
		}
		if c.State() == call.StateActive {
			next = c
			break
		}
		if c.IsAlive() || c.State() == call.StateRinging {
			next = c
		}
	}
	if next == o.foreground {
		return
	}
	old := o.foreground
	o.foreground = next
	slog.Debug("[Orchestrator] Foreground call changed", "old", callID(old), "new", callID(next))
	o.notify(next, call.ForegroundChanged{Old: old, New: next})
}

func (o *Orchestrator) updateCanAddCall() {
	can := o.computeCanAddCall()
	if can == o.canAddCall {
		return
	}
	o.canAddCall = can
	o.notify(nil, call.CanAddCallChanged{CanAdd: can})
}

func (o *Orchestrator) computeCanAddCall() bool {
	topLevel := 0
	for _, c := range o.calls {
		if c.IsEmergency() || c.State().IsOutgoing() {
			return false
		}
		if c.IsConference() && len(c.ChildIDs()) > 0 && !c.Can(call.CapHold) {
			return false
		}
		if c.ParentID() == "" {
			topLevel++
		}
	}
	return topLevel < o.cfg.MaxTopLevelCalls
}

func callID(c *call.Call) string {
	if c == nil {
		return ""
	}
	return c.ID()
}
