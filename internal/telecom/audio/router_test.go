package audio

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/peripheral"
)

type fakeCalls struct {
	calls     []*call.Call
	fg        *call.Call
	emergency bool
	published []call.AudioState
}

func (f *fakeCalls) ForegroundCall() *call.Call { return f.fg }
func (f *fakeCalls) CallCount() int             { return len(f.calls) }
func (f *fakeCalls) HasEmergencyCall() bool     { return f.emergency }

func (f *fakeCalls) FirstCallWithState(states ...call.State) *call.Call {
	for _, c := range f.calls {
		if slices.Contains(states, c.State()) {
			return c
		}
	}
	return nil
}

func (f *fakeCalls) OnAudioStateChanged(_, n call.AudioState) {
	f.published = append(f.published, n)
}

type fakeHardware struct {
	focus    Stream
	modes    []Mode
	speaker  bool
	muted    bool
	abandons int
}

func (h *fakeHardware) RequestFocus(s Stream)     { h.focus = s }
func (h *fakeHardware) SetMode(m Mode)            { h.modes = append(h.modes, m) }
func (h *fakeHardware) SetSpeakerphoneOn(on bool) { h.speaker = on }
func (h *fakeHardware) SetMicrophoneMute(m bool)  { h.muted = m }
func (h *fakeHardware) AbandonFocus() {
	h.focus = StreamNone
	h.abandons++
}

func (h *fakeHardware) lastMode() Mode {
	if len(h.modes) == 0 {
		return ModeNormal
	}
	return h.modes[len(h.modes)-1]
}

type routerFixture struct {
	router  *Router
	calls   *fakeCalls
	hw      *fakeHardware
	wired   *peripheral.WiredHeadsetMonitor
	dock    *peripheral.DockMonitor
	bt      *peripheral.BluetoothMonitor
	headset *peripheral.VirtualHeadset
	arena   *call.Arena
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		calls:   &fakeCalls{},
		hw:      &fakeHardware{},
		wired:   peripheral.NewWiredHeadsetMonitor(false, nil),
		dock:    peripheral.NewDockMonitor(nil),
		headset: peripheral.NewVirtualHeadset(false),
		arena:   call.NewArena(),
	}
	f.bt = peripheral.NewBluetoothMonitor(f.headset)
	f.router = NewRouter(f.calls, f.hw, f.wired, f.bt)
	f.wired.AddListener(f.router.OnWiredHeadsetPluggedChanged)
	f.dock.AddListener(f.router.OnDockChanged)
	f.bt.AddListener(f.router.OnBluetoothStateChanged)
	return f
}

func (f *routerFixture) addCall(dir call.Direction, state call.State) *call.Call {
	c := f.arena.NewCall(dir)
	c.SetState(state)
	f.calls.calls = append(f.calls.calls, c)
	f.calls.fg = c
	f.router.OnEvent(c, call.CallAdded{})
	return c
}

func (f *routerFixture) removeCall(c *call.Call) {
	f.calls.calls = slices.DeleteFunc(f.calls.calls, func(o *call.Call) bool { return o == c })
	if f.calls.fg == c {
		f.calls.fg = nil
	}
	f.router.OnEvent(c, call.CallRemoved{})
}

func TestRouter_InitialState(t *testing.T) {
	f := newRouterFixture(t)

	s := f.router.State()
	assert.Equal(t, call.RouteEarpiece, s.Route)
	assert.Equal(t, call.RouteEarpiece|call.RouteSpeaker, s.SupportedRoutes)
	assert.False(t, s.Muted)
	assert.Equal(t, StreamNone, f.router.Status().Focus)
}

func TestRouter_OutgoingCallTakesVoiceFocus(t *testing.T) {
	f := newRouterFixture(t)

	f.addCall(call.DirectionOutgoing, call.StateDialing)

	assert.Equal(t, StreamVoiceCall, f.hw.focus)
	assert.Equal(t, ModeInCall, f.hw.lastMode())
	assert.Equal(t, call.RouteEarpiece, f.router.State().Route)
	assert.False(t, f.hw.speaker)
}

func TestRouter_VoipCallUsesCommunicationMode(t *testing.T) {
	f := newRouterFixture(t)
	c := f.arena.NewCall(call.DirectionOutgoing)
	c.SetIsVoipAudioMode(true)
	c.SetState(call.StateDialing)
	f.calls.calls = []*call.Call{c}
	f.calls.fg = c

	f.router.OnEvent(c, call.CallAdded{})

	assert.Equal(t, ModeInCommunication, f.hw.lastMode())
}

func TestRouter_AccountSelectionReleasesFocus(t *testing.T) {
	f := newRouterFixture(t)
	active := f.addCall(call.DirectionOutgoing, call.StateActive)
	require.Equal(t, StreamVoiceCall, f.hw.focus)

	selecting := f.arena.NewCall(call.DirectionOutgoing)
	selecting.SetState(call.StateSelectAccount)
	f.calls.calls = append(f.calls.calls, selecting)
	f.calls.fg = active
	f.router.OnEvent(selecting, call.CallAdded{})

	assert.Equal(t, StreamNone, f.hw.focus)
	assert.Equal(t, 1, f.hw.abandons)
}

func TestRouter_WiredUnplugFallsBackToLastChoice(t *testing.T) {
	f := newRouterFixture(t)
	f.addCall(call.DirectionOutgoing, call.StateActive)

	f.router.SetAudioRoute(call.RouteSpeaker)
	f.wired.OnPlugChanged(true)
	assert.Equal(t, call.RouteWiredHeadset, f.router.State().Route)
	assert.Equal(t, call.RouteWiredHeadset|call.RouteSpeaker, f.router.State().SupportedRoutes)

	f.wired.OnPlugChanged(false)
	assert.Equal(t, call.RouteSpeaker, f.router.State().Route, "user last chose speaker")
}

func TestRouter_WiredUnplugNeverPicksBluetooth(t *testing.T) {
	f := newRouterFixture(t)
	f.addCall(call.DirectionOutgoing, call.StateActive)

	f.headset.SetDevices("car-kit")
	f.bt.OnStateChanged()
	require.True(t, f.router.State().Supports(call.RouteBluetooth))

	f.wired.OnPlugChanged(true)
	f.wired.OnPlugChanged(false)

	assert.Equal(t, call.RouteEarpiece, f.router.State().Route)
}

func TestRouter_PlugRepublishesSupportedRoutes(t *testing.T) {
	f := newRouterFixture(t)
	f.addCall(call.DirectionOutgoing, call.StateActive)
	f.router.SetAudioRoute(call.RouteSpeaker)
	before := len(f.calls.published)

	f.wired.OnPlugChanged(true)
	f.router.SetAudioRoute(call.RouteSpeaker)
	f.wired.OnPlugChanged(false)

	// unplug leaves the speaker route alone but drops the wired bit
	last := f.calls.published[len(f.calls.published)-1]
	assert.Greater(t, len(f.calls.published), before)
	assert.Equal(t, call.RouteSpeaker, last.Route)
	assert.Equal(t, call.RouteEarpiece|call.RouteSpeaker, last.SupportedRoutes)
}

func TestRouter_DockTogglesSpeaker(t *testing.T) {
	f := newRouterFixture(t)
	f.addCall(call.DirectionOutgoing, call.StateActive)

	f.dock.OnDockChanged(peripheral.DockDesk)
	assert.Equal(t, call.RouteSpeaker, f.router.State().Route)
	assert.True(t, f.hw.speaker)

	f.dock.OnDockChanged(peripheral.DockUndocked)
	assert.Equal(t, call.RouteEarpiece, f.router.State().Route)
	assert.False(t, f.hw.speaker)
}

func TestRouter_DockLeavesWiredAlone(t *testing.T) {
	f := newRouterFixture(t)
	f.addCall(call.DirectionOutgoing, call.StateActive)
	f.wired.OnPlugChanged(true)

	f.dock.OnDockChanged(peripheral.DockCar)

	assert.Equal(t, call.RouteWiredHeadset, f.router.State().Route)
}

func TestRouter_BluetoothConnectAndDrop(t *testing.T) {
	f := newRouterFixture(t)
	f.addCall(call.DirectionOutgoing, call.StateActive)

	f.headset.SetDevices("headset")
	f.headset.SetAudioConnected(true)
	f.bt.OnStateChanged()
	assert.Equal(t, call.RouteBluetooth, f.router.State().Route)
	assert.True(t, f.router.IsBluetoothAudioOn())

	f.headset.SetDevices()
	f.bt.OnStateChanged()
	assert.Equal(t, call.RouteEarpiece, f.router.State().Route)
	assert.False(t, f.router.State().Supports(call.RouteBluetooth))
	assert.False(t, f.router.Status().WasSpeakerOn)
}

func TestRouter_FirstAnsweredCallMovesToBluetooth(t *testing.T) {
	f := newRouterFixture(t)
	f.headset.SetDevices("headset")
	f.bt.OnStateChanged()

	c := f.addCall(call.DirectionOutgoing, call.StateActive)
	require.Equal(t, call.RouteBluetooth, f.router.State().Route, "initial state prefers an available headset")

	f.router.SetAudioRoute(call.RouteEarpiece)
	f.router.OnEvent(c, call.IncomingCallAnswered{})

	assert.Equal(t, call.RouteBluetooth, f.router.State().Route)
	assert.True(t, f.bt.IsAudioConnectedOrPending())
}

func TestRouter_EmergencyCallRefusesMute(t *testing.T) {
	f := newRouterFixture(t)
	f.addCall(call.DirectionOutgoing, call.StateActive)

	f.calls.emergency = true
	f.router.Mute(true)
	assert.False(t, f.router.State().Muted)

	f.calls.emergency = false
	f.router.ToggleMute()
	assert.True(t, f.router.State().Muted)
	assert.True(t, f.hw.muted)
}

func TestRouter_MuteWithoutFocusIsIgnored(t *testing.T) {
	f := newRouterFixture(t)
	f.router.Mute(true)
	assert.False(t, f.router.State().Muted)
}

func TestRouter_UnsupportedRouteIgnored(t *testing.T) {
	f := newRouterFixture(t)
	f.addCall(call.DirectionOutgoing, call.StateActive)
	published := len(f.calls.published)

	f.router.SetAudioRoute(call.RouteBluetooth)
	f.router.SetAudioRoute(call.RouteWiredHeadset)

	assert.Equal(t, call.RouteEarpiece, f.router.State().Route)
	assert.Len(t, f.calls.published, published)
}

func TestRouter_RingingFocusHeldUntilAnswer(t *testing.T) {
	f := newRouterFixture(t)
	c := f.addCall(call.DirectionIncoming, call.StateRinging)
	assert.Equal(t, StreamNone, f.hw.focus, "a ringing call alone does not take focus")

	f.router.SetIsRinging(c, true)
	assert.Equal(t, StreamRing, f.hw.focus)
	assert.Equal(t, ModeRingtone, f.hw.lastMode())

	f.router.SetIsRinging(c, false)
	assert.Equal(t, StreamRing, f.hw.focus)
	assert.Zero(t, f.hw.abandons)

	c.SetState(call.StateActive)
	f.router.OnEvent(c, call.StateChanged{Old: call.StateRinging, New: call.StateActive})
	assert.Equal(t, StreamVoiceCall, f.hw.focus)
	assert.Equal(t, ModeInCall, f.hw.lastMode())
}

func TestRouter_SpeedUpAudioOnAnswer(t *testing.T) {
	f := newRouterFixture(t)
	c := f.arena.NewCall(call.DirectionIncoming)
	c.SetCapabilities(call.CapSpeedUpAudio)
	c.SetState(call.StateRinging)
	f.calls.calls = []*call.Call{c}
	f.calls.fg = c
	f.router.OnEvent(c, call.CallAdded{})

	f.router.OnEvent(c, call.IncomingCallAnswered{})

	assert.Equal(t, StreamVoiceCall, f.hw.focus)
	assert.Equal(t, ModeInCall, f.hw.lastMode())
}

func TestRouter_TonePlayingKeepsFocusAfterLastCall(t *testing.T) {
	f := newRouterFixture(t)
	c := f.addCall(call.DirectionOutgoing, call.StateActive)
	f.router.SetAudioRoute(call.RouteSpeaker)
	f.router.SetIsTonePlaying(true)

	f.removeCall(c)
	assert.Equal(t, StreamVoiceCall, f.hw.focus)
	assert.Equal(t, call.RouteEarpiece, f.router.State().Route, "reset to the default route")
	assert.False(t, f.router.Status().WasSpeakerOn)

	f.router.SetIsTonePlaying(false)
	assert.Equal(t, StreamNone, f.hw.focus)
	assert.Equal(t, ModeNormal, f.hw.lastMode())
}

func TestRouter_LastCallRemovedAbandonsFocus(t *testing.T) {
	f := newRouterFixture(t)
	c := f.addCall(call.DirectionOutgoing, call.StateActive)

	f.removeCall(c)

	assert.Equal(t, StreamNone, f.hw.focus)
	assert.Equal(t, 1, f.hw.abandons)
}

func TestSelectWiredOrEarpiece(t *testing.T) {
	assert.Equal(t, call.RouteWiredHeadset, selectWiredOrEarpiece(call.RouteWiredOrEarpiece, call.RouteWiredHeadset|call.RouteSpeaker))
	assert.Equal(t, call.RouteEarpiece, selectWiredOrEarpiece(call.RouteWiredOrEarpiece, call.RouteEarpiece))
	assert.Equal(t, call.RouteEarpiece, selectWiredOrEarpiece(call.RouteWiredOrEarpiece, call.RouteSpeaker))
	assert.Equal(t, call.RouteSpeaker, selectWiredOrEarpiece(call.RouteSpeaker, 0))
}

func TestHardwareQueue_ModeTransitions(t *testing.T) {
	d := NewMemoryDriver()
	q := NewHardwareQueue(d, 8)

	q.RequestFocus(StreamVoiceCall)
	q.SetMode(ModeInCall)
	q.SetMode(ModeInCall)
	q.SetMode(ModeRingtone)
	q.SetSpeakerphoneOn(true)
	q.SetMicrophoneMute(true)
	q.Close()
	q.SetMode(ModeNormal)

	require.NoError(t, q.Run(context.Background()))

	assert.Equal(t, []Mode{ModeInCall, ModeNormal, ModeRingtone}, d.ModeHistory())
	assert.Equal(t, StreamVoiceCall, d.Focus())
	assert.True(t, d.IsSpeakerphoneOn())
	assert.True(t, d.IsMicrophoneMute())
}

func TestHardwareQueue_StopsOnContextCancel(t *testing.T) {
	q := NewHardwareQueue(NewMemoryDriver(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, q.Run(ctx))
}
