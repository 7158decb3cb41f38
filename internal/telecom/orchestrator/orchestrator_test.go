package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/backend"
	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/ringer"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

var (
	lineHandle  = account.Handle{ComponentID: "sip", ID: "line1"}
	line2Handle = account.Handle{ComponentID: "sip", ID: "line2"}
	line3Handle = account.Handle{ComponentID: "sip", ID: "line3"}
	simHandle   = account.Handle{ComponentID: "sim", ID: "1"}
)

// fakeConn accepts every call and records the requests the core sends
type fakeConn struct {
	id      string
	respond func(ctx context.Context, req backend.Request) (*backend.Result, error)

	mu   sync.Mutex
	reqs []backend.Request
	ops  []string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) CreateConnection(ctx context.Context, req backend.Request) (*backend.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(ctx, req)
	}
	return &backend.Result{
		State:        call.StateDialing,
		Handle:       req.Handle,
		Capabilities: call.CapHold | call.CapSupportHold,
	}, nil
}

func (f *fakeConn) record(op, callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op+":"+callID)
}

func (f *fakeConn) did(op, callID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.ops {
		if o == op+":"+callID {
			return true
		}
	}
	return false
}

func (f *fakeConn) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeConn) ID() string                                { return f.id }
func (f *fakeConn) Answer(id string, _ call.VideoState)       { f.record("answer", id) }
func (f *fakeConn) Reject(id string, _ bool, _ string)        { f.record("reject", id) }
func (f *fakeConn) Hold(id string)                            { f.record("hold", id) }
func (f *fakeConn) Unhold(id string)                          { f.record("unhold", id) }
func (f *fakeConn) Disconnect(id string)                      { f.record("disconnect", id) }
func (f *fakeConn) Abort(id string)                           { f.record("abort", id) }
func (f *fakeConn) PlayDTMF(id string, _ rune)                { f.record("dtmf", id) }
func (f *fakeConn) StopDTMF(id string)                        { f.record("stop_dtmf", id) }
func (f *fakeConn) PostDialContinue(id string, _ bool)        { f.record("post_dial", id) }
func (f *fakeConn) Conference(id, _ string)                   { f.record("conference", id) }
func (f *fakeConn) Split(id string)                           { f.record("split", id) }
func (f *fakeConn) Merge(id string)                           { f.record("merge", id) }
func (f *fakeConn) Swap(id string)                            { f.record("swap", id) }
func (f *fakeConn) AudioStateChanged(string, call.AudioState) {}

type fakeRingtone struct {
	mu    sync.Mutex
	plays int
	stops int
}

func (r *fakeRingtone) Play(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plays++
}

func (r *fakeRingtone) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

type voicemailAll struct{}

func (voicemailAll) ShouldSendToVoicemail(context.Context, call.Address) bool { return true }

type missedLog struct{ ids []string }

func (m *missedLog) LogMissed(c *call.Call) { m.ids = append(m.ids, c.ID()) }

type fixture struct {
	o         *Orchestrator
	registrar *account.MemoryRegistrar
	conn      *fakeConn
	ringtone  *fakeRingtone
	events    []call.Event
}

type fixtureOption func(*Config, *Deps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		registrar: account.NewMemoryRegistrar(),
		conn:      newFakeConn("sip"),
		ringtone:  &fakeRingtone{},
	}
	f.addAccount(t, lineHandle, account.CapCallProvider)

	factory := tones.NewFactory(nil, tones.WithFrameInterval(time.Millisecond))
	cfg := DefaultConfig()
	deps := Deps{
		Registrar: f.registrar,
		Ringtone:  f.ringtone,
		Tones:     factory,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	f.o = New(cfg, deps)
	t.Cleanup(f.o.Close)
	factory.SetPoster(f.o.Do)
	factory.SetTonePlayingListener(f.o.SetIsTonePlaying)

	require.NoError(t, f.o.Services().Register(f.conn))
	f.o.Do(func() {
		f.o.AddListener(call.ListenerFunc(func(_ *call.Call, ev call.Event) {
			f.events = append(f.events, ev)
		}))
	})
	return f
}

func (f *fixture) addAccount(t *testing.T, h account.Handle, caps account.Capability) {
	t.Helper()
	require.NoError(t, f.registrar.Register(account.Account{
		Handle:           h,
		SupportedSchemes: []string{"tel", "sip"},
		Capabilities:     caps,
		Enabled:          true,
	}))
}

func (f *fixture) state(c *call.Call) call.State {
	var s call.State
	f.o.Do(func() { s = c.State() })
	return s
}

func (f *fixture) waitState(t *testing.T, c *call.Call, want call.State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.state(c) == want },
		time.Second, 5*time.Millisecond, "call %s never reached %s", c.ID(), want)
}

func (f *fixture) count() int {
	var n int
	f.o.Do(func() { n = f.o.CallCount() })
	return n
}

func (f *fixture) foreground() *call.Call {
	var c *call.Call
	f.o.Do(func() { c = f.o.ForegroundCall() })
	return c
}

func (f *fixture) sawEvent(match func(call.Event) bool) bool {
	found := false
	f.o.Do(func() {
		for _, ev := range f.events {
			if match(ev) {
				found = true
				return
			}
		}
	})
	return found
}

// dial starts and places an outgoing call and waits until the backend accepted it
func (f *fixture) dial(t *testing.T, number string) *call.Call {
	t.Helper()
	h := call.Address(number)
	var c *call.Call
	f.o.Do(func() {
		var err error
		c, err = f.o.StartOutgoingCall(h, account.Handle{})
		require.NoError(t, err)
		require.NoError(t, f.o.PlaceOutgoingCall(c.ID(), h, nil, false, call.VideoAudioOnly))
	})
	f.waitState(t, c, call.StateDialing)
	return c
}

// active dials a call and reports it answered by the far end
func (f *fixture) active(t *testing.T, number string) *call.Call {
	t.Helper()
	c := f.dial(t, number)
	f.o.SetActive(c.ID())
	f.waitState(t, c, call.StateActive)
	return c
}

// incoming announces a call from the network and waits until it rings
func (f *fixture) incoming(t *testing.T, number string) *call.Call {
	t.Helper()
	before := map[string]bool{}
	f.o.Do(func() {
		for _, c := range f.o.Calls() {
			before[c.ID()] = true
		}
	})
	f.o.IncomingCall(lineHandle, map[string]string{ExtraIncomingAddress: number})

	var ringing *call.Call
	require.Eventually(t, func() bool {
		f.o.Do(func() {
			for _, c := range f.o.Calls() {
				if !before[c.ID()] && c.State() == call.StateRinging {
					ringing = c
				}
			}
		})
		return ringing != nil
	}, time.Second, 5*time.Millisecond)
	return ringing
}

func (f *fixture) hangUpRemote(c *call.Call, cause call.DisconnectCode) {
	f.o.SetDisconnected(c.ID(), call.NewDisconnectCause(cause))
	f.o.RemoveCall(c.ID())
}

func TestOutgoingCallLifecycle(t *testing.T) {
	f := newFixture(t)

	c := f.dial(t, "tel:5550101")
	assert.Equal(t, 1, f.count())
	assert.Equal(t, c, f.foreground())
	assert.True(t, f.sawEvent(func(ev call.Event) bool { _, ok := ev.(call.CallAdded); return ok }))

	f.o.SetActive(c.ID())
	f.waitState(t, c, call.StateActive)
	assert.True(t, f.sawEvent(func(ev call.Event) bool {
		sc, ok := ev.(call.StateChanged)
		return ok && sc.Old == call.StateDialing && sc.New == call.StateActive
	}))

	f.hangUpRemote(c, call.DisconnectRemote)
	assert.Equal(t, 0, f.count())
	assert.Nil(t, f.foreground())
	f.o.Do(func() {
		assert.Equal(t, call.StateDisconnected, c.State())
		assert.Equal(t, call.DisconnectRemote, c.DisconnectCause().Code)
		assert.Zero(t, c.ListenerCount())
		assert.True(t, c.IsDestroyed())
		assert.True(t, f.o.CanAddCall())
	})
	assert.True(t, f.sawEvent(func(ev call.Event) bool { _, ok := ev.(call.CallRemoved); return ok }))
}

func TestAnswerIncomingHoldsActiveCall(t *testing.T) {
	f := newFixture(t)

	first := f.active(t, "tel:5550101")
	second := f.incoming(t, "tel:5550102")
	assert.Equal(t, first, f.foreground())

	f.o.Do(func() {
		require.NoError(t, f.o.AnswerCall(second.ID(), call.VideoAudioOnly))
	})
	assert.True(t, f.conn.did("hold", first.ID()))
	assert.True(t, f.conn.did("answer", second.ID()))
	assert.True(t, f.sawEvent(func(ev call.Event) bool { _, ok := ev.(call.IncomingCallAnswered); return ok }))

	f.o.SetOnHold(first.ID())
	f.o.SetActive(second.ID())
	f.waitState(t, second, call.StateActive)
	assert.Equal(t, call.StateOnHold, f.state(first))
	assert.Equal(t, second, f.foreground())
}

func TestLocalHangupResumesHeldCall(t *testing.T) {
	f := newFixture(t)

	first := f.active(t, "tel:5550101")
	second := f.incoming(t, "tel:5550102")
	f.o.Do(func() { require.NoError(t, f.o.AnswerCall(second.ID(), call.VideoAudioOnly)) })
	f.o.SetOnHold(first.ID())
	f.o.SetActive(second.ID())
	f.waitState(t, second, call.StateActive)

	f.o.Do(func() { require.NoError(t, f.o.DisconnectCall(second.ID())) })
	assert.True(t, f.conn.did("disconnect", second.ID()))

	f.hangUpRemote(second, call.DisconnectLocal)
	assert.Equal(t, 1, f.count())
	assert.Equal(t, first, f.foreground())
	assert.True(t, f.conn.did("unhold", first.ID()))
}

func TestEmergencyCallPreemptsActiveCall(t *testing.T) {
	f := newFixture(t)
	active := f.active(t, "tel:5550101")
	f.addAccount(t, simHandle, account.CapCallProvider|account.CapSIMSubscription|account.CapPlaceEmergencyCalls)

	var emergency *call.Call
	f.o.Do(func() {
		var err error
		emergency, err = f.o.StartOutgoingCall("tel:911", account.Handle{})
		require.NoError(t, err)
		assert.True(t, emergency.IsEmergency())
		assert.Equal(t, call.StateConnecting, emergency.State())
		assert.NotNil(t, f.o.Call(emergency.ID()))
		assert.False(t, f.o.CanAddCall())
	})
	assert.True(t, f.conn.did("disconnect", active.ID()))
}

func TestAdmissionRejectedWhenHoldSlotTaken(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, line2Handle, account.CapCallProvider)
	f.registrar.SetUserSelectedOutgoingAccount(lineHandle)

	held := f.active(t, "tel:5550101")
	f.o.Do(func() { require.NoError(t, f.o.HoldCall(held.ID())) })
	f.o.SetOnHold(held.ID())
	f.waitState(t, held, call.StateOnHold)

	second := f.incoming(t, "tel:5550102")
	f.o.Do(func() { require.NoError(t, f.o.AnswerCall(second.ID(), call.VideoAudioOnly)) })
	f.o.SetActive(second.ID())
	f.waitState(t, second, call.StateActive)

	f.o.Do(func() {
		c, err := f.o.StartOutgoingCall("tel:5550103", line2Handle)
		assert.ErrorIs(t, err, ErrAdmissionRejected)
		assert.Nil(t, c)
		assert.Equal(t, 2, f.o.CallCount())
	})
}

func TestSameAccountAdmittedNextToLiveCall(t *testing.T) {
	f := newFixture(t)
	f.active(t, "tel:5550101")

	f.o.Do(func() {
		c, err := f.o.StartOutgoingCall("tel:5550102", lineHandle)
		require.NoError(t, err)
		assert.Equal(t, lineHandle, c.TargetAccount())
		assert.Equal(t, 2, f.o.CallCount())
	})
}

func TestDifferentAccountHoldsLiveCall(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, line2Handle, account.CapCallProvider)
	f.registrar.SetUserSelectedOutgoingAccount(lineHandle)

	live := f.active(t, "tel:5550101")
	f.o.Do(func() {
		_, err := f.o.StartOutgoingCall("tel:5550102", line2Handle)
		require.NoError(t, err)
	})
	assert.True(t, f.conn.did("hold", live.ID()))
}

func TestAccountSelection(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, line2Handle, account.CapCallProvider)

	var c *call.Call
	f.o.Do(func() {
		var err error
		c, err = f.o.StartOutgoingCall("tel:5550101", account.Handle{})
		require.NoError(t, err)
		assert.Equal(t, call.StateSelectAccount, c.State())
		require.NoError(t, f.o.PlaceOutgoingCall(c.ID(), "tel:5550101", nil, false, call.VideoAudioOnly))
		assert.Equal(t, call.StateSelectAccount, c.State())
		require.NoError(t, f.o.PhoneAccountSelected(c.ID(), line2Handle, true))
	})
	f.waitState(t, c, call.StateDialing)
	assert.Equal(t, line2Handle, f.registrar.OutgoingAccountForScheme("tel"))

	f.o.Do(func() {
		err := f.o.PhoneAccountSelected(c.ID(), lineHandle, false)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestSelectedAccountHoldsLiveCallOnOtherAccount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registrar.Register(account.Account{
		Handle:           line2Handle,
		SupportedSchemes: []string{"sip"},
		Capabilities:     account.CapCallProvider,
		Enabled:          true,
	}))
	f.addAccount(t, line3Handle, account.CapCallProvider)

	var live *call.Call
	f.o.Do(func() {
		var err error
		live, err = f.o.StartOutgoingCall("sip:bob@example.com", line2Handle)
		require.NoError(t, err)
		require.NoError(t, f.o.PlaceOutgoingCall(live.ID(), "sip:bob@example.com", nil, false, call.VideoAudioOnly))
	})
	f.waitState(t, live, call.StateDialing)
	f.o.SetActive(live.ID())
	f.waitState(t, live, call.StateActive)

	var c *call.Call
	f.o.Do(func() {
		var err error
		c, err = f.o.StartOutgoingCall("tel:5550102", account.Handle{})
		require.NoError(t, err)
		require.Equal(t, call.StateSelectAccount, c.State())
		require.NoError(t, f.o.PlaceOutgoingCall(c.ID(), "tel:5550102", nil, false, call.VideoAudioOnly))
	})
	assert.False(t, f.conn.did("hold", live.ID()))

	f.o.Do(func() {
		require.NoError(t, f.o.PhoneAccountSelected(c.ID(), line3Handle, false))
	})
	assert.True(t, f.conn.did("hold", live.ID()))
	f.waitState(t, c, call.StateDialing)
	f.o.Do(func() { assert.Equal(t, line3Handle, c.TargetAccount()) })
}

func TestNoAccountsCancelsPlacedCall(t *testing.T) {
	f := newFixture(t)
	f.o.Do(func() {
		c, err := f.o.StartOutgoingCall("voicemail:1", account.Handle{})
		require.NoError(t, err)
		require.NoError(t, f.o.PlaceOutgoingCall(c.ID(), "voicemail:1", nil, false, call.VideoAudioOnly))
		assert.Equal(t, call.StateDisconnected, c.State())
		assert.Equal(t, call.DisconnectCanceled, c.DisconnectCause().Code)
		assert.Zero(t, f.o.CallCount())
	})
}

func TestCancelledOutgoingCallIsReused(t *testing.T) {
	f := newFixture(t, func(cfg *Config, _ *Deps) { cfg.NewOutgoingCallCancel = time.Hour })

	f.o.Do(func() {
		first, err := f.o.StartOutgoingCall("tel:555-0101", account.Handle{})
		require.NoError(t, err)
		require.NoError(t, f.o.CancelOutgoingCall(first.ID()))

		again, err := f.o.StartOutgoingCall("tel:5550101", account.Handle{})
		require.NoError(t, err)
		assert.Same(t, first, again)
		assert.Equal(t, 1, f.o.CallCount())
	})
}

func TestCancelledOutgoingCallIsAbortedAfterWindow(t *testing.T) {
	f := newFixture(t, func(cfg *Config, _ *Deps) { cfg.NewOutgoingCallCancel = 10 * time.Millisecond })

	var c *call.Call
	f.o.Do(func() {
		var err error
		c, err = f.o.StartOutgoingCall("tel:5550101", account.Handle{})
		require.NoError(t, err)
		require.NoError(t, f.o.CancelOutgoingCall(c.ID()))
	})
	require.Eventually(t, func() bool { return f.count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, call.StateAborted, f.state(c))
}

func TestDisconnectWhileConnectingAborts(t *testing.T) {
	f := newFixture(t)
	f.conn.respond = func(ctx context.Context, _ backend.Request) (*backend.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var c *call.Call
	f.o.Do(func() {
		var err error
		c, err = f.o.StartOutgoingCall("tel:5550101", account.Handle{})
		require.NoError(t, err)
		require.NoError(t, f.o.PlaceOutgoingCall(c.ID(), "tel:5550101", nil, false, call.VideoAudioOnly))
	})
	require.Eventually(t, func() bool { return f.conn.requestCount() == 1 }, time.Second, 5*time.Millisecond)

	f.o.Do(func() {
		require.NoError(t, f.o.DisconnectCall(c.ID()))
		assert.Equal(t, call.StateAborted, c.State())
		assert.Zero(t, f.o.CallCount())
	})
	assert.True(t, f.conn.did("abort", c.ID()))
}

func TestCanAddCall(t *testing.T) {
	f := newFixture(t)
	f.o.Do(func() { assert.True(t, f.o.CanAddCall()) })

	c := f.dial(t, "tel:5550101")
	f.o.Do(func() { assert.False(t, f.o.CanAddCall(), "outgoing call in progress") })

	f.o.SetActive(c.ID())
	f.waitState(t, c, call.StateActive)
	f.o.Do(func() { assert.True(t, f.o.CanAddCall()) })

	f.incoming(t, "tel:5550102")
	f.o.Do(func() { assert.False(t, f.o.CanAddCall(), "two top-level calls") })
	assert.True(t, f.sawEvent(func(ev call.Event) bool {
		e, ok := ev.(call.CanAddCallChanged)
		return ok && !e.CanAdd
	}))
}

func TestForegroundPrefersActiveCall(t *testing.T) {
	f := newFixture(t)

	active := f.active(t, "tel:5550101")
	ringing := f.incoming(t, "tel:5550102")
	assert.Equal(t, active, f.foreground())

	f.hangUpRemote(active, call.DisconnectRemote)
	assert.Equal(t, ringing, f.foreground())
}

func TestMMICodeJoinsOnlyOnceConnected(t *testing.T) {
	f := newFixture(t)

	var c *call.Call
	f.o.Do(func() {
		var err error
		c, err = f.o.StartOutgoingCall("tel:*#06#", account.Handle{})
		require.NoError(t, err)
		assert.Zero(t, f.o.CallCount())
		require.NoError(t, f.o.PlaceOutgoingCall(c.ID(), "tel:*#06#", nil, false, call.VideoAudioOnly))
	})
	f.waitState(t, c, call.StateDialing)
	assert.Equal(t, 1, f.count())
}

func TestConnectionServiceDeathEndsItsCalls(t *testing.T) {
	f := newFixture(t)

	c := f.active(t, "tel:5550101")
	f.o.Services().ReportDeath(f.conn)

	require.Eventually(t, func() bool { return f.count() == 0 }, time.Second, 5*time.Millisecond)
	f.o.Do(func() {
		assert.Equal(t, call.StateDisconnected, c.State())
		assert.Equal(t, call.DisconnectError, c.DisconnectCause().Code)
	})
}

// slowVoicemail holds the caller lookup until release is closed
type slowVoicemail struct {
	asked   chan struct{}
	release chan struct{}
}

func (v *slowVoicemail) ShouldSendToVoicemail(context.Context, call.Address) bool {
	select {
	case v.asked <- struct{}{}:
	default:
	}
	<-v.release
	return false
}

func TestConnectionServiceDeathDuringCallerLookup(t *testing.T) {
	lookup := &slowVoicemail{asked: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, func(cfg *Config, d *Deps) {
		cfg.DirectToVoicemail = 5 * time.Second
		d.Voicemail = lookup
	})

	f.o.IncomingCall(lineHandle, map[string]string{ExtraIncomingAddress: "tel:5550101"})
	select {
	case <-lookup.asked:
	case <-time.After(time.Second):
		t.Fatal("caller lookup never started")
	}

	var c *call.Call
	f.o.Do(func() {
		f.conn.mu.Lock()
		id := f.conn.reqs[0].CallID
		f.conn.mu.Unlock()
		c = f.o.lookup(id)
	})
	require.NotNil(t, c)

	f.o.Services().ReportDeath(f.conn)
	close(lookup.release)

	require.Eventually(t, func() bool {
		destroyed := false
		f.o.Do(func() { destroyed = c.IsDestroyed() })
		return destroyed
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.count())
	f.o.Do(func() {
		assert.Equal(t, call.StateDisconnected, c.State())
		assert.Equal(t, call.DisconnectError, c.DisconnectCause().Code)
		assert.Empty(t, f.o.Ringer().RingingCallIDs())
	})
	f.ringtone.mu.Lock()
	defer f.ringtone.mu.Unlock()
	assert.Zero(t, f.ringtone.plays)
}

func TestDirectToVoicemail(t *testing.T) {
	missed := &missedLog{}
	f := newFixture(t, func(_ *Config, d *Deps) {
		d.Voicemail = voicemailAll{}
		d.MissedCalls = missed
	})

	f.o.IncomingCall(lineHandle, map[string]string{ExtraIncomingAddress: "tel:5550199"})
	require.Eventually(t, func() bool {
		n := 0
		f.o.Do(func() { n = len(missed.ids) })
		return n == 1
	}, time.Second, 5*time.Millisecond)

	f.o.Do(func() { assert.True(t, f.conn.did("reject", missed.ids[0])) })
	assert.Zero(t, f.count())

	f.o.SetDisconnected(missed.ids[0], call.NewDisconnectCause(call.DisconnectRejected))
	f.o.RemoveCall(missed.ids[0])
	f.o.Do(func() { assert.Nil(t, f.o.lookup(missed.ids[0])) })
}

func TestSecondRingingCallIsRejected(t *testing.T) {
	missed := &missedLog{}
	f := newFixture(t, func(_ *Config, d *Deps) { d.MissedCalls = missed })

	f.incoming(t, "tel:5550101")
	f.o.IncomingCall(lineHandle, map[string]string{ExtraIncomingAddress: "tel:5550102"})

	require.Eventually(t, func() bool {
		n := 0
		f.o.Do(func() { n = len(missed.ids) })
		return n == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.count())
}

func TestSecondRingingCallJoinsRingingList(t *testing.T) {
	f := newFixture(t, func(cfg *Config, _ *Deps) { cfg.MaxRingingCalls = 2 })

	first := f.incoming(t, "tel:5550101")
	second := f.incoming(t, "tel:5550102")
	assert.Equal(t, 2, f.count())
	f.o.Do(func() {
		assert.Equal(t, []string{first.ID(), second.ID()}, f.o.Ringer().RingingCallIDs())
		assert.Equal(t, ringer.StateRinging, f.o.Ringer().State())
	})

	f.o.Do(func() { require.NoError(t, f.o.RejectCall(first.ID(), false, "")) })
	f.hangUpRemote(first, call.DisconnectRejected)

	assert.Equal(t, second, f.foreground())
	f.o.Do(func() {
		assert.Equal(t, []string{second.ID()}, f.o.Ringer().RingingCallIDs())
		assert.Equal(t, ringer.StateRinging, f.o.Ringer().State())
	})
}

func TestRingerFollowsIncomingCall(t *testing.T) {
	f := newFixture(t)

	c := f.incoming(t, "tel:5550101")
	f.o.Do(func() {
		assert.Equal(t, []string{c.ID()}, f.o.Ringer().RingingCallIDs())
		require.NoError(t, f.o.RejectCall(c.ID(), true, "busy"))
		assert.Empty(t, f.o.Ringer().RingingCallIDs())
	})
	assert.True(t, f.conn.did("reject", c.ID()))
	assert.True(t, f.sawEvent(func(ev call.Event) bool {
		e, ok := ev.(call.IncomingCallRejected)
		return ok && e.WithMessage && e.Text == "busy"
	}))
	f.ringtone.mu.Lock()
	defer f.ringtone.mu.Unlock()
	assert.Equal(t, 1, f.ringtone.plays)
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t, "tel:5550101")

	f.o.Do(func() {
		assert.ErrorIs(t, f.o.AnswerCall("missing", call.VideoAudioOnly), ErrUnknownCall)
		assert.ErrorIs(t, f.o.HoldCall(c.ID()), ErrInvalidState)
		assert.ErrorIs(t, f.o.UnholdCall(c.ID()), ErrInvalidState)
		assert.ErrorIs(t, f.o.AnswerCall(c.ID(), call.VideoAudioOnly), ErrInvalidState)

		var se *StateError
		require.ErrorAs(t, f.o.HoldCall(c.ID()), &se)
		assert.Equal(t, call.StateDialing, se.State)
		assert.Equal(t, "hold", se.Op)
	})
}

func TestUnholdHoldsOtherActiveCalls(t *testing.T) {
	f := newFixture(t)

	first := f.active(t, "tel:5550101")
	second := f.incoming(t, "tel:5550102")
	f.o.Do(func() { require.NoError(t, f.o.AnswerCall(second.ID(), call.VideoAudioOnly)) })
	f.o.SetOnHold(first.ID())
	f.o.SetActive(second.ID())
	f.waitState(t, second, call.StateActive)

	f.o.Do(func() { require.NoError(t, f.o.UnholdCall(first.ID())) })
	assert.True(t, f.conn.did("hold", second.ID()))
	assert.True(t, f.conn.did("unhold", first.ID()))
}

func TestMediaButton(t *testing.T) {
	f := newFixture(t)
	f.o.Do(func() { assert.False(t, f.o.OnMediaButton(MediaButtonShortPress)) })

	ringing := f.incoming(t, "tel:5550101")
	f.o.Do(func() { assert.True(t, f.o.OnMediaButton(MediaButtonShortPress)) })
	assert.True(t, f.conn.did("answer", ringing.ID()))

	f.o.SetActive(ringing.ID())
	f.waitState(t, ringing, call.StateActive)
	f.o.Do(func() {
		muted := f.o.AudioState().Muted
		assert.True(t, f.o.OnMediaButton(MediaButtonShortPress))
		assert.NotEqual(t, muted, f.o.AudioState().Muted)
		assert.True(t, f.o.OnMediaButton(MediaButtonLongPress))
	})
	assert.True(t, f.conn.did("disconnect", ringing.ID()))
}

func TestDTMFAndPostDial(t *testing.T) {
	f := newFixture(t)
	c := f.active(t, "tel:5550101")

	f.o.OnPostDialWait(c.ID(), "1234")
	f.o.Do(func() {
		require.NoError(t, f.o.PlayDTMFTone(c.ID(), '5'))
		require.NoError(t, f.o.StopDTMFTone(c.ID()))
		require.NoError(t, f.o.PostDialContinue(c.ID(), true))
	})
	assert.True(t, f.conn.did("dtmf", c.ID()))
	assert.True(t, f.conn.did("stop_dtmf", c.ID()))
	assert.True(t, f.conn.did("post_dial", c.ID()))
	assert.True(t, f.sawEvent(func(ev call.Event) bool {
		e, ok := ev.(call.PostDialWait)
		return ok && e.Remaining == "1234"
	}))
}

func TestBackendConferenceReports(t *testing.T) {
	f := newFixture(t)
	a := f.active(t, "tel:5550101")

	f.o.AddConferenceCall(f.conn, "conf-1", backend.Result{
		State:        call.StateActive,
		Account:      lineHandle,
		Capabilities: call.CapHold | call.CapManageConference,
	})
	f.o.SetIsConferenced(a.ID(), "conf-1")

	f.o.Do(func() {
		conf := f.o.Call("conf-1")
		require.NotNil(t, conf)
		assert.True(t, conf.IsConference())
		assert.Equal(t, []string{a.ID()}, conf.ChildIDs())
		assert.Equal(t, "conf-1", a.ParentID())
		assert.Equal(t, conf, f.o.ForegroundCall())
	})
	assert.True(t, f.sawEvent(func(ev call.Event) bool { _, ok := ev.(call.IsConferencedChanged); return ok }))

	f.o.SetIsConferenced(a.ID(), "")
	f.o.Do(func() { assert.Empty(t, a.ParentID()) })
}

func TestListenerPanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.o.Do(func() {
		f.o.AddListener(call.ListenerFunc(func(*call.Call, call.Event) { panic("boom") }))
	})

	c := f.dial(t, "tel:5550101")
	assert.Equal(t, c, f.foreground())
}

func TestReportsForUnknownCallsAreDropped(t *testing.T) {
	f := newFixture(t)
	f.o.SetActive("nope")
	f.o.SetDisconnected("nope", call.NewDisconnectCause(call.DisconnectRemote))
	f.o.RemoveCall("nope")
	assert.Zero(t, f.count())
}

func TestEmergencyNumbers(t *testing.T) {
	f := newFixture(t, func(cfg *Config, _ *Deps) { cfg.EmergencyNumbers = []string{"112", "999"} })
	f.o.Do(func() {
		for _, tt := range []struct {
			h    call.Address
			want bool
		}{
			{"tel:112", true},
			{"tel:9-9-9", true},
			{"tel:911", false},
			{"sip:112@example.com", false},
		} {
			assert.Equal(t, tt.want, f.o.isEmergencyNumber(tt.h), fmt.Sprint(tt.h))
		}
	})
}
