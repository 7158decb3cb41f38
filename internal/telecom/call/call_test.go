package call

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	id  string
	ops []string
}

func (r *recordingConn) ID() string { return r.id }
func (r *recordingConn) Answer(id string, v VideoState) {
	r.ops = append(r.ops, fmt.Sprintf("answer %s %s", id, v))
}
func (r *recordingConn) Reject(id string, _ bool, _ string) { r.ops = append(r.ops, "reject "+id) }
func (r *recordingConn) Hold(id string)                     { r.ops = append(r.ops, "hold "+id) }
func (r *recordingConn) Unhold(id string)                   { r.ops = append(r.ops, "unhold "+id) }
func (r *recordingConn) Disconnect(id string)               { r.ops = append(r.ops, "disconnect "+id) }
func (r *recordingConn) Abort(id string)                    { r.ops = append(r.ops, "abort "+id) }
func (r *recordingConn) PlayDTMF(id string, d rune)         { r.ops = append(r.ops, "dtmf "+string(d)) }
func (r *recordingConn) StopDTMF(id string)                 { r.ops = append(r.ops, "stopdtmf "+id) }
func (r *recordingConn) PostDialContinue(id string, p bool) { r.ops = append(r.ops, "postdial "+id) }
func (r *recordingConn) Conference(id, other string) {
	r.ops = append(r.ops, "conference "+id+" "+other)
}
func (r *recordingConn) Split(id string)                      { r.ops = append(r.ops, "split "+id) }
func (r *recordingConn) Merge(id string)                      { r.ops = append(r.ops, "merge "+id) }
func (r *recordingConn) Swap(id string)                       { r.ops = append(r.ops, "swap "+id) }
func (r *recordingConn) AudioStateChanged(string, AudioState) {}

type eventLog struct {
	events []Event
}

func (e *eventLog) OnEvent(_ *Call, ev Event) { e.events = append(e.events, ev) }

func (e *eventLog) count(match func(Event) bool) int {
	n := 0
	for _, ev := range e.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func isStateChanged(ev Event) bool {
	_, ok := ev.(StateChanged)
	return ok
}

func TestSetStateIsIdempotent(t *testing.T) {
	arena := NewArena()
	c := arena.NewCall(DirectionOutgoing)
	log := &eventLog{}
	c.AddListener(log)

	c.SetState(StateDialing)
	c.SetState(StateDialing)

	assert.Equal(t, 1, log.count(isStateChanged))
	assert.Equal(t, StateChanged{Old: StateNew, New: StateDialing}, log.events[0])
}

func TestConnectTimeIsRecordedOnce(t *testing.T) {
	now := time.Unix(1000, 0)
	arena := NewArena(WithClock(func() time.Time { return now }))
	c := arena.NewCall(DirectionOutgoing)

	c.SetState(StateActive)
	first := c.ConnectTime()
	now = now.Add(time.Minute)
	c.SetState(StateOnHold)
	c.SetState(StateActive)

	assert.Equal(t, first, c.ConnectTime())
	assert.True(t, c.DisconnectTime().IsZero())

	now = now.Add(time.Minute)
	c.SetState(StateDisconnected)
	assert.Equal(t, 2*time.Minute, c.Duration())
}

func TestVideoHistoryOnActive(t *testing.T) {
	c := NewArena().NewCall(DirectionOutgoing)
	c.SetVideoState(VideoRxEnabled)
	assert.Equal(t, VideoAudioOnly, c.VideoStateHistory(), "history only accumulates once connected")

	c.SetState(StateActive)
	assert.Equal(t, VideoRxEnabled, c.VideoStateHistory())

	c.SetVideoState(VideoTxEnabled)
	assert.Equal(t, VideoBidirectional, c.VideoStateHistory())
}

func TestMissedCallKeepsVideoHistory(t *testing.T) {
	c := NewArena().NewCall(DirectionIncoming)
	c.SetVideoState(VideoTxEnabled)
	c.SetState(StateRinging)
	require.Equal(t, VideoAudioOnly, c.VideoStateHistory())

	c.SetDisconnectCause(NewDisconnectCause(DisconnectMissed))
	c.SetState(StateDisconnected)

	assert.NotZero(t, c.VideoStateHistory()&VideoTxEnabled)
}

func TestRejectRecordsVideoHistory(t *testing.T) {
	conn := &recordingConn{id: "svc"}
	c := NewArena().NewCall(DirectionIncoming)
	c.SetConnection(conn)
	c.SetVideoState(VideoBidirectional)
	c.SetState(StateRinging)

	c.Reject(false, "")

	assert.Equal(t, VideoBidirectional, c.VideoStateHistory())
	assert.Equal(t, []string{"reject " + c.ID()}, conn.ops)
}

func TestParentChildConsistency(t *testing.T) {
	arena := NewArena()
	conf := arena.NewCall(DirectionOutgoing, WithConference())
	a := arena.NewCall(DirectionOutgoing)
	b := arena.NewCall(DirectionOutgoing)

	require.NoError(t, a.SetParentCall(conf))
	require.NoError(t, b.SetParentCall(conf))

	assert.Equal(t, conf, a.Parent())
	assert.Equal(t, []string{a.ID(), b.ID()}, conf.ChildIDs())
	assert.Equal(t, b.ID(), conf.ConferenceLevelActiveID(), "newest child is active")

	require.NoError(t, a.SetParentCall(nil))
	assert.Nil(t, a.Parent())
	assert.Equal(t, []string{b.ID()}, conf.ChildIDs())

	for _, child := range conf.Children() {
		assert.Equal(t, conf.ID(), child.ParentID())
	}
}

func TestSetParentCallRejections(t *testing.T) {
	arena := NewArena()
	a := arena.NewCall(DirectionOutgoing)
	b := arena.NewCall(DirectionOutgoing)
	other := arena.NewCall(DirectionOutgoing)

	err := a.SetParentCall(a)
	assert.True(t, errors.Is(err, ErrSelfParent))

	require.NoError(t, b.SetParentCall(a))
	err = a.SetParentCall(b)
	assert.True(t, errors.Is(err, ErrParentCycle))

	err = b.SetParentCall(other)
	assert.True(t, errors.Is(err, ErrAlreadyHasParent))
	var pe *ParentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, b.ID(), pe.CallID)

	assert.Equal(t, a.ID(), b.ParentID(), "rejected assignments leave links unchanged")
}

func TestDisconnectClearsParent(t *testing.T) {
	arena := NewArena()
	conf := arena.NewCall(DirectionOutgoing, WithConference())
	child := arena.NewCall(DirectionOutgoing)
	require.NoError(t, child.SetParentCall(conf))

	child.SetState(StateDisconnected)

	assert.Empty(t, child.ParentID())
	assert.Empty(t, conf.ChildIDs())
}

func TestSwapConferenceLevelActive(t *testing.T) {
	arena := NewArena()
	conn := &recordingConn{id: "svc"}
	conf := arena.NewCall(DirectionOutgoing, WithConference())
	conf.SetConnection(conn)
	conf.SetCapabilities(CapSwapConference)

	a := arena.NewCall(DirectionOutgoing)
	b := arena.NewCall(DirectionOutgoing)
	require.NoError(t, a.SetParentCall(conf))

	conf.Swap()
	assert.Equal(t, a.ID(), conf.ConferenceLevelActiveID())

	require.NoError(t, b.SetParentCall(conf))
	require.Equal(t, b.ID(), conf.ConferenceLevelActiveID())
	conf.Swap()
	assert.Equal(t, a.ID(), conf.ConferenceLevelActiveID())
	conf.Swap()
	assert.Equal(t, b.ID(), conf.ConferenceLevelActiveID())

	c := arena.NewCall(DirectionOutgoing)
	require.NoError(t, c.SetParentCall(conf))
	conf.Swap()
	assert.Empty(t, conf.ConferenceLevelActiveID(), "three children is ambiguous")
}

func TestSwapRequiresCapability(t *testing.T) {
	conn := &recordingConn{id: "svc"}
	conf := NewArena().NewCall(DirectionOutgoing, WithConference())
	conf.SetConnection(conn)

	conf.Swap()
	assert.Empty(t, conn.ops)
}

func TestOperationsIgnoredInWrongState(t *testing.T) {
	conn := &recordingConn{id: "svc"}
	c := NewArena().NewCall(DirectionIncoming)
	c.SetConnection(conn)
	c.SetState(StateActive)

	c.Answer(VideoAudioOnly)
	c.Reject(false, "")
	c.Unhold()
	assert.Empty(t, conn.ops)

	c.Hold()
	assert.Equal(t, []string{"hold " + c.ID()}, conn.ops)
}

func TestOperationsIgnoredWithoutConnection(t *testing.T) {
	c := NewArena().NewCall(DirectionIncoming)
	c.SetState(StateRinging)

	assert.NotPanics(t, func() {
		c.Answer(VideoAudioOnly)
		c.Hold()
		c.PlayDTMF('1')
		c.Disconnect()
	})
}

func TestDisconnectAbortsPendingAttempt(t *testing.T) {
	c := NewArena().NewCall(DirectionOutgoing)
	c.SetState(StateConnecting)
	cancelled := false
	c.SetPendingAttempt(func() { cancelled = true })
	log := &eventLog{}
	c.AddListener(log)

	c.Disconnect()

	assert.True(t, cancelled)
	assert.False(t, c.IsCreateConnectionPending())
	require.Len(t, log.events, 1)
	assert.Equal(t, FailedOutgoing{Cause: NewDisconnectCause(DisconnectLocal)}, log.events[0])
}

func TestDisconnectBeforeAttemptCancels(t *testing.T) {
	c := NewArena().NewCall(DirectionOutgoing)
	c.SetState(StateSelectAccount)
	log := &eventLog{}
	c.AddListener(log)

	c.Disconnect()

	require.Len(t, log.events, 1)
	assert.Equal(t, DisconnectCanceled, log.events[0].(FailedOutgoing).Cause.Code)
	assert.True(t, c.IsLocallyDisconnecting())
}

func TestDisconnectConnectedCallAsksBackend(t *testing.T) {
	conn := &recordingConn{id: "svc"}
	c := NewArena().NewCall(DirectionOutgoing)
	c.SetConnection(conn)
	c.SetState(StateActive)

	c.Disconnect()

	assert.Equal(t, []string{"disconnect " + c.ID()}, conn.ops)
	assert.Equal(t, StateActive, c.State(), "state waits for backend confirmation")
}

func TestListenerCanUnregisterDuringNotify(t *testing.T) {
	c := NewArena().NewCall(DirectionOutgoing)
	var unregister func()
	calls := 0
	unregister = c.AddListener(ListenerFunc(func(*Call, Event) {
		calls++
		unregister()
	}))
	other := &eventLog{}
	c.AddListener(other)

	c.SetState(StateConnecting)
	c.SetState(StateDialing)

	assert.Equal(t, 1, calls)
	assert.Len(t, other.events, 2)
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	c := NewArena().NewCall(DirectionOutgoing)
	c.AddListener(ListenerFunc(func(*Call, Event) { panic("boom") }))
	log := &eventLog{}
	c.AddListener(log)

	c.SetState(StateConnecting)

	assert.Len(t, log.events, 1)
	assert.Equal(t, StateConnecting, c.State())
}

func TestDestroyReleasesCall(t *testing.T) {
	arena := NewArena()
	conf := arena.NewCall(DirectionOutgoing, WithConference())
	child := arena.NewCall(DirectionOutgoing)
	require.NoError(t, child.SetParentCall(conf))
	conf.AddListener(&eventLog{})

	conf.Destroy()

	assert.Zero(t, conf.ListenerCount())
	assert.Nil(t, arena.Get(conf.ID()))
	assert.Empty(t, child.ParentID())
	assert.True(t, conf.IsDestroyed())
}

func TestIsAlive(t *testing.T) {
	c := NewArena().NewCall(DirectionOutgoing)
	alive := map[State]bool{
		StateNew:           false,
		StateConnecting:    true,
		StateSelectAccount: true,
		StateDialing:       true,
		StateRinging:       false,
		StateActive:        true,
		StateOnHold:        true,
		StateDisconnecting: true,
		StateDisconnected:  false,
		StateAborted:       false,
	}
	for s, want := range alive {
		c.state = s
		assert.Equal(t, want, c.IsAlive(), s.String())
	}
}

func TestAddressHelpers(t *testing.T) {
	assert.Equal(t, "tel", Address("tel:+1 (555) 010-0000").Scheme())
	assert.Equal(t, "+15550100000", Address("tel:+1 (555) 010-0000").Normalized())
	assert.True(t, Address("tel:555-0100").SameAs("5550100"))
	assert.False(t, Address("sip:555@example.com").SameAs("tel:555"))
	assert.True(t, Address("tel:*#06#").IsPotentialMMI())
	assert.True(t, Address("tel:12").IsPotentialInCallMMI())
	assert.False(t, Address("tel:123").IsPotentialInCallMMI())
	assert.False(t, Address("sip:1@example.com").IsPotentialInCallMMI())
}

func TestStateSets(t *testing.T) {
	for _, s := range OutgoingStates {
		assert.True(t, s.IsOutgoing(), s.String())
	}
	assert.Contains(t, LiveStates, StateActive)
	assert.NotContains(t, LiveStates, StateOnHold)
	assert.False(t, StateActive.IsOutgoing())
	assert.True(t, StateAborted.IsTerminal())
	st, ok := ParseState("ON_HOLD")
	assert.True(t, ok)
	assert.Equal(t, StateOnHold, st)
}

func TestCreateConnectionSuccessNotifiesByDirection(t *testing.T) {
	arena := NewArena()
	conn := &recordingConn{id: "svc"}

	out := arena.NewCall(DirectionOutgoing, WithHandle("tel:100"))
	outLog := &eventLog{}
	out.AddListener(outLog)
	out.SetPendingAttempt(func() {})
	out.HandleCreateConnectionSuccess(conn, ConnectionDetails{
		State:        StateDialing,
		Capabilities: CapHold | CapMute,
	})
	assert.False(t, out.IsCreateConnectionPending())
	assert.Equal(t, "svc", out.ConnectionID())
	assert.Equal(t, Address("tel:100"), out.Handle(), "empty handle keeps the dialed one")
	assert.True(t, out.Can(CapHold))
	assert.Equal(t, SuccessfulOutgoing{State: StateDialing}, outLog.events[len(outLog.events)-1])

	in := arena.NewCall(DirectionIncoming)
	inLog := &eventLog{}
	in.AddListener(inLog)
	in.HandleCreateConnectionSuccess(conn, ConnectionDetails{Handle: "tel:200"})
	assert.Equal(t, PresentationAllowed, in.HandlePresentation())
	assert.Equal(t, SuccessfulIncoming{}, inLog.events[len(inLog.events)-1])

	unknown := arena.NewCall(DirectionIncoming)
	unknown.SetIsUnknown(true)
	unknownLog := &eventLog{}
	unknown.AddListener(unknownLog)
	unknown.HandleCreateConnectionFailure(NewDisconnectCause(DisconnectError))
	assert.Equal(t, FailedUnknown{Cause: NewDisconnectCause(DisconnectError)}, unknownLog.events[len(unknownLog.events)-1])
}
