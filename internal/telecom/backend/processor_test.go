package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// fakeService answers CreateConnection with respond, or blocks until ctx is done
type fakeService struct {
	id      string
	respond func(ctx context.Context, req Request) (*Result, error)

	mu          sync.Mutex
	reqs        []Request
	aborts      []string
	disconnects []string
}

func newFakeService(id string, respond func(ctx context.Context, req Request) (*Result, error)) *fakeService {
	return &fakeService{id: id, respond: respond}
}

func (f *fakeService) CreateConnection(ctx context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.respond == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.respond(ctx, req)
}

func (f *fakeService) requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.reqs...)
}

func (f *fakeService) abortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.aborts)
}

func (f *fakeService) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.disconnects)
}

func (f *fakeService) ID() string                                { return f.id }
func (f *fakeService) Answer(string, call.VideoState)            {}
func (f *fakeService) Reject(string, bool, string)               {}
func (f *fakeService) Hold(string)                               {}
func (f *fakeService) Unhold(string)                             {}
func (f *fakeService) PlayDTMF(string, rune)                     {}
func (f *fakeService) StopDTMF(string)                           {}
func (f *fakeService) PostDialContinue(string, bool)             {}
func (f *fakeService) Conference(string, string)                 {}
func (f *fakeService) Split(string)                              {}
func (f *fakeService) Merge(string)                              {}
func (f *fakeService) Swap(string)                               {}
func (f *fakeService) AudioStateChanged(string, call.AudioState) {}

func (f *fakeService) Abort(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, callID)
}

func (f *fakeService) Disconnect(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, callID)
}

func succeed(state call.State) func(context.Context, Request) (*Result, error) {
	return func(context.Context, Request) (*Result, error) {
		return &Result{State: state, Capabilities: call.CapHold}, nil
	}
}

func fail(code call.DisconnectCode) func(context.Context, Request) (*Result, error) {
	return func(context.Context, Request) (*Result, error) {
		return nil, NewConnectionError(code, "", errors.New("refused"))
	}
}

var (
	simHandle  = account.Handle{ComponentID: "sim", ID: "1"}
	wifiHandle = account.Handle{ComponentID: "wifi", ID: "1"}
	voipHandle = account.Handle{ComponentID: "voip", ID: "1"}
)

// owner is the lock the processor's results are posted under
type owner struct{ mu sync.Mutex }

func (o *owner) Do(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

type processorFixture struct {
	owner     *owner
	repo      *Repository
	registrar *account.MemoryRegistrar
	network   *NetworkMonitor
	proc      *Processor
	arena     *call.Arena
	events    []call.Event
}

func newProcessorFixture(t *testing.T, opts ...ProcessorOption) *processorFixture {
	t.Helper()
	f := &processorFixture{
		owner:     &owner{},
		repo:      NewRepository(),
		registrar: account.NewMemoryRegistrar(),
		network:   NewNetworkMonitor(ServiceInService, false),
		arena:     call.NewArena(),
	}
	f.proc = NewProcessor(f.repo, f.registrar, f.network, f.owner.Do, opts...)
	t.Cleanup(f.proc.Close)
	return f
}

func (f *processorFixture) register(t *testing.T, h account.Handle, caps account.Capability, svc *fakeService) {
	t.Helper()
	require.NoError(t, f.registrar.Register(account.Account{
		Handle:           h,
		SupportedSchemes: []string{"tel"},
		Capabilities:     caps,
		Enabled:          true,
	}))
	if svc != nil {
		require.NoError(t, f.repo.Register(svc))
	}
}

// outgoing creates a CONNECTING call on acct and starts it under the owner lock
func (f *processorFixture) outgoing(acct account.Handle, emergency bool) *call.Call {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()

	c := f.arena.NewCall(call.DirectionOutgoing, call.WithHandle("tel:112"))
	c.AddListener(call.ListenerFunc(func(_ *call.Call, ev call.Event) {
		f.events = append(f.events, ev)
	}))
	c.SetEmergency(emergency)
	c.SetTargetAccount(acct)
	c.SetState(call.StateConnecting)
	f.proc.Start(c)
	return c
}

func (f *processorFixture) locked(fn func()) {
	f.owner.Do(fn)
}

func (f *processorFixture) hasEvent(match func(call.Event) bool) bool {
	f.owner.mu.Lock()
	defer f.owner.mu.Unlock()
	for _, ev := range f.events {
		if match(ev) {
			return true
		}
	}
	return false
}

func isSuccess(ev call.Event) bool {
	_, ok := ev.(call.SuccessfulOutgoing)
	return ok
}

func failedWith(code call.DisconnectCode) func(call.Event) bool {
	return func(ev call.Event) bool {
		f, ok := ev.(call.FailedOutgoing)
		return ok && f.Cause.Code == code
	}
}

func TestProcessor_Success(t *testing.T) {
	f := newProcessorFixture(t)
	voip := newFakeService("voip", succeed(call.StateDialing))
	f.register(t, voipHandle, account.CapCallProvider, voip)

	c := f.outgoing(voipHandle, false)

	require.Eventually(t, func() bool { return f.hasEvent(isSuccess) }, 5*time.Second, time.Millisecond)
	f.locked(func() {
		assert.Equal(t, "voip", c.ConnectionID())
		assert.False(t, c.IsCreateConnectionPending())
		assert.True(t, c.Can(call.CapHold))
	})

	reqs := voip.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, c.ID(), reqs[0].CallID)
	assert.Equal(t, voipHandle, reqs[0].Account)
	assert.Equal(t, call.Address("tel:112"), reqs[0].Handle)
}

// trackingContext is a root context that counts the children still
// registered on it
type trackingContext struct {
	done chan struct{}

	mu   sync.Mutex
	live int
}

func newTrackingContext() *trackingContext {
	return &trackingContext{done: make(chan struct{})}
}

func (t *trackingContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (t *trackingContext) Done() <-chan struct{}       { return t.done }
func (t *trackingContext) Err() error                  { return nil }
func (t *trackingContext) Value(any) any               { return nil }

func (t *trackingContext) AfterFunc(func()) func() bool {
	t.mu.Lock()
	t.live++
	t.mu.Unlock()
	var once sync.Once
	return func() bool {
		once.Do(func() {
			t.mu.Lock()
			t.live--
			t.mu.Unlock()
		})
		return true
	}
}

func (t *trackingContext) children() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func TestProcessor_FinishedAttemptsReleaseContexts(t *testing.T) {
	for name, opts := range map[string][]ProcessorOption{
		"attempt timeout":    nil,
		"no attempt timeout": {WithAttemptTimeout(0)},
	} {
		t.Run(name, func(t *testing.T) {
			f := newProcessorFixture(t, opts...)
			root := newTrackingContext()
			f.proc.ctx = root
			voip := newFakeService("voip", succeed(call.StateDialing))
			f.register(t, voipHandle, account.CapCallProvider, voip)

			const calls = 20
			for range calls {
				f.outgoing(voipHandle, false)
			}
			require.Eventually(t, func() bool {
				n := 0
				f.locked(func() {
					for _, ev := range f.events {
						if isSuccess(ev) {
							n++
						}
					}
				})
				return n == calls
			}, 5*time.Second, time.Millisecond)

			assert.Zero(t, root.children())
		})
	}
}

func TestProcessor_LateSuccessAfterAbortIsDropped(t *testing.T) {
	f := newProcessorFixture(t)
	release := make(chan struct{})
	voip := newFakeService("voip", func(context.Context, Request) (*Result, error) {
		<-release
		return &Result{State: call.StateDialing}, nil
	})
	f.register(t, voipHandle, account.CapCallProvider, voip)

	c := f.outgoing(voipHandle, false)
	require.Eventually(t, func() bool { return len(voip.requests()) == 1 }, 5*time.Second, time.Millisecond)

	f.locked(func() {
		assert.True(t, c.IsCreateConnectionPending())
		c.Abort()
		assert.False(t, c.IsCreateConnectionPending())
		assert.False(t, f.proc.Pending(c.ID()))
	})
	assert.True(t, f.hasEvent(failedWith(call.DisconnectLocal)))
	assert.Equal(t, 1, voip.abortCount())

	close(release)
	require.Eventually(t, func() bool { return voip.abortCount() == 2 }, 5*time.Second, time.Millisecond)

	assert.False(t, f.hasEvent(isSuccess))
	f.locked(func() {
		assert.Nil(t, c.Connection())
	})
}

func TestProcessor_ManagerErrorFailsOverToSIM(t *testing.T) {
	f := newProcessorFixture(t)
	wifi := newFakeService("wifi", fail(call.DisconnectError))
	sim := newFakeService("sim", succeed(call.StateDialing))
	f.register(t, wifiHandle, account.CapCallProvider|account.CapConnectionManager, wifi)
	f.register(t, simHandle, account.CapCallProvider|account.CapSIMSubscription, sim)

	c := f.outgoing(simHandle, false)

	require.Eventually(t, func() bool { return f.hasEvent(isSuccess) }, 5*time.Second, time.Millisecond)
	f.locked(func() {
		assert.Equal(t, "sim", c.ConnectionID())
		assert.True(t, c.ConnectionManagerAccount().IsZero())
	})

	wreqs := wifi.requests()
	require.Len(t, wreqs, 1)
	assert.Equal(t, simHandle, wreqs[0].Account, "manager places the call on behalf of the SIM account")
	assert.Len(t, sim.requests(), 1)
}

func TestProcessor_BusyDoesNotFailOver(t *testing.T) {
	f := newProcessorFixture(t)
	wifi := newFakeService("wifi", fail(call.DisconnectBusy))
	sim := newFakeService("sim", succeed(call.StateDialing))
	f.register(t, wifiHandle, account.CapCallProvider|account.CapConnectionManager, wifi)
	f.register(t, simHandle, account.CapCallProvider|account.CapSIMSubscription, sim)

	c := f.outgoing(simHandle, false)

	require.Eventually(t, func() bool { return f.hasEvent(failedWith(call.DisconnectBusy)) }, 5*time.Second, time.Millisecond)
	assert.Empty(t, sim.requests())
	f.locked(func() {
		assert.Equal(t, call.DisconnectBusy, c.DisconnectCause().Code)
		assert.False(t, f.proc.Pending(c.ID()))
	})
}

func TestProcessor_NoServiceFailsImmediately(t *testing.T) {
	f := newProcessorFixture(t)
	f.register(t, voipHandle, account.CapCallProvider, nil)

	f.outgoing(voipHandle, false)

	assert.True(t, f.hasEvent(failedWith(call.DisconnectError)))
}

func TestProcessor_AttemptTimeoutReportsError(t *testing.T) {
	f := newProcessorFixture(t, WithAttemptTimeout(10*time.Millisecond))
	voip := newFakeService("voip", nil)
	f.register(t, voipHandle, account.CapCallProvider, voip)

	c := f.outgoing(voipHandle, false)

	require.Eventually(t, func() bool { return f.hasEvent(failedWith(call.DisconnectError)) }, 5*time.Second, time.Millisecond)
	f.locked(func() {
		assert.Equal(t, "timeout", c.DisconnectCause().Reason)
	})
}

func emergencyFixture(t *testing.T, sim, wifi *fakeService, state ServiceState) *processorFixture {
	t.Helper()
	f := newProcessorFixture(t, WithEmergencyTimeouts(20*time.Millisecond, 40*time.Millisecond))
	f.network.SetServiceState(state)
	f.network.SetWifiConnected(true)
	f.register(t, simHandle, account.CapCallProvider|account.CapSIMSubscription|account.CapPlaceEmergencyCalls, sim)
	f.register(t, wifiHandle, account.CapCallProvider|account.CapConnectionManager, wifi)
	return f
}

func TestProcessor_EmergencyTimeoutMovesToManager(t *testing.T) {
	for _, state := range []ServiceState{ServiceOutOfService, ServicePowerOff} {
		t.Run(state.String(), func(t *testing.T) {
			sim := newFakeService("sim", nil)
			wifi := newFakeService("wifi", succeed(call.StateDialing))
			f := emergencyFixture(t, sim, wifi, state)

			c := f.outgoing(simHandle, true)

			require.Eventually(t, func() bool { return f.hasEvent(isSuccess) }, 5*time.Second, time.Millisecond)
			f.locked(func() {
				assert.Equal(t, "wifi", c.ConnectionID())
				assert.Equal(t, wifiHandle, c.ConnectionManagerAccount())
			})
			assert.Equal(t, 1, sim.abortCount())
		})
	}
}

func TestProcessor_EmergencyTimeoutNotArmedInService(t *testing.T) {
	sim := newFakeService("sim", nil)
	wifi := newFakeService("wifi", succeed(call.StateDialing))
	f := emergencyFixture(t, sim, wifi, ServiceInService)

	c := f.outgoing(simHandle, true)
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, wifi.requests())
	f.locked(func() {
		assert.True(t, c.IsCreateConnectionPending())
		c.Abort()
	})
}

func TestProcessor_EmergencyTimeoutNeedsWifi(t *testing.T) {
	sim := newFakeService("sim", nil)
	wifi := newFakeService("wifi", succeed(call.StateDialing))
	f := emergencyFixture(t, sim, wifi, ServiceOutOfService)
	f.network.SetWifiConnected(false)

	c := f.outgoing(simHandle, true)
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, wifi.requests())
	f.locked(func() { c.Abort() })
}

func TestProcessor_EmergencyTimeoutWhileDialingDisconnects(t *testing.T) {
	sim := newFakeService("sim", succeed(call.StateDialing))
	wifi := newFakeService("wifi", succeed(call.StateDialing))
	f := emergencyFixture(t, sim, wifi, ServiceOutOfService)

	c := f.outgoing(simHandle, true)
	require.Eventually(t, func() bool { return f.hasEvent(isSuccess) }, 5*time.Second, time.Millisecond)
	f.locked(func() { c.SetState(call.StateDialing) })

	require.Eventually(t, func() bool { return sim.disconnectCount() == 1 }, 5*time.Second, time.Millisecond)

	f.locked(func() {
		retried := f.proc.ContinueAfterDisconnect(c, call.NewDisconnectCause(call.DisconnectLocal))
		assert.True(t, retried)
		assert.Nil(t, c.Connection())
	})
	require.Eventually(t, func() bool {
		var id string
		f.locked(func() { id = c.ConnectionID() })
		return id == "wifi"
	}, 5*time.Second, time.Millisecond)
	assert.Len(t, wifi.requests(), 1)
}

func TestProcessor_ContinueAfterDisconnect(t *testing.T) {
	wifi := newFakeService("wifi", succeed(call.StateDialing))
	sim := newFakeService("sim", succeed(call.StateDialing))

	tests := []struct {
		name  string
		cause call.DisconnectCode
		want  bool
	}{
		{"error retries", call.DisconnectError, true},
		{"remote hangup does not", call.DisconnectRemote, false},
		{"busy does not", call.DisconnectBusy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessorFixture(t)
			f.register(t, wifiHandle, account.CapCallProvider|account.CapConnectionManager, wifi)
			f.register(t, simHandle, account.CapCallProvider|account.CapSIMSubscription, sim)

			c := f.outgoing(simHandle, false)
			require.Eventually(t, func() bool { return f.hasEvent(isSuccess) }, 5*time.Second, time.Millisecond)

			f.locked(func() {
				c.SetState(call.StateDialing)
				assert.Equal(t, tt.want, f.proc.ContinueAfterDisconnect(c, call.NewDisconnectCause(tt.cause)))
				c.Abort()
			})
		})
	}
}

func TestProcessor_SessionEndsWhenCallConnects(t *testing.T) {
	f := newProcessorFixture(t)
	voip := newFakeService("voip", succeed(call.StateDialing))
	f.register(t, voipHandle, account.CapCallProvider, voip)

	c := f.outgoing(voipHandle, false)
	require.Eventually(t, func() bool { return f.hasEvent(isSuccess) }, 5*time.Second, time.Millisecond)

	f.locked(func() {
		assert.True(t, f.proc.Pending(c.ID()))
		c.SetState(call.StateDialing)
		c.SetState(call.StateActive)
		assert.False(t, f.proc.Pending(c.ID()))
		assert.False(t, f.proc.ContinueAfterDisconnect(c, call.NewDisconnectCause(call.DisconnectError)))
	})
}

func TestProcessor_EmergencyTargetOrder(t *testing.T) {
	f := newProcessorFixture(t)
	voipEmergency := account.Handle{ComponentID: "voip", ID: "sos"}
	f.register(t, voipEmergency, account.CapCallProvider|account.CapPlaceEmergencyCalls, nil)
	f.register(t, simHandle, account.CapCallProvider|account.CapSIMSubscription|account.CapPlaceEmergencyCalls, nil)
	f.register(t, wifiHandle, account.CapCallProvider|account.CapConnectionManager, nil)

	var got []target
	f.locked(func() {
		c := f.arena.NewCall(call.DirectionOutgoing)
		c.SetEmergency(true)
		got = f.proc.targetsFor(c)
	})

	assert.Equal(t, []target{
		{account: simHandle},
		{account: voipEmergency},
		{account: wifiHandle, viaManager: true},
	}, got)
}

func TestCauseOf(t *testing.T) {
	busy := NewConnectionError(call.DisconnectBusy, "486", errors.New("busy here"))

	tests := []struct {
		name string
		err  error
		code call.DisconnectCode
	}{
		{"connection error", busy, call.DisconnectBusy},
		{"wrapped connection error", fmt.Errorf("invite: %w", busy), call.DisconnectBusy},
		{"cancelled", context.Canceled, call.DisconnectCanceled},
		{"deadline", context.DeadlineExceeded, call.DisconnectError},
		{"anything else", errors.New("boom"), call.DisconnectError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, CauseOf(tt.err).Code)
		})
	}
	assert.ErrorContains(t, busy, "BUSY")
}

func TestRepository(t *testing.T) {
	repo := NewRepository()
	a := newFakeService("a", nil)
	b := newFakeService("b", nil)
	require.NoError(t, repo.Register(a))
	require.NoError(t, repo.Register(b))
	assert.ErrorIs(t, repo.Register(newFakeService("a", nil)), ErrDuplicateService)

	var died []string
	repo.OnDeath(func(svc ConnectionService) { died = append(died, svc.ID()) })

	repo.ReportDeath(a)
	assert.Equal(t, []string{"a"}, died)
	assert.Nil(t, repo.Service("a"))
	require.Len(t, repo.All(), 1)
	assert.Equal(t, "b", repo.All()[0].ID())
}

func TestParseServiceState(t *testing.T) {
	s, ok := ParseServiceState("power_off")
	assert.True(t, ok)
	assert.Equal(t, ServicePowerOff, s)

	_, ok = ParseServiceState("airplane")
	assert.False(t, ok)
}
