package calllog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/call"
)

type logFixture struct {
	manager *Manager
	repo    *MemoryRepository
	arena   *call.Arena
	now     time.Time
}

func newLogFixture(t *testing.T, opts ...Option) *logFixture {
	t.Helper()
	f := &logFixture{
		repo: NewMemoryRepository(0, 100),
		now:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.arena = call.NewArena(call.WithClock(func() time.Time { return f.now }))
	f.manager = NewManager(f.repo, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.manager.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

// end drives c through connected and terminal states and reports each
// transition to the manager
func (f *logFixture) end(c *call.Call, states ...call.State) {
	for _, s := range states {
		old := c.State()
		c.SetState(s)
		f.manager.OnEvent(c, call.StateChanged{Old: old, New: s})
		f.now = f.now.Add(30 * time.Second)
	}
}

func (f *logFixture) records(t *testing.T, n int) []Record {
	t.Helper()
	var got []Record
	require.Eventually(t, func() bool {
		got, _ = f.repo.Recent(context.Background(), 0)
		return len(got) == n
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestOutgoingCallIsLogged(t *testing.T) {
	f := newLogFixture(t)
	c := f.arena.NewCall(call.DirectionOutgoing, call.WithHandle("tel:+1 (555) 010-0000"))
	c.SetTargetAccount(account.Handle{ComponentID: "sip", ID: "line1"})
	c.SetDisconnectCause(call.NewDisconnectCause(call.DisconnectLocal))

	f.end(c, call.StateDialing, call.StateActive, call.StateDisconnected)

	got := f.records(t, 1)
	r := got[0]
	assert.Equal(t, c.ID(), r.CallID)
	assert.Equal(t, TypeOutgoing, r.Type)
	assert.Equal(t, "+15550100000", r.Number)
	assert.Equal(t, "sip/line1", r.Account)
	assert.Equal(t, 30*time.Second, r.Duration)
	assert.Equal(t, "LOCAL", r.DisconnectCause)
	assert.NotEmpty(t, r.ID)
}

func TestIncomingTypes(t *testing.T) {
	f := newLogFixture(t)

	answered := f.arena.NewCall(call.DirectionIncoming, call.WithHandle("tel:100"))
	answered.SetDisconnectCause(call.NewDisconnectCause(call.DisconnectRemote))
	f.end(answered, call.StateRinging, call.StateActive, call.StateDisconnected)

	missed := f.arena.NewCall(call.DirectionIncoming, call.WithHandle("tel:200"))
	missed.SetDisconnectCause(call.NewDisconnectCause(call.DisconnectMissed))
	f.end(missed, call.StateRinging, call.StateDisconnected)

	got := f.records(t, 2)
	assert.Equal(t, TypeMissed, got[0].Type)
	assert.Equal(t, "200", got[0].Number)
	assert.Equal(t, time.Duration(0), got[0].Duration)
	assert.Equal(t, TypeIncoming, got[1].Type)
}

func TestIneligibleCallsAreSkipped(t *testing.T) {
	f := newLogFixture(t)

	selecting := f.arena.NewCall(call.DirectionOutgoing, call.WithHandle("tel:1"))
	f.end(selecting, call.StateSelectAccount, call.StateDisconnected)

	conference := f.arena.NewCall(call.DirectionOutgoing, call.WithConference())
	f.end(conference, call.StateActive, call.StateDisconnected)

	canceled := f.arena.NewCall(call.DirectionOutgoing, call.WithHandle("tel:2"))
	canceled.SetDisconnectCause(call.NewDisconnectCause(call.DisconnectCanceled))
	f.end(canceled, call.StateConnecting, call.StateAborted)

	emergency := f.arena.NewCall(call.DirectionOutgoing, call.WithHandle("tel:911"))
	emergency.SetEmergency(true)
	f.end(emergency, call.StateDialing, call.StateDisconnected)

	logged := f.arena.NewCall(call.DirectionOutgoing, call.WithHandle("tel:3"))
	f.end(logged, call.StateConnecting, call.StateAborted)

	got := f.records(t, 1)
	assert.Equal(t, logged.ID(), got[0].CallID)
	assert.Empty(t, got[0].DisconnectCause)
}

func TestEmergencyLoggingEnabled(t *testing.T) {
	f := newLogFixture(t, WithEmergencyLogging(true))
	c := f.arena.NewCall(call.DirectionOutgoing, call.WithHandle("tel:911"))
	c.SetEmergency(true)
	c.SetTargetAccount(account.Handle{ComponentID: "sim", ID: "0"})
	f.end(c, call.StateDialing, call.StateDisconnected)

	got := f.records(t, 1)
	assert.Empty(t, got[0].Account, "emergency calls are logged without an account")
}

func TestLogMissedAndObserver(t *testing.T) {
	seen := make(chan Record, 1)
	f := newLogFixture(t, WithObserver(func(r Record) { seen <- r }))
	c := f.arena.NewCall(call.DirectionIncoming, call.WithHandle("sip:bob@example.com"))
	c.SetVideoState(call.VideoBidirectional)

	f.manager.LogMissed(c)

	select {
	case r := <-seen:
		assert.Equal(t, TypeMissed, r.Type)
		assert.Equal(t, "bob@example.com", r.Number)
	case <-time.After(time.Second):
		t.Fatal("observer not called")
	}
}

func TestMemoryRepositoryBound(t *testing.T) {
	repo := NewMemoryRepository(0, 2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Add(ctx, Record{ID: id}))
	}
	got, err := repo.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}
