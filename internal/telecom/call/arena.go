package call

import (
	"time"

	"github.com/google/uuid"
)

// Arena owns every Call that has been constructed and not yet destroyed.
// Calls refer to their parent and children by id and resolve them here, so
// the conference graph holds no pointer cycles.
//
// Thread Safety: none. The arena is guarded by the orchestrator's lock.
type Arena struct {
	calls map[string]*Call
	now   func() time.Time
}

// ArenaOption configures an Arena
type ArenaOption func(*Arena)

// WithClock overrides time.Now for timestamps recorded on calls
func WithClock(now func() time.Time) ArenaOption {
	return func(a *Arena) {
		a.now = now
	}
}

// NewArena creates an empty arena
func NewArena(opts ...ArenaOption) *Arena {
	a := &Arena{
		calls: make(map[string]*Call),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Option configures a Call at construction
type Option func(*Call)

// WithHandle sets the initial address
func WithHandle(h Address) Option {
	return func(c *Call) {
		c.handle = h
	}
}

// WithConference marks the call as a conference host
func WithConference() Option {
	return func(c *Call) {
		c.isConference = true
	}
}

// WithConnectTime seeds the connect time, used when adopting an existing connection
func WithConnectTime(t time.Time) Option {
	return func(c *Call) {
		c.connectTime = t
	}
}

// WithID overrides the generated id
func WithID(id string) Option {
	return func(c *Call) {
		c.id = id
	}
}

// NewCall constructs a call in StateNew and registers it in the arena.
func (a *Arena) NewCall(dir Direction, opts ...Option) *Call {
	c := &Call{
		id:                            "call-" + uuid.New().String(),
		arena:                         a,
		createdAt:                     a.now(),
		direction:                     dir,
		state:                         StateNew,
		handlePresentation:            PresentationAllowed,
		callerDisplayNamePresentation: PresentationAllowed,
	}
	for _, opt := range opts {
		opt(c)
	}
	a.calls[c.id] = c
	return c
}

// Get returns the call with id, or nil
func (a *Arena) Get(id string) *Call {
	if id == "" {
		return nil
	}
	return a.calls[id]
}

// Len returns the number of live call objects
func (a *Arena) Len() int {
	return len(a.calls)
}

func (a *Arena) release(id string) {
	delete(a.calls, id)
}
