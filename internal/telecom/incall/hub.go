package incall

import (
	"log/slog"
	"sync"
	"sync/atomic"

	types "github.com/sebas/callmanager/api/types/v1"
	"github.com/sebas/callmanager/internal/telecom/call"
)

// DefaultSubscriberBuffer is the number of updates queued per subscriber
const DefaultSubscriberBuffer = 128

// Foreground reports the current foreground call
type Foreground interface {
	ForegroundCall() *call.Call
}

// Hub turns orchestrator events into in-call updates and fans them out to
// subscribers.
//
// Thread Safety: OnEvent runs under the orchestrator's lock and never
// blocks; a subscriber whose buffer is full misses the update.
// Subscribe and its cancel func may be called from any goroutine.
type Hub struct {
	fg Foreground

	mu     sync.Mutex
	subs   map[uint64]chan types.Update
	nextID uint64

	dropped atomic.Int64
}

// NewHub creates a hub reading the foreground call from fg
func NewHub(fg Foreground) *Hub {
	return &Hub{fg: fg, subs: make(map[uint64]chan types.Update)}
}

// Subscribe registers a subscriber with a buffer of size updates. The
// returned cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(size int) (<-chan types.Update, func()) {
	if size <= 0 {
		size = DefaultSubscriberBuffer
	}
	ch := make(chan types.Update, size)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// SubscriberCount returns the number of live subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// DroppedCount returns how many updates were dropped for slow subscribers
func (h *Hub) DroppedCount() int64 {
	return h.dropped.Load()
}

// OnEvent implements call.Listener
func (h *Hub) OnEvent(c *call.Call, ev call.Event) {
	switch e := ev.(type) {
	case call.CallAdded:
		h.publishCall(types.UpdateAddCall, c)
	case call.CallRemoved:
		h.publishCall(types.UpdateRemoveCall, c)
	case call.ForegroundChanged:
		if e.Old != nil && !e.Old.State().IsTerminal() {
			h.publishCall(types.UpdateUpdateCall, e.Old)
		}
		if e.New != nil {
			h.publishCall(types.UpdateUpdateCall, e.New)
		}
	case call.AudioStateChanged:
		a := AudioSnapshot(e.New)
		h.broadcast(types.Update{Kind: types.UpdateAudioState, Audio: &a})
	case call.CanAddCallChanged:
		h.broadcast(types.Update{Kind: types.UpdateCanAddCallChanged, CanAddCall: e.CanAdd})
	case call.StateChanged, call.HandleChanged, call.CallerDisplayNameChanged,
		call.CapabilitiesChanged, call.IsConferencedChanged, call.ConferenceableChanged,
		call.VideoStateChanged, call.TargetAccountChanged, call.PostDialWait,
		call.ConnectionServiceChanged:
		if c != nil {
			h.publishCall(types.UpdateUpdateCall, c)
		}
	}
}

func (h *Hub) publishCall(kind types.UpdateKind, c *call.Call) {
	var fg *call.Call
	if h.fg != nil {
		fg = h.fg.ForegroundCall()
	}
	snap := CallSnapshot(c, fg)
	h.broadcast(types.Update{Kind: kind, Call: &snap})
}

func (h *Hub) broadcast(u types.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- u:
		default:
			h.dropped.Add(1)
			slog.Warn("[InCall] Subscriber too slow, dropping update", "subscriber", id, "kind", string(u.Kind))
		}
	}
}
