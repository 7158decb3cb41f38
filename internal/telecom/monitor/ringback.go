package monitor

import (
	"log/slog"

	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

// RingbackPlayer plays local ringback for the foreground call while it is
// DIALING and its backend asked for ringback.
type RingbackPlayer struct {
	calls Calls
	tones ToneStarter

	call   *call.Call
	player *tones.Player
}

// NewRingbackPlayer creates a ringback player starting tones on t
func NewRingbackPlayer(calls Calls, t ToneStarter) *RingbackPlayer {
	return &RingbackPlayer{calls: calls, tones: t}
}

// IsPlaying reports whether ringback is sounding
func (r *RingbackPlayer) IsPlaying() bool {
	return r.player != nil
}

// OnEvent implements call.Listener
func (r *RingbackPlayer) OnEvent(c *call.Call, ev call.Event) {
	switch e := ev.(type) {
	case call.ForegroundChanged:
		if e.Old != nil && e.Old == r.call {
			r.stop(e.Old)
		}
		if r.shouldPlay(e.New) {
			r.start(e.New)
		}
	case call.StateChanged:
		if e.New == call.StateDialing && r.shouldPlay(c) {
			r.start(c)
		} else if e.New != call.StateDialing {
			r.stop(c)
		}
	case call.RingbackRequested:
		if e.On && r.shouldPlay(c) {
			r.start(c)
		} else if !e.On {
			r.stop(c)
		}
	case call.CallRemoved:
		r.stop(c)
	}
}

func (r *RingbackPlayer) shouldPlay(c *call.Call) bool {
	return c != nil &&
		r.calls.ForegroundCall() == c &&
		c.State() == call.StateDialing &&
		c.RingbackRequested()
}

func (r *RingbackPlayer) start(c *call.Call) {
	if r.call == c && r.player != nil {
		return
	}
	if r.call != nil && r.call != c {
		slog.Warn("[Ringback] Ringback for another call still playing", "call_id", r.call.ID(), "new_call_id", c.ID())
		r.stop(r.call)
	}
	slog.Info("[Ringback] Starting ringback", "call_id", c.ID())
	r.call = c
	r.player = r.tones.Start(tones.ToneRingBack)
}

func (r *RingbackPlayer) stop(c *call.Call) {
	if c == nil || r.call != c {
		return
	}
	slog.Info("[Ringback] Stopping ringback", "call_id", c.ID())
	if r.player != nil {
		r.player.Stop()
	}
	r.player = nil
	r.call = nil
}
