package monitor

import (
	"log/slog"

	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

// DTMFLocalPlayer plays keypad feedback for digits the user sends on the
// foreground call. Digits sent on any other call are silent.
type DTMFLocalPlayer struct {
	starter DTMFStarter
	enabled func() bool

	call   *call.Call
	player *tones.Player
}

// DTMFOption configures a DTMFLocalPlayer
type DTMFOption func(*DTMFLocalPlayer)

// WithDTMFEnabled consults enabled before every digit. The default plays
// every digit.
func WithDTMFEnabled(enabled func() bool) DTMFOption {
	return func(p *DTMFLocalPlayer) {
		if enabled != nil {
			p.enabled = enabled
		}
	}
}

// NewDTMFLocalPlayer creates a player on starter
func NewDTMFLocalPlayer(starter DTMFStarter, opts ...DTMFOption) *DTMFLocalPlayer {
	p := &DTMFLocalPlayer{
		starter: starter,
		enabled: func() bool { return true },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlayTone starts the feedback for digit, replacing any digit still playing
func (p *DTMFLocalPlayer) PlayTone(c *call.Call, digit rune) {
	if c == nil || c != p.call {
		slog.Debug("[DTMF] Ignoring digit for non-foreground call", "call_id", callID(c))
		return
	}
	if !p.enabled() {
		return
	}
	p.stopPlayer()
	slog.Debug("[DTMF] Playing local tone", "call_id", c.ID(), "digit", string(digit))
	p.player = p.starter.StartDTMF(digit)
}

// StopTone ends the current digit
func (p *DTMFLocalPlayer) StopTone(c *call.Call) {
	if c == nil || c != p.call {
		return
	}
	p.stopPlayer()
}

// OnEvent implements call.Listener. The player follows the foreground call.
func (p *DTMFLocalPlayer) OnEvent(_ *call.Call, ev call.Event) {
	fc, ok := ev.(call.ForegroundChanged)
	if !ok {
		return
	}
	p.stopPlayer()
	p.call = fc.New
}

func (p *DTMFLocalPlayer) stopPlayer() {
	if p.player != nil {
		p.player.Stop()
		p.player = nil
	}
}

func callID(c *call.Call) string {
	if c == nil {
		return ""
	}
	return c.ID()
}
