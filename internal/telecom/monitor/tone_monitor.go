package monitor

import (
	"log/slog"

	"github.com/sebas/callmanager/internal/telecom/call"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

// ToneMonitor plays the tone a backend suggests when the foreground call
// disconnects, and the upgrade tone when the far end asks to turn on video.
type ToneMonitor struct {
	calls Calls
	tones ToneStarter
}

// NewToneMonitor creates a monitor starting tones on t
func NewToneMonitor(calls Calls, t ToneStarter) *ToneMonitor {
	return &ToneMonitor{calls: calls, tones: t}
}

// OnEvent implements call.Listener
func (m *ToneMonitor) OnEvent(c *call.Call, ev call.Event) {
	if c == nil || m.calls.ForegroundCall() != c {
		return
	}
	switch e := ev.(type) {
	case call.StateChanged:
		if e.New != call.StateDisconnected {
			return
		}
		tone := DisconnectTone(c.DisconnectCause().Tone)
		slog.Debug("[ToneMonitor] Foreground call disconnected",
			"call_id", c.ID(),
			"cause", c.DisconnectCause().String(),
			"tone", tone.String(),
		)
		if tone != tones.ToneInvalid {
			m.tones.Start(tone)
		}
	case call.SessionModifyRequest:
		prev := c.VideoState()
		if prev&call.VideoRxEnabled == 0 && e.VideoState&call.VideoRxEnabled != 0 {
			slog.Debug("[ToneMonitor] Video upgrade requested", "call_id", c.ID(), "video_state", e.VideoState.String())
			m.tones.Start(tones.ToneVideoUpgrade)
		}
	}
}

// DisconnectTone maps a backend tone hint to the tone played locally.
// Hints with no local tone map to ToneInvalid.
func DisconnectTone(h call.ToneHint) tones.Tone {
	switch h {
	case call.ToneHintBusy:
		return tones.ToneBusy
	case call.ToneHintCongestion:
		return tones.ToneCongestion
	case call.ToneHintReorder:
		return tones.ToneReorder
	case call.ToneHintIntercept:
		return tones.ToneIntercept
	case call.ToneHintCallDrop:
		return tones.ToneCDMADrop
	case call.ToneHintError:
		return tones.ToneUnobtainableNumber
	case call.ToneHintPrompt:
		return tones.ToneCallEnded
	default:
		return tones.ToneInvalid
	}
}
