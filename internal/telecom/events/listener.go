package events

import (
	"github.com/sebas/callmanager/internal/telecom/call"
)

// Listener publishes orchestrator events. It runs under the owner lock
// and only ever uses PublishAsync.
type Listener struct {
	builder   *Builder
	publisher Publisher
}

// NewListener creates a listener building events with b and sending them to p
func NewListener(b *Builder, p Publisher) *Listener {
	return &Listener{builder: b, publisher: p}
}

// OnEvent implements call.Listener
func (l *Listener) OnEvent(c *call.Call, ev call.Event) {
	switch e := ev.(type) {
	case call.CallAdded:
		l.publisher.PublishAsync(l.builder.CallAddedFrom(c).Build())
	case call.StateChanged:
		sb := l.builder.CallState(c.ID()).Transition(e.Old, e.New)
		if e.New == call.StateDisconnected {
			sb.Cause(c.DisconnectCause())
		}
		l.publisher.PublishAsync(sb.Build())
	case call.CallRemoved:
		l.publisher.PublishAsync(l.builder.CallRemoved(c.ID()).
			FinalState(c.State()).
			Duration(c.Duration()).
			Cause(c.DisconnectCause()).
			Build())
	case call.ForegroundChanged:
		l.publisher.PublishAsync(l.builder.Foreground(idOf(e.New), idOf(e.Old)))
	case call.AudioStateChanged:
		l.publisher.PublishAsync(l.builder.Audio(e.New))
	}
}

func idOf(c *call.Call) string {
	if c == nil {
		return ""
	}
	return c.ID()
}
