package ringer

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultRepeatInterval is how often a ringtone that stopped on its own is restarted
const DefaultRepeatInterval = 3 * time.Second

// Ringtone is a playable ringtone
type Ringtone interface {
	Play()
	Stop()
	IsPlaying() bool
}

// RingtoneLoader resolves a ringtone uri; "" is the default ringtone. It
// returns nil when the ringtone cannot be loaded.
type RingtoneLoader func(uri string) Ringtone

// AsyncPlayer plays ringtones on its own goroutine so Play and Stop never
// block the caller. A playing ringtone is restarted every repeat interval
// in case it has run out.
type AsyncPlayer struct {
	load   RingtoneLoader
	repeat time.Duration

	mu      sync.Mutex
	running bool
	events  chan playerEvent
}

type playerEvent struct {
	play bool
	uri  string
}

// NewAsyncPlayer creates a player that loads ringtones with load
func NewAsyncPlayer(load RingtoneLoader, repeat time.Duration) *AsyncPlayer {
	if repeat <= 0 {
		repeat = DefaultRepeatInterval
	}
	return &AsyncPlayer{load: load, repeat: repeat}
}

// Play starts the ringtone at uri
func (p *AsyncPlayer) Play(uri string) {
	slog.Debug("[Ringtone] Posting play")
	p.post(playerEvent{play: true, uri: uri}, true)
}

// Stop stops the ringtone
func (p *AsyncPlayer) Stop() {
	slog.Debug("[Ringtone] Posting stop")
	p.post(playerEvent{}, false)
}

// post hands ev to the worker, starting one for a play request
func (p *AsyncPlayer) post(ev playerEvent, start bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		if !start {
			slog.Debug("[Ringtone] Stop skipped, player is idle")
			return
		}
		p.running = true
		p.events = make(chan playerEvent, 8)
		go p.run(p.events)
	}
	select {
	case p.events <- ev:
	default:
		slog.Warn("[Ringtone] Event queue full, dropping request", "play", ev.play)
	}
}

func (p *AsyncPlayer) run(events chan playerEvent) {
	var (
		ringtone Ringtone
		repeat   *time.Ticker
		tick     <-chan time.Time
	)
	stop := func() {
		slog.Info("[Ringtone] Stop ringtone")
		if ringtone != nil {
			ringtone.Stop()
			ringtone = nil
		}
		if repeat != nil {
			repeat.Stop()
			repeat, tick = nil, nil
		}
	}
	replay := func() {
		if ringtone == nil {
			return
		}
		if !ringtone.IsPlaying() {
			slog.Info("[Ringtone] Repeat ringtone")
			ringtone.Play()
		}
	}

	for {
		select {
		case ev := <-events:
			if !ev.play {
				stop()
				if p.exitIfIdle(events) {
					return
				}
				continue
			}
			if ringtone == nil {
				ringtone = p.load(ev.uri)
				if ringtone == nil {
					slog.Warn("[Ringtone] No ringtone to play", "uri", ev.uri)
					stop()
					if p.exitIfIdle(events) {
						return
					}
					continue
				}
			}
			replay()
			if repeat == nil {
				repeat = time.NewTicker(p.repeat)
				tick = repeat.C
			}
		case <-tick:
			replay()
		}
	}
}

// exitIfIdle retires the worker unless a request is already queued
func (p *AsyncPlayer) exitIfIdle(events chan playerEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(events) > 0 {
		slog.Debug("[Ringtone] Keeping worker alive for queued request")
		return false
	}
	p.running = false
	p.events = nil
	return true
}
