package tones

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultLevel is the peak amplitude of synthesized tones, as a fraction of full scale
const DefaultLevel = 0.25

// Player is one playing tone. Stop is safe to call more than once and
// from any goroutine.
type Player struct {
	tone Tone
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Tone returns the tone being played
func (p *Player) Tone() Tone { return p.tone }

// Stop ends the tone
func (p *Player) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// Done is closed once the tone has finished and its bookkeeping ran
func (p *Player) Done() <-chan struct{} { return p.done }

// Factory starts tone players that share one sink.
//
// Supervisory tones started with Start are counted: the playing callback
// fires with true when the first one starts and with false when the last
// one ends, so audio focus can outlive the call that triggered a tone.
type Factory struct {
	sink      Sink
	level     float64
	frameDur  time.Duration
	post      func(fn func())
	onPlaying func(playing bool)

	// playing is guarded by the owner lock: Start runs under it and the
	// end-of-tone bookkeeping is posted back through post.
	playing int
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLevel sets the tone amplitude, 0 to 1
func WithLevel(level float64) FactoryOption {
	return func(f *Factory) {
		if level > 0 && level <= 1 {
			f.level = level
		}
	}
}

// WithFrameInterval overrides the pacing interval between frames
func WithFrameInterval(d time.Duration) FactoryOption {
	return func(f *Factory) {
		if d > 0 {
			f.frameDur = d
		}
	}
}

// WithPoster runs end-of-tone bookkeeping through post
func WithPoster(post func(fn func())) FactoryOption {
	return func(f *Factory) {
		if post != nil {
			f.post = post
		}
	}
}

// NewFactory creates a factory writing to sink
func NewFactory(sink Sink, opts ...FactoryOption) *Factory {
	if sink == nil {
		sink = DiscardSink{}
	}
	f := &Factory{
		sink:      sink,
		level:     DefaultLevel,
		frameDur:  FrameDuration,
		post:      func(fn func()) { fn() },
		onPlaying: func(bool) {},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetTonePlayingListener registers the callback for the playing flag. It
// is called under the owner lock.
func (f *Factory) SetTonePlayingListener(fn func(playing bool)) {
	if fn == nil {
		fn = func(bool) {}
	}
	f.onPlaying = fn
}

// SetPoster replaces the poster used for end-of-tone bookkeeping
func (f *Factory) SetPoster(post func(fn func())) {
	if post != nil {
		f.post = post
	}
}

// Start plays a supervisory tone. Must be called under the owner lock.
func (f *Factory) Start(t Tone) *Player {
	pat, ok := PatternFor(t)
	if !ok {
		slog.Warn("[Tones] Unknown tone", "tone", t.String())
		p := newPlayer(t)
		close(p.done)
		return p
	}

	f.playing++
	if f.playing == 1 {
		f.onPlaying(true)
	}
	slog.Debug("[Tones] Starting tone", "tone", t.String())

	p := newPlayer(t)
	go func() {
		f.play(p, pat)
		f.post(f.toneEnded)
		close(p.done)
	}()
	return p
}

func (f *Factory) toneEnded() {
	if f.playing == 0 {
		slog.Error("[Tones] Tone ended with no tones playing")
		return
	}
	f.playing--
	if f.playing == 0 {
		f.onPlaying(false)
	}
}

// StartDTMF plays local keypad feedback for digit until stopped. DTMF
// feedback does not hold audio focus. Safe from any goroutine.
func (f *Factory) StartDTMF(digit rune) *Player {
	p := newPlayer(ToneInvalid)
	pat, ok := DTMFPattern(digit)
	if !ok {
		slog.Warn("[Tones] Invalid DTMF digit", "digit", string(digit))
		close(p.done)
		return p
	}
	go func() {
		f.play(p, pat)
		close(p.done)
	}()
	return p
}

// play writes paced frames until the pattern ends, Stop is called or the sink fails
func (f *Factory) play(p *Player, pat Pattern) {
	ticker := time.NewTicker(f.frameDur)
	defer ticker.Stop()

	total := pat.Frames()
	pcm := make([]int16, SamplesPerFrame)
	wasOn := false
	for n := 0; total == 0 || n < total; n++ {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		start := n * SamplesPerFrame
		on := pat.IsOn(start)
		pat.Render(start, pcm, f.level)
		if err := f.sink.WriteFrame(EncodeFrame(pcm), on && !wasOn); err != nil {
			slog.Warn("[Tones] Sink write failed, stopping tone", "tone", p.tone.String(), "error", err)
			return
		}
		wasOn = on
	}
}

func newPlayer(t Tone) *Player {
	return &Player{
		tone: t,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Ringtone plays the local ringtone through a factory. It is not counted
// as a supervisory tone; ringing holds focus on its own. Safe from any
// goroutine.
type Ringtone struct {
	factory *Factory

	mu     sync.Mutex
	player *Player
}

// NewRingtone creates a ringtone on f
func NewRingtone(f *Factory) *Ringtone {
	return &Ringtone{factory: f}
}

// Play starts the ringtone unless it is already playing
func (r *Ringtone) Play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isPlayingLocked() {
		return
	}
	pat := patterns[ToneRingtone]
	p := newPlayer(ToneRingtone)
	go func() {
		r.factory.play(p, pat)
		close(p.done)
	}()
	r.player = p
}

// Stop ends the ringtone
func (r *Ringtone) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.player != nil {
		r.player.Stop()
		r.player = nil
	}
}

// IsPlaying reports whether the ringtone is sounding
func (r *Ringtone) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPlayingLocked()
}

func (r *Ringtone) isPlayingLocked() bool {
	if r.player == nil {
		return false
	}
	select {
	case <-r.player.done:
		return false
	default:
		return true
	}
}
