package tones

import (
	"math"
	"time"

	"github.com/zaf/g711"
)

const (
	// SampleRate is the G.711 sample rate
	SampleRate = 8000
	// FrameDuration is the RTP packetization interval
	FrameDuration = 20 * time.Millisecond
	// SamplesPerFrame is the number of samples in one 20ms frame at 8kHz
	SamplesPerFrame = SampleRate * int(FrameDuration) / int(time.Second)
)

func samples(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}

// Frames returns how many frames a tone of length d lasts; zero means unbounded
func (p Pattern) Frames() int {
	if p.Length <= 0 {
		return 0
	}
	n := samples(p.Length) / SamplesPerFrame
	if n == 0 {
		n = 1
	}
	return n
}

// IsOn reports whether sample index i falls in an On burst
func (p Pattern) IsOn(i int) bool {
	on := samples(p.On)
	off := samples(p.Off)
	if off == 0 || on == 0 {
		return true
	}
	return i%(on+off) < on
}

// Render writes len(pcm) samples starting at sample index start. level is
// the peak amplitude as a fraction of full scale.
func (p Pattern) Render(start int, pcm []int16, level float64) {
	if len(p.Freqs) == 0 {
		clear(pcm)
		return
	}
	amp := level * math.MaxInt16 / float64(len(p.Freqs))
	for n := range pcm {
		i := start + n
		if !p.IsOn(i) {
			pcm[n] = 0
			continue
		}
		t := float64(i) / SampleRate
		var v float64
		for _, f := range p.Freqs {
			v += math.Sin(2 * math.Pi * f * t)
		}
		pcm[n] = int16(v * amp)
	}
}

// EncodeFrame converts PCM samples to a µ-law payload
func EncodeFrame(pcm []int16) []byte {
	lpcm := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		lpcm[i*2] = byte(s)
		lpcm[i*2+1] = byte(s >> 8)
	}
	return g711.EncodeUlaw(lpcm)
}
