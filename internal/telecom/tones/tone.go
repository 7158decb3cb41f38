// Package tones synthesizes the supervisory tones the call manager plays
// locally (busy, ringback, call waiting, DTMF feedback) and streams them
// as G.711 µ-law RTP frames.
package tones

import (
	"fmt"
	"time"
)

// Tone identifies a supervisory tone
type Tone int

const (
	ToneInvalid Tone = iota
	ToneBusy
	ToneCallEnded
	ToneCallWaiting
	ToneCDMADrop
	ToneCongestion
	ToneIntercept
	ToneReorder
	ToneRingBack
	ToneUnobtainableNumber
	ToneVideoUpgrade
	ToneRingtone
)

// String returns the string representation of the tone
func (t Tone) String() string {
	switch t {
	case ToneInvalid:
		return "invalid"
	case ToneBusy:
		return "busy"
	case ToneCallEnded:
		return "call_ended"
	case ToneCallWaiting:
		return "call_waiting"
	case ToneCDMADrop:
		return "cdma_drop"
	case ToneCongestion:
		return "congestion"
	case ToneIntercept:
		return "intercept"
	case ToneReorder:
		return "reorder"
	case ToneRingBack:
		return "ring_back"
	case ToneUnobtainableNumber:
		return "unobtainable_number"
	case ToneVideoUpgrade:
		return "video_upgrade"
	case ToneRingtone:
		return "ringtone"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Pattern describes how a tone sounds: the summed frequencies, the on/off
// cadence and how long it plays.
type Pattern struct {
	Freqs []float64
	On    time.Duration
	// Off is the silence after each On burst; zero plays continuously
	Off time.Duration
	// Length bounds the whole tone; zero plays until stopped
	Length time.Duration
}

var patterns = map[Tone]Pattern{
	ToneBusy:               {Freqs: []float64{480, 620}, On: 500 * time.Millisecond, Off: 500 * time.Millisecond, Length: 4 * time.Second},
	ToneCallEnded:          {Freqs: []float64{1200}, On: 200 * time.Millisecond, Length: 200 * time.Millisecond},
	ToneCallWaiting:        {Freqs: []float64{440}, On: 300 * time.Millisecond, Off: 9700 * time.Millisecond},
	ToneCDMADrop:           {Freqs: []float64{1300}, On: 100 * time.Millisecond, Off: 100 * time.Millisecond, Length: 375 * time.Millisecond},
	ToneCongestion:         {Freqs: []float64{480, 620}, On: 250 * time.Millisecond, Off: 250 * time.Millisecond, Length: 4 * time.Second},
	ToneIntercept:          {Freqs: []float64{440, 620}, On: 250 * time.Millisecond, Off: 250 * time.Millisecond, Length: 5 * time.Second},
	ToneReorder:            {Freqs: []float64{480, 620}, On: 250 * time.Millisecond, Off: 250 * time.Millisecond, Length: 4 * time.Second},
	ToneRingBack:           {Freqs: []float64{440, 480}, On: 2 * time.Second, Off: 4 * time.Second},
	ToneUnobtainableNumber: {Freqs: []float64{950, 1400}, On: 330 * time.Millisecond, Off: time.Second, Length: 4 * time.Second},
	ToneVideoUpgrade:       {Freqs: []float64{440}, On: 300 * time.Millisecond, Off: 9700 * time.Millisecond, Length: 4 * time.Second},
	ToneRingtone:           {Freqs: []float64{440, 480}, On: time.Second, Off: 2 * time.Second},
}

// PatternFor returns the pattern of t
func PatternFor(t Tone) (Pattern, bool) {
	p, ok := patterns[t]
	return p, ok
}

var dtmfRows = map[rune]float64{
	'1': 697, '2': 697, '3': 697, 'A': 697,
	'4': 770, '5': 770, '6': 770, 'B': 770,
	'7': 852, '8': 852, '9': 852, 'C': 852,
	'*': 941, '0': 941, '#': 941, 'D': 941,
}

var dtmfCols = map[rune]float64{
	'1': 1209, '4': 1209, '7': 1209, '*': 1209,
	'2': 1336, '5': 1336, '8': 1336, '0': 1336,
	'3': 1477, '6': 1477, '9': 1477, '#': 1477,
	'A': 1633, 'B': 1633, 'C': 1633, 'D': 1633,
}

// DTMFPattern returns the continuous dual-tone pattern of a keypad digit
func DTMFPattern(digit rune) (Pattern, bool) {
	if digit >= 'a' && digit <= 'd' {
		digit -= 'a' - 'A'
	}
	row, ok := dtmfRows[digit]
	if !ok {
		return Pattern{}, false
	}
	return Pattern{Freqs: []float64{row, dtmfCols[digit]}}, true
}
