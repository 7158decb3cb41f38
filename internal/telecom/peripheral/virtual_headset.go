package peripheral

import (
	"slices"
	"sync"
)

// VirtualHeadset is an in-memory Headset driven by the peripheral HTTP
// bridge and by tests. With auto-accept set, ConnectAudio brings the audio
// link up on every connected device at once.
type VirtualHeadset struct {
	mu         sync.Mutex
	devices    []string
	audio      map[string]bool
	autoAccept bool

	connectRequests    int
	disconnectRequests int
}

// NewVirtualHeadset creates a headset with no devices
func NewVirtualHeadset(autoAccept bool) *VirtualHeadset {
	return &VirtualHeadset{
		audio:      make(map[string]bool),
		autoAccept: autoAccept,
	}
}

// SetDevices replaces the connected device list. Audio state of devices no
// longer present is dropped.
func (h *VirtualHeadset) SetDevices(devices ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = slices.Clone(devices)
	for d := range h.audio {
		if !slices.Contains(h.devices, d) {
			delete(h.audio, d)
		}
	}
}

// SetAudioConnected sets the audio link state of every connected device
func (h *VirtualHeadset) SetAudioConnected(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.devices {
		h.audio[d] = on
	}
}

// ConnectedDevices implements Headset
func (h *VirtualHeadset) ConnectedDevices() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.devices)
}

// IsAudioConnected implements Headset
func (h *VirtualHeadset) IsAudioConnected(device string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audio[device]
}

// ConnectAudio implements Headset
func (h *VirtualHeadset) ConnectAudio() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectRequests++
	if len(h.devices) == 0 {
		return false
	}
	if h.autoAccept {
		for _, d := range h.devices {
			h.audio[d] = true
		}
	}
	return true
}

// DisconnectAudio implements Headset
func (h *VirtualHeadset) DisconnectAudio() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectRequests++
	for d := range h.audio {
		h.audio[d] = false
	}
	return true
}

// Requests returns how many connect and disconnect requests were made
func (h *VirtualHeadset) Requests() (connects, disconnects int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectRequests, h.disconnectRequests
}
