// Package types defines the API types shared by the call manager's HTTP
// status API, its in-call service and the operator client.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	TotalCalls      int    `json:"total_calls"`
	RingingCalls    int    `json:"ringing_calls"`
	ForegroundCall  string `json:"foreground_call,omitempty"`
	CanAddCall      bool   `json:"can_add_call"`
	PhoneState      string `json:"phone_state"`
	RingerState     string `json:"ringer_state"`
	ConnectionCount int    `json:"connection_services"`
}

// Call is a snapshot of one call
type Call struct {
	ID                string   `json:"id"`
	State             string   `json:"state"`
	Direction         string   `json:"direction"`
	Handle            string   `json:"handle,omitempty"`
	Presentation      string   `json:"presentation,omitempty"`
	CallerDisplayName string   `json:"caller_display_name,omitempty"`
	Account           string   `json:"account,omitempty"`
	Capabilities      string   `json:"capabilities,omitempty"`
	VideoState        string   `json:"video_state"`
	ParentID          string   `json:"parent_id,omitempty"`
	ChildIDs          []string `json:"child_ids,omitempty"`
	Conference        bool     `json:"conference,omitempty"`
	Emergency         bool     `json:"emergency,omitempty"`
	ConnectionService string   `json:"connection_service,omitempty"`
	DisconnectCause   string   `json:"disconnect_cause,omitempty"`
	ConnectedAt       string   `json:"connected_at,omitempty"`
	Duration          int      `json:"duration"`
	Foreground        bool     `json:"foreground,omitempty"`
}

// CallsResponse is the response from /api/v1/calls
type CallsResponse struct {
	Calls      []Call     `json:"calls"`
	Audio      AudioState `json:"audio"`
	CanAddCall bool       `json:"can_add_call"`
}

// AudioState is the current audio route and mute
type AudioState struct {
	Muted           bool   `json:"muted"`
	Route           string `json:"route"`
	SupportedRoutes string `json:"supported_routes"`
}

// UpdateKind identifies an in-call update
type UpdateKind string

const (
	UpdateAddCall           UpdateKind = "add_call"
	UpdateUpdateCall        UpdateKind = "update_call"
	UpdateRemoveCall        UpdateKind = "remove_call"
	UpdateAudioState        UpdateKind = "audio_state"
	UpdateCanAddCallChanged UpdateKind = "can_add_call"
)

// Update is one message of the in-call subscription stream
type Update struct {
	Kind       UpdateKind  `json:"kind"`
	Call       *Call       `json:"call,omitempty"`
	Audio      *AudioState `json:"audio,omitempty"`
	CanAddCall bool        `json:"can_add_call,omitempty"`
}

// CallLogEntry is one call-history record
type CallLogEntry struct {
	ID              string  `json:"id"`
	CallID          string  `json:"call_id"`
	Number          string  `json:"number,omitempty"`
	Type            string  `json:"type"`
	Video           bool    `json:"video"`
	Account         string  `json:"account,omitempty"`
	Start           string  `json:"start"`
	DurationSec     float64 `json:"duration_sec"`
	DisconnectCause string  `json:"disconnect_cause,omitempty"`
}

// Account is a registered phone account
type Account struct {
	Handle       string   `json:"handle"`
	Label        string   `json:"label,omitempty"`
	Address      string   `json:"address,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Schemes      []string `json:"schemes,omitempty"`
	Default      bool     `json:"default,omitempty"`
}

// PeripheralsResponse is the response from /api/v1/peripherals
type PeripheralsResponse struct {
	WiredHeadsetPlugged bool   `json:"wired_headset_plugged"`
	BluetoothAvailable  bool   `json:"bluetooth_available"`
	BluetoothAudioOn    bool   `json:"bluetooth_audio_on"`
	BluetoothPending    bool   `json:"bluetooth_pending"`
	Dock                string `json:"dock"`
}

// WiredHeadsetRequest is the body of POST /api/v1/peripherals/wired
type WiredHeadsetRequest struct {
	Plugged bool `json:"plugged"`
}

// BluetoothRequest is the body of POST /api/v1/peripherals/bluetooth.
// Device is empty when no headset is connected.
type BluetoothRequest struct {
	Device  string `json:"device"`
	AudioOn bool   `json:"audio_on"`
}

// DockRequest is the body of POST /api/v1/peripherals/dock
type DockRequest struct {
	State string `json:"state"`
}

// MediaButtonRequest is the body of POST /api/v1/peripherals/media-button
type MediaButtonRequest struct {
	LongPress bool `json:"long_press"`
}

// MediaButtonResponse reports whether a press was consumed
type MediaButtonResponse struct {
	Handled bool `json:"handled"`
}

// ErrorResponse is returned with any non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}
