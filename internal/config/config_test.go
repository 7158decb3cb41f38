package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/orchestrator"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callmanager.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsWithoutPolicyFile(t *testing.T) {
	cfg, err := Parse([]string{"-advertise", "127.0.0.1", "-node", "n1"}, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "n1", cfg.NodeID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9190", cfg.GRPCAddr)
	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.Equal(t, 5060, cfg.SIP.Port)
	assert.Equal(t, "127.0.0.1", cfg.SIP.AdvertiseAddr)
	assert.Empty(t, cfg.NATS.URL)

	def := orchestrator.DefaultConfig()
	assert.Equal(t, def, cfg.Policy)
	assert.Equal(t, tones.DefaultLevel, cfg.ToneLevel)
	assert.Equal(t, 5*time.Second, cfg.BluetoothPendingWindow)
	assert.Equal(t, 500, cfg.CallLog.MaxRecords)
	require.NotNil(t, cfg.Accounts)
	assert.Empty(t, cfg.Accounts.All())
}

func TestEnvironmentOverridesFlags(t *testing.T) {
	cfg, err := Parse([]string{"-loglevel", "info", "-port", "5070", "-advertise", "127.0.0.1"}, env(map[string]string{
		"LOGLEVEL":    "warn",
		"PORT":        "5080",
		"GRPC_ADDR":   "127.0.0.1:7000",
		"NATS_URL":    "nats://nats:4222",
		"NATS_STREAM": "CALLS",
		"NODE_ID":     "edge-1",
	}))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 5080, cfg.SIP.Port)
	assert.Equal(t, "127.0.0.1:7000", cfg.GRPCAddr)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "CALLS", cfg.NATS.StreamName)
	assert.Equal(t, "edge-1", cfg.NodeID)
}

func TestPolicyFile(t *testing.T) {
	path := writePolicy(t, `
[policy]
max_live_calls = 2
max_hold_calls = 2
max_top_level_calls = 3
emergency_numbers = 112, 999

[timeouts]
new_outgoing_call_cancel = 250ms
direct_to_voicemail = 1s
emergency = 30s
emergency_radio_off = 90s
bluetooth_pending = 3s

[tones]
level = 0.5

[sip]
user = alice
proxy = sip:proxy.example.com
inter_dtmf_delay = 200ms

[calllog]
retention = 48h
max_records = 20
log_emergency_calls = true

[logging]
file = /var/log/callmanager.log
max_backups = 3

[account "sip/alice"]
label = Alice
schemes = sip, tel
capabilities = call_provider
default = true
`)
	cfg, err := Parse([]string{"-policy", path, "-advertise", "127.0.0.1"}, env(nil))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Policy.MaxLiveCalls)
	assert.Equal(t, 2, cfg.Policy.MaxHoldCalls)
	assert.Equal(t, 1, cfg.Policy.MaxOutgoingCalls)
	assert.Equal(t, 3, cfg.Policy.MaxTopLevelCalls)
	assert.Equal(t, []string{"112", "999"}, cfg.Policy.EmergencyNumbers)
	assert.Equal(t, 250*time.Millisecond, cfg.Policy.NewOutgoingCallCancel)
	assert.Equal(t, time.Second, cfg.Policy.DirectToVoicemail)
	assert.Equal(t, 30*time.Second, cfg.EmergencyTimeout)
	assert.Equal(t, 90*time.Second, cfg.EmergencyRadioOffDelay)
	assert.Equal(t, 3*time.Second, cfg.BluetoothPendingWindow)
	assert.Equal(t, 0.5, cfg.ToneLevel)
	assert.Equal(t, "alice", cfg.SIP.User)
	assert.Equal(t, "sip:proxy.example.com", cfg.SIP.Proxy)
	assert.Equal(t, 200*time.Millisecond, cfg.SIP.DTMFGap)
	assert.Equal(t, 48*time.Hour, cfg.CallLog.Retention)
	assert.Equal(t, 20, cfg.CallLog.MaxRecords)
	assert.True(t, cfg.CallLog.LogEmergency)
	assert.Equal(t, "/var/log/callmanager.log", cfg.Log.File)
	assert.Equal(t, 3, cfg.Log.MaxBackups)

	alice := account.Handle{ComponentID: "sip", ID: "alice"}
	a, ok := cfg.Accounts.Account(alice)
	require.True(t, ok)
	assert.Equal(t, "Alice", a.Label)
	assert.Equal(t, alice, cfg.Accounts.OutgoingAccountForScheme("tel"))
}

func TestLogFileFlagWinsOverPolicy(t *testing.T) {
	path := writePolicy(t, "[logging]\nfile = from-policy.log\n")
	cfg, err := Parse([]string{"-policy", path, "-logfile", "from-flag.log", "-advertise", "127.0.0.1"}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "from-flag.log", cfg.Log.File)
}

func TestMissingExplicitPolicyFile(t *testing.T) {
	_, err := Parse([]string{"-policy", filepath.Join(t.TempDir(), "nope.ini")}, env(nil))
	assert.Error(t, err)
}

func TestInvalidPolicy(t *testing.T) {
	cases := map[string]string{
		"zero limit":     "[policy]\nmax_live_calls = 0\n",
		"tone level":     "[tones]\nlevel = 2\n",
		"bad account":    "[account \"nohandle\"]\nschemes = sip\n",
		"bad capability": "[account \"sip/a\"]\ncapabilities = teleport\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]string{"-policy", writePolicy(t, body), "-advertise", "127.0.0.1"}, env(nil))
			assert.Error(t, err)
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Nil(t, parseList(""))
	assert.Equal(t, []string{"a", "b"}, parseList(" a, ,b ,"))
}
