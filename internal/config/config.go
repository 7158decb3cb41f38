// Package config loads the call manager's configuration: process settings
// from flags and environment variables, and call policy (limits, timeouts,
// accounts) from an ini file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/backend"
	"github.com/sebas/callmanager/internal/telecom/backend/sipconn"
	"github.com/sebas/callmanager/internal/telecom/events"
	"github.com/sebas/callmanager/internal/telecom/orchestrator"
	"github.com/sebas/callmanager/internal/telecom/peripheral"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

// DefaultPolicyPath is read when no -policy flag or POLICY_FILE is given.
// A missing default file leaves every policy value at its default.
const DefaultPolicyPath = "resources/config/callmanager.ini"

// Config holds the call manager configuration
type Config struct {
	NodeID     string
	LogLevel   string
	PolicyPath string

	Log LogConfig

	// Listeners
	GRPCAddr string
	HTTPAddr string

	SIP SIPConfig

	// NATS is used only when NATS.URL is set
	NATS events.NATSConfig

	Policy                 orchestrator.Config
	EmergencyTimeout       time.Duration
	EmergencyRadioOffDelay time.Duration
	AttemptTimeout         time.Duration
	BluetoothPendingWindow time.Duration
	ToneLevel              float64

	CallLog CallLogConfig

	Accounts *account.MemoryRegistrar
}

// LogConfig configures the optional rotated log file
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SIPConfig configures the SIP connection service
type SIPConfig struct {
	Port          int
	BindAddr      string
	AdvertiseAddr string
	ComponentID   string
	AccountID     string
	User          string
	DisplayName   string
	Proxy         string
	MediaPort     int
	InviteTimeout time.Duration
	PostDialPause time.Duration
	DTMFDuration  time.Duration
	DTMFGap       time.Duration
}

// CallLogConfig configures call history retention
type CallLogConfig struct {
	Retention     time.Duration
	MaxRecords    int
	SweepInterval time.Duration
	LogEmergency  bool
}

// Load loads configuration from the process's command line and environment
func Load() (*Config, error) {
	return Parse(os.Args[1:], os.Getenv)
}

// Parse loads configuration from args and getenv. Environment variables
// override flags; the policy file is read last.
func Parse(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		NATS: events.DefaultNATSConfig(),
	}
	cfg.NATS.URL = ""

	fs := flag.NewFlagSet("callmanager", flag.ContinueOnError)
	fs.StringVar(&cfg.NodeID, "node", "", "Node ID used in published events (hostname if not set)")
	fs.StringVar(&cfg.LogLevel, "loglevel", "debug", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.File, "logfile", "", "Also write logs to this file, rotated")
	fs.StringVar(&cfg.PolicyPath, "policy", "", "Path to the ini policy file")
	fs.StringVar(&cfg.GRPCAddr, "grpc", ":9190", "In-call gRPC listen address")
	fs.StringVar(&cfg.HTTPAddr, "http", ":8090", "HTTP status API listen address")
	fs.IntVar(&cfg.SIP.Port, "port", 5060, "SIP listening port")
	fs.StringVar(&cfg.SIP.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	fs.StringVar(&cfg.SIP.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	fs.StringVar(&cfg.NATS.URL, "nats", "", "NATS server URL for call events (disabled if not set)")
	fs.StringVar(&cfg.NATS.StreamName, "nats-stream", "", "JetStream stream for call events (core NATS if not set)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override with environment variables if set
	if v := getenv("NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOGFILE"); v != "" {
		cfg.Log.File = v
	}
	if v := getenv("POLICY_FILE"); v != "" {
		cfg.PolicyPath = v
	}
	if v := getenv("GRPC_ADDR"); v != "" {
		cfg.GRPCAddr = v
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SIP.Port = p
		}
	}
	if v := getenv("BIND"); v != "" {
		cfg.SIP.BindAddr = v
	}
	if v := getenv("ADVERTISE"); v != "" {
		cfg.SIP.AdvertiseAddr = v
	}
	if v := getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := getenv("NATS_STREAM"); v != "" {
		cfg.NATS.StreamName = v
	}

	if cfg.SIP.AdvertiseAddr == "" || !isValidAddress(cfg.SIP.AdvertiseAddr) {
		cfg.SIP.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "callmanager"
		}
		cfg.NodeID = host
	}

	path := cfg.PolicyPath
	if path == "" {
		path = DefaultPolicyPath
	}
	file, err := ini.LoadSources(ini.LoadOptions{Loose: cfg.PolicyPath == ""}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy file %s: %w", path, err)
	}
	if err := cfg.loadPolicy(file); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return cfg, nil
}

// loadPolicy reads the ini sections, keeping the package defaults for
// missing keys
func (c *Config) loadPolicy(file *ini.File) error {
	def := orchestrator.DefaultConfig()

	sec := file.Section("policy")
	c.Policy = orchestrator.Config{
		MaxLiveCalls:     sec.Key("max_live_calls").MustInt(def.MaxLiveCalls),
		MaxHoldCalls:     sec.Key("max_hold_calls").MustInt(def.MaxHoldCalls),
		MaxOutgoingCalls: sec.Key("max_outgoing_calls").MustInt(def.MaxOutgoingCalls),
		MaxRingingCalls:  sec.Key("max_ringing_calls").MustInt(def.MaxRingingCalls),
		MaxTopLevelCalls: sec.Key("max_top_level_calls").MustInt(def.MaxTopLevelCalls),
		EmergencyNumbers: def.EmergencyNumbers,
	}
	if sec.HasKey("emergency_numbers") {
		c.Policy.EmergencyNumbers = parseList(sec.Key("emergency_numbers").String())
	}
	if c.Policy.MaxLiveCalls < 1 || c.Policy.MaxTopLevelCalls < 1 || c.Policy.MaxRingingCalls < 1 {
		return errors.New("policy: call limits must be at least 1")
	}

	sec = file.Section("timeouts")
	c.Policy.NewOutgoingCallCancel = sec.Key("new_outgoing_call_cancel").MustDuration(def.NewOutgoingCallCancel)
	c.Policy.DirectToVoicemail = sec.Key("direct_to_voicemail").MustDuration(def.DirectToVoicemail)
	c.EmergencyTimeout = sec.Key("emergency").MustDuration(backend.DefaultEmergencyTimeout)
	c.EmergencyRadioOffDelay = sec.Key("emergency_radio_off").MustDuration(backend.DefaultEmergencyRadioOffTimeout)
	c.AttemptTimeout = sec.Key("create_connection").MustDuration(backend.DefaultAttemptTimeout)
	c.BluetoothPendingWindow = sec.Key("bluetooth_pending").MustDuration(peripheral.DefaultPendingWindow)

	sec = file.Section("tones")
	c.ToneLevel = sec.Key("level").MustFloat64(tones.DefaultLevel)
	if c.ToneLevel <= 0 || c.ToneLevel > 1 {
		return fmt.Errorf("tones: level %v out of range (0, 1]", c.ToneLevel)
	}

	sec = file.Section("sip")
	c.SIP.ComponentID = sec.Key("component").MustString("sip")
	c.SIP.AccountID = sec.Key("account").MustString("default")
	c.SIP.User = sec.Key("user").MustString("callmanager")
	c.SIP.DisplayName = sec.Key("display_name").String()
	c.SIP.Proxy = sec.Key("proxy").String()
	c.SIP.MediaPort = sec.Key("media_port").MustInt(40000)
	c.SIP.InviteTimeout = sec.Key("invite_timeout").MustDuration(sipconn.DefaultInviteTimeout)
	c.SIP.PostDialPause = sec.Key("post_dial_pause").MustDuration(sipconn.DefaultPostDialPause)
	c.SIP.DTMFDuration = sec.Key("dtmf_duration").MustDuration(sipconn.DefaultDTMFDuration)
	c.SIP.DTMFGap = sec.Key("inter_dtmf_delay").MustDuration(sipconn.DefaultDTMFGap)

	sec = file.Section("calllog")
	c.CallLog = CallLogConfig{
		Retention:     sec.Key("retention").MustDuration(30 * 24 * time.Hour),
		MaxRecords:    sec.Key("max_records").MustInt(500),
		SweepInterval: sec.Key("sweep_interval").MustDuration(time.Hour),
		LogEmergency:  sec.Key("log_emergency_calls").MustBool(false),
	}

	sec = file.Section("logging")
	if c.Log.File == "" {
		c.Log.File = sec.Key("file").String()
	}
	c.Log.MaxSizeMB = sec.Key("max_size_mb").MustInt(100)
	c.Log.MaxBackups = sec.Key("max_backups").MustInt(1)
	c.Log.MaxAgeDays = sec.Key("max_age_days").MustInt(0)
	c.Log.Compress = sec.Key("compress").MustBool(false)

	registrar, err := account.LoadFromINI(file)
	if err != nil {
		return err
	}
	c.Accounts = registrar
	return nil
}

// parseList parses a comma-separated list, dropping empty entries
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
