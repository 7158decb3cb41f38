// Package app assembles the call manager: the orchestrator and its
// listeners, the SIP connection service, the in-call gRPC service, the
// HTTP status API and the event publisher.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emiago/sipgo"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/sebas/callmanager/internal/api"
	"github.com/sebas/callmanager/internal/config"
	"github.com/sebas/callmanager/internal/telecom/account"
	"github.com/sebas/callmanager/internal/telecom/audio"
	"github.com/sebas/callmanager/internal/telecom/backend"
	"github.com/sebas/callmanager/internal/telecom/backend/sipconn"
	"github.com/sebas/callmanager/internal/telecom/calllog"
	"github.com/sebas/callmanager/internal/telecom/events"
	"github.com/sebas/callmanager/internal/telecom/incall"
	"github.com/sebas/callmanager/internal/telecom/monitor"
	"github.com/sebas/callmanager/internal/telecom/orchestrator"
	"github.com/sebas/callmanager/internal/telecom/peripheral"
	"github.com/sebas/callmanager/internal/telecom/ringer"
	"github.com/sebas/callmanager/internal/telecom/tones"
)

const shutdownTimeout = 5 * time.Second

// CallManager owns every long-running part of the process
type CallManager struct {
	cfg *config.Config

	orch      *orchestrator.Orchestrator
	hardware  *audio.HardwareQueue
	sink      *tones.RTPSink
	publisher events.Publisher
	callLog   *calllog.Manager
	history   *calllog.MemoryRepository
	network   *backend.NetworkMonitor
	hub       *incall.Hub

	ua  *sipgo.UserAgent
	srv *sipgo.Server
	sip *sipconn.Service

	grpcServer *grpc.Server
	apiServer  *api.Server
}

// New builds the call manager from cfg. Nothing listens until Run.
func New(cfg *config.Config) (*CallManager, error) {
	m := &CallManager{cfg: cfg}

	registrar := cfg.Accounts
	if registrar == nil {
		registrar = account.NewMemoryRegistrar()
	}

	// Local tones and the ringtone go out on the media port
	mediaAddr := fmt.Sprintf("%s:%d", cfg.SIP.BindAddr, cfg.SIP.MediaPort)
	pc, err := net.ListenPacket("udp", mediaAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open media socket %s: %w", mediaAddr, err)
	}
	m.sink = tones.NewRTPSink(pc, nil)
	factory := tones.NewFactory(m.sink, tones.WithLevel(cfg.ToneLevel))

	// Peripherals post onto the orchestrator once it exists
	post := func(fn func()) { m.orch.Do(fn) }
	headset := peripheral.NewVirtualHeadset(true)
	periph := api.Peripherals{
		Wired:     peripheral.NewWiredHeadsetMonitor(false, post),
		Bluetooth: peripheral.NewBluetoothMonitor(headset, peripheral.WithPendingWindow(cfg.BluetoothPendingWindow), peripheral.WithBluetoothPoster(post)),
		Headset:   headset,
		Dock:      peripheral.NewDockMonitor(post),
	}

	m.network = backend.NewNetworkMonitor(backend.ServiceInService, true)
	m.hardware = audio.NewHardwareQueue(audio.NewMemoryDriver(), audio.DefaultQueueSize)

	m.history = calllog.NewMemoryRepository(cfg.CallLog.Retention, cfg.CallLog.MaxRecords)
	m.callLog = calllog.NewManager(m.history, calllog.WithEmergencyLogging(cfg.CallLog.LogEmergency))
	dtmf := monitor.NewDTMFLocalPlayer(factory)

	m.orch = orchestrator.New(cfg.Policy, orchestrator.Deps{
		Registrar: registrar,
		Network:   m.network,
		Hardware:  m.hardware,
		Wired:     periph.Wired,
		Bluetooth: periph.Bluetooth,
		Dock:      periph.Dock,
		Ringtone: ringer.NewAsyncPlayer(func(string) ringer.Ringtone {
			return tones.NewRingtone(factory)
		}, ringer.DefaultRepeatInterval),
		Tones:       factory,
		DTMF:        dtmf,
		MissedCalls: m.callLog,
		ProcessorOptions: []backend.ProcessorOption{
			backend.WithEmergencyTimeouts(cfg.EmergencyTimeout, cfg.EmergencyRadioOffDelay),
			backend.WithAttemptTimeout(cfg.AttemptTimeout),
		},
	})
	factory.SetPoster(m.orch.Do)
	factory.SetTonePlayingListener(m.orch.SetIsTonePlaying)

	m.publisher = newPublisher(cfg)
	m.hub = incall.NewHub(m.orch)
	phoneState := monitor.NewPhoneStateBroadcaster(m.orch, nil)

	m.orch.Do(func() {
		m.orch.AddListener(monitor.NewToneMonitor(m.orch, factory))
		m.orch.AddListener(monitor.NewRingbackPlayer(m.orch, factory))
		m.orch.AddListener(monitor.NewWakeLockController(m.orch, nil))
		m.orch.AddListener(dtmf)
		m.orch.AddListener(phoneState)
		m.orch.AddListener(m.callLog)
		m.orch.AddListener(events.NewListener(events.NewBuilder(cfg.NodeID), m.publisher))
		m.orch.AddListener(m.hub)
	})

	if err := m.setupSIP(registrar); err != nil {
		m.Close()
		return nil, err
	}

	m.grpcServer = grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	incall.NewServer(m.orch, m.hub).Register(m.grpcServer)

	m.apiServer = api.NewServer(cfg.HTTPAddr, m.orch,
		api.WithPeripherals(periph),
		api.WithCallLog(m.history),
		api.WithAccounts(registrar),
		api.WithPhoneState(phoneState),
	)

	slog.Info("[App] Call manager assembled",
		"node", cfg.NodeID,
		"accounts", len(registrar.All()),
		"max_live_calls", cfg.Policy.MaxLiveCalls,
		"max_top_level_calls", cfg.Policy.MaxTopLevelCalls,
	)
	return m, nil
}

// setupSIP creates the SIP user agent and registers the SIP connection
// service and its account
func (m *CallManager) setupSIP(registrar *account.MemoryRegistrar) error {
	cfg := m.cfg
	ua, err := sipgo.NewUA()
	if err != nil {
		return fmt.Errorf("failed to create user agent: %w", err)
	}
	m.ua = ua
	m.srv, err = sipgo.NewServer(ua)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	services := m.orch.Services()
	m.sip = sipconn.NewService(sipconn.Config{
		ComponentID:   cfg.SIP.ComponentID,
		AccountID:     cfg.SIP.AccountID,
		AdvertiseAddr: cfg.SIP.AdvertiseAddr,
		Port:          cfg.SIP.Port,
		User:          cfg.SIP.User,
		DisplayName:   cfg.SIP.DisplayName,
		Proxy:         cfg.SIP.Proxy,
		MediaPort:     cfg.SIP.MediaPort,
		InviteTimeout: cfg.SIP.InviteTimeout,
		PostDialPause: cfg.SIP.PostDialPause,
		DTMFDuration:  cfg.SIP.DTMFDuration,
		DTMFGap:       cfg.SIP.DTMFGap,
	}, client, m.orch,
		sipconn.WithMediaObserver(func(callID string, remote net.Addr) {
			slog.Debug("[App] Media remote updated", "call_id", callID, "remote", remote)
			m.sink.SetRemote(remote)
		}),
		sipconn.WithDeathHandler(services.ReportDeath),
	)

	err = registrar.Register(account.Account{
		Handle:           m.sip.Account(),
		Label:            cfg.SIP.DisplayName,
		Address:          fmt.Sprintf("sip:%s@%s", cfg.SIP.User, cfg.SIP.AdvertiseAddr),
		SupportedSchemes: []string{"sip", "tel"},
		Capabilities:     account.CapCallProvider,
		Enabled:          true,
	})
	if err != nil && !errors.Is(err, account.ErrDuplicateAccount) {
		return fmt.Errorf("failed to register SIP account: %w", err)
	}
	if registrar.UserSelectedOutgoingAccount().IsZero() {
		registrar.SetUserSelectedOutgoingAccount(m.sip.Account())
	}

	if err := services.Register(m.sip); err != nil {
		return fmt.Errorf("failed to register SIP connection service: %w", err)
	}
	return nil
}

func newPublisher(cfg *config.Config) events.Publisher {
	logging := events.NewLoggingPublisher(slog.Default())
	if cfg.NATS.URL == "" {
		return logging
	}
	nats, err := events.NewNATSPublisher(cfg.NATS, slog.Default())
	if err != nil {
		// The call manager keeps working without the event bus
		slog.Warn("[App] NATS unavailable, events are only logged", "url", cfg.NATS.URL, "error", err)
		return logging
	}
	return events.NewMultiPublisher(nats, logging)
}

// Run serves SIP, gRPC and HTTP until ctx is done or one of them fails
func (m *CallManager) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.hardware.Run(gCtx) })
	g.Go(func() error { return m.callLog.Run(gCtx) })
	g.Go(func() error { return m.history.Run(gCtx, m.cfg.CallLog.SweepInterval) })

	g.Go(func() error {
		lis, err := net.Listen("tcp", m.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", m.cfg.GRPCAddr, err)
		}
		slog.Info("[App] In-call gRPC service listening", "addr", lis.Addr().String())
		go func() {
			<-gCtx.Done()
			m.grpcServer.GracefulStop()
		}()
		return m.grpcServer.Serve(lis)
	})

	g.Go(func() error { return m.apiServer.Run(gCtx) })

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", m.cfg.SIP.BindAddr, m.cfg.SIP.Port)
		err := m.sip.Serve(gCtx, m.srv, "udp", addr)
		if gCtx.Err() != nil {
			return nil
		}
		return err
	})

	err := g.Wait()
	if err != nil {
		slog.Error("[App] Stopped with error", "error", err)
	}
	return err
}

// Close releases everything New acquired. Safe after a failed New.
func (m *CallManager) Close() error {
	var errs []error
	if m.orch != nil {
		m.orch.Close()
	}
	if m.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := m.publisher.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		if err := m.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.hardware != nil {
		m.hardware.Close()
	}
	if m.sink != nil {
		if err := m.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.ua != nil {
		if err := m.ua.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
