package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sebas/callmanager/internal/app"
	"github.com/sebas/callmanager/internal/banner"
	"github.com/sebas/callmanager/internal/config"
	"github.com/sebas/callmanager/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "callmanager: %v\n", err)
		os.Exit(2)
	}

	closer := logger.Setup(cfg.LogLevel, os.Stdout, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer closer.Close()

	manager, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to create call manager", "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	nats := cfg.NATS.URL
	if nats == "" {
		nats = "disabled"
	}
	banner.Print("CALL MANAGER", []banner.ConfigLine{
		{Label: "Node", Value: cfg.NodeID},
		{Label: "SIP", Value: fmt.Sprintf("%s:%d (advertise %s)", cfg.SIP.BindAddr, cfg.SIP.Port, cfg.SIP.AdvertiseAddr)},
		{Label: "SIP proxy", Value: cfg.SIP.Proxy},
		{Label: "In-call gRPC", Value: cfg.GRPCAddr},
		{Label: "HTTP API", Value: cfg.HTTPAddr},
		{Label: "NATS", Value: nats},
		{Label: "Policy", Value: cfg.PolicyPath},
		{Label: "Call limits", Value: fmt.Sprintf("live=%d hold=%d top-level=%d", cfg.Policy.MaxLiveCalls, cfg.Policy.MaxHoldCalls, cfg.Policy.MaxTopLevelCalls)},
		{Label: "Emergency", Value: strings.Join(cfg.Policy.EmergencyNumbers, ", ")},
		{Label: "Log level", Value: logger.GetLevel()},
		{Label: "Log file", Value: cfg.Log.File},
		{Label: "Call log size", Value: strconv.Itoa(cfg.CallLog.MaxRecords)},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Run(ctx); err != nil {
		slog.Error("Call manager stopped", "error", err)
		manager.Close()
		closer.Close()
		os.Exit(1)
	}
	slog.Info("Call manager stopped")
}
