// Command moonbotd is the Moonbot daemon: it wires the Policy Guards, Tool
// Registry/Runtime, Approval Store/Flow Manager, Per-Channel Queue, Task
// Orchestrator, Session Store, and Gateway Dispatch into a single running
// process. Grounded on the teacher's cmd/gateway.go wiring order (config
// load -> core components -> registries -> server -> signal-driven
// shutdown), trimmed of the teacher's channel-surface bootstrap
// (Discord/Slack/Telegram adapters), provider registry, and managed-mode
// onboarding wizard, none of which are in this module's scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/moonbotio/moonbot/internal/approval"
	"github.com/moonbotio/moonbot/internal/bus"
	"github.com/moonbotio/moonbot/internal/config"
	"github.com/moonbotio/moonbot/internal/gateway"
	"github.com/moonbotio/moonbot/internal/gateway/methods"
	"github.com/moonbotio/moonbot/internal/metrics"
	"github.com/moonbotio/moonbot/internal/orchestrator"
	"github.com/moonbotio/moonbot/internal/policy"
	"github.com/moonbotio/moonbot/internal/sessions"
	"github.com/moonbotio/moonbot/internal/tools"
	"github.com/moonbotio/moonbot/internal/tracing"
)

func main() {
	verbose := flag.Bool("verbose", false, "enable debug logging")
	configPath := flag.String("config", "", "path to config.json (defaults to ~/.moonbot/config.json)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	logsDir := config.ExpandHome("~/.moonbot/logs")
	var logWriter io.Writer = os.Stdout
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		slog.Warn("failed to create logs dir, logging to stdout only", "error", err)
	} else {
		logFile, err := os.OpenFile(filepath.Join(logsDir, fmt.Sprintf("moonbot-%s.log", time.Now().UTC().Format("2006-01-02"))),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("failed to open log file, logging to stdout only", "error", err)
		} else {
			defer logFile.Close()
			logWriter = io.MultiWriter(os.Stdout, logFile)
		}
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: level})))

	if err := writePidfile(); err != nil {
		slog.Warn("failed to write pidfile", "error", err)
	}
	defer os.Remove(config.DefaultPidPath())

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	eventBus := bus.New(0)

	workspace := config.ExpandHome("~/.moonbot/workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "error", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	commandGuard := policy.NewCommandGuard(policy.DefaultAllowedCommands)
	registerBuiltinTools(registry, commandGuard, cfg)

	var approvalStore approval.Store
	var sessionStore *sessions.Store
	if cfg.Database.IsManagedMode() {
		approvalStore, err = approval.NewPgStore(context.Background(), cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect approval store", "error", err)
			os.Exit(1)
		}
		sessionStore, err = sessions.NewPgStore(context.Background(), cfg.Database.PostgresDSN,
			cfg.Sessions.DefaultPageSize, cfg.Sessions.MaxPageSize, cfg.Sessions.CompactionKeep)
		if err != nil {
			slog.Error("failed to connect session store", "error", err)
			os.Exit(1)
		}
	} else {
		approvalsPath := config.ExpandHome("~/.moonbot/pending-approvals.json")
		approvalStore, err = approval.NewFileStore(approvalsPath)
		if err != nil {
			slog.Error("failed to load approval store", "error", err)
			os.Exit(1)
		}
		sessionsDir := config.ExpandHome(cfg.Sessions.Storage)
		sessionStore, err = sessions.NewStore(sessionsDir, cfg.Sessions.DefaultPageSize, cfg.Sessions.MaxPageSize, cfg.Sessions.CompactionKeep)
		if err != nil {
			slog.Error("failed to load session store", "error", err)
			os.Exit(1)
		}
	}

	approvalTimeout := time.Duration(cfg.Tools.ApprovalTimeoutMs) * time.Millisecond

	// orch is assigned once the Orchestrator is constructed below; the
	// closure only runs once approvals start resolving, which cannot
	// happen before that point.
	var orch *orchestrator.Orchestrator
	approvalMgr := approval.NewManager(approvalStore, func(invocationID string, approved bool) {
		orch.Resume(invocationID, approved)
	}, approvalTimeout)

	mtr := metrics.New()

	tracer, shutdownTracing, err := tracing.New(tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	runtime := tools.NewRuntime(registry, approvalMgr, eventBus, int64(cfg.Tools.MaxConcurrent), nil)
	runtime.SetWorkspaceBase(workspace)
	runtime.SetMetrics(mtr)
	runtime.SetTracer(tracer)
	runtime.SetQuotas(tools.QuotaLimits{
		ProcessPerUser:    cfg.Tools.Quotas.ProcessPerUser,
		BrowserConcurrent: cfg.Tools.Quotas.BrowserConcurrent,
		ClaudeCodePerUser: cfg.Tools.Quotas.ClaudeCodePerUser,
	})
	approvalMgr.SetMetrics(mtr)

	defaultPolicy := tools.PolicyBundle{
		MaxBytes:  cfg.Tools.MaxBytes,
		TimeoutMs: cfg.Tools.DefaultTimeoutMs,
		Command:   commandGuard,
	}

	orch = orchestrator.New(orchestrator.Config{
		QueueDepth:    cfg.Queue.ChannelDepth,
		GlobalWorkers: cfg.Queue.GlobalWorkers,
		Runtime:       runtime,
		Approvals:     approvalMgr,
		Events:        eventBus,
		Policy:        defaultPolicy,
	})

	orch.SetMetrics(mtr, mtr)
	orch.SetTracer(tracer)

	orch.OnResponse(func(resp orchestrator.TaskResponse) {
		eventBus.Publish("task.state_changed", resp)
	})
	approvalMgr.RegisterHandler("bus", func(ev approval.Event) {
		name := "approval.resolved"
		if ev.Type == "requested" {
			name = "approval.requested"
		}
		eventBus.Publish(name, ev.Request)
	})

	stopSweep := make(chan struct{})
	go approvalMgr.Run(time.Duration(cfg.Approval.SweepIntervalMs)*time.Millisecond, stopSweep)

	server := gateway.NewServer(cfg, eventBus, orch)
	server.SetTools(registry)
	server.SetRuntime(runtime)
	server.SetSessions(sessionStore)
	server.SetApprovals(approvalMgr)
	server.SetMetrics(mtr)

	methods.NewConnectMethods(server).Register(server.Router())
	methods.NewChatMethods(server).Register(server.Router())
	methods.NewApprovalMethods(server).Register(server.Router())
	methods.NewToolsMethods(server, defaultPolicy).Register(server.Router())
	methods.NewSessionMethods(server).Register(server.Router())
	methods.NewChannelMethods().Register(server.Router())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("moonbot starting", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port, "mode", cfg.Database.Mode)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("gateway exited", "error", err)
		}
	}

	close(stopSweep)
	orch.Shutdown()
	eventBus.Shutdown()
	slog.Info("moonbot stopped")
}

func writePidfile() error {
	path := config.DefaultPidPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func registerBuiltinTools(registry *tools.Registry, guard *policy.CommandGuard, cfg *config.Config) {
	specs := []*tools.ToolSpec{
		tools.NewEchoTool(),
		tools.NewFSReadTool(),
		tools.NewFSWriteTool(),
		tools.NewFSListTool(),
		tools.NewHTTPRequestTool(8000),
		tools.NewSystemRunTool(guard),
	}
	for _, spec := range specs {
		if err := registry.Register(spec); err != nil {
			slog.Error("failed to register builtin tool", "tool", spec.ID, "error", err)
		}
	}
}
