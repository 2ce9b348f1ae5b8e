package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-relay/internal/a2a"
	"github.com/nidhogg/nuka-relay/internal/api"
	"github.com/nidhogg/nuka-relay/internal/command"
	"github.com/nidhogg/nuka-relay/internal/config"
	"github.com/nidhogg/nuka-relay/internal/gateway"
	"github.com/nidhogg/nuka-relay/internal/logging"
	"github.com/nidhogg/nuka-relay/internal/oracle"
	"github.com/nidhogg/nuka-relay/internal/orchestrator"
	"github.com/nidhogg/nuka-relay/internal/provider"
	"github.com/nidhogg/nuka-relay/internal/registry"
	msgrouter "github.com/nidhogg/nuka-relay/internal/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/relay.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := logging.Must(cfg.Server.LogLevel, cfg.Server.LogFormat)
	defer logger.Sync()
	logger.Info("Starting relay...", zap.String("config", cfgPath))

	// Oracle: the relay role, with its own fallback chain.
	providers := provider.NewRouterFromConfig(cfg.Providers, logger)
	if providers.Len() == 0 {
		logger.Fatal("no usable provider configured")
	}
	if len(cfg.Oracle.Fallbacks) > 0 {
		providers.SetFallbacks("relay", cfg.Oracle.Fallbacks)
	}
	orc := oracle.FromRouter(providers, oracle.Options{
		Role:        "relay",
		Model:       cfg.Oracle.Model,
		Temperature: cfg.Oracle.Temperature,
		MaxTokens:   cfg.Oracle.MaxTokens,
		Timeout:     cfg.Oracle.Timeout.Std(),
	})

	reg, err := registry.FromConfig(cfg.Workers)
	if err != nil {
		logger.Fatal("invalid worker registry", zap.Error(err))
	}
	if reg.Len() == 0 {
		logger.Fatal("no workers configured")
	}

	// Remote worker client over both transports.
	grpcTransport := a2a.NewGRPCTransport()
	retries := uint64(max(cfg.Orchestrator.MaxRetries, 0))
	transports := map[string]a2a.Transport{
		"http": &a2a.RetryTransport{Next: a2a.NewHTTPTransport(), MaxRetries: retries, Logger: logger},
		"grpc": &a2a.RetryTransport{Next: grpcTransport, MaxRetries: retries, Logger: logger},
	}
	workerTimeout := cfg.Orchestrator.WorkerTimeout.Std()
	client := a2a.NewClient(reg, transports, workerTimeout, logger)

	// Pipeline events: always logged, also streamed to Redis when configured.
	sinks := orchestrator.MultiSink{orchestrator.LogSink{Logger: logger}}
	var redisSink *orchestrator.RedisSink
	if cfg.Redis.URL != "" {
		rs, rErr := orchestrator.NewRedisSink(cfg.Redis.URL, cfg.Redis.Stream, cfg.Redis.MaxLength, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, events go to the log only", zap.Error(rErr))
		} else {
			redisSink = rs
			sinks = append(sinks, rs)
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orch, err := orchestrator.New(orc, reg, client, orchestrator.Options{
		DefaultWorker: cfg.Orchestrator.DefaultWorker,
		WorkerTimeout: workerTimeout,
		Events:        sinks,
		Metrics:       orchestrator.NewMetrics(promReg),
	}, logger)
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}
	logger.Info("Orchestrator initialized",
		zap.Int("workers", reg.Len()),
		zap.String("default_worker", orch.DefaultWorker()))

	// Gateway and chat commands.
	gw := gateway.NewGateway(logger)

	cmds := command.NewRegistry()
	deps := command.Deps{Workers: reg, Planner: orch, Status: gw}
	if redisSink != nil {
		deps.Events = redisSink
	}
	command.RegisterBuiltins(cmds, deps)

	// Covers classify, plan and synthesis oracle calls plus one worker round.
	requestTimeout := 3*cfg.Oracle.Timeout.Std() + workerTimeout
	msgRouter := msgrouter.New(orch, gw, cmds, requestTimeout, logger)
	gw.SetHandler(msgRouter.Handle)

	restAdapter := gateway.NewRESTAdapter(requestTimeout, logger)
	gw.Register(restAdapter)

	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}

	gwCtx, gwCancel := context.WithCancel(context.Background())
	defer gwCancel()
	if err := gw.ConnectAll(gwCtx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	apiOpts := api.Options{
		Answerer:     orch,
		Planner:      orch,
		Workers:      reg,
		Gateway:      gw,
		REST:         restAdapter,
		Gatherer:     promReg,
		QueryTimeout: requestTimeout,
		PublicURL:    cfg.Server.PublicURL,
	}
	if redisSink != nil {
		apiOpts.Events = redisSink
	}
	handler := api.NewHandler(apiOpts, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Relay listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down relay...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	gwCancel()
	gw.Close()
	grpcTransport.Close()
	if redisSink != nil {
		redisSink.Close()
	}
}
