package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-relay/internal/a2a"
	"github.com/nidhogg/nuka-relay/internal/config"
	"github.com/nidhogg/nuka-relay/internal/logging"
	"github.com/nidhogg/nuka-relay/internal/mcp"
	"github.com/nidhogg/nuka-relay/internal/oracle"
	"github.com/nidhogg/nuka-relay/internal/provider"
	"github.com/nidhogg/nuka-relay/internal/tools"
	"github.com/nidhogg/nuka-relay/internal/worker"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	id := flag.String("id", os.Getenv("WORKER_ID"), "worker id from the config's workers list")
	flag.Parse()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/relay.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	wc, ok := cfg.Worker(*id)
	if !ok {
		fmt.Fprintf(os.Stderr, "worker %q is not in %s\n", *id, cfgPath)
		os.Exit(1)
	}

	logger := logging.Must(cfg.Server.LogLevel, cfg.Server.LogFormat).With(zap.String("worker", wc.ID))
	defer logger.Sync()
	logger.Info("Starting worker...", zap.String("config", cfgPath))

	providers := provider.NewRouterFromConfig(cfg.Providers, logger)
	if providers.Len() == 0 {
		logger.Fatal("no usable provider configured")
	}
	if len(cfg.Oracle.Fallbacks) > 0 {
		providers.SetFallbacks(wc.ID, cfg.Oracle.Fallbacks)
	}
	orc := oracle.FromRouter(providers, oracle.Options{
		Role:        wc.ID,
		Model:       cfg.Oracle.Model,
		Temperature: cfg.Oracle.Temperature,
		MaxTokens:   cfg.Oracle.MaxTokens,
		Timeout:     cfg.Oracle.Timeout.Std(),
	})

	// Tools: builtin families, tools hosted elsewhere, then MCP servers.
	ctx := context.Background()
	reg := worker.NewToolRegistry()
	kit, err := tools.Install(ctx, reg, wc.Builtin, cfg, logger)
	if err != nil {
		logger.Fatal("builtin tools failed", zap.Error(err))
	}
	defer kit.Close()

	toolTransport := worker.NewToolTransport()
	for _, rt := range wc.Remote {
		err := worker.RegisterRemote(reg, worker.RemoteTool{
			Spec:      worker.ToolSpec{Name: rt.Name, Description: rt.Description},
			BaseURL:   rt.Address,
			Transport: toolTransport,
		})
		if err != nil {
			logger.Fatal("remote tool", zap.String("tool", rt.Name), zap.Error(err))
		}
	}

	var mcpClients []*mcp.Client
	for _, sc := range wc.MCP {
		c := mcp.NewClient(sc.Name, sc.URL, logger)
		if err := c.Connect(ctx); err != nil {
			logger.Warn("MCP server unavailable", zap.String("name", sc.Name), zap.Error(err))
			continue
		}
		if err := worker.RegisterMCP(reg, c, true); err != nil {
			logger.Fatal("MCP tools", zap.String("name", sc.Name), zap.Error(err))
		}
		mcpClients = append(mcpClients, c)
	}
	logger.Info("Tools registered", zap.Int("count", reg.Len()))

	rt := worker.NewRuntime(worker.Role{
		ID:            wc.ID,
		Description:   wc.Description,
		Instructions:  wc.Instructions,
		MaxIterations: wc.MaxIterations,
	}, orc, reg, logger)

	port := wc.Port
	if port == 0 {
		port = config.DefaultPort + 1
	}
	server := worker.NewServer(rt, fmt.Sprintf("http://localhost:%d", port), logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Worker listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	grpcSrv := a2a.NewGRPCServer(server)
	if wc.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", wc.GRPCPort))
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		go func() {
			logger.Info("Worker gRPC listening", zap.String("addr", lis.Addr().String()))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Error("grpc server error", zap.Error(err))
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	for _, c := range mcpClients {
		c.Close()
	}
}
