// Command toolhost serves builtin tool families to workers in other
// processes.
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
	"github.com/nidhogg/nuka-relay/internal/config"
	"github.com/nidhogg/nuka-relay/internal/logging"
	"github.com/nidhogg/nuka-relay/internal/tools"
	"github.com/nidhogg/nuka-relay/internal/worker"
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

	logger := logging.Must(cfg.Server.LogLevel, cfg.Server.LogFormat).With(zap.String("component", "toolhost"))
	defer logger.Sync()

	families := cfg.ToolHost.Builtin
	if len(families) == 0 {
		families = tools.Families
	}
	reg := worker.NewToolRegistry()
	kit, err := tools.Install(context.Background(), reg, families, cfg, logger)
	if err != nil {
		logger.Fatal("builtin tools failed", zap.Error(err))
	}
	defer kit.Close()

	port := cfg.ToolHost.Port
	if port == 0 {
		port = config.DefaultPort + 50
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           worker.NewToolServer(reg, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Tool host listening", zap.String("addr", srv.Addr), zap.Int("tools", reg.Len()))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down tool host...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
