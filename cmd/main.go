package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"texengine/config"
	"texengine/executor"
	"texengine/logger"
	"texengine/natshandler"
	"texengine/pipeline"
	"texengine/service"

	"github.com/nats-io/nats.go"
	logrus "github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync()

	// Load configuration
	cfg := config.LoadConfig()
	sandbox := config.DetectSandbox()
	cfg = cfg.WithSandbox(sandbox)
	if sandbox.Disabled {
		zapLogger.Warn("Process group isolation disabled", zap.String("reason", sandbox.Reason))
	}

	compileLog := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		compileLog.SetLevel(level)
	}

	runner, closeRunner, err := executor.NewRunner(&cfg, compileLog)
	if err != nil {
		zapLogger.Error("Failed to create toolchain runner", zap.Error(err))
		return 1
	}
	defer closeRunner()

	// Check the toolchain is installed
	tools := executor.NewToolchain(&cfg)
	for _, program := range executor.CheckToolchain(context.Background(), runner, tools) {
		if tools.Optional(program) {
			zapLogger.Warn("Bibliography tool not found, citations will stay unresolved", zap.String("program", program))
			continue
		}
		zapLogger.Error("Required toolchain program not found", zap.String("program", program))
		return 1
	}

	if removed, err := pipeline.RemoveStaleAreas(cfg.WorkDir, shutdownBudget(&cfg)); err != nil {
		zapLogger.Warn("Failed to remove stale working areas", zap.Error(err))
	} else if len(removed) > 0 {
		zapLogger.Info("Removed stale working areas", zap.Int("count", len(removed)))
	}

	p, err := pipeline.New(&cfg, runner, compileLog)
	if err != nil {
		zapLogger.Error("Invalid configuration", zap.Error(err))
		return 1
	}

	// Initialize the single compile worker
	workerPool := executor.NewWorkerPool(p, compileLog)

	streamer := logger.NewBetterStackLogStreamer(cfg.BetterStackSourceToken, cfg.Environment, cfg.BetterStackUploadURL, zapLogger)
	defer streamer.Close()
	svc := service.NewRenderService(workerPool, streamer)

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		zapLogger.Error("Failed to connect to NATS",
			zap.String("url", cfg.NatsURL),
			zap.Error(err))
		workerPool.Shutdown(context.Background())
		return 1
	}
	defer nc.Close()

	// Each request gets its own goroutine so a running compile answers
	// newcomers with busy instead of queueing them in the subscription.
	sub, err := nc.Subscribe(natshandler.RenderSubject, func(msg *nats.Msg) {
		go natshandler.HandleRenderRequest(msg, nc, svc)
	})
	if err != nil {
		zapLogger.Error("Failed to subscribe", zap.String("subject", natshandler.RenderSubject), zap.Error(err))
		workerPool.Shutdown(context.Background())
		return 1
	}
	zapLogger.Info("Render service ready",
		zap.String("subject", natshandler.RenderSubject),
		zap.String("format", cfg.RasterFormat),
		zap.Bool("container", cfg.ToolchainImage != ""))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	zapLogger.Info("Shutting down", zap.String("signal", sig.String()))

	if err := sub.Unsubscribe(); err != nil {
		zapLogger.Warn("Failed to unsubscribe", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget(&cfg))
	defer cancel()
	if err := workerPool.Shutdown(ctx); err != nil {
		zapLogger.Error("Compile worker did not stop in time", zap.Error(err))
		return 1
	}

	if err := nc.Drain(); err != nil {
		zapLogger.Warn("Failed to drain NATS connection", zap.Error(err))
	}
	return 0
}

// shutdownBudget is the longest a single run can take: every primary pass,
// the bibliography tool and the page conversion, plus a grace period.
func shutdownBudget(cfg *config.Config) time.Duration {
	return cfg.CompileTimeout*time.Duration(cfg.MaxPasses+1) + cfg.BibTimeout + cfg.RasterTimeout + 5*time.Second
}
