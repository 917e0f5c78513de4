// Command matchengine boots the matching core: loads configuration,
// restores the most recent snapshot if one exists, runs the engine
// loop, fronts it with a websocket transport and a Kafka authoritative
// sink, and snapshots once more on a clean shutdown. Grounded on
// cmd/pincex/main.go's load-config / wire-services / signal-triggered
// shutdown shape.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orbitcex/matchcore/internal/config"
	"github.com/orbitcex/matchcore/internal/orderbookcore/engine"
	"github.com/orbitcex/matchcore/internal/orderbookcore/transport"
	"github.com/orbitcex/matchcore/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("MATCHCORE_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	eng := engine.New(engine.Options{
		Instruments:         cfg.Instruments,
		IntakeQueueCapacity: cfg.IntakeQueueCapacity,
		SnapshotPath:        cfg.SnapshotPath,
		SnapshotInterval:    time.Duration(cfg.SnapshotIntervalSecs) * time.Second,
		Logger:              zapLogger,
	})

	if err := eng.Restore(cfg.SnapshotPath); err != nil {
		zapLogger.Fatal("failed to restore snapshot", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go eng.Run(ctx)

	kafkaBrokers := kafkaBrokersFromEnv()
	var sink *transport.KafkaSink
	if len(kafkaBrokers) > 0 {
		sink = transport.NewKafkaSink(transport.DefaultKafkaConfig(kafkaBrokers), zapLogger)
		sink.Run(ctx, eng)
	} else {
		zapLogger.Info("no MATCHCORE_KAFKA_BROKERS configured, authoritative egress sink disabled")
	}

	wsServer := transport.NewServer(eng, zapLogger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		zapLogger.Info("starting transport server", zap.String("addr", cfg.MetricsAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("transport server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutdown signal received, draining engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := eng.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("engine shutdown did not complete cleanly", zap.Error(err))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("transport server shutdown did not complete cleanly", zap.Error(err))
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			zapLogger.Error("kafka sink close failed", zap.Error(err))
		}
	}

	zapLogger.Info("matchengine exited cleanly")
}

func kafkaBrokersFromEnv() []string {
	raw := strings.TrimSpace(os.Getenv("MATCHCORE_KAFKA_BROKERS"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
