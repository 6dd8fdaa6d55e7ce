package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"tremorwatch/db"
	"tremorwatch/models"
	"tremorwatch/records"
	"tremorwatch/summary"
	"tremorwatch/transport"
	"tremorwatch/tremor"
	"tremorwatch/utils"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Expected 'serve' subcommand")
		os.Exit(1)
	}
	_ = godotenv.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		protocol := serveCmd.String("proto", "http", "Protocol to use (http or https)")
		port := serveCmd.String("p", utils.GetEnv("PORT", "5000"), "Port to use")
		serveCmd.Parse(os.Args[2:])
		serve(*protocol, *port)
	default:
		fmt.Println("Expected 'serve' subcommand")
		os.Exit(1)
	}
}

func serve(protocol, port string) {
	logger := utils.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := tremor.LoadDetectionConfig(utils.GetEnv("TREMOR_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load detection config: %v", err)
	}
	configs, err := tremor.NewConfigStore(cfg)
	if err != nil {
		log.Fatalf("invalid detection config: %v", err)
	}

	dbClient, err := db.NewDBClient()
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer dbClient.Close()

	var cache db.BaselineBackend
	if addr := utils.GetEnv("REDIS_ADDR"); addr != "" {
		redisCache, err := db.NewRedisBaselineCache(addr, utils.GetEnv("REDIS_PASSWORD"), utils.GetEnvInt("REDIS_DB", 0), utils.GetEnv("REDIS_PREFIX", "tremorwatch"))
		if err != nil {
			logger.WarnContext(ctx, "redis unavailable, baseline cache disabled", slog.Any("error", xerrors.New(err)))
		} else {
			defer redisCache.Close()
			cache = redisCache.WithTTL(utils.GetEnvDuration("REDIS_BASELINE_TTL", 0))
		}
	}
	baselines := db.NewBaselineStore(dbClient, cache, logger)
	baselineWriter := db.NewAsyncBaselineWriter(baselines, logger)
	defer baselineWriter.Close()

	var bridge *transport.MQTTBridge
	if broker := utils.GetEnv("MQTT_BROKER"); broker != "" {
		bridge, err = transport.NewMQTTBridge(transport.BridgeConfig{
			Broker:      broker,
			ClientID:    utils.GetEnv("MQTT_CLIENT_ID", "tremorwatch-"+utils.GenerateUniqueID()[:8]),
			TopicPrefix: utils.GetEnv("MQTT_TOPIC_PREFIX", "tremor"),
		}, logger)
		if err != nil {
			logger.WarnContext(ctx, "MQTT unavailable, bridge disabled", slog.Any("error", xerrors.New(err)))
			bridge = nil
		} else {
			defer bridge.Close()
		}
	}

	sink := tremor.SnapshotSinkFunc(func(snapshot models.BaselineSnapshot) {
		baselineWriter.SaveBaseline(snapshot)
		if bridge != nil {
			go func() {
				if err := bridge.PublishBaseline(snapshot); err != nil {
					logger.WarnContext(context.Background(), "failed to publish baseline", slog.Any("error", err))
				}
			}()
		}
	})
	tracker := tremor.NewBaselineTracker(configs, sink)
	if snapshot, ok, err := baselines.LoadBaseline(); err != nil {
		logger.WarnContext(ctx, "failed to load stored baseline", slog.Any("error", xerrors.New(err)))
	} else if ok {
		tracker.Restore(snapshot)
		log.Printf("Restored baseline saved at %s (resting samples: %d)\n", snapshot.SavedAt.Format(time.RFC3339), snapshot.Resting.SampleCount)
	}

	engine := tremor.NewEngine(configs, tracker, tremor.WithLogger(logger))

	sinks := []records.Sink{dbClient}
	if path := utils.GetEnv("RECORD_EXPORT_PATH"); path != "" {
		sinks = append(sinks, records.NewJSONStore(path))
	}
	if bridge != nil {
		sinks = append(sinks, records.SinkFunc(bridge.PublishRecords))
	}
	batcher := records.NewBatcher(
		utils.GetEnvInt("RECORD_BATCH_SIZE", records.DefaultBatchSize),
		utils.GetEnvDuration("RECORD_FLUSH_INTERVAL", records.DefaultFlushInterval),
		logger,
		sinks...,
	)
	defer batcher.Close()

	m := &monitor{
		engine:  engine,
		store:   dbClient,
		batcher: batcher,
		logger:  logger,
	}
	if apiKey := utils.GetEnv("GEMINI_API_KEY"); apiKey != "" {
		narrator, err := summary.NewGeminiSummarizer(ctx, apiKey, utils.GetEnv("GEMINI_MODEL", summary.DefaultModel))
		if err != nil {
			logger.WarnContext(ctx, "Gemini unavailable, using plain summaries", slog.Any("error", xerrors.New(err)))
		} else {
			m.narrator = narrator
		}
	}

	server := newSocketServer(newSocketController(m))
	m.emit = func(event string, payload any) {
		server.BroadcastToNamespace("/", event, payload)
	}
	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	if bridge != nil {
		if err := bridge.SubscribeSamples(func(batch models.SampleBatch) { m.ingest(batch) }); err != nil {
			logger.ErrorContext(ctx, "failed to subscribe to samples", slog.Any("error", xerrors.New(err)))
		}
		if err := bridge.SubscribeConfig(func(doc []byte) error {
			_, err := m.applyConfig(doc)
			return err
		}); err != nil {
			logger.ErrorContext(ctx, "failed to subscribe to config updates", slog.Any("error", xerrors.New(err)))
		}
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkCalibration()
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := newAPIMux(m)
	mux.Handle("/socket.io/", server)
	mux.Handle("/", http.FileServer(http.Dir("static")))

	log.Printf("Session %s ready (config version %d)\n", engine.SessionID(), configs.Current().Version)
	serveHTTP(ctx, strings.ToLower(protocol) == "https", port, mux)
	tracker.Flush()
}
