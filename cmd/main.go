package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/kloudmate/xray-exporter/internal/collector"
	"github.com/kloudmate/xray-exporter/internal/server"
	"github.com/kloudmate/xray-exporter/internal/storage"
	"github.com/kloudmate/xray-exporter/internal/xray"
)

type Config struct {
	AWS struct {
		Region  string `yaml:"region"`
		Profile string `yaml:"profile"`
	} `yaml:"aws"`

	Collector struct {
		TimeWindow          time.Duration `yaml:"time_window"`
		CollectInterval     time.Duration `yaml:"collect_interval"`
		CacheTTL            time.Duration `yaml:"cache_ttl"`
		MaxTracesPerCycle   int           `yaml:"max_traces_per_cycle"`
		FetchConcurrency    int           `yaml:"fetch_concurrency"`
		BatchSize           int           `yaml:"batch_size"`
		RetryAttempts       int           `yaml:"retry_attempts"`
		ForceFullCollection bool          `yaml:"force_full_collection"`
		Overlap             time.Duration `yaml:"overlap"`
		MaxWindowMultiplier int           `yaml:"max_window_multiplier"`
	} `yaml:"collector"`

	Dedup struct {
		MaxSize   int           `yaml:"max_size"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"dedup"`

	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`

	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage.DataDir, logger)
	if err != nil {
		logger.Fatal("Failed to open state store", zap.Error(err))
	}

	xrayCfg := &xray.Config{
		Region:        cfg.AWS.Region,
		Profile:       cfg.AWS.Profile,
		BatchSize:     cfg.Collector.BatchSize,
		Concurrency:   cfg.Collector.FetchConcurrency,
		RetryAttempts: cfg.Collector.RetryAttempts,
	}
	xrayClient, err := xray.NewClient(ctx, xrayCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create X-Ray client", zap.Error(err))
	}
	fetcher := xray.NewFetcher(xrayClient, xrayCfg, logger)

	telemetry := collector.NewTelemetry()

	coll := collector.New(&collector.Config{
		TimeWindow:          cfg.Collector.TimeWindow,
		CollectInterval:     cfg.Collector.CollectInterval,
		CacheTTL:            cfg.Collector.CacheTTL,
		MaxTracesPerCycle:   cfg.Collector.MaxTracesPerCycle,
		ForceFullCollection: cfg.Collector.ForceFullCollection,
		Overlap:             cfg.Collector.Overlap,
		MaxWindowMultiplier: cfg.Collector.MaxWindowMultiplier,
		DedupMaxSize:        cfg.Dedup.MaxSize,
		DedupRetention:      cfg.Dedup.Retention,
	}, xrayClient, fetcher, store, telemetry, logger)

	// Warm the cache before serving; a failed first cycle is logged inside
	// and the endpoint degrades to persisted counters.
	coll.GetMetrics(ctx)

	go coll.Run(ctx)

	srv := server.New(&server.Config{Address: cfg.Server.Address}, coll, telemetry.Handler(), logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	logger.Info("X-Ray exporter started",
		zap.String("address", cfg.Server.Address),
		zap.String("region", cfg.AWS.Region),
		zap.Duration("time_window", cfg.Collector.TimeWindow))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down X-Ray exporter...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}

	logger.Info("X-Ray exporter shutdown complete")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	setDefaults(&cfg)

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Collector.TimeWindow == 0 {
		cfg.Collector.TimeWindow = time.Minute
	}

	if cfg.Collector.CollectInterval == 0 {
		cfg.Collector.CollectInterval = 60 * time.Second
	}

	if cfg.Collector.CacheTTL == 0 {
		cfg.Collector.CacheTTL = 30 * time.Second
	}

	if cfg.Collector.MaxTracesPerCycle == 0 {
		cfg.Collector.MaxTracesPerCycle = 10000
	}

	if cfg.Collector.FetchConcurrency == 0 {
		cfg.Collector.FetchConcurrency = 20
	}

	if cfg.Collector.BatchSize == 0 {
		cfg.Collector.BatchSize = 5
	}

	if cfg.Collector.RetryAttempts == 0 {
		cfg.Collector.RetryAttempts = 3
	}

	if cfg.Collector.Overlap == 0 {
		cfg.Collector.Overlap = 5 * time.Second
	}

	if cfg.Collector.MaxWindowMultiplier == 0 {
		cfg.Collector.MaxWindowMultiplier = 5
	}

	if cfg.Dedup.MaxSize == 0 {
		cfg.Dedup.MaxSize = 1000000
	}

	if cfg.Dedup.Retention == 0 {
		cfg.Dedup.Retention = 24 * time.Hour
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":9092"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	config := zap.NewProductionConfig()
	config.Level = zapLevel
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}
