// Command docflow runs the document ingestion pipeline.
//
// It lists PDF objects from an S3 bucket, parses each through the hosted
// parse service, and publishes the extracted page chunks to a Kafka topic. A
// background consumer subscribes to the inbound topic, deserializes each
// message against the schema registry, and inserts the record into MongoDB.
// The process runs until SIGINT/SIGTERM, then shuts both units down
// gracefully.
//
// Usage:
//
//	go run ./cmd/docflow [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/streamparse/docflow/internal/consumer"
	"github.com/streamparse/docflow/internal/lister"
	"github.com/streamparse/docflow/internal/parser"
	"github.com/streamparse/docflow/internal/pipeline"
	"github.com/streamparse/docflow/internal/publisher"
	"github.com/streamparse/docflow/pkg/config"
	"github.com/streamparse/docflow/pkg/health"
	"github.com/streamparse/docflow/pkg/kafka"
	"github.com/streamparse/docflow/pkg/logger"
	"github.com/streamparse/docflow/pkg/metrics"
	"github.com/streamparse/docflow/pkg/mongodb"
	"github.com/streamparse/docflow/pkg/objectstore"
	"github.com/streamparse/docflow/pkg/postgres"
	"github.com/streamparse/docflow/pkg/redis"
	"github.com/streamparse/docflow/pkg/schemaregistry"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	// Local .env files are optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	runID := uuid.NewString()
	slog.Info("starting docflow pipeline",
		"run_id", runID,
		"bucket", cfg.S3.Bucket,
		"prefix", cfg.S3.Prefix,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := objectstore.New(ctx, cfg.S3)
	if err != nil {
		slog.Error("failed to create object store client", "error", err)
		os.Exit(1)
	}

	mongo, err := mongodb.New(ctx, cfg.Mongo)
	if err != nil {
		slog.Error("failed to connect to mongodb", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongo.Close(closeCtx); err != nil {
			slog.Error("mongodb close error", "error", err)
		}
	}()
	slog.Info("connected to mongodb", "database", cfg.Mongo.Database, "collection", cfg.Mongo.Collection)

	checker := health.NewChecker()
	checker.Register("mongodb", health.PingCheck(mongo.Ping))

	var dedup consumer.DedupStore
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		checker.Register("redis", health.PingCheck(rdb.Ping))
		dedup = rdb
		slog.Info("dedup store enabled", "addr", cfg.Redis.Addr)
	}

	var ledger *publisher.Ledger
	if cfg.Ledger.Enabled {
		db, err := postgres.New(cfg.Ledger.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres ledger", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checker.Register("postgres", health.PingCheck(db.Ping))
		ledger = publisher.NewLedger(db).WithRunID(runID)
		slog.Info("document ledger enabled")
	} else {
		ledger = publisher.NewLedger(nil).WithRunID(runID)
	}

	var m *metrics.Metrics
	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		m = metrics.New()
		mux := http.NewServeMux()
		mux.HandleFunc("GET /health/live", checker.LiveHandler())
		mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, mux)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.ProduceTopic)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.ProduceTopic)

	var dlqProducer consumer.Producer
	if cfg.Consumer.FailurePolicy == config.FailurePolicyDeadLetter {
		dlq := kafka.NewProducer(cfg.Kafka, cfg.Consumer.DeadLetterTopic)
		defer dlq.Close()
		dlqProducer = dlq
		slog.Info("dead-letter producer initialized", "topic", cfg.Consumer.DeadLetterTopic)
	}

	registry := schemaregistry.NewClient(cfg.Registry)
	ingestor := consumer.New(
		cfg.Consumer,
		schemaregistry.NewDeserializer(registry),
		mongo,
		dedup,
		dlqProducer,
		m,
	)
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.ConsumeTopic, ingestor.Handler())
	slog.Info("kafka consumer initialized",
		"topic", cfg.Kafka.ConsumeTopic,
		"group", cfg.Kafka.ConsumerGroup,
		"failure_policy", cfg.Consumer.FailurePolicy,
	)

	coordinator := pipeline.NewCoordinator(
		runID,
		lister.New(store, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Extension),
		parser.New(cfg.Parser),
		publisher.New(producer, ledger, m),
		kafkaConsumer,
		ledger,
		m,
	)

	if err := coordinator.Run(ctx); err != nil {
		slog.Error("pipeline error", "error", err)
	}

	if shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
	slog.Info("docflow pipeline stopped")
}
