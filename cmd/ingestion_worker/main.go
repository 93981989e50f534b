package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docqa/internal/config"
	"docqa/internal/database/kafka"
	"docqa/internal/database/milvus"
	"docqa/internal/database/minio"
	"docqa/internal/database/mongo"
	"docqa/internal/database/mysql"
	"docqa/internal/database/redis"
	"docqa/internal/embedding"
	"docqa/internal/extract"
	"docqa/internal/index"
	"docqa/internal/ingest"
	"docqa/internal/rag/chunker"
	"docqa/internal/rag/embedder"
	"docqa/internal/store/chunkstore"
	"docqa/internal/store/metastore"
	"docqa/pkg/circuitbreaker"
	"docqa/pkg/logger"
	"docqa/pkg/ratelimiter"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	flag.Parse()

	// 1. Load configuration and initialize logging.
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	appLogger := logger.New("ingestion_worker")
	appLogger.Info("Starting ingestion worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Connect the backing stores.
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	meta, err := metastore.NewGormStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize metadata store: %v", err)
	}

	mongoClient, err := mongo.GetClient(&cfg.Databases.Mongo)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	chunks, err := chunkstore.NewMongoStore(ctx,
		mongoClient.Database(cfg.Databases.Mongo.Database),
		cfg.Databases.Mongo.Collection,
		logger.New("chunkstore"))
	if err != nil {
		log.Fatalf("Failed to initialize chunk store: %v", err)
	}

	milvusClient, err := milvus.GetClient(ctx, &cfg.Databases.Milvus)
	if err != nil {
		log.Fatalf("Failed to connect to Milvus: %v", err)
	}
	vectorIndex, err := index.NewMilvusIndex(ctx, milvusClient,
		cfg.Databases.Milvus.Collection, cfg.Databases.Milvus.Dimension,
		logger.New("milvus_index"))
	if err != nil {
		log.Fatalf("Failed to initialize vector index: %v", err)
	}
	indexClient := index.NewClient(vectorIndex, chunks,
		newBreaker(cfg.Breaker), newBreaker(cfg.Breaker), logger.New("index"))

	minioClient, err := minio.GetClient(ctx, &cfg.Databases.MinIO)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}
	objects := ingest.NewMinioObjectStore(minioClient, cfg.Databases.MinIO.Bucket)

	redisClient, err := redis.GetClient(&cfg.Databases.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	locker := ingest.NewRedisLocker(redisClient)

	// 3. Build the ingestion pipeline.
	provider, err := embedding.NewFromConfig(ctx, cfg.Embedding)
	if err != nil {
		log.Fatalf("Failed to create embedding provider: %v", err)
	}
	limiter := ratelimiter.NewTokenBucket(cfg.Embedding.RatePerSec, cfg.Embedding.Burst)
	coordinator := embedder.New(provider, limiter, embedder.Config{
		MaxBatchSize: cfg.Embedding.MaxBatchSize,
		MaxAttempts:  cfg.Embedding.MaxAttempts,
	}, logger.New("embedder"))

	chunkEngine := chunker.New(chunker.Config{
		TargetSize: cfg.Chunking.TargetSize,
		MinSize:    cfg.Chunking.MinSize,
		MaxSize:    cfg.Chunking.MaxSize,
		Overlap:    cfg.Chunking.Overlap,
	})

	orchestrator := ingest.NewOrchestrator(meta, chunks, indexClient, objects,
		extract.NewRegistry(), chunkEngine, coordinator, locker, cfg.Ingest, logger.New("orchestrator"))

	// 4. Consume the ingestion topic until interrupted.
	if err := kafka.EnsureTopic(&cfg.Databases.Kafka); err != nil {
		log.Fatalf("Failed to ensure ingestion topic: %v", err)
	}
	reader := kafka.NewReader(&cfg.Databases.Kafka)
	writer, err := kafka.GetWriter(&cfg.Databases.Kafka)
	if err != nil {
		log.Fatalf("Failed to create Kafka writer: %v", err)
	}
	worker := ingest.NewWorker(reader, orchestrator, ingest.NewKafkaPublisher(writer), logger.New("worker"))

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			appLogger.WithError(err).Error("Worker stopped with error")
		}
	}

	if err := reader.Close(); err != nil {
		appLogger.WithError(err).Warn("Kafka reader close failed")
	}
	_ = redis.Close()
	_ = mongo.Close(context.Background())
	_ = milvus.Close()
	_ = mysql.Close()
	appLogger.Info("Stopped")
}

func newBreaker(cfg config.BreakerConfig) circuitbreaker.CircuitBreaker {
	if !cfg.Enabled {
		return circuitbreaker.NewNoop()
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		timeout = 30 * time.Second
	}
	return circuitbreaker.New(cfg.FailureThreshold, cfg.SuccessThreshold, timeout)
}
