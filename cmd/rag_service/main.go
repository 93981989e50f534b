package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"docqa/internal/api"
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
	"docqa/internal/llm"
	"docqa/internal/rag/assembler"
	"docqa/internal/rag/chunker"
	"docqa/internal/rag/embedder"
	"docqa/internal/rag/search"
	"docqa/internal/service"
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
	appLogger := logger.New("rag_service")
	appLogger.Info("Starting document service...")

	ctx := context.Background()

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

	writer, err := kafka.GetWriter(&cfg.Databases.Kafka)
	if err != nil {
		log.Fatalf("Failed to connect to Kafka: %v", err)
	}
	queue := ingest.NewKafkaPublisher(writer)

	// 3. Build the retrieval pipeline.
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

	searchEngine := search.NewEngine(coordinator, indexClient, chunks, meta, cfg.Search, logger.New("search"))
	asm := assembler.New(newMeasurer(cfg), cfg.Assembler, logger.New("assembler"))

	submitter := ingest.NewSubmitter(meta, objects, queue, logger.New("submitter"))
	orchestrator := ingest.NewOrchestrator(meta, chunks, indexClient, objects,
		extract.NewRegistry(), chunkEngine, coordinator, locker, cfg.Ingest, logger.New("orchestrator"))

	var generator llm.LLM
	if cfg.LLM.Enabled {
		generator, err = llm.NewFromConfig(ctx, cfg.LLM)
		if err != nil {
			log.Fatalf("Failed to create llm provider: %v", err)
		}
	}

	svc := service.New(meta, submitter, orchestrator, searchEngine, asm, generator, logger.New("service"))

	// 4. Serve HTTP.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.RegisterRoutes(router, api.NewAPI(svc, cfg.Server.MaxUploadBytes, logger.New("api")))

	server := &http.Server{Addr: cfg.Server.Address, Handler: router}
	go func() {
		appLogger.WithField("address", cfg.Server.Address).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to serve HTTP: %v", err)
		}
	}()

	// 5. Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("HTTP shutdown did not finish cleanly")
	}
	if err := kafka.Close(); err != nil {
		appLogger.WithError(err).Warn("Kafka writer close failed")
	}
	_ = redis.Close()
	_ = mongo.Close(shutdownCtx)
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

func newMeasurer(cfg *config.AppConfig) assembler.Measurer {
	if cfg.Chunking.UseTokens {
		m, err := assembler.NewTokenMeasurer("cl100k_base")
		if err == nil {
			return m
		}
		log.Printf("token measurer unavailable, falling back to characters: %v", err)
	}
	return assembler.CharMeasurer{}
}
