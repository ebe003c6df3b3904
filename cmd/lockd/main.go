package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jukezispilled/lockd/internal/access"
	"github.com/jukezispilled/lockd/internal/api"
	"github.com/jukezispilled/lockd/internal/cache"
	"github.com/jukezispilled/lockd/internal/config"
	"github.com/jukezispilled/lockd/internal/events"
	"github.com/jukezispilled/lockd/internal/httpclient"
	"github.com/jukezispilled/lockd/internal/logger"
	"github.com/jukezispilled/lockd/internal/media"
	"github.com/jukezispilled/lockd/internal/metrics"
	"github.com/jukezispilled/lockd/internal/middleware"
	"github.com/jukezispilled/lockd/internal/repository"
	"github.com/jukezispilled/lockd/internal/service"
	"github.com/jukezispilled/lockd/internal/solana"
	"github.com/jukezispilled/lockd/internal/telemetry"
	"github.com/jukezispilled/lockd/internal/videoroom"
	"github.com/jukezispilled/lockd/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func main() {
	_ = godotenv.Load()

	path := os.Getenv("LOCKD_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Otel.Endpoint, cfg.Otel.ServiceName)
	if err != nil {
		log.Fatalw("tracing init failed", "error", err)
	}
	metrics.Init()

	// Mongo
	mc, err := repository.Connect(ctx, cfg.Mongo.URI, cfg.MongoTimeout)
	if err != nil {
		log.Fatalw("mongo connect failed", "error", err)
	}
	db := mc.Database(cfg.Mongo.Database)
	if err := repository.EnsureIndexes(ctx, db, cfg.ImageTTL); err != nil {
		log.Fatalw("ensure indexes failed", "error", err)
	}
	chatRepo := repository.NewChatRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	imageRepo := repository.NewTokenImageRepository(db)

	ready := map[string]api.Checker{
		"mongo": func(ctx context.Context) error { return mc.Ping(ctx, readpref.Primary()) },
	}

	// Redis is optional: without it images skip the hot tier, sends are not
	// rate limited and live fan-out stays on this node.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalw("redis connect failed", "addr", cfg.Redis.Addr, "error", err)
		}
		ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		log.Infow("kafka events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// outbound
	upstream := func(name string) *httpclient.Client {
		return httpclient.New(httpclient.Config{
			Name:               name,
			Timeout:            cfg.OracleTimeout,
			RetryMaxElapsed:    cfg.RetryMaxElapsed,
			BreakerMaxFailures: cfg.Solana.BreakerMaxFailures,
			BreakerOpen:        cfg.BreakerOpen,
		}, log)
	}
	chain := solana.NewClient(cfg.RPCEndpoint(), upstream("solana"), cfg.OracleTimeout, log)

	// access
	evaluator := access.NewEvaluator(chain, cfg.OracleTimeout, log)
	secret := cfg.Access.PassSecret
	if secret == "" {
		// passes then only verify on the node that issued them
		secret = uuid.NewString() + uuid.NewString()
		log.Warnw("access.pass_secret not set, using a per-process secret")
	}
	passes := access.NewPassIssuer(secret, cfg.PassTTL)

	// services
	hub := ws.NewHub(nilIfUnset(rdb), cfg.Redis.Prefix, log)
	chatSvc := service.NewChatService(chatRepo, publisher, log)
	opts := []service.MessageServiceOption{service.WithEvents(publisher), service.WithBroadcaster(hub)}
	if cfg.Mongo.Transactions {
		opts = append(opts, service.WithTransactions(repository.NewTransactor(mc)))
	}
	if cfg.Access.EnforceOnSend {
		opts = append(opts, service.WithGuard(access.NewGuard(evaluator, passes)))
	}
	msgSvc := service.NewMessageService(chatRepo, msgRepo, log, opts...)

	var hot service.ImageTier
	if rdb != nil {
		hot = cache.NewImageCache(rdb, cfg.Redis.Prefix, cfg.ImageTTL)
	}
	imageSvc := service.NewTokenImageService(hot, imageRepo, chain, cfg.Images.MaxBatch, log)

	rooms := videoroom.NewClient(videoroom.Config{
		BaseURL:         cfg.Daily.APIURL,
		APIKey:          cfg.Daily.APIKey,
		MaxParticipants: cfg.Daily.MaxParticipants,
		RoomTTL:         cfg.RoomTTL,
	}, upstream("daily"), log)

	var store media.ObjectStore
	if cfg.S3.Bucket != "" {
		s3, err := media.NewS3Store(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Endpoint, cfg.S3.PublicRead)
		if err != nil {
			log.Fatalw("s3 init failed", "bucket", cfg.S3.Bucket, "error", err)
		}
		store = s3
	}
	uploader := media.NewUploader(upstream("ipfs"), cfg.IPFS.UploadURL, store, cfg.S3.ThumbnailWidth, log)

	// limiters
	ipLimiter := middleware.NewIPRateLimiter(ctx, cfg.RateLimit.IPPerMinute, cfg.RateLimit.IPBurst, log)
	deps := api.Deps{
		Chats:        chatSvc,
		Messages:     msgSvc,
		Evaluator:    evaluator,
		Passes:       passes,
		Images:       imageSvc,
		Rooms:        rooms,
		Uploader:     uploader,
		Stream:       ws.NewHandler(ctx, hub, chatSvc, evaluator, log),
		IPLimiter:    ipLimiter.Handler(),
		Ready:        ready,
		BodyLimit:    cfg.App.BodyLimitMB * 1024 * 1024,
		AllowOrigins: os.Getenv("LOCKD_ALLOW_ORIGINS"),
	}
	if rdb != nil {
		send := middleware.NewWindowLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.SendLimit, cfg.SendWindow, log)
		deps.SendLimiter = send.MiddlewareByKey(middleware.SendKey)
	}
	app := api.NewServer(deps, log)

	go hub.Run(ctx)

	go func() {
		log.Infow("starting lockd", "addr", cfg.Addr(), "env", cfg.App.Env)
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Fatalw("listen failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown requested")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(timeoutCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	if err := publisher.Close(); err != nil {
		log.Warnw("event publisher close", "error", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	_ = mc.Disconnect(timeoutCtx)
	if err := shutdownTracing(timeoutCtx); err != nil {
		log.Warnw("tracing shutdown", "error", err)
	}
	log.Info("shutdown completed")
}

// nilIfUnset keeps a nil *redis.Client from becoming a non-nil interface.
func nilIfUnset(rdb *redis.Client) redis.UniversalClient {
	if rdb == nil {
		return nil
	}
	return rdb
}
