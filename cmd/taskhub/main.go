package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/hub"
	"taskboard/internal/config"
	"taskboard/storage"
)

func main() {
	config.ConfigureLogging()

	redisOpts, err := config.RedisOptions(os.Getenv("REDIS_CONNECTION_STRING"))
	if err != nil {
		log.Fatalf("redis config: %v", err)
	}
	rc := redis.NewClient(redisOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store storage.Store
		queue storage.Queue
	)
	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		tasksTable := config.String("TASKS_TABLE", "tasks")
		transitionsTable := config.String("TRANSITIONS_TABLE", "transitions")
		prefix := config.String("DISPATCH_QUEUE_PREFIX", "dispatch")
		queues := make([]string, 0, len(storage.Priorities))
		for _, p := range storage.Priorities {
			queues = append(queues, storage.QueueName(prefix, p))
		}
		if err := storage.Provision(ctx, connStr, []string{tasksTable, transitionsTable}, queues); err != nil {
			log.Fatalf("provision storage: %v", err)
		}
		ts, err := storage.NewTableStore(connStr, tasksTable, transitionsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		qd, err := storage.NewQueueDispatcher(connStr, prefix)
		if err != nil {
			log.Fatalf("queue: %v", err)
		}
		store, queue = ts, qd
		log.Info("using table storage")
	} else {
		store, queue = storage.NewRedisStore(rc), storage.NewRedisQueue(rc)
		log.Info("using redis storage")
	}

	var auth *hub.Auth
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			log.Fatal("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		auth = hub.NewTestAuth(secret)
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = hub.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	h, err := hub.New(hub.Config{
		Store:        store,
		Queue:        queue,
		Auth:         auth,
		Redis:        rc,
		Deduper:      hub.NewRedisDeduper(rc, config.Duration("DEDUPER_TTL", 24*time.Hour)),
		PendingLimit: config.Int("PENDING_LIMIT", hub.MaxPendingAccepted),
		Logger:       log.StandardLogger(),
	})
	if err != nil {
		log.Fatalf("hub: %v", err)
	}
	go func() {
		if err := h.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("group relay stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	h.Register(e)

	go func() {
		<-ctx.Done()
		if err := e.Shutdown(context.Background()); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	listenAddr := ":" + config.String("HUB_PORT", "9000")
	if err := e.Start(listenAddr); err != nil && ctx.Err() == nil {
		log.Fatalf("server: %v", err)
	}
}
