package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appoutbox "exodrive/internal/app/outbox"
	"exodrive/internal/app/services/messaging"
	domainlistings "exodrive/internal/domain/listings"
	domainmessaging "exodrive/internal/domain/messaging"
	domainuser "exodrive/internal/domain/user"
	"exodrive/internal/infra/broker/kafka"
	"exodrive/internal/infra/config"
	mongodb "exodrive/internal/infra/db/mongo"
	ginserver "exodrive/internal/infra/http/gin"
	"exodrive/internal/infra/notify"
	"exodrive/internal/infra/obs"
	infraoutbox "exodrive/internal/infra/outbox"
	"exodrive/internal/infra/realtime"
	"exodrive/internal/infra/security"
	"exodrive/internal/infra/storage/memory"
	"exodrive/internal/infra/storage/scylla"
)

type outboxStore interface {
	appoutbox.Outbox
	infraoutbox.Store
}

type stores struct {
	conversations domainmessaging.ConversationRepository
	messages      domainmessaging.MessageRepository
	users         domainuser.Repository
	listings      domainlistings.Repository
	outbox        outboxStore
	checks        []obs.Check
	closers       []func(context.Context)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev", "info")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err, "store", cfg.Store)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, closeFn := range st.closers {
			closeFn(closeCtx)
		}
	}()

	var broker realtime.Broker
	if cfg.RedisAddr != "" {
		client, err := realtime.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("redis init failed", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
		defer client.Close()
		redisBroker := realtime.NewRedisBroker(client, cfg.RedisChannel, logger)
		broker = redisBroker
		st.checks = append(st.checks, obs.Check{Name: "redis", Ping: redisBroker.Ping})
	} else {
		logger.Info("redis not configured, realtime fan-out stays in-process")
	}
	hub := realtime.NewHub(broker, logger)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("realtime hub stopped", "error", err)
		}
	}()

	// events are only recorded when a relay drains them
	var eventOutbox appoutbox.Outbox
	if len(cfg.KafkaBrokers) > 0 {
		eventOutbox = st.outbox
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, "exodrive")
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		hostname, _ := os.Hostname()
		worker := &infraoutbox.Worker{
			Store:       st.outbox,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			ID:          hostname,
			Backoff:     cfg.RetryBackoff,
			Logger:      logger,
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	} else {
		logger.Info("kafka not configured, integration events disabled")
	}

	service := &messaging.Service{
		Conversations: st.conversations,
		Messages:      st.messages,
		Users:         st.users,
		Listings:      st.listings,
		Realtime:      hub,
		Notifier:      notify.New(cfg.ResendAPIKey, cfg.EmailFrom, cfg.AppBaseURL, logger),
		Outbox:        eventOutbox,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        logger,
	}

	verifier, err := security.NewTokenVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Error("token verifier init failed", "error", err)
		os.Exit(1)
	}

	handlers := ginserver.Handlers{
		Messages: ginserver.MessageHandler{Service: service, Logger: logger},
		Realtime: ginserver.RealtimeHandler{
			Sockets:  realtime.NewServer(hub, service, cfg.WSAllowedOrigins),
			Verifier: verifier,
			Logger:   logger,
		},
		AuthMiddleware: ginserver.AuthMiddleware{Verifier: verifier, Logger: logger},
	}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: st.checks}, handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("exodrive starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.Store)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("exodrive stopped")
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}
	var db *mongodb.Client
	if cfg.MongoURI != "" && cfg.Store != config.StoreMemory {
		client, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		db = client
		st.checks = append(st.checks, obs.Check{Name: "mongo", Ping: client.Ping})
		st.closers = append(st.closers, func(ctx context.Context) { _ = client.Close(ctx) })
	}

	if db != nil {
		st.users = mongodb.NewUserDirectory(db.DB)
		st.listings = mongodb.NewListingDirectory(db.DB)
		box, err := infraoutbox.NewMongoStore(ctx, db.DB)
		if err != nil {
			return nil, err
		}
		st.outbox = box
	} else {
		users := memory.NewUserRepository()
		listings := memory.NewListingRepository()
		if err := memory.LoadFixtures(ctx, cfg.FixturesPath, users, listings, logger); err != nil {
			return nil, err
		}
		st.users = users
		st.listings = listings
		st.outbox = memory.NewOutbox()
	}

	switch cfg.Store {
	case config.StoreMongo:
		conversations, err := mongodb.NewConversationRepository(ctx, db.DB)
		if err != nil {
			return nil, err
		}
		messages, err := mongodb.NewMessageRepository(ctx, db.DB)
		if err != nil {
			return nil, err
		}
		st.conversations = conversations
		st.messages = messages
	case config.StoreScylla:
		session, err := scylla.NewSession(ctx, cfg.Scylla, logger)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func(context.Context) { session.Close() })
		store := scylla.NewStore(session, logger)
		st.conversations = store.Conversations()
		st.messages = store.Messages()
	default:
		st.conversations = memory.NewConversationStore()
		st.messages = memory.NewMessageStore()
	}
	return st, nil
}
