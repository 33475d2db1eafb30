package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/config"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/db"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/events"
	clog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/moderation"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/server"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/service"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/store"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/ws"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// main 函数负责加载配置、初始化日志与依赖，并托管所有后台循环的生命周期。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			log.Warn().Err(err).Msg("sentry init failed, error tracking disabled")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := openStore(cfg)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RedisAddress != "" {
		rp, err := events.NewRedisPublisher(ctx, events.RedisConfig{Address: cfg.RedisAddress, Password: cfg.RedisPassword})
		if err != nil {
			log.Warn().Err(err).Str("address", cfg.RedisAddress).Msg("redis unavailable, moderation events will not be published")
		} else {
			publisher = rp
		}
	}
	defer publisher.Close()

	var classifier moderation.Classifier
	if cfg.Moderation.ClassifierURL != "" {
		classifier = moderation.NewHTTPClassifier(cfg.Moderation.ClassifierURL, cfg.Moderation.APIKey, cfg.Moderation.Model, cfg.Moderation.Timeout)
		log.Info().Str("model", cfg.Moderation.Model).Msg("using remote classifier")
	} else {
		classifier = moderation.NewKeywordClassifier(nil)
		log.Info().Msg("no classifier endpoint configured, using keyword classifier")
	}

	hub := ws.NewHub(st, cfg.MessageMaxLength)
	pipeline := moderation.NewPipeline(st, classifier, hub, publisher, moderation.Options{
		Timeout: cfg.Moderation.Timeout,
		Channel: cfg.Moderation.EventChannel,
	})
	discovery := service.NewDiscoveryService(st, nil)
	if err := discovery.Sync(ctx); err != nil {
		log.Fatal().Err(err).Msg("initial room sync")
	}

	r := server.SetupRouter(server.Deps{
		Config:    cfg,
		Store:     st,
		Hub:       hub,
		Users:     service.NewUserService(cfg),
		Rooms:     service.NewRoomService(st, discovery, hub),
		Discovery: discovery,
		Messages:  service.NewMessageService(hub, pipeline),
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return discovery.Run(gctx, cfg.DiscoveryRefreshInterval) })
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}

	// 先停止接收举报并等待在途分类落库，再关闭房间
	pipeline.Close()
	hub.Close()
	log.Info().Msg("shutdown complete")
}

// openStore 按配置选择存储实现，数据库存储的读操作带有限重试。
func openStore(cfg config.Config) store.Store {
	if cfg.DatabaseDriver == "memory" {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return store.NewMemoryStore()
	}
	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	return store.WithReadRetry(store.NewGormStore(gdb), store.DefaultRetryPolicy)
}
