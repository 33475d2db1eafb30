// modtail 订阅审核事件通道，把每个事件打成一行结构化日志，供运维实时查看。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/config"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/events"
	clog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if cfg.RedisAddress == "" {
		log.Fatal().Msg("redis.address is not configured, nothing to tail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rp, err := events.NewRedisPublisher(ctx, events.RedisConfig{Address: cfg.RedisAddress, Password: cfg.RedisPassword})
	if err != nil {
		log.Fatal().Err(err).Str("address", cfg.RedisAddress).Msg("connect redis")
	}
	defer rp.Close()

	ch, err := rp.Subscribe(ctx, cfg.Moderation.EventChannel)
	if err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}
	log.Info().Str("channel", cfg.Moderation.EventChannel).Msg("tailing moderation events")
	tail(ch, log.Logger)
}

// tail 一直读到 ch 关闭，返回处理的事件数。
func tail(ch <-chan *events.Event, logger zerolog.Logger) int {
	n := 0
	for evt := range ch {
		logEvent(logger, evt)
		n++
	}
	return n
}

func logEvent(logger zerolog.Logger, evt *events.Event) {
	e := logger.Info().
		Str("type", evt.Type).
		Str("room_id", evt.RoomID).
		Time("at", evt.Timestamp)

	var rep models.Report
	if err := evt.UnmarshalPayload(&rep); err != nil || rep.ID == "" {
		e.RawJSON("payload", evt.Payload).Msg("event")
		return
	}
	e = e.Str("report_id", rep.ID).
		Str("message_id", rep.MessageID).
		Str("state", string(rep.State))
	if rep.State == models.ReportResolved {
		e = e.Bool("toxic", rep.IsToxic).Str("reason", rep.Reason)
	}
	e.Msg("report")
}
