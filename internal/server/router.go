package server

import (
	"net/http"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/auth"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/config"
	applog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/metrics"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/mw"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/service"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/store"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/ws"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Deps 是路由所需的全部依赖，由 main 组装。
type Deps struct {
	Config    config.Config
	Store     store.Store
	Hub       *ws.Hub
	Users     *service.UserService
	Rooms     *service.RoomService
	Discovery *service.DiscoveryService
	Messages  *service.MessageService
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(applog.GinMiddleware())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(d.Config.Env))
	// 控制单个 IP+路由的速率
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) {
		if err := d.Store.Ping(c.Request.Context()); err != nil {
			log.Warn().Err(err).Msg("health check: store unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(d.Users, d.Rooms, d.Discovery, d.Messages)
	api := r.Group("/api/v1")
	api.POST("/auth/anonymous", h.SignInAnonymous)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(d.Config))
	authed.GET("/rooms/nearby", h.NearbyRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/rooms/:id/messages", h.SendMessage)
	authed.POST("/rooms/:id/messages/:mid/report", h.ReportMessage)
	authed.GET("/reports/:id", h.GetReport)

	r.GET("/ws", ws.Serve(d.Hub, d.Discovery, d.Messages, d.Config))
	return r
}
