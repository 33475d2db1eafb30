package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/auth"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/config"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/geo"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/identity"
	applog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/metrics"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Discoverer 根据会话当前位置给出附近房间。
type Discoverer interface {
	DiscoverSession(ctx context.Context, sess *session.Context) ([]models.NearbyRoom, error)
}

// Reporter 提交举报并等待其结案。
type Reporter interface {
	Report(ctx context.Context, roomID, messageID, reporterID string) (models.Report, error)
	Wait(ctx context.Context, reportID string) (models.Report, error)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// InboundFrame 是客户端发来的帧，按 Type 使用不同字段。
type InboundFrame struct {
	Type      string  `json:"type"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Reason    string  `json:"reason"`
	RoomID    string  `json:"room_id"`
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	MessageID string  `json:"message_id"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutboundFrame 是服务端下发的帧。
type OutboundFrame struct {
	Type    string              `json:"type"`
	RoomID  string              `json:"room_id,omitempty"`
	Seq     int                 `json:"seq,omitempty"`
	Message *models.Message     `json:"message,omitempty"`
	Rooms   []models.NearbyRoom `json:"rooms,omitempty"`
	Report  *models.Report      `json:"report,omitempty"`
	Notice  string              `json:"notice,omitempty"`
	Reason  string              `json:"reason,omitempty"`
	Online  int                 `json:"online,omitempty"`
	Error   *frameError         `json:"error,omitempty"`
}

// Client 是一个会话连接：一个 session.Context、至多一个房间订阅。
type Client struct {
	hub      *Hub
	disc     Discoverer
	reporter Reporter
	conn     *websocket.Conn
	send     chan []byte
	sess     *session.Context
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *Subscription // 只在 readPump 中读写
}

func Serve(h *Hub, disc Discoverer, rep Reporter, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = auth.BearerToken(c.Request)
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "missing token"}})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "invalid token"}})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		metrics.WsConnections.Inc()
		defer metrics.WsConnections.Dec()

		logger := applog.Ctx(c.Request.Context()).With().Str("user_id", claims.UserID).Logger()
		ctx, cancel := context.WithCancel(applog.WithLogger(context.Background(), logger))
		client := &Client{
			hub:      h,
			disc:     disc,
			reporter: rep,
			conn:     conn,
			send:     make(chan []byte, 256),
			sess:     session.New(session.Identity{UserID: claims.UserID, DisplayName: identity.DisplayName(claims.UserID)}, cfg.LocationMaxAge),
			logger:   logger,
			ctx:      ctx,
			cancel:   cancel,
		}
		logger.Info().Msg("websocket session opened")
		go client.writePump()
		client.readPump()
		logger.Info().Msg("websocket session closed")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.leave()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(64 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in InboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError(errs.Invalid("malformed frame"))
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in InboundFrame) {
	switch in.Type {
	case "location":
		if err := c.sess.SetLocation(geo.Point{Lat: in.Lat, Lng: in.Lng}, time.Now()); err != nil {
			c.sendError(err)
			return
		}
		c.discover()
	case "location_error":
		c.sess.SetLocationFailure(in.Reason)
		c.discover()
	case "join":
		c.join(in.RoomID)
	case "leave":
		c.leave()
	case "message":
		roomID := c.sess.RoomID()
		if roomID == "" {
			c.sendError(errs.Invalid("join a room first"))
			return
		}
		rh, err := c.hub.Room(c.ctx, roomID)
		if err != nil {
			c.sendError(err)
			return
		}
		// 成功时消息经订阅回到本连接，这里只回报错误
		if _, err := rh.Append(c.ctx, AppendRequest{ID: in.ID, SenderID: c.sess.UserID(), Text: in.Text}); err != nil {
			c.sendError(err)
		}
	case "report":
		c.report(in.MessageID)
	default:
		c.sendError(errs.Invalid("unknown frame type %q", in.Type))
	}
}

// discover 在每次定位更新后重新计算附近房间，不缓存结果。
func (c *Client) discover() {
	rooms, err := c.disc.DiscoverSession(c.ctx, c.sess)
	if err != nil {
		if errs.Kind(err) == "location_unavailable" {
			c.enqueue(OutboundFrame{Type: "location_unavailable", Reason: err.Error()})
			return
		}
		c.sendError(err)
		return
	}
	if rooms == nil {
		rooms = []models.NearbyRoom{}
	}
	c.enqueue(OutboundFrame{Type: "rooms", Rooms: rooms})
}

func (c *Client) join(roomID string) {
	if roomID == "" {
		c.sendError(errs.Invalid("room_id is required"))
		return
	}
	rh, err := c.hub.Room(c.ctx, roomID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.leave()
	sub := rh.Subscribe(c.ctx)
	c.sub = sub
	c.sess.Join(roomID)
	c.enqueue(OutboundFrame{Type: "joined", RoomID: roomID, Online: rh.Online()})
	go c.forward(roomID, sub)
}

func (c *Client) leave() {
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	c.sess.Leave()
}

// forward 把订阅事件写入发送队列。队列满时阻塞，只拖慢本订阅的游标。
func (c *Client) forward(roomID string, sub *Subscription) {
	for ev := range sub.C {
		msg := ev.Message
		if !c.enqueue(OutboundFrame{Type: ev.Type, RoomID: roomID, Seq: ev.Seq, Message: &msg}) {
			return
		}
	}
}

func (c *Client) report(messageID string) {
	roomID := c.sess.RoomID()
	if roomID == "" || messageID == "" {
		c.sendError(errs.Invalid("join a room and name a message to report"))
		return
	}
	rep, err := c.reporter.Report(c.ctx, roomID, messageID, c.sess.UserID())
	if err != nil {
		c.sendError(err)
		return
	}
	c.enqueue(OutboundFrame{Type: "report", Report: &rep, Notice: reportNotice(rep)})
	if rep.State == models.ReportResolved {
		return
	}
	go func() {
		final, err := c.reporter.Wait(c.ctx, rep.ID)
		if err != nil {
			return
		}
		c.enqueue(OutboundFrame{Type: "report", Report: &final, Notice: reportNotice(final)})
	}()
}

func reportNotice(r models.Report) string {
	const thanks = "Thank you for your report. Our team will review this content."
	if r.State == models.ReportResolved && r.IsToxic {
		return thanks + " Reason: " + r.Reason
	}
	return thanks
}

func (c *Client) sendError(err error) {
	kind := errs.Kind(err)
	if kind == "internal" || kind == "store_unavailable" {
		c.logger.Error().Err(err).Msg("websocket request failed")
	}
	c.enqueue(OutboundFrame{Type: "error", Error: &frameError{Code: kind, Message: err.Error()}})
}

// enqueue 在连接关闭前阻塞写入发送队列，返回 false 表示连接已结束。
func (c *Client) enqueue(f OutboundFrame) bool {
	b, err := json.Marshal(f)
	if err != nil {
		c.logger.Error().Err(err).Str("type", f.Type).Msg("marshal frame")
		return true
	}
	select {
	case c.send <- b:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
