package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/auth"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/geo"
	applog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/service"
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	roomSvc *service.RoomService
	discSvc *service.DiscoveryService
	msgSvc  *service.MessageService
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, discSvc *service.DiscoveryService, msgSvc *service.MessageService) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc, discSvc: discSvc, msgSvc: msgSvc}
}

// fail 按错误类别写出 {"error": {"code", "message"}}。内部错误只返回笼统信息，
// 详情写日志并上报 Sentry。
func fail(c *gin.Context, err error) {
	status := errs.Status(err)
	code := errs.Kind(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		applog.Ctx(c.Request.Context()).Error().Err(err).Str("code", code).Msg("request failed")
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
		if code == "internal" {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}

func badPayload(c *gin.Context, err error) {
	fail(c, errs.Invalid("invalid payload: %v", err))
}

// SignInAnonymous 签发新的匿名身份。
func (h *Handler) SignInAnonymous(c *gin.Context) {
	res, err := h.userSvc.SignInAnonymous()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// parsePoint 从查询参数读取定位，缺失或无法解析时视为定位不可用。
func parsePoint(c *gin.Context) (*geo.Point, error) {
	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if latStr == "" || lngStr == "" {
		return nil, fmt.Errorf("%w: lat and lng are required", errs.ErrLocationUnavailable)
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lng, err2 := strconv.ParseFloat(lngStr, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: lat and lng must be numbers", errs.ErrLocationUnavailable)
	}
	p := geo.Point{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrLocationUnavailable, err)
	}
	return &p, nil
}

// NearbyRooms 返回包含当前位置的房间，按距离升序。
func (h *Handler) NearbyRooms(c *gin.Context) {
	p, err := parsePoint(c)
	if err != nil {
		fail(c, err)
		return
	}
	rooms, err := h.discSvc.Discover(c.Request.Context(), p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// CreateRoom 处理创建房间请求。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req service.CreateRoomInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	room, err := h.roomSvc.Create(c.Request.Context(), req, auth.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.roomSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// ListMessages 分页返回房间消息，limit 默认 50、最大 200，before_id 向前翻页。
func (h *Handler) ListMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fail(c, errs.Invalid("limit must be an integer"))
			return
		}
		limit = n
	}
	page, err := h.msgSvc.ListByRoom(c.Request.Context(), c.Param("id"), limit, c.Query("before_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// SendMessage 追加一条消息。客户端可带上自己生成的 UUID 作为 id 以便安全重试。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	msg, err := h.msgSvc.Send(c.Request.Context(), c.Param("id"), auth.GetUserID(c), req.Text, req.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// ReportMessage 提交举报，立即返回 pending 的举报记录，结案通过 GetReport 查询。
func (h *Handler) ReportMessage(c *gin.Context) {
	rep, err := h.msgSvc.Report(c.Request.Context(), c.Param("id"), c.Param("mid"), auth.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"report": rep})
}

func (h *Handler) GetReport(c *gin.Context) {
	rep, err := h.msgSvc.GetReport(c.Request.Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}
