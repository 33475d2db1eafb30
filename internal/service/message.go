package service

import (
	"context"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/moderation"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/ws"
)

// MessageService 封装消息与举报相关的业务逻辑。
type MessageService struct {
	hub        *ws.Hub
	moderation *moderation.Pipeline
}

func NewMessageService(hub *ws.Hub, pipeline *moderation.Pipeline) *MessageService {
	return &MessageService{hub: hub, moderation: pipeline}
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// MessagePage 是一页消息，按 (created_at, id) 升序。NextBeforeID 用于继续向前翻页。
type MessagePage struct {
	Messages     []models.Message `json:"messages"`
	HasMore      bool             `json:"has_more"`
	NextBeforeID string           `json:"next_before_id,omitempty"`
}

// ListByRoom 返回 beforeID 之前（不含）最近的 limit 条消息；beforeID 为空时从最新一条开始。
// limit <= 0 取默认值，超过上限按上限处理。
func (s *MessageService) ListByRoom(ctx context.Context, roomID string, limit int, beforeID string) (*MessagePage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	rh, err := s.hub.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	msgs := rh.Messages()
	end := len(msgs)
	if beforeID != "" {
		end = -1
		for i, m := range msgs {
			if m.ID == beforeID {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, errs.Invalid("before_id %q is not a message in this room", beforeID)
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := &MessagePage{Messages: msgs[start:end], HasMore: start > 0}
	if page.HasMore {
		page.NextBeforeID = msgs[start].ID
	}
	return page, nil
}

// Send 追加一条消息，返回服务端接受后的消息。
func (s *MessageService) Send(ctx context.Context, roomID, senderID, text, clientID string) (models.Message, error) {
	rh, err := s.hub.Room(ctx, roomID)
	if err != nil {
		return models.Message{}, err
	}
	return rh.Append(ctx, ws.AppendRequest{ID: clientID, SenderID: senderID, Text: text})
}

// Report 举报房间内的一条消息。
func (s *MessageService) Report(ctx context.Context, roomID, messageID, reporterID string) (models.Report, error) {
	rh, err := s.hub.Room(ctx, roomID)
	if err != nil {
		return models.Report{}, err
	}
	for _, m := range rh.Messages() {
		if m.ID == messageID {
			return s.moderation.Submit(ctx, moderation.SubmitRequest{Message: m, ReporterID: reporterID})
		}
	}
	return models.Report{}, errs.ErrMessageNotFound
}

// Wait 等待举报结案。
func (s *MessageService) Wait(ctx context.Context, reportID string) (models.Report, error) {
	return s.moderation.Wait(ctx, reportID)
}

// GetReport 只允许举报人查看自己的举报，其他人看到的是不存在。
func (s *MessageService) GetReport(ctx context.Context, reportID, requesterID string) (models.Report, error) {
	rep, err := s.moderation.Get(ctx, reportID)
	if err != nil {
		return models.Report{}, err
	}
	if rep.ReporterID != requesterID {
		return models.Report{}, errs.ErrReportNotFound
	}
	return rep, nil
}
