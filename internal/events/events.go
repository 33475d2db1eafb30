package events

import (
	"context"
	"encoding/json"
	"time"
)

// 审核事件类型。
const (
	TypeReportSubmitted = "report_submitted"
	TypeReportDuplicate = "report_duplicate"
	TypeReportResolved  = "report_resolved"
)

// Event 是发布到事件总线上的消息信封。
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent 以当前时间构造事件。
func NewEvent(eventType, roomID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher 把事件发布到指定通道。
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
	Close() error
}

// NopPublisher 丢弃所有事件，未配置 Redis 时使用。
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, channel string, event *Event) error { return nil }

func (NopPublisher) Close() error { return nil }
