package store

import (
	"context"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
)

// RoomStore 保存房间记录。房间创建后不可变。
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Chatroom) error
	GetRoom(ctx context.Context, id string) (models.Chatroom, error)
	ListRooms(ctx context.Context) ([]models.Chatroom, error)
}

// MessageStore 保存消息记录，ListMessages 按 (created_at, id) 升序返回。
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, roomID, id string) (models.Message, error)
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status models.ModerationStatus) error
}

// ReportStore 保存举报记录，(reporter_id, message_id) 唯一。
type ReportStore interface {
	// UpsertReport 原子地创建举报；若同一举报人已举报过该消息，
	// 则递增 report_count 并返回已有记录，created 为 false。
	UpsertReport(ctx context.Context, report *models.Report) (created bool, err error)
	GetReport(ctx context.Context, id string) (models.Report, error)
	UpdateReport(ctx context.Context, report *models.Report) error
}

// Store 是外部文档存储的抽象。
type Store interface {
	RoomStore
	MessageStore
	ReportStore
	Ping(ctx context.Context) error
}
