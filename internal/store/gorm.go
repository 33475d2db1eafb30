package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 基于 gorm 的持久化实现（Postgres / SQLite）。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// unavailable 把驱动层错误归类为 StoreUnavailable，保留原始信息。
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, errs.ErrStoreUnavailable, err)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *GormStore) CreateRoom(ctx context.Context, room *models.Chatroom) error {
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return unavailable("create room", err)
	}
	return nil
}

func (s *GormStore) GetRoom(ctx context.Context, id string) (models.Chatroom, error) {
	var room models.Chatroom
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Chatroom{}, errs.ErrRoomNotFound
		}
		return models.Chatroom{}, unavailable("get room", err)
	}
	return room, nil
}

func (s *GormStore) ListRooms(ctx context.Context) ([]models.Chatroom, error) {
	var rooms []models.Chatroom
	if err := s.db.WithContext(ctx).Order("id asc").Find(&rooms).Error; err != nil {
		return nil, unavailable("list rooms", err)
	}
	return rooms, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errs.Invalid("message id %s already exists", msg.ID)
		}
		return unavailable("create message", err)
	}
	return nil
}

func (s *GormStore) GetMessage(ctx context.Context, roomID, id string) (models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).Where("id = ? AND chatroom_id = ?", id, roomID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Message{}, errs.ErrMessageNotFound
		}
		return models.Message{}, unavailable("get message", err)
	}
	return msg, nil
}

func (s *GormStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("chatroom_id = ?", roomID).
		Order("created_at asc").Order("id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	return msgs, nil
}

func (s *GormStore) UpdateMessageStatus(ctx context.Context, id string, status models.ModerationStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return unavailable("update message status", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrMessageNotFound
	}
	return nil
}

// UpsertReport 在事务中完成“查找或创建”。并发的首次举报由唯一键兜底，
// 冲突方回退为递增已有记录。
func (s *GormStore) UpsertReport(ctx context.Context, report *models.Report) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Report
		err := tx.Where("reporter_id = ? AND message_id = ?", report.ReporterID, report.MessageID).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			return bumpReport(tx, existing.ID, report)
		}
		if report.ReportCount == 0 {
			report.ReportCount = 1
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(report)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			existing = models.Report{}
			if err := tx.Where("reporter_id = ? AND message_id = ?", report.ReporterID, report.MessageID).
				First(&existing).Error; err != nil {
				return err
			}
			return bumpReport(tx, existing.ID, report)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, unavailable("upsert report", err)
	}
	return created, nil
}

func bumpReport(tx *gorm.DB, id string, out *models.Report) error {
	err := tx.Model(&models.Report{}).Where("id = ?", id).Updates(map[string]interface{}{
		"report_count": gorm.Expr("report_count + 1"),
		"updated_at":   time.Now().UTC(),
	}).Error
	if err != nil {
		return err
	}
	var fresh models.Report
	if err := tx.Where("id = ?", id).First(&fresh).Error; err != nil {
		return err
	}
	*out = fresh
	return nil
}

func (s *GormStore) GetReport(ctx context.Context, id string) (models.Report, error) {
	var rep models.Report
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rep).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Report{}, errs.ErrReportNotFound
		}
		return models.Report{}, unavailable("get report", err)
	}
	return rep, nil
}

func (s *GormStore) UpdateReport(ctx context.Context, report *models.Report) error {
	res := s.db.WithContext(ctx).Model(&models.Report{}).Where("id = ?", report.ID).Updates(map[string]interface{}{
		"state":       report.State,
		"is_toxic":    report.IsToxic,
		"reason":      report.Reason,
		"updated_at":  report.UpdatedAt,
		"resolved_at": report.ResolvedAt,
	})
	if res.Error != nil {
		return unavailable("update report", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrReportNotFound
	}
	return nil
}
