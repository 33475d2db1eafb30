package models

import "time"

// ModerationStatus 是消息的审核状态，只由审核流水线修改。
type ModerationStatus string

const (
	StatusClean      ModerationStatus = "clean"
	StatusReported   ModerationStatus = "reported"
	StatusClassified ModerationStatus = "classified"
	StatusResolved   ModerationStatus = "resolved"
)

// ReportState 是举报的生命周期：pending → classified → resolved。
type ReportState string

const (
	ReportPending    ReportState = "pending"
	ReportClassified ReportState = "classified"
	ReportResolved   ReportState = "resolved"
)

type Chatroom struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Latitude  float64   `gorm:"not null" json:"latitude"`
	Longitude float64   `gorm:"not null" json:"longitude"`
	Radius    float64   `gorm:"not null" json:"radius"`
	CreatorID string    `gorm:"size:64;index;not null" json:"creator_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

type Message struct {
	ID                string           `gorm:"primaryKey;size:64" json:"id"`
	ChatroomID        string           `gorm:"index:idx_msg_room_order,priority:1;size:26;not null" json:"chatroom_id"`
	SenderID          string           `gorm:"size:64;index;not null" json:"sender_id"`
	SenderDisplayName string           `gorm:"size:64;not null" json:"sender_display_name"`
	Text              string           `gorm:"type:text;not null" json:"text"`
	CreatedAt         time.Time        `gorm:"index:idx_msg_room_order,priority:2;autoCreateTime:false" json:"created_at"`
	Status            ModerationStatus `gorm:"size:16;not null;default:clean" json:"status"`
}

// Before 判断 m 是否在 o 之前：先比时间戳，再用 ID 打破平局。
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

type Report struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	ReporterID     string      `gorm:"uniqueIndex:idx_report_reporter_msg,priority:1;size:64;not null" json:"reporter_id"`
	MessageID      string      `gorm:"uniqueIndex:idx_report_reporter_msg,priority:2;size:64;not null" json:"message_id"`
	ReportedUserID string      `gorm:"size:64;index;not null" json:"reported_user_id"`
	ChatroomID     string      `gorm:"size:26;index;not null" json:"chatroom_id"`
	State          ReportState `gorm:"size:16;index;not null" json:"state"`
	IsToxic        bool        `json:"is_toxic"`
	Reason         string      `gorm:"size:1000" json:"reason"`
	ReportCount    int         `gorm:"not null;default:1" json:"report_count"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}

// NearbyRoom 是发现结果中的一项，Distance 单位为米。
type NearbyRoom struct {
	Chatroom
	Distance     float64 `json:"distance"`
	DistanceText string  `json:"distance_text"`
}
