package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
)

// MemoryStore 是进程内实现，适合单实例开发环境与测试。
// 所有读写都返回副本，避免外部修改内部状态。
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]models.Chatroom
	messages map[string]models.Message
	byRoom   map[string][]string // roomID -> message ids
	reports  map[string]models.Report
	dedup    map[string]string // reporter|message -> report id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]models.Chatroom),
		messages: make(map[string]models.Message),
		byRoom:   make(map[string][]string),
		reports:  make(map[string]models.Report),
		dedup:    make(map[string]string),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateRoom(ctx context.Context, room *models.Chatroom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return errs.Invalid("room %s already exists", room.ID)
	}
	s.rooms[room.ID] = *room
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, id string) (models.Chatroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return models.Chatroom{}, errs.ErrRoomNotFound
	}
	return room, nil
}

func (s *MemoryStore) ListRooms(ctx context.Context) ([]models.Chatroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chatroom, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[msg.ChatroomID]; !ok {
		return errs.ErrRoomNotFound
	}
	if _, ok := s.messages[msg.ID]; ok {
		return errs.Invalid("message %s already exists", msg.ID)
	}
	s.messages[msg.ID] = *msg
	s.byRoom[msg.ChatroomID] = append(s.byRoom[msg.ChatroomID], msg.ID)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, roomID, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok || msg.ChatroomID != roomID {
		return models.Message{}, errs.ErrMessageNotFound
	}
	return msg, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRoom[roomID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *MemoryStore) UpdateMessageStatus(ctx context.Context, id string, status models.ModerationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return errs.ErrMessageNotFound
	}
	msg.Status = status
	s.messages[id] = msg
	return nil
}

func (s *MemoryStore) UpsertReport(ctx context.Context, report *models.Report) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := report.ReporterID + "|" + report.MessageID
	if id, ok := s.dedup[key]; ok {
		existing := s.reports[id]
		existing.ReportCount++
		existing.UpdatedAt = time.Now().UTC()
		s.reports[id] = existing
		*report = existing
		return false, nil
	}
	if report.ReportCount == 0 {
		report.ReportCount = 1
	}
	s.reports[report.ID] = *report
	s.dedup[key] = report.ID
	return true, nil
}

func (s *MemoryStore) GetReport(ctx context.Context, id string) (models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.reports[id]
	if !ok {
		return models.Report{}, errs.ErrReportNotFound
	}
	return rep, nil
}

func (s *MemoryStore) UpdateReport(ctx context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reports[report.ID]
	if !ok {
		return errs.ErrReportNotFound
	}
	// report_count 由 UpsertReport 维护，这里不覆盖
	cur.State = report.State
	cur.IsToxic = report.IsToxic
	cur.Reason = report.Reason
	cur.UpdatedAt = report.UpdatedAt
	cur.ResolvedAt = report.ResolvedAt
	s.reports[report.ID] = cur
	return nil
}
