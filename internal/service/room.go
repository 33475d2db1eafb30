package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/geo"
	applog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/store"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/ws"
	"github.com/oklog/ulid/v2"
)

const (
	MinRadius     = 500.0
	MaxRadius     = 20000.0
	DefaultRadius = 5000.0
	MaxNameLength = 50
)

// RoomService 封装房间相关的业务逻辑。
type RoomService struct {
	store     store.RoomStore
	discovery *DiscoveryService
	hub       *ws.Hub
	now       func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewRoomService(s store.RoomStore, discovery *DiscoveryService, hub *ws.Hub) *RoomService {
	return &RoomService{store: s, discovery: discovery, hub: hub, now: time.Now}
}

// CreateRoomInput 是创建房间的请求。Radius 为 0 时使用默认半径。
type CreateRoomInput struct {
	Name   string  `json:"name"`
	Radius float64 `json:"radius"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	models.Chatroom
	Online int `json:"online"`
}

func validateRoom(in *CreateRoomInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(in.Name); n == 0 || n > MaxNameLength {
		return errs.Invalid("room name must be 1-%d characters", MaxNameLength)
	}
	if in.Radius == 0 {
		in.Radius = DefaultRadius
	}
	if in.Radius < MinRadius || in.Radius > MaxRadius {
		return errs.Invalid("radius must be between %.0f and %.0f meters", MinRadius, MaxRadius)
	}
	return geo.Point{Lat: in.Lat, Lng: in.Lng}.Validate()
}

// createdAt 返回单调不减的创建时间。
func (s *RoomService) createdAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC()
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts
	return ts
}

// Create 创建新房间，写入存储后立即加入地理索引。
func (s *RoomService) Create(ctx context.Context, in CreateRoomInput, creatorID string) (*RoomDTO, error) {
	if err := validateRoom(&in); err != nil {
		return nil, err
	}
	ts := s.createdAt()
	id, err := ulid.New(ulid.Timestamp(ts), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate room id: %w", err)
	}
	room := models.Chatroom{
		ID:        id.String(),
		Name:      in.Name,
		Latitude:  in.Lat,
		Longitude: in.Lng,
		Radius:    in.Radius,
		CreatorID: creatorID,
		CreatedAt: ts,
	}
	if err := s.store.CreateRoom(ctx, &room); err != nil {
		return nil, err
	}
	s.discovery.Add(room)
	applog.Ctx(ctx).Info().Str("room_id", room.ID).Float64("radius", room.Radius).Msg("room created")
	return &RoomDTO{Chatroom: room}, nil
}

// Get 返回房间及其在线订阅数。
func (s *RoomService) Get(ctx context.Context, roomID string) (*RoomDTO, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &RoomDTO{Chatroom: room, Online: s.hub.Online(room.ID)}, nil
}
