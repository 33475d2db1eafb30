package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/geo"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/metrics"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/session"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/store"
	"github.com/rs/zerolog/log"
)

// DiscoveryService 把一次定位转换成按距离排序的附近房间列表。
// 结果不跨调用缓存；索引本身随房间创建和定期同步保持最新。
type DiscoveryService struct {
	store store.RoomStore
	index geo.Index[models.Chatroom]
	now   func() time.Time

	mu sync.Mutex // 串行化 Sync 与 Add，避免同步覆盖刚创建的房间
}

func NewDiscoveryService(s store.RoomStore, index geo.Index[models.Chatroom]) *DiscoveryService {
	if index == nil {
		index = geo.NewScanIndex[models.Chatroom]()
	}
	return &DiscoveryService{store: s, index: index, now: time.Now}
}

func fenceOf(room models.Chatroom) geo.Fence[models.Chatroom] {
	return geo.Fence[models.Chatroom]{
		ID:     room.ID,
		Center: geo.Point{Lat: room.Latitude, Lng: room.Longitude},
		Radius: room.Radius,
		Value:  room,
	}
}

// Add 把新房间加入索引。
func (s *DiscoveryService) Add(room models.Chatroom) {
	s.mu.Lock()
	s.index.Put(fenceOf(room))
	metrics.IndexedRooms.Set(float64(s.index.Len()))
	s.mu.Unlock()
}

// Sync 用存储中的房间整体替换索引，使其他实例创建的房间可见。
func (s *DiscoveryService) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("sync rooms: %w", err)
	}
	fences := make([]geo.Fence[models.Chatroom], 0, len(rooms))
	for _, r := range rooms {
		fences = append(fences, fenceOf(r))
	}
	s.index.Replace(fences)
	metrics.IndexedRooms.Set(float64(len(fences)))
	return nil
}

// Run 按 interval 周期同步，直到 ctx 结束。同步失败只记录日志。
func (s *DiscoveryService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("discovery sync failed")
			}
		}
	}
}

// Discover 返回包含 loc 的房间，按距离升序，距离相同按房间 ID。
// loc 为 nil 时返回 ErrLocationUnavailable，而不是空列表。
func (s *DiscoveryService) Discover(ctx context.Context, loc *geo.Point) ([]models.NearbyRoom, error) {
	if loc == nil {
		return nil, errs.ErrLocationUnavailable
	}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	hits := s.index.Query(*loc)
	metrics.DiscoveryDuration.Observe(time.Since(start).Seconds())

	out := make([]models.NearbyRoom, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.NearbyRoom{
			Chatroom:     h.Fence.Value,
			Distance:     h.Distance,
			DistanceText: FormatDistance(h.Distance),
		})
	}
	return out, nil
}

// DiscoverSession 使用会话当前的定位；没有可用定位时返回带原因的
// ErrLocationUnavailable。
func (s *DiscoveryService) DiscoverSession(ctx context.Context, sess *session.Context) ([]models.NearbyRoom, error) {
	p, err := sess.Location(s.now())
	if err != nil {
		return nil, err
	}
	return s.Discover(ctx, &p)
}

// FormatDistance 把米数格式化为客户端展示文本，例如 "350m away"、"1.2km away"。
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm away", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1fkm away", meters/1000)
}
