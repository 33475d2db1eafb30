package store

import (
	"context"
	"errors"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/rs/zerolog/log"
)

// RetryPolicy 描述读操作遇到 StoreUnavailable 时的有界退避。
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Base: 100 * time.Millisecond, Max: 2 * time.Second}

// Retry 执行 fn，仅对 ErrStoreUnavailable 做指数退避重试。
func Retry(ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	delay := p.Base
	var err error
	for i := 0; i < p.Attempts; i++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, errs.ErrStoreUnavailable) {
			return err
		}
		if i == p.Attempts-1 {
			break
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", i+1).Dur("backoff", delay).Msg("store read retry")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return err
}

// WithReadRetry 包装 Store，只对读操作做重试；写操作原样透传，
// 避免重复副作用（写入的幂等性由消息 ID / 举报唯一键保证）。
func WithReadRetry(s Store, p RetryPolicy) Store {
	return &retryStore{Store: s, policy: p}
}

type retryStore struct {
	Store
	policy RetryPolicy
}

func (r *retryStore) GetRoom(ctx context.Context, id string) (models.Chatroom, error) {
	var room models.Chatroom
	err := Retry(ctx, r.policy, "get_room", func(ctx context.Context) error {
		var err error
		room, err = r.Store.GetRoom(ctx, id)
		return err
	})
	return room, err
}

func (r *retryStore) ListRooms(ctx context.Context) ([]models.Chatroom, error) {
	var rooms []models.Chatroom
	err := Retry(ctx, r.policy, "list_rooms", func(ctx context.Context) error {
		var err error
		rooms, err = r.Store.ListRooms(ctx)
		return err
	})
	return rooms, err
}

func (r *retryStore) GetMessage(ctx context.Context, roomID, id string) (models.Message, error) {
	var msg models.Message
	err := Retry(ctx, r.policy, "get_message", func(ctx context.Context) error {
		var err error
		msg, err = r.Store.GetMessage(ctx, roomID, id)
		return err
	})
	return msg, err
}

func (r *retryStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var msgs []models.Message
	err := Retry(ctx, r.policy, "list_messages", func(ctx context.Context) error {
		var err error
		msgs, err = r.Store.ListMessages(ctx, roomID)
		return err
	})
	return msgs, err
}

func (r *retryStore) GetReport(ctx context.Context, id string) (models.Report, error) {
	var rep models.Report
	err := Retry(ctx, r.policy, "get_report", func(ctx context.Context) error {
		var err error
		rep, err = r.Store.GetReport(ctx, id)
		return err
	})
	return rep, err
}
