package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/geo"
)

// 定位失败原因，与客户端定位传感器的错误一一对应。
const (
	FailureDenied      = "denied"
	FailureTimeout     = "timeout"
	FailureUnavailable = "unavailable"
	FailureUnsupported = "unsupported"
)

var failureReasons = map[string]bool{
	FailureDenied:      true,
	FailureTimeout:     true,
	FailureUnavailable: true,
	FailureUnsupported: true,
}

type Identity struct {
	UserID      string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Context 把身份、最近一次定位与当前房间绑定到一个连接上。并发安全。
type Context struct {
	identity Identity
	maxAge   time.Duration

	mu      sync.RWMutex
	loc     *geo.Point
	locAt   time.Time
	failure string
	roomID  string
}

// New 创建会话。maxAge <= 0 表示定位永不过期。
func New(id Identity, maxAge time.Duration) *Context {
	return &Context{identity: id, maxAge: maxAge}
}

func (c *Context) Identity() Identity { return c.identity }

func (c *Context) UserID() string { return c.identity.UserID }

// SetLocation 记录一次成功的定位，清除之前的失败原因。
func (c *Context) SetLocation(p geo.Point, at time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loc = &p
	c.locAt = at
	c.failure = ""
	return nil
}

// SetLocationFailure 记录定位失败并丢弃旧的位置。未知原因按 unavailable 处理。
func (c *Context) SetLocationFailure(reason string) {
	if !failureReasons[reason] {
		reason = FailureUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loc = nil
	c.failure = reason
}

// Location 返回当前可用的位置。没有定位、定位失败或已过期时返回
// ErrLocationUnavailable，错误信息里带上原因。
func (c *Context) Location(now time.Time) (geo.Point, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loc == nil {
		reason := c.failure
		if reason == "" {
			reason = "no fix yet"
		}
		return geo.Point{}, fmt.Errorf("%w: %s", errs.ErrLocationUnavailable, reason)
	}
	if c.maxAge > 0 && now.Sub(c.locAt) > c.maxAge {
		return geo.Point{}, fmt.Errorf("%w: fix is stale", errs.ErrLocationUnavailable)
	}
	return *c.loc, nil
}

func (c *Context) Join(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *Context) Leave() {
	c.Join("")
}

func (c *Context) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}
