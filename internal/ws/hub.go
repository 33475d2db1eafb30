package ws

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/identity"
	applog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/metrics"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/store"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrHubClosed 在 Hub 或房间已关闭后返回。
var ErrHubClosed = errors.New("room channel closed")

const (
	EventMessage = "message"
	EventStatus  = "status"
)

// Event 是房间日志中的一条记录。Seq 从 1 开始，在房间内严格递增。
type Event struct {
	Seq     int            `json:"seq"`
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

// Hub 管理房间级别的子 Hub，实现延迟创建与并发安全。
// 锁只保护房间表，不跨房间串行化任何消息。
type Hub struct {
	store     store.Store
	maxLength int
	now       func() time.Time

	mu     sync.RWMutex
	rooms  map[string]*RoomHub
	closed bool
}

func NewHub(s store.Store, maxLength int) *Hub {
	if maxLength <= 0 {
		maxLength = 1000
	}
	return &Hub{store: s, maxLength: maxLength, now: time.Now, rooms: make(map[string]*RoomHub)}
}

// Room 若房间未初始化则从存储加载历史并启动一个 RoomHub。
func (h *Hub) Room(ctx context.Context, roomID string) (*RoomHub, error) {
	h.mu.RLock()
	room, closed := h.rooms[roomID], h.closed
	h.mu.RUnlock()
	if closed {
		return nil, ErrHubClosed
	}
	if room != nil {
		return room, nil
	}

	// 加载在锁外进行，慢查询不阻塞其他房间
	if _, err := h.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	backlog, err := h.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if room = h.rooms[roomID]; room != nil {
		return room, nil
	}
	room = newRoomHub(roomID, h.store, h.maxLength, h.now, backlog)
	h.rooms[roomID] = room
	metrics.ActiveRooms.Inc()
	go room.run()
	return room, nil
}

// UpdateStatus 通过房间 actor 修改消息审核状态，并作为 status 事件广播。
func (h *Hub) UpdateStatus(ctx context.Context, roomID, messageID string, status models.ModerationStatus) error {
	room, err := h.Room(ctx, roomID)
	if err != nil {
		return err
	}
	return room.UpdateStatus(ctx, messageID, status)
}

func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Close 停止所有房间 actor，订阅随之结束。
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	rooms := make([]*RoomHub, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.stop()
		metrics.ActiveRooms.Dec()
	}
}

// AppendRequest 是一次发送请求。ID 可由客户端提供（UUID），用于重试去重。
type AppendRequest struct {
	ID       string
	SenderID string
	Text     string
}

type appendResult struct {
	msg models.Message
	err error
}

type appendOp struct {
	ctx   context.Context
	req   AppendRequest
	reply chan appendResult
}

type statusOp struct {
	ctx       context.Context
	messageID string
	status    models.ModerationStatus
	reply     chan error
}

// RoomHub 是单个房间的 actor：追加与状态变更都经由 run 串行执行，
// 订阅者各自持有游标从日志读取，慢订阅者只拖慢自己。
type RoomHub struct {
	roomID    string
	store     store.MessageStore
	maxLength int
	now       func() time.Time

	mu     sync.RWMutex
	events []Event
	notify chan struct{} // 每次追加后关闭并替换

	// 以下字段只在 run 中访问
	last    time.Time
	byID    map[string]models.Message
	entropy *ulid.MonotonicEntropy
	subs    map[*Subscription]struct{}

	appendCh   chan appendOp
	statusCh   chan statusOp
	register   chan *Subscription
	unregister chan *Subscription
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	online     int32
}

func newRoomHub(roomID string, s store.MessageStore, maxLength int, now func() time.Time, backlog []models.Message) *RoomHub {
	rh := &RoomHub{
		roomID:     roomID,
		store:      s,
		maxLength:  maxLength,
		now:        now,
		notify:     make(chan struct{}),
		byID:       make(map[string]models.Message, len(backlog)),
		entropy:    ulid.Monotonic(rand.Reader, 0),
		subs:       make(map[*Subscription]struct{}),
		appendCh:   make(chan appendOp),
		statusCh:   make(chan statusOp),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	rh.events = make([]Event, 0, len(backlog))
	for i, m := range backlog {
		rh.events = append(rh.events, Event{Seq: i + 1, Type: EventMessage, Message: m})
		rh.byID[m.ID] = m
		if m.CreatedAt.After(rh.last) {
			rh.last = m.CreatedAt
		}
	}
	return rh
}

func (rh *RoomHub) ID() string { return rh.roomID }

func (rh *RoomHub) run() {
	defer close(rh.done)
	for {
		select {
		case s := <-rh.register:
			rh.subs[s] = struct{}{}
			atomic.StoreInt32(&rh.online, int32(len(rh.subs)))
			metrics.Subscriptions.Inc()
		case s := <-rh.unregister:
			if _, ok := rh.subs[s]; ok {
				delete(rh.subs, s)
				atomic.StoreInt32(&rh.online, int32(len(rh.subs)))
				metrics.Subscriptions.Dec()
			}
		case op := <-rh.appendCh:
			msg, err := rh.doAppend(op.ctx, op.req)
			op.reply <- appendResult{msg: msg, err: err}
		case op := <-rh.statusCh:
			op.reply <- rh.doStatus(op.ctx, op.messageID, op.status)
		case <-rh.quit:
			metrics.Subscriptions.Sub(float64(len(rh.subs)))
			return
		}
	}
}

func (rh *RoomHub) stop() {
	rh.stopOnce.Do(func() { close(rh.quit) })
	<-rh.done
}

// Online 返回房间当前订阅数量，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }

// validate 检查文本与客户端 ID，不触碰房间日志。
func (rh *RoomHub) validate(req AppendRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return errs.InvalidMessage("text is empty")
	}
	if n := utf8.RuneCountInString(req.Text); n > rh.maxLength {
		return errs.InvalidMessage(fmt.Sprintf("text has %d characters, max %d", n, rh.maxLength))
	}
	if req.ID != "" {
		if _, err := uuid.Parse(req.ID); err != nil {
			return errs.Invalid("message id must be a uuid")
		}
	}
	if req.SenderID == "" {
		return errs.Invalid("sender is required")
	}
	return nil
}

// Append 把消息追加到房间日志并返回被接受的消息，CreatedAt 即服务端时间戳。
// 带相同 ID 的重试返回首次写入的消息。
func (rh *RoomHub) Append(ctx context.Context, req AppendRequest) (models.Message, error) {
	if err := rh.validate(req); err != nil {
		metrics.MessagesRejected.Inc()
		return models.Message{}, err
	}
	op := appendOp{ctx: ctx, req: req, reply: make(chan appendResult, 1)}
	select {
	case rh.appendCh <- op:
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	case <-rh.done:
		return models.Message{}, ErrHubClosed
	}
	select {
	case res := <-op.reply:
		return res.msg, res.err
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// nextTimestamp 返回严格递增的微秒精度时间戳，与数据库精度一致。
func (rh *RoomHub) nextTimestamp() time.Time {
	ts := rh.now().UTC().Truncate(time.Microsecond)
	if !ts.After(rh.last) {
		ts = rh.last.Add(time.Microsecond)
	}
	return ts
}

func (rh *RoomHub) doAppend(ctx context.Context, req AppendRequest) (models.Message, error) {
	if req.ID != "" {
		if existing, ok := rh.byID[req.ID]; ok {
			return existing, nil
		}
	}
	ts := rh.nextTimestamp()
	id := req.ID
	if id == "" {
		u, err := ulid.New(ulid.Timestamp(ts), rh.entropy)
		if err != nil {
			return models.Message{}, fmt.Errorf("generate message id: %w", err)
		}
		id = u.String()
	}
	msg := models.Message{
		ID:                id,
		ChatroomID:        rh.roomID,
		SenderID:          req.SenderID,
		SenderDisplayName: identity.DisplayName(req.SenderID),
		Text:              req.Text,
		CreatedAt:         ts,
		Status:            models.StatusClean,
	}
	if err := rh.store.CreateMessage(ctx, &msg); err != nil {
		applog.Ctx(ctx).Warn().Err(err).Str("room_id", rh.roomID).Str("message_id", id).Msg("append failed")
		return models.Message{}, err
	}
	rh.last = ts
	rh.byID[id] = msg
	rh.publish(EventMessage, msg)
	metrics.MessagesAppended.Inc()
	return msg, nil
}

// UpdateStatus 修改消息的审核状态并广播 status 事件。
func (rh *RoomHub) UpdateStatus(ctx context.Context, messageID string, status models.ModerationStatus) error {
	op := statusOp{ctx: ctx, messageID: messageID, status: status, reply: make(chan error, 1)}
	select {
	case rh.statusCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-rh.done:
		return ErrHubClosed
	}
	select {
	case err := <-op.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rh *RoomHub) doStatus(ctx context.Context, messageID string, status models.ModerationStatus) error {
	msg, ok := rh.byID[messageID]
	if !ok {
		return errs.ErrMessageNotFound
	}
	if msg.Status == status {
		return nil
	}
	if err := rh.store.UpdateMessageStatus(ctx, messageID, status); err != nil {
		return err
	}
	msg.Status = status
	rh.byID[messageID] = msg
	rh.publish(EventStatus, msg)
	return nil
}

func (rh *RoomHub) publish(typ string, msg models.Message) {
	rh.mu.Lock()
	rh.events = append(rh.events, Event{Seq: len(rh.events) + 1, Type: typ, Message: msg})
	close(rh.notify)
	rh.notify = make(chan struct{})
	rh.mu.Unlock()
}

// read 返回游标之后的事件，以及下一次追加时会被关闭的通知通道。
// 已写入的事件不会再被修改，返回的切片可在锁外读取。
func (rh *RoomHub) read(cursor int) ([]Event, <-chan struct{}) {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return rh.events[cursor:len(rh.events):len(rh.events)], rh.notify
}

// Messages 返回按日志顺序排列的消息，状态为最新值。
func (rh *RoomHub) Messages() []models.Message {
	events, _ := rh.read(0)
	pos := make(map[string]int, len(events))
	out := make([]models.Message, 0, len(events))
	for _, ev := range events {
		if i, ok := pos[ev.Message.ID]; ok {
			out[i] = ev.Message
			continue
		}
		pos[ev.Message.ID] = len(out)
		out = append(out, ev.Message)
	}
	return out
}

// Subscription 是一次房间订阅。C 先给出完整历史，再给出实时事件；
// ctx 取消或调用 Close 后 C 被关闭，订阅从房间注销。
type Subscription struct {
	C <-chan Event

	c      chan Event
	room   *RoomHub
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe 从日志开头开始订阅。房间已关闭时返回的订阅立即结束。
func (rh *RoomHub) Subscribe(ctx context.Context) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	c := make(chan Event, 16)
	s := &Subscription{C: c, c: c, room: rh, cancel: cancel, done: make(chan struct{})}

	select {
	case rh.register <- s:
	case <-rh.done:
		cancel()
		close(c)
		close(s.done)
		return s
	}
	go s.pump(ctx)
	return s
}

func (s *Subscription) pump(ctx context.Context) {
	rh := s.room
	defer func() {
		close(s.c)
		select {
		case rh.unregister <- s:
		case <-rh.done:
		}
		close(s.done)
	}()

	cursor := 0
	for {
		batch, wait := rh.read(cursor)
		for _, ev := range batch {
			select {
			case s.c <- ev:
			case <-ctx.Done():
				return
			case <-rh.quit:
				return
			}
		}
		cursor += len(batch)
		if len(batch) > 0 {
			continue
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return
		case <-rh.quit:
			return
		}
	}
}

// Close 取消订阅并等待注销完成。可重复调用。
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
