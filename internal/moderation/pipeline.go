package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/events"
	applog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/metrics"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/store"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NeutralReason 是分类器失败或超时时写入的理由。
const NeutralReason = "classification unavailable"

var ErrPipelineClosed = errors.New("moderation pipeline closed")

// StatusSink 接收消息审核状态的变化，通常是房间消息通道。
type StatusSink interface {
	UpdateStatus(ctx context.Context, roomID, messageID string, status models.ModerationStatus) error
}

type SubmitRequest struct {
	Message    models.Message
	ReporterID string
}

type Options struct {
	Timeout time.Duration // 单次分类的上限，默认 10s
	Channel string        // 事件通道，空则不发布
}

// transition 是分类 goroutine 发回给 Run 的唯一一条状态迁移消息。
type transition struct {
	report  models.Report
	verdict Verdict
	err     error
}

// Pipeline 负责举报的生命周期：pending → classified → resolved。
// 分类在独立 goroutine 中进行，结果统一由 Run 串行落库，不阻塞消息投递。
type Pipeline struct {
	store      store.ReportStore
	classifier Classifier
	sink       StatusSink
	publisher  events.Publisher
	timeout    time.Duration
	channel    string
	now        func() time.Time

	transitions chan transition
	stopped     chan struct{}
	stopOnce    sync.Once

	mu      sync.Mutex
	closed  bool
	waiters map[string]chan struct{}
	wg      sync.WaitGroup
}

func NewPipeline(s store.ReportStore, c Classifier, sink StatusSink, pub events.Publisher, opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Pipeline{
		store:       s,
		classifier:  c,
		sink:        sink,
		publisher:   pub,
		timeout:     opts.Timeout,
		channel:     opts.Channel,
		now:         time.Now,
		transitions: make(chan transition),
		stopped:     make(chan struct{}),
		waiters:     make(map[string]chan struct{}),
	}
}

// Submit 提交举报。同一举报人对同一消息重复举报时只递增计数并返回已有记录，
// 不会再次分类。首次举报立即返回 pending 状态的记录。
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (models.Report, error) {
	msg := req.Message
	if req.ReporterID == "" || msg.ID == "" || msg.ChatroomID == "" {
		return models.Report{}, errs.Invalid("reporter and message are required")
	}
	logger := applog.Ctx(ctx).With().Str("message_id", msg.ID).Str("room_id", msg.ChatroomID).Logger()

	now := p.now().UTC()
	rep := models.Report{
		ID:             uuid.NewString(),
		ReporterID:     req.ReporterID,
		MessageID:      msg.ID,
		ReportedUserID: msg.SenderID,
		ChatroomID:     msg.ChatroomID,
		State:          models.ReportPending,
		Reason:         "",
		ReportCount:    1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return models.Report{}, ErrPipelineClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	created, err := p.store.UpsertReport(ctx, &rep)
	if err != nil {
		p.wg.Done()
		return models.Report{}, err
	}
	if !created {
		p.wg.Done()
		metrics.ReportsTotal.WithLabelValues("duplicate").Inc()
		logger.Info().Str("report_id", rep.ID).Int("report_count", rep.ReportCount).Msg("duplicate report")
		p.publish(ctx, events.TypeReportDuplicate, rep)
		return rep, nil
	}
	p.mu.Lock()
	p.waiters[rep.ID] = make(chan struct{})
	p.mu.Unlock()

	metrics.ReportsTotal.WithLabelValues("submitted").Inc()
	logger.Info().Str("report_id", rep.ID).Msg("report submitted")
	if err := p.sink.UpdateStatus(ctx, msg.ChatroomID, msg.ID, models.StatusReported); err != nil {
		logger.Warn().Err(err).Msg("mark message reported failed")
	}
	p.publish(ctx, events.TypeReportSubmitted, rep)

	in := Input{Text: msg.Text, RoomID: msg.ChatroomID, ReporterID: req.ReporterID, ReportedUserID: msg.SenderID}
	go p.classify(rep, in)
	return rep, nil
}

// classify 在超时内调用分类器，并把结果作为一条 transition 交给 Run。
// 分类器即使不理会 ctx，也会在超时后按失败处理。
func (p *Pipeline) classify(rep models.Report, in Input) {
	defer p.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	type result struct {
		v   Verdict
		err error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := p.classifier.Classify(ctx, in)
		ch <- result{v, err}
	}()

	t := transition{report: rep}
	select {
	case r := <-ch:
		t.verdict, t.err = r.v, r.err
		if t.err == nil && ctx.Err() != nil {
			t.err = errs.ErrClassifierTimeout
		}
	case <-ctx.Done():
		t.err = fmt.Errorf("%w after %s", errs.ErrClassifierTimeout, p.timeout)
	}
	metrics.ClassifierDuration.Observe(time.Since(start).Seconds())
	if t.err != nil && !errors.Is(t.err, errs.ErrClassifierTimeout) && !errors.Is(t.err, errs.ErrClassifierFailure) {
		t.err = fmt.Errorf("%w: %v", errs.ErrClassifierFailure, t.err)
	}

	select {
	case p.transitions <- t:
	case <-p.stopped:
		p.apply(t)
	}
}

// Run 串行应用分类结果，直到 ctx 结束。结束后迟到的结果由分类 goroutine 自行落库。
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.stopOnce.Do(func() { close(p.stopped) })
	for {
		select {
		case t := <-p.transitions:
			p.apply(t)
		case <-ctx.Done():
			for {
				select {
				case t := <-p.transitions:
					p.apply(t)
				default:
					return nil
				}
			}
		}
	}
}

func (p *Pipeline) apply(t transition) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rep := t.report
	logger := log.With().Str("report_id", rep.ID).Str("message_id", rep.MessageID).Str("room_id", rep.ChatroomID).Logger()
	outcome := "clean"

	if t.err != nil {
		outcome = "unavailable"
		logger.Warn().Err(t.err).Msg("classification failed, resolving with neutral verdict")
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("report_id", rep.ID)
			scope.SetTag("room_id", rep.ChatroomID)
			sentry.CaptureException(t.err)
		})
		rep.IsToxic = false
		rep.Reason = NeutralReason
	} else {
		if t.verdict.IsToxic {
			outcome = "toxic"
		}
		rep.State = models.ReportClassified
		rep.IsToxic = t.verdict.IsToxic
		rep.Reason = t.verdict.Reason
		rep.UpdatedAt = p.now().UTC()
		if err := p.store.UpdateReport(ctx, &rep); err != nil {
			logger.Error().Err(err).Msg("record classified report failed")
		}
		if err := p.sink.UpdateStatus(ctx, rep.ChatroomID, rep.MessageID, models.StatusClassified); err != nil {
			logger.Warn().Err(err).Msg("mark message classified failed")
		}
	}

	// 没有人工复核环节，分类完成（或失败）即结案
	now := p.now().UTC()
	rep.State = models.ReportResolved
	rep.UpdatedAt = now
	rep.ResolvedAt = &now
	if err := p.store.UpdateReport(ctx, &rep); err != nil {
		logger.Error().Err(err).Msg("record resolved report failed")
	}
	if err := p.sink.UpdateStatus(ctx, rep.ChatroomID, rep.MessageID, models.StatusResolved); err != nil {
		logger.Warn().Err(err).Msg("mark message resolved failed")
	}
	metrics.ReportsTotal.WithLabelValues(outcome).Inc()
	logger.Info().Bool("is_toxic", rep.IsToxic).Str("reason", rep.Reason).Msg("report resolved")
	p.publish(ctx, events.TypeReportResolved, rep)

	p.mu.Lock()
	if ch, ok := p.waiters[rep.ID]; ok {
		close(ch)
		delete(p.waiters, rep.ID)
	}
	p.mu.Unlock()
}

func (p *Pipeline) publish(ctx context.Context, typ string, rep models.Report) {
	if p.channel == "" {
		return
	}
	evt, err := events.NewEvent(typ, rep.ChatroomID, rep)
	if err != nil {
		log.Warn().Err(err).Str("type", typ).Msg("build moderation event failed")
		return
	}
	if err := p.publisher.Publish(ctx, p.channel, evt); err != nil {
		log.Warn().Err(err).Str("type", typ).Str("report_id", rep.ID).Msg("publish moderation event failed")
	}
}

// Get 返回举报记录。
func (p *Pipeline) Get(ctx context.Context, reportID string) (models.Report, error) {
	return p.store.GetReport(ctx, reportID)
}

// Wait 阻塞到举报结案（或 ctx 结束），返回最新记录。
func (p *Pipeline) Wait(ctx context.Context, reportID string) (models.Report, error) {
	p.mu.Lock()
	ch := p.waiters[reportID]
	p.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return models.Report{}, ctx.Err()
		}
	}
	return p.store.GetReport(ctx, reportID)
}

// Close 拒绝新的举报并等待进行中的分类全部落库。
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
