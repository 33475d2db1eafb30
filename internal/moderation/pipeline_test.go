package moderation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/events"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/store"
)

type fakeSink struct {
	mu      sync.Mutex
	updates []models.ModerationStatus
}

func (f *fakeSink) UpdateStatus(ctx context.Context, roomID, messageID string, status models.ModerationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, status)
	return nil
}

func (f *fakeSink) statuses() []models.ModerationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ModerationStatus(nil), f.updates...)
}

type fakePublisher struct {
	mu    sync.Mutex
	types []string
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, evt *events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, evt.Type)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.types...)
}

var testMessage = models.Message{ID: "m1", ChatroomID: "room-1", SenderID: "sender", Text: "you are awful"}

func newTestPipeline(t *testing.T, c Classifier, timeout time.Duration) (*Pipeline, *fakeSink, *fakePublisher, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p := NewPipeline(s, c, sink, pub, Options{Timeout: timeout, Channel: "moderation:reports"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		p.Close()
	})
	return p, sink, pub, s
}

func waitResolved(t *testing.T, p *Pipeline, id string) models.Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rep, err := p.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return rep
}

func TestPipeline_ToxicVerdict(t *testing.T) {
	var got Input
	c := ClassifierFunc(func(ctx context.Context, in Input) (Verdict, error) {
		got = in
		return Verdict{IsToxic: true, Reason: "hate speech"}, nil
	})
	p, sink, pub, _ := newTestPipeline(t, c, time.Second)

	rep, err := p.Submit(context.Background(), SubmitRequest{Message: testMessage, ReporterID: "reporter"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rep.State != models.ReportPending || rep.ReportedUserID != "sender" || rep.ChatroomID != "room-1" {
		t.Errorf("Submit() = %+v, want pending report against sender", rep)
	}

	final := waitResolved(t, p, rep.ID)
	if final.State != models.ReportResolved || !final.IsToxic || final.Reason != "hate speech" || final.ResolvedAt == nil {
		t.Errorf("final report = %+v, want resolved toxic 'hate speech'", final)
	}
	if got.Text != testMessage.Text || got.RoomID != "room-1" || got.ReporterID != "reporter" || got.ReportedUserID != "sender" {
		t.Errorf("classifier input = %+v", got)
	}

	want := []models.ModerationStatus{models.StatusReported, models.StatusClassified, models.StatusResolved}
	statuses := sink.statuses()
	if len(statuses) != len(want) {
		t.Fatalf("status updates = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}

	types := pub.published()
	if len(types) != 2 || types[0] != events.TypeReportSubmitted || types[1] != events.TypeReportResolved {
		t.Errorf("published = %v", types)
	}
}

func TestPipeline_TimeoutResolvesNeutral(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	// ignores ctx on purpose
	c := ClassifierFunc(func(ctx context.Context, in Input) (Verdict, error) {
		<-block
		return Verdict{IsToxic: true, Reason: "too late"}, nil
	})
	p, sink, _, _ := newTestPipeline(t, c, 50*time.Millisecond)

	start := time.Now()
	rep, err := p.Submit(context.Background(), SubmitRequest{Message: testMessage, ReporterID: "reporter"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := waitResolved(t, p, rep.ID)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("resolution took %v, want close to the 50ms timeout", elapsed)
	}
	if final.State != models.ReportResolved || final.IsToxic || final.Reason != NeutralReason {
		t.Errorf("final report = %+v, want neutral resolved", final)
	}
	statuses := sink.statuses()
	if statuses[len(statuses)-1] != models.StatusResolved {
		t.Errorf("last status = %s, want resolved", statuses[len(statuses)-1])
	}
	for _, s := range statuses {
		if s == models.StatusClassified {
			t.Error("timed out report should not pass through classified")
		}
	}
}

func TestPipeline_FailureResolvesNeutral(t *testing.T) {
	c := ClassifierFunc(func(ctx context.Context, in Input) (Verdict, error) {
		return Verdict{}, errors.New("upstream 502")
	})
	p, _, _, _ := newTestPipeline(t, c, time.Second)

	rep, err := p.Submit(context.Background(), SubmitRequest{Message: testMessage, ReporterID: "reporter"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := waitResolved(t, p, rep.ID)
	if final.State != models.ReportResolved || final.IsToxic || final.Reason != NeutralReason {
		t.Errorf("final report = %+v, want neutral resolved", final)
	}
}

func TestPipeline_DuplicateReport(t *testing.T) {
	var calls int32
	c := ClassifierFunc(func(ctx context.Context, in Input) (Verdict, error) {
		atomic.AddInt32(&calls, 1)
		return Verdict{IsToxic: false, Reason: "fine"}, nil
	})
	p, _, pub, _ := newTestPipeline(t, c, time.Second)

	first, err := p.Submit(context.Background(), SubmitRequest{Message: testMessage, ReporterID: "reporter"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitResolved(t, p, first.ID)

	second, err := p.Submit(context.Background(), SubmitRequest{Message: testMessage, ReporterID: "reporter"})
	if err != nil {
		t.Fatalf("Submit(repeat) error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat report id = %s, want %s", second.ID, first.ID)
	}
	if second.ReportCount != 2 {
		t.Errorf("ReportCount = %d, want 2", second.ReportCount)
	}
	if second.State != models.ReportResolved || second.Reason != "fine" {
		t.Errorf("repeat report = %+v, want the existing resolved record", second)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("classifier calls = %d, want 1", n)
	}

	found := false
	for _, typ := range pub.published() {
		if typ == events.TypeReportDuplicate {
			found = true
		}
	}
	if !found {
		t.Error("duplicate report event not published")
	}

	other, _ := p.Submit(context.Background(), SubmitRequest{Message: testMessage, ReporterID: "someone-else"})
	if other.ID == first.ID {
		t.Error("a different reporter must get a separate report")
	}
}

func TestPipeline_SubmitInvalid(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, NewKeywordClassifier(nil), time.Second)
	_, err := p.Submit(context.Background(), SubmitRequest{Message: testMessage})
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("Submit(no reporter) error = %v, want ErrInvalidInput", err)
	}
}

func TestPipeline_WaitUnknownReport(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, NewKeywordClassifier(nil), time.Second)
	if _, err := p.Wait(context.Background(), "nope"); !errors.Is(err, errs.ErrReportNotFound) {
		t.Errorf("Wait(unknown) error = %v, want ErrReportNotFound", err)
	}
	if _, err := p.Get(context.Background(), "nope"); !errors.Is(err, errs.ErrReportNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrReportNotFound", err)
	}
}

func TestPipeline_CloseAfterRunStopped(t *testing.T) {
	s := store.NewMemoryStore()
	release := make(chan struct{})
	c := ClassifierFunc(func(ctx context.Context, in Input) (Verdict, error) {
		<-release
		return Verdict{IsToxic: true, Reason: "spam"}, nil
	})
	p := NewPipeline(s, c, &fakeSink{}, nil, Options{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = p.Run(ctx); close(done) }()

	rep, err := p.Submit(context.Background(), SubmitRequest{Message: testMessage, ReporterID: "reporter"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	cancel()
	<-done
	close(release)
	p.Close()

	got, err := s.GetReport(context.Background(), rep.ID)
	if err != nil || got.State != models.ReportResolved || got.Reason != "spam" {
		t.Errorf("report after Close = %+v, %v; want resolved", got, err)
	}
	if _, err := p.Submit(context.Background(), SubmitRequest{Message: testMessage, ReporterID: "x"}); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrPipelineClosed", err)
	}
}
