package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/events"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/models"
	"github.com/rs/zerolog"
)

func TestTail_LogsEachEventUntilClosed(t *testing.T) {
	pending, err := events.NewEvent(events.TypeReportSubmitted, "room-1", models.Report{ID: "rep-1", MessageID: "m1", State: models.ReportPending})
	if err != nil {
		t.Fatal(err)
	}
	resolved, _ := events.NewEvent(events.TypeReportResolved, "room-1", models.Report{ID: "rep-1", MessageID: "m1", State: models.ReportResolved, IsToxic: true, Reason: "spam"})
	other := &events.Event{Type: "custom", RoomID: "room-2", Payload: json.RawMessage(`{"k":1}`), Timestamp: time.Now()}

	ch := make(chan *events.Event, 3)
	ch <- pending
	ch <- resolved
	ch <- other
	close(ch)

	var buf bytes.Buffer
	if n := tail(ch, zerolog.New(&buf)); n != 3 {
		t.Fatalf("tail() = %d, want 3", n)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3:\n%s", len(lines), buf.String())
	}

	tests := []struct {
		name string
		line string
		want map[string]any
	}{
		{"submitted", lines[0], map[string]any{"type": events.TypeReportSubmitted, "report_id": "rep-1", "state": "pending", "message": "report"}},
		{"resolved", lines[1], map[string]any{"type": events.TypeReportResolved, "state": "resolved", "toxic": true, "reason": "spam"}},
		{"unknown payload", lines[2], map[string]any{"type": "custom", "room_id": "room-2", "message": "event"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			if err := json.Unmarshal([]byte(tt.line), &got); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.line, err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}

	var first map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	if _, ok := first["toxic"]; ok {
		t.Errorf("pending report should not carry a verdict: %s", lines[0])
	}
}
