package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func newEngine(h ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(h...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit(rate.Every(time.Hour), 2))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		last = httptest.NewRecorder()
		r.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry Retry-After")
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, codes[i], want[i])
		}
	}

	// 不同 IP 独立计数
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other ip: status = %d, want 200", w.Code)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		method     string
		origin     string
		wantAllow  string
		wantStatus int
	}{
		{"dev echoes origin", "dev", http.MethodGet, "http://localhost:5173", "http://localhost:5173", http.StatusOK},
		{"prod same host", "prod", http.MethodGet, "http://example.com", "http://example.com", http.StatusOK},
		{"prod foreign origin", "prod", http.MethodGet, "http://evil.test", "", http.StatusOK},
		{"prod lookalike origin", "prod", http.MethodGet, "http://example.com.evil.test", "", http.StatusOK},
		{"prod allowlisted", "prod", http.MethodGet, "https://app.example.org", "https://app.example.org", http.StatusOK},
		{"prod allowlisted case and slash", "prod", http.MethodGet, "https://APP.example.org/", "https://APP.example.org/", http.StatusOK},
		{"preflight", "dev", http.MethodOptions, "http://localhost:5173", "http://localhost:5173", http.StatusNoContent},
		{"no origin", "dev", http.MethodGet, "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(CORS(tt.env, "https://app.example.org/"))
			r.OPTIONS("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
			req := httptest.NewRequest(tt.method, "http://example.com/ping", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(rate.Every(time.Second), 1, time.Minute)
	now := time.Now()
	l.get("old", now.Add(-2*time.Minute))
	l.get("fresh", now)
	if n := l.sweep(now); n != 1 {
		t.Errorf("sweep() left %d keys, want 1", n)
	}
	l.Stop()
	l.Stop()
}
