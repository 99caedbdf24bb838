package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	logx "hwbot/pkg/logx"
)

type fakeBotAPI struct {
	mu    sync.Mutex
	calls []map[string]any
	fail  bool
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected method path %q", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		var params map[string]any
		_ = json.Unmarshal(b, &params)

		f.mu.Lock()
		f.calls = append(f.calls, params)
		n := len(f.calls)
		fail := f.fail
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":` + itoa(n) + `,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	})
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestAdapter(t *testing.T, api *fakeBotAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", Chat: "42", RatePerSec: 100, URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSendDeliversToDefaultChat(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)

	if err := a.Send(context.Background(), "Изменился статус"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(api.calls))
	}
	if got := api.calls[0]["text"]; got != "Изменился статус" {
		t.Fatalf("text = %v", got)
	}
	if got := api.calls[0]["chat_id"]; got != "42" {
		t.Fatalf("chat_id = %v", got)
	}
}

func TestSendTruncatesLongText(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)

	long := strings.Repeat("ж", telegramTextLimit+100)
	if err := a.Send(context.Background(), long); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(api.calls))
	}
	text, _ := api.calls[0]["text"].(string)
	if n := len([]rune(text)); n != telegramTextLimit || !strings.HasSuffix(text, "…") {
		t.Fatalf("sent %d runes, suffix %q", n, string([]rune(text)[n-1:]))
	}
}

func TestSendRetryAfterFailureSendsOnce(t *testing.T) {
	api := &fakeBotAPI{fail: true}
	a := newTestAdapter(t, api)

	long := strings.Repeat("a", telegramTextLimit+200)
	if err := a.Send(context.Background(), long); err == nil {
		t.Fatal("expected error from failing Bot API")
	}
	api.mu.Lock()
	api.fail = false
	api.mu.Unlock()
	if err := a.Send(context.Background(), long); err != nil {
		t.Fatalf("retry: %v", err)
	}
	// one failed attempt plus one delivered message; nothing partial was repeated
	if len(api.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(api.calls))
	}
}

func TestSendReportsAPIError(t *testing.T) {
	api := &fakeBotAPI{fail: true}
	a := newTestAdapter(t, api)

	if err := a.Send(context.Background(), "hi"); err == nil {
		t.Fatal("expected error from failing Bot API")
	}
}

func TestSendHonorsCanceledContext(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)
	// drain the burst so Wait has to block on the canceled context
	for a.limiter.Allow() {
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Send(ctx, "hi"); err == nil {
		t.Fatal("expected context error")
	}
	if len(api.calls) != 0 {
		t.Fatalf("nothing should be sent, got %d calls", len(api.calls))
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestRecipientFor(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"123456", "123456", true},
		{"-1001234567890", "-1001234567890", true},
		{"@my_channel", "@my_channel", true},
		{"", "", false},
		{"not a chat", "", false},
	}
	for _, tt := range tests {
		r, err := recipientFor(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("recipientFor(%q) err = %v, ok want %v", tt.in, err, tt.ok)
		}
		if tt.ok && r.Recipient() != tt.want {
			t.Fatalf("recipientFor(%q) = %q, want %q", tt.in, r.Recipient(), tt.want)
		}
	}
}

func TestTruncateTelegramText(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
		cut   bool
	}{
		{"short", "short", 10, "short", false},
		{"exact", "0123456789", 10, "0123456789", false},
		{"long", "0123456789abc", 10, "012345678…", true},
		{"runes", strings.Repeat("ж", 12), 10, strings.Repeat("ж", 9) + "…", true},
		{"trailing newline", "12345678\nabcdef", 10, "12345678…", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cut := truncateTelegramText(tt.in, tt.limit)
			if got != tt.want || cut != tt.cut {
				t.Fatalf("truncateTelegramText(%q) = %q, %v; want %q, %v", tt.in, got, cut, tt.want, tt.cut)
			}
		})
	}
}
