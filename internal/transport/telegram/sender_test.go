package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	logx "steamwatch/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText short=%q", got)
	}

	in := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(in, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("splitText newline=%q", got)
	}

	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("splitText hard=%q", got)
	}
}

func TestSendAlert(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		calls.Add(1)
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`)
	}))
	defer srv.Close()

	s, err := New(Config{Token: "123:abc", ChatID: -100, APIURL: srv.URL, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendAlert(context.Background(), "[WARN] delivery failed"); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("sendMessage calls=%d", calls.Load())
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatalf("expected error without token")
	}
	if _, err := New(Config{Token: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected error without chat id")
	}
}
