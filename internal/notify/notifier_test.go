package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"

	"transferwatch/internal/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad token"), false},
		{"net timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"conn reset", syscall.ECONNRESET, true},
		{"broken pipe", syscall.EPIPE, true},
	} {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tg := NewTelegram("token123", "chat456")
	tg.baseURL = server.URL

	event := model.TransferEvent{
		Kind:        model.KindToken,
		From:        "0xaaa",
		To:          "0xbbb",
		Amount:      "1.5",
		TokenSymbol: "USDT",
		TxHash:      "0xdead",
		BlockNumber: 42,
	}
	if err := tg.Send(context.Background(), event); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/bottoken123/sendMessage" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody["chat_id"] != "chat456" {
		t.Fatalf("unexpected chat_id %s", gotBody["chat_id"])
	}
	for _, want := range []string{"1.5 USDT", "0xaaa", "0xbbb", "0xdead", "block 42"} {
		if !strings.Contains(gotBody["text"], want) {
			t.Fatalf("alert text missing %q: %s", want, gotBody["text"])
		}
	}
}

func TestTelegramSendNonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"description":"bot was blocked"}`))
	}))
	defer server.Close()

	tg := NewTelegram("token", "chat")
	tg.baseURL = server.URL

	err := tg.Send(context.Background(), model.TransferEvent{TxHash: "0x1"})
	if err == nil {
		t.Fatalf("non-200 response should error")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("error should carry status and body snippet: %v", err)
	}
}
