package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"transferwatch/internal/model"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram sends alerts through the Telegram Bot API.
type Telegram struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegram builds a Telegram notifier.
func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		baseURL:  telegramAPIBase,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a sendMessage request for the event.
func (t *Telegram) Send(ctx context.Context, event model.TransferEvent) error {
	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    formatAlert(event),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

func formatAlert(event model.TransferEvent) string {
	kind := "Token transfer"
	if event.Kind == model.KindNative {
		kind = "Native transfer"
	}
	return fmt.Sprintf("%s: %s %s\nfrom %s\nto %s\ntx %s (block %d)",
		kind, event.Amount, event.TokenSymbol, event.From, event.To, event.TxHash, event.BlockNumber)
}
