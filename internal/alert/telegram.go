package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pattern-trader/internal/config"
)

// telegramMaxText is the Bot API limit for a single message.
const telegramMaxText = 4096

// TelegramNotifier posts every message to one chat. Order reports are sent
// without a notification sound; errors ring.
type TelegramNotifier struct {
	enabled  bool
	endpoint string
	chatID   string
	http     *http.Client
}

func NewTelegramNotifier(enabled bool, botToken, chatID, baseURL string, timeout time.Duration) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		enabled:  enabled,
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + botToken + "/sendMessage",
		chatID:   chatID,
		http:     &http.Client{Timeout: timeout},
	}
}

func NewTelegramNotifierFromConfig(cfg config.TelegramConfig) *TelegramNotifier {
	return NewTelegramNotifier(cfg.Enabled, cfg.BotToken, cfg.ChatID, cfg.APIBaseURL, time.Duration(cfg.TimeoutSec)*time.Second)
}

func (t *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	if t == nil || !t.enabled {
		return nil
	}
	payload, err := json.Marshal(telegramMessage{
		ChatID:              t.chatID,
		Text:                clip(msg.Subject+"\n"+msg.Body, telegramMaxText),
		DisablePreview:      true,
		DisableNotification: msg.Kind == KindOrder,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("telegram send: %w", redactURLError(err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var reply telegramReply
	parsed := len(raw) > 0 && json.Unmarshal(raw, &reply) == nil
	switch {
	case parsed && !reply.OK:
		return fmt.Errorf("telegram api error %d: %s", reply.ErrorCode, strings.TrimSpace(reply.Description))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("telegram status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	DisablePreview      bool   `json:"disable_web_page_preview,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}
