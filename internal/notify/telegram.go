package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAPIBase = "https://api.telegram.org"

// maxMessageLen is the transport's hard cap on message text.
const maxMessageLen = 4096

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	client *resty.Client
	token  string
}

// NewTelegram creates a Notifier for the given bot token.
func NewTelegram(token string) *Telegram {
	return NewTelegramWithBase(token, defaultAPIBase)
}

// NewTelegramWithBase is NewTelegram with an overridable API base URL.
func NewTelegramWithBase(token, base string) *Telegram {
	c := resty.New().
		SetBaseURL(base).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &Telegram{client: c, token: token}
}

type sendMessageReq struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers text to userID, truncating to the transport limit.
func (t *Telegram) Send(ctx context.Context, userID int64, text string) error {
	if t.token == "" {
		return fmt.Errorf("notify: bot token not configured")
	}
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen])
	}

	var out apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(sendMessageReq{ChatID: userID, Text: text}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return fmt.Errorf("notify %d: %w", userID, err)
	}
	if resp.StatusCode() != http.StatusOK || !out.OK {
		return fmt.Errorf("notify %d: status %d: %s", userID, resp.StatusCode(), out.Description)
	}
	return nil
}
