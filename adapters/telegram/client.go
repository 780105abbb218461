// Package telegram is a minimal Telegram Bot API client: the methods the
// gateway needs to reply, acknowledge buttons and manage its webhook.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdelaire/tgate/core"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	requestTimeout = 10 * time.Second

	// Bot API allows about 30 messages per second across all chats.
	sendsPerSecond = 30
	sendBurst      = 5
)

// AllowedUpdates are the update kinds the gateway routes.
var AllowedUpdates = []string{"message", "callback_query"}

// APIError is a Bot API error response.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s error %d: %s (retry after %ds)", e.Method, e.StatusCode, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s error %d: %s", e.Method, e.StatusCode, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Client calls the Bot API. It implements core.Sender.
type Client struct {
	botToken string
	client   *http.Client
	baseURL  string
	limiter  *rate.Limiter
}

// New creates a client for the given bot token.
func New(botToken string) *Client {
	return &Client{
		botToken: botToken,
		client:   &http.Client{Timeout: requestTimeout},
		baseURL:  defaultBaseURL,
		limiter:  rate.NewLimiter(rate.Limit(sendsPerSecond), sendBurst),
	}
}

// WithBaseURL sets a custom base URL (for testing).
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type messagePayload struct {
	ChatID      int64        `json:"chat_id"`
	MessageID   int64        `json:"message_id,omitempty"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

// Send delivers msg with sendMessage or editMessageText. Sends are paced
// to stay under the Bot API's global limit.
func (c *Client) Send(ctx context.Context, msg core.OutboundMessage) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	p := messagePayload{
		ChatID:    msg.ChatID,
		Text:      msg.Text,
		ParseMode: msg.ParseMode,
	}
	method := msg.Method
	if method == "" {
		method = core.MethodSend
	}
	if method == core.MethodEdit {
		p.MessageID = msg.MessageID
	}
	if len(msg.Keyboard) > 0 {
		p.ReplyMarkup = &replyMarkup{InlineKeyboard: keyboard(msg.Keyboard)}
	}

	err := c.call(ctx, string(method), p, nil)
	var apiErr *APIError
	if method == core.MethodEdit && errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

func keyboard(rows [][]core.Button) [][]inlineButton {
	out := make([][]inlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]inlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, inlineButton{Text: b.Text, CallbackData: b.Data})
		}
		out = append(out, r)
	}
	return out
}

// AnswerCallback stops the loading indicator on a pressed button.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID}, nil)
}

// SetWebhook registers webhookURL as the push endpoint. Telegram will send secret
// in the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secret string, dropPending bool) error {
	return c.call(ctx, "setWebhook", map[string]any{
		"url":                  webhookURL,
		"secret_token":         secret,
		"allowed_updates":      AllowedUpdates,
		"drop_pending_updates": dropPending,
	}, nil)
}

// DeleteWebhook removes the push endpoint, which getUpdates requires.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": dropPending}, nil)
}

// WebhookInfo is the subset of getWebhookInfo the CLI prints.
type WebhookInfo struct {
	URL                  string `json:"url"`
	PendingUpdateCount   int    `json:"pending_update_count"`
	LastErrorDate        int64  `json:"last_error_date,omitempty"`
	LastErrorMessage     string `json:"last_error_message,omitempty"`
	MaxConnections       int    `json:"max_connections,omitempty"`
	HasCustomCertificate bool   `json:"has_custom_certificate"`
}

// GetWebhookInfo reports the current webhook registration.
func (c *Client) GetWebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	var info WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", struct{}{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) call(ctx context.Context, method string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of errors and logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram %s request: %w", method, err)
	}
	defer resp.Body.Close()

	var ar apiResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&ar)
	if resp.StatusCode != http.StatusOK || !ar.OK {
		apiErr := &APIError{Method: method, StatusCode: resp.StatusCode, Description: ar.Description}
		if ar.Parameters != nil {
			apiErr.RetryAfter = ar.Parameters.RetryAfter
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode %s response: %w", method, decodeErr)
	}
	if result != nil {
		if err := json.Unmarshal(ar.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}
