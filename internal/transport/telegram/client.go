// Package telegram 通过 Bot HTTP API 收发聊天消息。
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"tempmail/relay/internal/config"
)

const (
	sendTimeout = 20 * time.Second
	// Bot API 对同一机器人全局限制约每秒 30 条
	sendRate  = 25
	sendBurst = 25
)

// APIError Bot API 返回 ok=false
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Update getUpdates 返回的更新
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message 聊天消息
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat 聊天
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

type replyKeyboard struct {
	Keyboard       [][]keyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard"`
	IsPersistent   bool               `json:"is_persistent"`
}

type sendMessageRequest struct {
	ChatID                int64          `json:"chat_id"`
	Text                  string         `json:"text"`
	ParseMode             string         `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool           `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *replyKeyboard `json:"reply_markup,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// Client Telegram Bot API 客户端
type Client struct {
	baseURL     string
	httpClient  *http.Client
	pollTimeout time.Duration
	limiter     *rate.Limiter
}

// NewClient 创建 Bot API 客户端
func NewClient(cfg *config.TelegramConfig) *Client {
	return &Client{
		baseURL:     cfg.APIURL + "/bot" + cfg.BotToken,
		httpClient:  &http.Client{},
		pollTimeout: cfg.PollTimeout,
		limiter:     rate.NewLimiter(sendRate, sendBurst),
	}
}

// GetUpdates 长轮询获取新消息
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout+10*time.Second)
	defer cancel()

	req := getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(c.pollTimeout / time.Second),
		AllowedUpdates: []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage 发送消息，rows 非空时附带自定义键盘
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, html bool, rows [][]string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req := sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
	}
	if html {
		req.ParseMode = "HTML"
	}
	if len(rows) > 0 {
		kb := &replyKeyboard{ResizeKeyboard: true, IsPersistent: true}
		for _, row := range rows {
			buttons := make([]keyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, keyboardButton{Text: label})
			}
			kb.Keyboard = append(kb.Keyboard, buttons)
		}
		req.ReplyMarkup = kb
	}
	return c.call(ctx, "sendMessage", req, nil)
}

// Send 发送不带键盘的消息，供轮询任务转发邮件使用
func (c *Client) Send(ctx context.Context, chatID int64, text string, html bool) error {
	return c.SendMessage(ctx, chatID, text, html, nil)
}

func (c *Client) call(ctx context.Context, method string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !envelope.OK {
		code := envelope.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: envelope.Description}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
