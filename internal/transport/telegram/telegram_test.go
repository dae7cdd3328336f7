package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/relay/internal/bot"
	"tempmail/relay/internal/config"
)

// fakeBotAPI 模拟 Bot API：第一次 getUpdates 返回预设更新，之后返回空列表
type fakeBotAPI struct {
	mu      sync.Mutex
	updates []Update
	offsets []int64
	sent    []sendMessageRequest
	failAll bool
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /botTEST/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		var req getUpdatesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		f.offsets = append(f.offsets, req.Offset)
		updates := f.updates
		f.updates = nil
		f.mu.Unlock()

		if len(updates) == 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
		result, _ := json.Marshal(updates)
		json.NewEncoder(w).Encode(apiResponse{OK: true, Result: result})
	})
	mux.HandleFunc("POST /botTEST/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failAll {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
			return
		}
		f.sent = append(f.sent, req)
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})
	return mux
}

func (f *fakeBotAPI) sentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeBotAPI) all() []sendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendMessageRequest(nil), f.sent...)
}

func newTestClient(t *testing.T, f *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(&config.TelegramConfig{
		BotToken:    "TEST",
		APIURL:      srv.URL,
		PollTimeout: time.Second,
	})
}

// echoHandler 记录处理顺序并回显
type echoHandler struct {
	mu   sync.Mutex
	seen map[int64][]string
}

func (h *echoHandler) Handle(_ context.Context, chatID int64, text string) bot.Reply {
	h.mu.Lock()
	h.seen[chatID] = append(h.seen[chatID], text)
	h.mu.Unlock()
	if text == "panic" {
		panic("boom")
	}
	if text == bot.BtnReuse {
		return bot.Reply{Text: "<b>send id</b>", HTML: true, Keyboard: bot.KeyboardBack}
	}
	return bot.Reply{Text: "echo " + text, Keyboard: bot.KeyboardMain}
}

func msg(updateID, chatID int64, text string) Update {
	return Update{UpdateID: updateID, Message: &Message{MessageID: updateID, Chat: Chat{ID: chatID}, Text: text}}
}

func TestClient_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("HTML 与键盘", func(t *testing.T) {
		f := &fakeBotAPI{}
		client := newTestClient(t, f)

		err := client.SendMessage(ctx, 42, "<b>hi</b>", true, bot.KeyboardMain.Rows())
		require.NoError(t, err)

		sent := f.all()
		require.Len(t, sent, 1)
		got := sent[0]
		assert.Equal(t, int64(42), got.ChatID)
		assert.Equal(t, "HTML", got.ParseMode)
		require.NotNil(t, got.ReplyMarkup)
		assert.Len(t, got.ReplyMarkup.Keyboard, 4)
		assert.Equal(t, bot.BtnNew, got.ReplyMarkup.Keyboard[0][0].Text)
		assert.True(t, got.ReplyMarkup.IsPersistent)
	})

	t.Run("纯文本不带键盘", func(t *testing.T) {
		f := &fakeBotAPI{}
		client := newTestClient(t, f)

		require.NoError(t, client.Send(ctx, 1, "plain", false))
		sent := f.all()
		require.Len(t, sent, 1)
		assert.Empty(t, sent[0].ParseMode)
		assert.Nil(t, sent[0].ReplyMarkup)
	})

	t.Run("API 错误", func(t *testing.T) {
		f := &fakeBotAPI{failAll: true}
		client := newTestClient(t, f)

		err := client.Send(ctx, 1, "x", false)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 403, apiErr.Code)
		assert.Contains(t, apiErr.Description, "blocked")
	})
}

func TestDispatcher_Run(t *testing.T) {
	f := &fakeBotAPI{updates: []Update{
		msg(10, 1, "a"),
		msg(11, 2, "x"),
		msg(12, 1, "b"),
		{UpdateID: 13},
		msg(14, 1, "panic"),
		msg(15, 1, "c"),
		msg(16, 2, bot.BtnReuse),
	}}
	client := newTestClient(t, f)
	handler := &echoHandler{seen: make(map[int64][]string)}
	d := NewDispatcher(client, handler, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(f.sentTo(1)) == 3 && len(f.sentTo(2)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	assert.Equal(t, []string{"a", "b", "panic", "c"}, handler.seen[1])
	assert.Equal(t, []string{"echo a", "echo b", "echo c"}, f.sentTo(1))
	assert.Equal(t, []string{"echo x", "<b>send id</b>"}, f.sentTo(2))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, int64(0), f.offsets[0])
	assert.Equal(t, int64(17), f.offsets[1])

	for _, m := range f.sent {
		if m.Text == "<b>send id</b>" {
			assert.Equal(t, "HTML", m.ParseMode)
			assert.Equal(t, bot.BtnBack, m.ReplyMarkup.Keyboard[0][0].Text)
		}
	}
}
