package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/relay/internal/config"
	"tempmail/relay/internal/domain"
)

// fakeMailTM 模拟 mail.tm 接口
type fakeMailTM struct {
	mu            sync.Mutex
	domains       string
	rejectCreates int
	createStatus  int
	addresses     []string
	authHeaders   []string
}

func (f *fakeMailTM) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /domains", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Write([]byte(f.domains))
	})
	mux.HandleFunc("POST /accounts", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()
		f.addresses = append(f.addresses, body["address"])
		if f.rejectCreates > 0 {
			f.rejectCreates--
			w.WriteHeader(f.createStatus)
			w.Write([]byte(`{"detail":"address: This value is already used."}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"acc-1"}`))
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["password"])
		w.Write([]byte(`{"id":"acc-1","token":"tok-` + body["address"] + `"}`))
	})
	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		f.mu.Unlock()
		if r.Header.Get("Authorization") == "Bearer expired" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"hydra:member":[
			{"id":"c","from":{"address":"c@x.test"},"subject":"third","createdAt":"2024-01-03T00:00:00+00:00"},
			{"id":"b","from":{"address":"b@x.test"},"subject":"second","createdAt":"2024-01-02T00:00:00+00:00"},
			{"id":"a","from":{"address":"a@x.test"},"subject":"first","createdAt":"2024-01-01T00:00:00+00:00"}
		],"hydra:totalItems":3}`))
	})
	mux.HandleFunc("GET /messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "m1":
			w.Write([]byte(`{"id":"m1","from":{"address":"noreply@shop.test","name":"Shop"},
				"subject":"Your code","createdAt":"2024-01-01T10:00:00+00:00",
				"text":"","html":["<p>Code: 123456</p>", 42, "<p>Bye</p>"]}`))
		case "m2":
			w.Write([]byte(`{"id":"m2","from":{"address":"a@x.test"},"subject":"Hi","text":"hello","html":"<b>hello</b>"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not Found"}`))
		}
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeMailTM) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(&config.ProviderConfig{
		BaseURL: srv.URL + "/",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestClient_CreateAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("优先选择启用的域名", func(t *testing.T) {
		f := &fakeMailTM{domains: `{"hydra:member":[
			{"id":"1","domain":"old.test","isActive":false},
			{"id":"2","domain":"live.test","isActive":true}
		]}`}
		client := newTestClient(t, f)

		acc, err := client.CreateAccount(ctx)
		require.NoError(t, err)

		assert.True(t, strings.HasSuffix(acc.Address, "@live.test"))
		local := strings.TrimSuffix(acc.Address, "@live.test")
		assert.Len(t, local, 2*localPartBytes)
		assert.Len(t, acc.Password, 16)
		assert.Equal(t, "tok-"+acc.Address, acc.Token)
		assert.Len(t, f.addresses, 1)
	})

	t.Run("没有启用域名时取第一个", func(t *testing.T) {
		f := &fakeMailTM{domains: `{"hydra:member":[
			{"id":"1","domain":"first.test","isActive":false},
			{"id":"2","domain":"second.test","isActive":false}
		]}`}
		client := newTestClient(t, f)

		acc, err := client.CreateAccount(ctx)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(acc.Address, "@first.test"))
	})

	t.Run("没有域名时报错", func(t *testing.T) {
		f := &fakeMailTM{domains: `{"hydra:member":[]}`}
		client := newTestClient(t, f)

		_, err := client.CreateAccount(ctx)
		assert.ErrorIs(t, err, ErrNoDomains)
	})

	t.Run("忽略格式不合法的域名", func(t *testing.T) {
		f := &fakeMailTM{domains: `{"hydra:member":[
			{"id":"1","domain":"not a domain","isActive":true},
			{"id":"2","domain":"ok.test","isActive":false}
		]}`}
		client := newTestClient(t, f)

		acc, err := client.CreateAccount(ctx)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(acc.Address, "@ok.test"))
		assert.NoError(t, domain.ValidateAddress(acc.Address))
	})

	t.Run("地址冲突时用更长前缀重试一次", func(t *testing.T) {
		f := &fakeMailTM{
			domains:       `{"hydra:member":[{"id":"1","domain":"x.test","isActive":true}]}`,
			rejectCreates: 1,
			createStatus:  http.StatusUnprocessableEntity,
		}
		client := newTestClient(t, f)

		acc, err := client.CreateAccount(ctx)
		require.NoError(t, err)

		require.Len(t, f.addresses, 2)
		assert.Len(t, strings.TrimSuffix(f.addresses[0], "@x.test"), 2*localPartBytes)
		assert.Len(t, strings.TrimSuffix(f.addresses[1], "@x.test"), 2*retryLocalPartBytes)
		assert.Equal(t, f.addresses[1], acc.Address)
	})

	t.Run("重试后仍失败则返回错误", func(t *testing.T) {
		f := &fakeMailTM{
			domains:       `{"hydra:member":[{"id":"1","domain":"x.test","isActive":true}]}`,
			rejectCreates: 5,
			createStatus:  http.StatusUnprocessableEntity,
		}
		client := newTestClient(t, f)

		_, err := client.CreateAccount(ctx)
		require.Error(t, err)
		assert.True(t, IsRejected(err))
		assert.Len(t, f.addresses, 2)
	})

	t.Run("服务端错误不重试", func(t *testing.T) {
		f := &fakeMailTM{
			domains:       `{"hydra:member":[{"id":"1","domain":"x.test","isActive":true}]}`,
			rejectCreates: 1,
			createStatus:  http.StatusBadGateway,
		}
		client := newTestClient(t, f)

		_, err := client.CreateAccount(ctx)
		require.Error(t, err)
		assert.True(t, IsUnavailable(err))
		assert.Len(t, f.addresses, 1)
	})
}

func TestClient_Messages(t *testing.T) {
	ctx := context.Background()
	f := &fakeMailTM{}
	client := newTestClient(t, f)

	t.Run("列表保持服务商顺序", func(t *testing.T) {
		msgs, err := client.ListMessages(ctx, "good")
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, []string{"c", "b", "a"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
		assert.Equal(t, "c@x.test", msgs[0].From.Address)
		assert.Contains(t, f.authHeaders, "Bearer good")
	})

	t.Run("令牌失效返回 401", func(t *testing.T) {
		_, err := client.ListMessages(ctx, "expired")
		require.Error(t, err)
		assert.True(t, IsUnauthorized(err))
		assert.True(t, IsRejected(err))
	})

	t.Run("HTML 数组正文", func(t *testing.T) {
		msg, err := client.ReadMessage(ctx, "good", "m1")
		require.NoError(t, err)
		assert.Equal(t, "noreply@shop.test", msg.From.Address)
		assert.Equal(t, "Your code", msg.Subject)
		assert.Equal(t, []string{"<p>Code: 123456</p>", "<p>Bye</p>"}, []string(msg.HTML))
	})

	t.Run("HTML 字符串正文", func(t *testing.T) {
		msg, err := client.ReadMessage(ctx, "good", "m2")
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, []string{"<b>hello</b>"}, []string(msg.HTML))
	})

	t.Run("邮件不存在", func(t *testing.T) {
		_, err := client.ReadMessage(ctx, "good", "missing")
		require.Error(t, err)

		var pe *Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, http.StatusNotFound, pe.StatusCode)
		assert.Equal(t, "read message", pe.Op)
		assert.Contains(t, pe.Body, "Not Found")
	})
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(&config.ProviderConfig{BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop())
	_, err := client.ListMessages(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		unavailable bool
		rejected    bool
	}{
		{"网络错误", 0, true, false},
		{"限流", 429, true, false},
		{"服务端错误", 503, true, false},
		{"参数错误", 400, false, true},
		{"未授权", 401, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &Error{Op: "test", StatusCode: tt.status}
			assert.Equal(t, tt.unavailable, IsUnavailable(err))
			assert.Equal(t, tt.rejected, IsRejected(err))
		})
	}

	assert.False(t, IsUnavailable(assert.AnError))
	assert.False(t, IsRejected(nil))
}
