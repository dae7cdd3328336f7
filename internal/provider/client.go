// Package provider 实现 mail.tm 一次性邮箱服务的 HTTP 客户端。
package provider

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmail/relay/internal/config"
	"tempmail/relay/internal/domain"
)

const (
	localPartBytes      = 6
	retryLocalPartBytes = 7
	passwordBytes       = 12
	maxErrorBody        = 512
)

// Account 新建的邮箱账户
type Account struct {
	Address  string
	Password string
	Token    string
}

// collection JSON-LD 集合响应
type collection[T any] struct {
	Members []T `json:"hydra:member"`
}

// Client mail.tm API 客户端，所有请求共享同一个限流器。
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient 创建服务商客户端
func NewClient(cfg *config.ProviderConfig, log *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		log:        log,
	}
}

// ListDomains 获取可注册域名列表（第一页）
func (c *Client) ListDomains(ctx context.Context) ([]domain.Domain, error) {
	var resp collection[domain.Domain]
	if err := c.do(ctx, "list domains", http.MethodGet, "/domains?page=1", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// pickDomain 优先选择启用中的域名，否则取第一个；格式不合法的域名被忽略
func pickDomain(domains []domain.Domain) (string, error) {
	var fallback string
	for _, d := range domains {
		if domain.ValidateDomainName(d.Domain) != nil {
			continue
		}
		if d.IsActive {
			return d.Domain, nil
		}
		if fallback == "" {
			fallback = d.Domain
		}
	}
	if fallback == "" {
		return "", ErrNoDomains
	}
	return fallback, nil
}

// CreateAccount 注册随机地址的新账户并获取令牌。
//
// 注册被拒绝且可能是地址冲突时，用更长的随机前缀重试一次。
func (c *Client) CreateAccount(ctx context.Context) (*Account, error) {
	domains, err := c.ListDomains(ctx)
	if err != nil {
		return nil, err
	}
	host, err := pickDomain(domains)
	if err != nil {
		return nil, err
	}

	password, err := randomPassword()
	if err != nil {
		return nil, err
	}
	address, err := randomAddress(host, localPartBytes)
	if err != nil {
		return nil, err
	}

	err = c.register(ctx, address, password)
	if err != nil && isAddressCollision(err) {
		c.log.Debug("account rejected, retrying with longer address",
			zap.String("address", address),
			zap.Error(err),
		)
		address, err = randomAddress(host, retryLocalPartBytes)
		if err != nil {
			return nil, err
		}
		err = c.register(ctx, address, password)
	}
	if err != nil {
		return nil, err
	}

	token, err := c.IssueToken(ctx, address, password)
	if err != nil {
		return nil, err
	}

	return &Account{Address: address, Password: password, Token: token}, nil
}

func (c *Client) register(ctx context.Context, address, password string) error {
	body := map[string]string{"address": address, "password": password}
	return c.do(ctx, "create account", http.MethodPost, "/accounts", "", body, nil)
}

// IssueToken 使用地址和密码换取 Bearer 令牌
func (c *Client) IssueToken(ctx context.Context, address, password string) (string, error) {
	body := map[string]string{"address": address, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, "issue token", http.MethodPost, "/token", "", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{Op: "issue token", StatusCode: http.StatusOK, Body: "empty token"}
	}
	return resp.Token, nil
}

// ListMessages 获取收件箱第一页邮件摘要，按服务商返回顺序（新邮件在前）
func (c *Client) ListMessages(ctx context.Context, token string) ([]domain.MessageSummary, error) {
	var resp collection[domain.MessageSummary]
	if err := c.do(ctx, "list messages", http.MethodGet, "/messages?page=1", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// ReadMessage 读取单封邮件的完整内容
func (c *Client) ReadMessage(ctx context.Context, token, id string) (*domain.MessageRecord, error) {
	var msg domain.MessageRecord
	path := "/messages/" + url.PathEscape(id)
	if err := c.do(ctx, "read message", http.MethodGet, path, token, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/ld+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: text}
	}

	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func randomAddress(host string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate address: %w", err)
	}
	return hex.EncodeToString(buf) + "@" + host, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, passwordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
