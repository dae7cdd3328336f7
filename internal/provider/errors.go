package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoDomains 服务商没有可注册的域名
var ErrNoDomains = errors.New("no domains available")

// Error 邮件服务商请求失败。
//
// StatusCode 为 0 表示请求没有得到响应（网络错误、超时、限流等待被取消）。
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("provider %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func statusOf(err error) (int, bool) {
	var pe *Error
	if !errors.As(err, &pe) {
		return 0, false
	}
	return pe.StatusCode, true
}

// IsUnavailable 判断是否为服务商暂时不可用（网络错误、5xx、429）
func IsUnavailable(err error) bool {
	code, ok := statusOf(err)
	if !ok {
		return false
	}
	return code == 0 || code >= 500 || code == http.StatusTooManyRequests
}

// IsRejected 判断是否为服务商拒绝请求（除 429 以外的 4xx）
func IsRejected(err error) bool {
	code, ok := statusOf(err)
	return ok && code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// IsUnauthorized 判断令牌是否已失效
func IsUnauthorized(err error) bool {
	code, ok := statusOf(err)
	return ok && code == http.StatusUnauthorized
}

// isAddressCollision 判断创建账户失败是否可能由地址冲突引起
func isAddressCollision(err error) bool {
	code, ok := statusOf(err)
	if !ok {
		return false
	}
	switch code {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
