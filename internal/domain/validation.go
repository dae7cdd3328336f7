package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// RFC 5322 邮箱地址长度限制
const (
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	localPartRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

	// 至少包含一个点，支持子域名
	domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
)

// ValidateDomainName 验证服务商返回的域名
func ValidateDomainName(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ErrInvalidDomain
	}
	if len(name) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(name) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateAddress 验证完整邮箱地址
func ValidateAddress(address string) error {
	address = strings.ToLower(strings.TrimSpace(address))
	if len(address) > MaxEmailLength {
		return ErrEmailTooLong
	}

	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return ErrInvalidEmail
	}
	local, host := address[:at], address[at+1:]

	if len(local) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(local) || strings.Contains(local, "..") {
		return ErrInvalidLocalPart
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return ErrInvalidEmail
	}
	return ValidateDomainName(host)
}
