// Package format 将服务商邮件转换为聊天消息（Telegram HTML）。
package format

import (
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tempmail/relay/internal/domain"
)

const (
	// MaxBodyLength 正文最大字符数，超出部分被截断
	MaxBodyLength = 3200
	// TruncationMarker 截断后追加的标记
	TruncationMarker = "\n…(truncated)"

	EmptyBody      = "(empty body)"
	DefaultSubject = "(no subject)"
	unknownSender  = "unknown"
)

// MessageBody 返回邮件正文纯文本：优先 text，其次 HTML 转文本，都为空时返回占位符
func MessageBody(rec *domain.MessageRecord) string {
	if text := strings.TrimSpace(rec.Text); text != "" {
		return text
	}
	if text := HTMLToText([]string(rec.HTML)); text != "" {
		return text
	}
	return EmptyBody
}

// Truncate 将正文截断为 MaxBodyLength 个字符并追加截断标记
func Truncate(body string) string {
	body = norm.NFC.String(body)
	runes := []rune(body)
	if len(runes) <= MaxBodyLength {
		return body
	}
	return string(runes[:MaxBodyLength]) + TruncationMarker
}

// FormatMessage 生成转发到聊天的邮件内容。
//
// 验证码从完整正文中提取，截断只影响展示部分。
func FormatMessage(rec *domain.MessageRecord) string {
	from := rec.From.Address
	if from == "" {
		from = unknownSender
	}
	subject := rec.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	body := MessageBody(rec)
	otp, hasOTP := ExtractOTP(body)
	body = Truncate(body)

	var b strings.Builder
	b.WriteString("📩 <b>New Email</b>\n")
	fmt.Fprintf(&b, "<b>From:</b> %s\n", html.EscapeString(from))
	fmt.Fprintf(&b, "<b>Subject:</b> %s\n", html.EscapeString(subject))
	fmt.Fprintf(&b, "<b>Date:</b> %s\n\n", html.EscapeString(rec.CreatedAt))
	if hasOTP {
		fmt.Fprintf(&b, "🔐 <b>OTP:</b> <code>%s</code>\n\n", otp)
	}
	b.WriteString(html.EscapeString(body))
	return b.String()
}
