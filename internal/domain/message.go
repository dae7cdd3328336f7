package domain

import (
	"bytes"
	"encoding/json"
)

// Address 邮件地址（发件人/收件人）
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// MessageSummary 是邮件服务商列表接口返回的邮件摘要。
type MessageSummary struct {
	ID        string  `json:"id"`
	From      Address `json:"from"`
	Subject   string  `json:"subject"`
	Intro     string  `json:"intro"`
	Seen      bool    `json:"seen"`
	CreatedAt string  `json:"createdAt"`
}

// MessageRecord 是读取单封邮件得到的完整内容。
type MessageRecord struct {
	ID        string   `json:"id"`
	From      Address  `json:"from"`
	Subject   string   `json:"subject"`
	CreatedAt string   `json:"createdAt"`
	Text      string   `json:"text"`
	HTML      HTMLBody `json:"html"`
}

// HTMLBody 邮件的 HTML 正文片段。
//
// 服务商可能返回单个字符串，也可能返回字符串数组；数组中的非字符串元素会被忽略。
type HTMLBody []string

// UnmarshalJSON 兼容字符串与数组两种格式
func (b *HTMLBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = HTMLBody{s}
		return nil
	}

	var items []interface{}
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(HTMLBody, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	*b = out
	return nil
}

// Domain 邮件服务商提供的可注册域名
type Domain struct {
	ID       string `json:"id"`
	Domain   string `json:"domain"`
	IsActive bool   `json:"isActive"`
}
