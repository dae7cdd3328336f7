package format

import (
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToText 将邮件 HTML 正文转换为纯文本。
//
// v 可以是字符串、字符串切片或 []interface{}，切片中的非字符串元素被忽略；
// 其他类型返回空字符串。脚本和样式内容会被移除，每段可见文本占一行，空行被丢弃。
func HTMLToText(v interface{}) string {
	var content string
	switch body := v.(type) {
	case string:
		content = body
	case []string:
		content = strings.Join(body, "\n")
	case []interface{}:
		parts := make([]string, 0, len(body))
		for _, item := range body {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		content = strings.Join(parts, "\n")
	default:
		return ""
	}

	content = html.UnescapeString(content)
	doc, err := xhtml.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}

	var b strings.Builder
	collectText(doc, &b)

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func collectText(n *xhtml.Node, b *strings.Builder) {
	if n.Type == xhtml.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript:
			return
		}
	}
	if n.Type == xhtml.TextNode {
		b.WriteString(n.Data)
		b.WriteByte('\n')
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
}
