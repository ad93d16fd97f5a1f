package notifier

import (
	"strings"
	"time"
)

// Telegram 单条消息上限 4096 字符，留出余量
const maxMessageRunes = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的推送消息。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本：标题、代码块包裹的段落、脚注与时间，超长时按字符截断。
func (m StructuredMessage) RenderMarkdown() string {
	parts := make([]string, 0, 4)
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		parts = append(parts, header)
	}
	if block := renderSections(m.Sections); block != "" {
		parts = append(parts, "```\n"+block+"\n```")
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		parts = append(parts, escapeFence(footer))
	}
	if !m.Timestamp.IsZero() {
		parts = append(parts, "时间："+m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	return truncateRunes(strings.Join(parts, "\n\n"), maxMessageRunes)
}

func renderSections(secs []MessageSection) string {
	blocks := make([]string, 0, len(secs))
	for _, sec := range secs {
		var lines []string
		for _, line := range sec.Lines {
			if text := strings.TrimSpace(line); text != "" {
				lines = append(lines, "- "+escapeFence(text))
			}
		}
		if len(lines) == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			lines = append([]string{escapeFence(title)}, lines...)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// escapeFence 防止正文里的 ``` 提前闭合代码块。
func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
