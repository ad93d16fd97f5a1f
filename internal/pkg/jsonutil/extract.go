package jsonutil

import (
	"strings"

	"github.com/tidwall/gjson"
)

const codeFence = "```"

// ExtractObject 从模型回复中取出第一个完整的 JSON 对象，优先 ``` 代码块内的内容。
func ExtractObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fencedBlock(raw); ok {
		if obj, ok := balanced(block, '{', '}'); ok && gjson.Valid(obj) {
			return obj, true
		}
	}
	obj, ok := balanced(raw, '{', '}')
	if !ok || !gjson.Valid(obj) {
		return "", false
	}
	return obj, true
}

// Pretty 缩进合法 JSON；非法输入原样返回。
func Pretty(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return raw
	}
	return gjson.Get(raw, "@pretty").String()
}

func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 去掉语言标记行，例如 ```json
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

func balanced(raw string, open, close byte) (string, bool) {
	start := strings.IndexByte(raw, open)
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}
