package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	oracleMu  sync.Mutex
	oracleLog *log.Logger
)

// SetOracleWriter 设置 AI 置信度请求/响应的转储目标；nil 关闭转储。
func SetOracleWriter(w io.Writer) {
	oracleMu.Lock()
	defer oracleMu.Unlock()
	if w == nil {
		oracleLog = nil
		return
	}
	oracleLog = log.New(w, "", log.LstdFlags)
}

type oracleSection struct {
	Title string
	Body  string
}

func logOracle(kind, model, purpose string, sections []oracleSection) {
	oracleMu.Lock()
	out := oracleLog
	oracleMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[ORACLE]")
	for _, tag := range []string{kind, model, purpose} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(title)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

func LogOracleRequest(model, purpose, systemPrompt, userPrompt string) {
	logOracle("request", model, purpose, []oracleSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	})
}

func LogOracleResponse(model, purpose, raw string) {
	logOracle("response", model, purpose, []oracleSection{{Title: "RAW", Body: raw}})
}
