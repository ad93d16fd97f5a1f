package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"weexagent/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// BreakoutPromptID 是趋势突破候选使用的提示词模板 ID。
const BreakoutPromptID = "breakout"

// PromptTemplate 描述单个提示词模板：system 原文、user 模板与回复 schema。
type PromptTemplate struct {
	ID      string         `mapstructure:"id" yaml:"id"`
	Version int            `mapstructure:"version" yaml:"version"`
	System  string         `mapstructure:"system" yaml:"system"`
	User    string         `mapstructure:"user" yaml:"user"`
	Schema  map[string]any `mapstructure:"schema" yaml:"schema"`

	userTpl        *template.Template
	schemaCompiled *jsonschema.Schema
}

// PromptFile 映射 prompts。
type PromptFile struct {
	Prompts map[string]PromptTemplate `mapstructure:"prompts" yaml:"prompts"`
}

// PromptRegistry 管理提示词模板，配置文件变化时热加载。
type PromptRegistry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	version  int64
	loadedAt time.Time
	prompts  map[string]PromptTemplate
}

// NewPromptRegistry 读取提示词文件并监听更新；path 为空时使用内置模板。
func NewPromptRegistry(path string) (*PromptRegistry, error) {
	r := &PromptRegistry{path: strings.TrimSpace(path)}
	if r.path == "" {
		cfg, err := decodePromptFile([]byte(defaultPromptYAML))
		if err != nil {
			return nil, err
		}
		if err := r.apply(cfg, "builtin"); err != nil {
			return nil, err
		}
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read prompt config failed: %w", err)
	}
	r.v = v
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		// 保留旧模板，直到新文件通过校验
		if err := r.reload(); err != nil {
			logger.Errorf("[oracle] prompt reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

func (r *PromptRegistry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read prompt config failed: %w", err)
	}
	cfg, err := decodePromptFile(raw)
	if err != nil {
		return err
	}
	return r.apply(cfg, filepath.Base(r.path))
}

func (r *PromptRegistry) apply(cfg PromptFile, origin string) error {
	prompts := make(map[string]PromptTemplate, len(cfg.Prompts))
	for name, tpl := range cfg.Prompts {
		norm, err := normalizePrompt(name, tpl)
		if err != nil {
			return err
		}
		prompts[norm.ID] = norm
	}
	if _, ok := prompts[BreakoutPromptID]; !ok {
		return fmt.Errorf("prompt config %s missing %q template", origin, BreakoutPromptID)
	}
	r.mu.Lock()
	r.version++
	r.loadedAt = time.Now()
	r.prompts = prompts
	r.mu.Unlock()
	logger.Infof("[oracle] prompt registry loaded %d templates from %s", len(prompts), origin)
	return nil
}

// Version 每次成功加载递增。
func (r *PromptRegistry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Prompt 返回指定 ID 的模板。
func (r *PromptRegistry) Prompt(id string) (PromptTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.prompts[strings.TrimSpace(id)]
	return tpl, ok
}

// Render 用 data 渲染 user 模板。
func (t PromptTemplate) Render(data any) (string, error) {
	if t.userTpl == nil {
		return t.User, nil
	}
	var buf bytes.Buffer
	if err := t.userTpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.ID, err)
	}
	return buf.String(), nil
}

// Validate 按模板 schema 校验模型回复。
func (t PromptTemplate) Validate(reply map[string]any) error {
	if t.schemaCompiled == nil {
		return nil
	}
	return t.schemaCompiled.Validate(sanitizeParams(reply))
}

func normalizePrompt(name string, tpl PromptTemplate) (PromptTemplate, error) {
	tpl.ID = strings.TrimSpace(tpl.ID)
	if tpl.ID == "" {
		tpl.ID = strings.TrimSpace(name)
	}
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	tpl.System = strings.TrimSpace(tpl.System)
	if strings.TrimSpace(tpl.User) == "" {
		return PromptTemplate{}, fmt.Errorf("prompt %s: user template cannot be empty", tpl.ID)
	}
	parsed, err := template.New(tpl.ID + "_user_prompt").Option("missingkey=error").Parse(tpl.User)
	if err != nil {
		return PromptTemplate{}, fmt.Errorf("prompt %s: parse user template: %w", tpl.ID, err)
	}
	tpl.userTpl = parsed
	if len(tpl.Schema) > 0 {
		compiled, err := compileSchema(tpl.Schema)
		if err != nil {
			return PromptTemplate{}, fmt.Errorf("prompt %s: schema compile failed: %w", tpl.ID, err)
		}
		tpl.schemaCompiled = compiled
	}
	return tpl, nil
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func decodePromptFile(raw []byte) (PromptFile, error) {
	var cfg PromptFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return PromptFile{}, fmt.Errorf("parse prompt config failed: %w", err)
	}
	return cfg, nil
}

// sanitizeParams 递归遍历，将字符串形式的数字转为 float64，兼容模型返回 "0.8" 而非 0.8 的情况。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}

const defaultPromptYAML = `
prompts:
  breakout:
    version: 1
    system: |
      You are a disciplined crypto perpetual-futures risk reviewer.
      A rule engine has flagged a breakout candidate. Decide whether to enter.
      Answer with one JSON object only, no prose:
      {"action": "enter" | "skip", "confidence": <number 0..1>, "reason": "<short reason>"}
    user: |
      symbol: {{.Symbol}}
      interval: {{.Interval}}
      direction: {{.Direction}}
      regime: {{.Regime}}
      price: {{printf "%.4f" .Price}}
      prev_high: {{printf "%.4f" .PrevHigh}}
      prev_low: {{printf "%.4f" .PrevLow}}
      rsi_live: {{printf "%.2f" .Live.Momentum}}
      bb_upper: {{printf "%.4f" .Live.Upper}}
      bb_mid: {{printf "%.4f" .Live.Mid}}
      bb_lower: {{printf "%.4f" .Live.Lower}}
      bb_width_closed: {{printf "%.4f" .Closed.Width}}
      recent_bars (open_time,open,high,low,close,volume):
      {{- range .Bars}}
      {{.OpenTime}},{{.Open}},{{.High}},{{.Low}},{{.Close}},{{.Volume}}
      {{- end}}
    schema:
      type: object
      required: [action, confidence]
      properties:
        action:
          type: string
          enum: [enter, skip]
        confidence:
          type: number
          minimum: 0
          maximum: 1
        reason:
          type: string
`
