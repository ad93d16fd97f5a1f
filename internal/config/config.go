package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 凭证与敏感字段的环境变量映射，环境变量优先于文件。
var envBindings = map[string]string{
	"weex.api_key":              "WEEX_API_KEY",
	"weex.secret_key":           "WEEX_SECRET_KEY",
	"weex.passphrase":           "WEEX_PASSPHRASE",
	"ai.api_key":                "AI_API_KEY",
	"app.log_level":             "LOG_LEVEL",
	"notify.telegram_bot_token": "TELEGRAM_BOT_TOKEN",
	"notify.telegram_chat_id":   "TELEGRAM_CHAT_ID",
}

// LoadDotEnv 读取 .env（若存在），已有环境变量不会被覆盖。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	for key, env := range envBindings {
		if val, ok := os.LookupEnv(env); ok && strings.TrimSpace(val) != "" {
			v.Set(key, val)
			setKeys.mark(key)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func resolveConfigIncludes(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	stack := make(map[string]bool)
	files, err := collectConfigFiles(abs, seen, stack)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []string{abs}, nil
	}
	return files, nil
}

func collectConfigFiles(path string, seen, stack map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if stack[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if seen[path] {
		return nil, nil
	}
	stack[path] = true
	includes, err := parseIncludeList(path)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(dir, inc)
		}
		sub, err := collectConfigFiles(incPath, seen, stack)
		if err != nil {
			return nil, err
		}
		if len(sub) > 0 {
			ordered = append(ordered, sub...)
		}
	}
	delete(stack, path)
	seen[path] = true
	ordered = append(ordered, path)
	return ordered, nil
}

// parseIncludeList 读取单个文件的 include 列表；TOML/YAML 解码后数组统一是 []any。
func parseIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
		for _, item := range val {
			flattenConfigKeys(prefix, item, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
