package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"
)

// EnvPrefix 为环境变量覆盖的统一前缀。
const EnvPrefix = "CONSTGUARD_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Concurrency: 1,
		Logging:     Logging{Level: "info"},
		Components: Components{
			Reader:      "fs",
			Transformer: "ifdef",
			Writer:      "fs",
		},
	}
}

// Load 从文件路径或原始内容解析 Config（严格拒绝未知字段）。
// 文件扩展名为 .yaml/.yml 时先经 YAML→JSON 转换；raw 以 '{' 开头视为 JSON，否则按 YAML 处理。
func Load(path string, raw []byte) (Config, error) {
	var cfg Config
	data := raw
	isYAML := false
	switch {
	case len(raw) > 0:
		isYAML = !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{"))
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		data = b
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			isYAML = true
		}
	default:
		return cfg, errors.New("no config source provided")
	}
	if isYAML {
		j, err := yaml.YAMLToJSON(data)
		if err != nil {
			return cfg, fmt.Errorf("config yaml: %w", err)
		}
		data = j
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}
	if strings.TrimSpace(over.Metrics.File) != "" {
		out.Metrics.File = strings.TrimSpace(over.Metrics.File)
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Transformer != "" {
		out.Components.Transformer = over.Components.Transformer
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Transformer) > 0 {
		out.Options.Transformer = cloneRaw(over.Options.Transformer)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// PatchOptions 在原样 JSON 对象上按键覆盖；值为 nil 表示删除该键。
// 供 CLI 旗标对单个选项做定点覆盖，而不替换整棵子树。
func PatchOptions(raw json.RawMessage, set map[string]any) (json.RawMessage, error) {
	obj := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("options patch: %w", err)
		}
		if obj == nil {
			obj = map[string]any{}
		}
	}
	for k, v := range set {
		if v == nil {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 CONSTGUARD_；集合之外的键忽略。
// 支持：INPUTS, CONCURRENCY, LOG_LEVEL, METRICS_FILE, COMPONENTS_*, OPTIONS_*_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		switch key {
		case "INPUTS":
			if val != "" {
				over.Inputs = splitComma(val)
			}
		case "CONCURRENCY":
			if strings.TrimSpace(val) == "" {
				continue
			}
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %sCONCURRENCY: %w", EnvPrefix, err)
			}
			over.Concurrency = v
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "METRICS_FILE":
			over.Metrics.File = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_TRANSFORMER":
			over.Components.Transformer = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON", "OPTIONS_TRANSFORMER_JSON", "OPTIONS_WRITER_JSON":
			// 原样 JSON；空值视为未设置，避免清空现有配置
			if strings.TrimSpace(val) == "" {
				continue
			}
			if !json.Valid([]byte(val)) {
				return over, fmt.Errorf("env %s%s: invalid json", EnvPrefix, key)
			}
			raw := json.RawMessage(val)
			switch key {
			case "OPTIONS_READER_JSON":
				over.Options.Reader = raw
			case "OPTIONS_TRANSFORMER_JSON":
				over.Options.Transformer = raw
			default:
				over.Options.Writer = raw
			}
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) { return strconv.Atoi(strings.TrimSpace(s)) }
