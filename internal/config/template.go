package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认输入为 ./constants 目录，Writer 输出到 ./out 目录；
// - 组件名采用仓库内置实现；
// - 选项包含全部键并给出中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:      []string{"constants"},
		Concurrency: d.Concurrency,
		Logging:     Logging{Level: "info"},
		Metrics:     Metrics{File: ""},
		Components:  d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "ignore_patterns": [],
  "allow_exts": [".txt"]
}`)
	cfg.Options.Transformer = json.RawMessage(`{
  "alias_prefix": "__XYX__",
  "separate_blocks": false,
  "prologue": "",
  "prologue_path": "",
  "epilogue": "",
  "epilogue_path": "",
  "max_line_bytes": 1048576
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "ext": ".c",
  "atomic": false,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
