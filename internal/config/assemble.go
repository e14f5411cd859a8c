package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"constguard/internal/diag"
	"constguard/internal/pipeline"
	"constguard/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if !diag.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("config: unknown logging level %q", cfg.Logging.Level)
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Transformer, d.Components.Transformer); registry.Transformer[name] == nil {
		return fmt.Errorf("config: transformer %q not registered", name)
	}
	wn := effName(cfg.Components.Writer, d.Components.Writer)
	if registry.Writer[wn] == nil {
		return fmt.Errorf("config: writer %q not registered", wn)
	}
	// 单文件输出只能承接一个输入根
	if wn == "fs" && len(cfg.Inputs) > 1 && outputPath(cfg.Options.Writer) != "" {
		return errors.New("config: writer output_path takes exactly one input; use output_dir for several")
	}
	return nil
}

func outputPath(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var w struct {
		OutputPath string `json:"output_path"`
	}
	_ = json.Unmarshal(raw, &w)
	return strings.TrimSpace(w.OutputPath)
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	tn := effName(cfg.Components.Transformer, d.Components.Transformer)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	t, err := registry.Transformer[tn](cfg.Options.Transformer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("transformer %s: %w", tn, err)
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}

	comp := pipeline.Components{Reader: r, Transformer: t, Writer: w}
	set := pipeline.Settings{
		Inputs:      cloneStrings(cfg.Inputs),
		Concurrency: cfg.Concurrency,
	}
	return comp, set, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
