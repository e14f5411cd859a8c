package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	cfgpkg "constguard/internal/config"
)

// initConfig 在 dir 生成 config.json 与 .env 模板；dir 为 "-" 时将配置打印到 stdout。
// 已存在的文件跳过，不覆盖。
func initConfig(dir string, stdout io.Writer) error {
	cfg := cfgpkg.DefaultTemplateConfig()
	if dir == "-" {
		return writeConfig(stdout, "", cfg)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeConfig(stdout, filepath.Join(dir, "config.json"), cfg); err != nil {
		return err
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fmt.Fprintf(stdout, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

func writeConfig(stdout io.Writer, path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "" {
		_, err = stdout.Write(b)
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	return f.Close()
}

// dotEnvKeys 为 .env 模板列出的全部覆盖项（空值表示未设置）。
var dotEnvKeys = []string{
	"CONFIG_FILE",
	"CONFIG_JSON",
	"INPUTS",
	"CONCURRENCY",
	"LOG_LEVEL",
	"METRICS_FILE",
	"COMPONENTS_READER",
	"COMPONENTS_TRANSFORMER",
	"COMPONENTS_WRITER",
	"OPTIONS_READER_JSON",
	"OPTIONS_TRANSFORMER_JSON",
	"OPTIONS_WRITER_JSON",
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	env := make(map[string]string, len(dotEnvKeys))
	for _, k := range dotEnvKeys {
		env[cfgpkg.EnvPrefix+k] = ""
	}
	content, err := godotenv.Marshal(env)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("# constguard .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString(content)
	b.WriteString("\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return err
	}
	return f.Close()
}

// preflightCheckOutput: fs Writer 启动前检查输出位置的可写性。
// - output_dir：目录存在则试写临时文件，不存在则检查父目录；
// - output_path：其所在目录须已存在且可写。
// 其他 writer 跳过。
func preflightCheckOutput(cfg cfgpkg.Config) error {
	name := cfg.Components.Writer
	if strings.TrimSpace(name) == "" {
		name = cfgpkg.Defaults().Components.Writer
	}
	if name != "fs" {
		return nil
	}
	var w struct {
		OutputDir  string `json:"output_dir"`
		OutputPath string `json:"output_path"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &w)
	}
	// 单文件：父目录须已存在（不代为创建）
	if p := strings.TrimSpace(w.OutputPath); p != "" {
		return checkExistingDir(filepath.Dir(p))
	}
	dir := strings.TrimSpace(w.OutputDir)
	if dir == "" {
		// 未指定时由装配阶段按实现自行报错
		return nil
	}
	return checkWritableDir(dir)
}

// checkInputFile 要求 p 存在且不是目录；FIFO、设备等非常规文件允许。
func checkInputFile(p string) error {
	st, err := os.Stat(p)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return &os.PathError{Op: "open", Path: p, Err: syscall.EISDIR}
	}
	return nil
}

func checkExistingDir(dir string) error {
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	}
	return checkWritableDir(dir)
}

func checkWritableDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	// 目录不存在：检查最近的已存在祖先是否可写
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	return checkWritableDir(parent)
}
