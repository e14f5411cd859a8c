package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "constguard/internal/config"
	"constguard/internal/diag"
	"constguard/internal/pipeline"
	"constguard/pkg/contract"
)

// 退出码：0 成功；1 运行期错误（格式错误、I/O）；3 配置/参数错误。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

// 测试注入点
var (
	pipelineRun = pipeline.Run
	newLogger   = diag.NewLogger
)

// exitError 携带退出码穿过 cobra 的 RunE。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type flags struct {
	config      string
	logLevel    string
	outDir      string
	aliasPrefix string
	metricsFile string
	initDir     string
	concurrency int
	atomic      bool
	separate    bool
	status      bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = godotenv.Load()

	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 参数/旗标解析错误
	fmt.Fprintf(stderr, "参数错误: %v\n", err)
	fmt.Fprintln(stderr, cmd.UsageString())
	return exitConfig
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "constguard INPUT OUTPUT | constguard --out-dir DIR ROOT...",
		Short: "Generate #ifdef-guarded enum aliases from constant lists",
		Long: `constguard reads constant lists (one name per line, optional // comment) and
writes a "#ifdef NAME / enum __XYX__NAME = NAME; / #endif" block per constant.
Use "-" as INPUT for STDIN and as OUTPUT for STDOUT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if code := execute(ctx, cmd, f, args, stdout, stderr); code != exitOK {
				return &exitError{code: code, err: fmt.Errorf("exit %d", code)}
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "配置文件路径（JSON 或 YAML）；缺省读取 ./config.json（若存在）")
	fl.StringVar(&f.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	fl.StringVar(&f.outDir, "out-dir", "", "批量模式：将每个输入文件写入该目录（位置参数均为输入根）")
	fl.StringVar(&f.aliasPrefix, "alias-prefix", "", "enum 别名前缀（默认 __XYX__）")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "运行结束后导出 Prometheus 文本指标到该文件")
	fl.StringVar(&f.initDir, "init-config", "", "在指定目录生成默认 config.json 与 .env 模板（已存在则跳过）；不带值时为当前目录")
	fl.Lookup("init-config").NoOptDefVal = "."
	fl.IntVar(&f.concurrency, "concurrency", 0, "同时处理的文件数（覆盖配置）")
	fl.BoolVar(&f.atomic, "atomic", false, "原子写出：成功后才替换目标文件（默认出错保留部分输出）")
	fl.BoolVar(&f.separate, "separate-blocks", false, "每个守卫块后追加一个空行")
	fl.BoolVar(&f.status, "status", false, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	return cmd
}

// execute 完成配置分层合并、装配与运行，返回退出码。
func execute(ctx context.Context, cmd *cobra.Command, f flags, args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	corrID := diag.NewCorrID()

	// --init-config: 生成模板并退出
	if dir := strings.TrimSpace(f.initDir); dir != "" {
		if err := initConfig(dir, stdout); err != nil {
			fmt.Fprintf(stderr, "生成默认配置失败: %v\n", err)
			return exitConfig
		}
		return exitOK
	}

	cfg, err := loadConfig(f.config)
	if err != nil {
		fmt.Fprintf(stderr, "配置解析失败: %v\n", err)
		return exitConfig
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fmt.Fprintf(stderr, "环境变量解析失败: %v\n", err)
		return exitConfig
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	cfg, err = applyFlags(cmd, cfg, f, args)
	if err != nil {
		fmt.Fprintf(stderr, "参数错误: %v\n", err)
		return exitConfig
	}

	if err := cfgpkg.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "配置校验失败: %v\n", err)
		dumpConfig(stderr, cfg)
		return exitConfig
	}

	logger := newLogger(corrID, cfg.Logging.Level)
	defer logger.Close()

	// INPUT OUTPUT 模式：INPUT 须为可读的非目录
	if in := singleInput(f, args); in != "" {
		if err := checkInputFile(in); err != nil {
			fmt.Fprintf(stderr, "无法读取输入: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "input check failed", &start)
			return exitRuntime
		}
	}
	if err := preflightCheckOutput(cfg); err != nil {
		fmt.Fprintf(stderr, "输出位置不可写或无法创建: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "preflight failed", &start)
		return exitRuntime
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "assemble failed", &start)
		return exitConfig
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认关闭
	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.Concurrency, describeOutput(cfg))

	logger.DebugKV("config", "effective", "", map[string]string{
		"inputs_count": strconv.Itoa(len(cfg.Inputs)),
		"concurrency":  strconv.Itoa(cfg.Concurrency),
		"reader":       cfg.Components.Reader,
		"transformer":  cfg.Components.Transformer,
		"writer":       cfg.Components.Writer,
		"output":       describeOutput(cfg),
	})

	timer := logger.Start("pipeline", "run")
	sum, err := pipelineRun(ctx, comp, set, logger)
	defer exportMetrics(cfg.Metrics.File, stderr)
	if err != nil {
		code := diag.Classify(err)
		logger.Error("pipeline", string(code), "first error", &start)
		diag.IncOp("pipeline", "run", "error")
		if code != diag.CodeUnknown {
			diag.IncError("pipeline", string(code))
		}
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "运行失败: %v\n", err)
			var me *contract.MalformedInputError
			if errors.As(err, &me) {
				fmt.Fprintf(stderr, "提示：第 %d 行常量 %s 之后只允许可选的 ',' 或 ';' 以及 '/' 开头的注释，实得 %q\n", me.Line, me.Name, me.Remainder)
			}
		}
		term.RunFinish(false, time.Since(start))
		return exitRuntime
	}
	timer.Finish("run", sum.Stats.Blocks)
	diag.IncOp("pipeline", "run", "success")
	diag.ObserveDuration("pipeline", "run", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	return exitOK
}

// loadConfig: Defaults → 配置文件/ENV 原文（CONSTGUARD_CONFIG_FILE / CONSTGUARD_CONFIG_JSON）。
func loadConfig(path string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	var raw []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	// 默认读取工作目录下 config.json（若存在）
	if path == "" && len(raw) == 0 {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path == "" && len(raw) == 0 {
		return cfg, nil
	}
	base, err := cfgpkg.Load(path, raw)
	if err != nil {
		return cfg, err
	}
	return cfgpkg.Merge(cfg, base), nil
}

// applyFlags: CLI 层覆盖（最高优先级）。
// 位置参数：--out-dir 时均为输入根；否则为 INPUT OUTPUT，或为空（完全由配置驱动）。
func applyFlags(cmd *cobra.Command, cfg cfgpkg.Config, f flags, args []string) (cfgpkg.Config, error) {
	var over cfgpkg.Config
	if f.concurrency > 0 {
		over.Concurrency = f.concurrency
	}
	over.Logging.Level = f.logLevel
	over.Metrics.File = f.metricsFile
	cfg = cfgpkg.Merge(cfg, over)

	var err error
	switch {
	case strings.TrimSpace(f.outDir) != "":
		if len(args) == 0 {
			return cfg, errors.New("--out-dir requires at least one input root")
		}
		cfg.Inputs = args
		cfg.Components.Writer = "fs"
		cfg.Options.Writer, err = cfgpkg.PatchOptions(cfg.Options.Writer, map[string]any{
			"output_dir":  f.outDir,
			"output_path": nil,
		})
	case len(args) == 2:
		cfg.Inputs = args[:1]
		if args[1] == "-" {
			cfg.Components.Writer = "stdout"
			cfg.Options.Writer = nil
			break
		}
		cfg.Components.Writer = "fs"
		cfg.Options.Writer, err = cfgpkg.PatchOptions(cfg.Options.Writer, map[string]any{
			"output_path": args[1],
			"output_dir":  nil,
		})
	case len(args) == 0:
		// 完全由配置驱动
	default:
		return cfg, fmt.Errorf("expected INPUT OUTPUT, got %d argument(s)", len(args))
	}
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("atomic") {
		if cfg.Components.Writer != "fs" {
			return cfg, errors.New("--atomic requires a file output")
		}
		if cfg.Options.Writer, err = cfgpkg.PatchOptions(cfg.Options.Writer, map[string]any{"atomic": f.atomic}); err != nil {
			return cfg, err
		}
	}
	tset := map[string]any{}
	if cmd.Flags().Changed("separate-blocks") {
		tset["separate_blocks"] = f.separate
	}
	if f.aliasPrefix != "" {
		tset["alias_prefix"] = f.aliasPrefix
	}
	if len(tset) > 0 {
		if cfg.Options.Transformer, err = cfgpkg.PatchOptions(cfg.Options.Transformer, tset); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// singleInput 返回 INPUT OUTPUT 模式下的输入路径；其他模式或 STDIN 返回空串。
func singleInput(f flags, args []string) string {
	if strings.TrimSpace(f.outDir) != "" || len(args) != 2 || args[0] == "-" {
		return ""
	}
	return args[0]
}

func describeOutput(cfg cfgpkg.Config) string {
	if cfg.Components.Writer == "stdout" {
		return "-"
	}
	var w struct {
		OutputDir  string `json:"output_dir"`
		OutputPath string `json:"output_path"`
	}
	_ = json.Unmarshal(cfg.Options.Writer, &w)
	if w.OutputPath != "" {
		return w.OutputPath
	}
	return w.OutputDir
}

func exportMetrics(path string, stderr io.Writer) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := diag.WriteMetrics(path); err != nil {
		fmt.Fprintf(stderr, "提示：指标导出失败（已跳过）：%v\n", err)
	}
}

func dumpConfig(w io.Writer, c cfgpkg.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(w, "有效配置:\n%s\n", b)
}
