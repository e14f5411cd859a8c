package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constguard/internal/diag"
	"constguard/internal/pipeline"
)

func TestMain(m *testing.M) {
	newLogger = func(corrID, level string) *diag.Logger { return diag.NewLoggerTo(io.Discard, corrID, level) }
	os.Exit(m.Run())
}

// chdir 切换到临时目录，避免读取仓库内的 config.json/.env
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

func runCLI(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := run(args, &out, &errb)
	return code, out.String(), errb.String()
}

func writeFile(t *testing.T, p, s string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(s), 0o644))
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestRunInputOutput(t *testing.T) {
	dir := chdir(t)
	in := filepath.Join(dir, "errno.txt")
	out := filepath.Join(dir, "errno.c")
	writeFile(t, in, "FOO // first\n\nBAR , // second\nBAR\n")
	writeFile(t, out, "stale content to be truncated\n")

	code, _, stderr := runCLI(in, out)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "#ifdef FOO\n  enum __XYX__FOO = FOO; // first\n#endif\n\n#ifdef BAR\n  enum __XYX__BAR = BAR; // second\n#endif\n", readFile(t, out))
}

func TestRunMalformedKeepsPartialOutput(t *testing.T) {
	dir := chdir(t)
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.c")
	writeFile(t, in, "A\nFOO bar\nB\n")

	code, _, stderr := runCLI(in, out)
	assert.Equal(t, exitRuntime, code)
	assert.Contains(t, stderr, `"bar"`)
	assert.Contains(t, stderr, "FOO")
	assert.Equal(t, "#ifdef A\n  enum __XYX__A = A;\n#endif\n", readFile(t, out))
}

func TestRunMissingInput(t *testing.T) {
	dir := chdir(t)
	code, _, stderr := runCLI(filepath.Join(dir, "nope.txt"), filepath.Join(dir, "out.c"))
	assert.Equal(t, exitRuntime, code)
	assert.Contains(t, stderr, "nope.txt")
}

func TestRunStdout(t *testing.T) {
	dir := chdir(t)
	in := filepath.Join(dir, "in.txt")
	writeFile(t, in, "X\n")

	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	code, _, stderr := runCLI(in, "-")
	os.Stdout = old
	require.NoError(t, w.Close())
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "#ifdef X\n  enum __XYX__X = X;\n#endif\n", string(got))
}

func TestRunOutDirWithOptions(t *testing.T) {
	dir := chdir(t)
	src := filepath.Join(dir, "constants")
	writeFile(t, filepath.Join(src, "errno.txt"), "EPERM\nENOENT\n")
	writeFile(t, filepath.Join(src, "signal.txt"), "SIGINT\n")
	outDir := filepath.Join(dir, "gen")

	code, _, stderr := runCLI("--out-dir", outDir, "--separate-blocks", "--alias-prefix", "__E_", "--atomic", "--concurrency", "2", src)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "#ifdef EPERM\n  enum __E_EPERM = EPERM;\n#endif\n\n#ifdef ENOENT\n  enum __E_ENOENT = ENOENT;\n#endif\n\n", readFile(t, filepath.Join(outDir, "errno.c")))
	assert.Equal(t, "#ifdef SIGINT\n  enum __E_SIGINT = SIGINT;\n#endif\n\n", readFile(t, filepath.Join(outDir, "signal.c")))
}

func TestRunUsageErrors(t *testing.T) {
	chdir(t)
	for _, args := range [][]string{
		{"only-one"},
		{"a", "b", "c"},
		{"--no-such-flag"},
		{"--out-dir", "x"},
		{"--atomic", "in.txt", "-"},
		{"--concurrency", "many", "a", "b"},
	} {
		code, _, stderr := runCLI(args...)
		assert.Equal(t, exitConfig, code, "%v: %s", args, stderr)
	}
}

func TestRunConfigErrors(t *testing.T) {
	dir := chdir(t)
	code, _, _ := runCLI("--config", filepath.Join(dir, "missing.yaml"), "a", "b")
	assert.Equal(t, exitConfig, code)

	t.Setenv("CONSTGUARD_CONCURRENCY", "lots")
	code, _, _ = runCLI("a", "b")
	assert.Equal(t, exitConfig, code)
}

func TestRunInvalidLogLevel(t *testing.T) {
	chdir(t)
	code, _, stderr := runCLI("--log-level", "trace", "a", "b")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "配置校验失败")
}

func TestRunInvalidAliasPrefix(t *testing.T) {
	dir := chdir(t)
	writeFile(t, filepath.Join(dir, "a.txt"), "A\n")
	code, _, stderr := runCLI("--alias-prefix", "9x", filepath.Join(dir, "a.txt"), filepath.Join(dir, "a.c"))
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "装配失败")
}

func TestRunPreflightOutputNotDir(t *testing.T) {
	dir := chdir(t)
	in := filepath.Join(dir, "in.txt")
	writeFile(t, in, "A\n")
	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker, "x")
	code, _, stderr := runCLI(in, filepath.Join(blocker, "out.c"))
	assert.Equal(t, exitRuntime, code)
	assert.Contains(t, stderr, "输出位置")
}

// OUTPUT 的父目录不存在时失败，且不代为创建
func TestRunOutputParentMissing(t *testing.T) {
	dir := chdir(t)
	in := filepath.Join(dir, "in.txt")
	writeFile(t, in, "A\n")
	code, _, stderr := runCLI(in, filepath.Join(dir, "nested", "out.c"))
	assert.Equal(t, exitRuntime, code)
	assert.Contains(t, stderr, "nested")
	_, err := os.Stat(filepath.Join(dir, "nested"))
	assert.True(t, os.IsNotExist(err))
}

// INPUT 为目录（无论空否）时失败，已有 OUTPUT 保持不变
func TestRunInputDirectoryRejected(t *testing.T) {
	dir := chdir(t)
	full := filepath.Join(dir, "full")
	writeFile(t, filepath.Join(full, "a.txt"), "AAA\n")
	writeFile(t, filepath.Join(full, "b.txt"), "BBB\n")
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.Mkdir(empty, 0o755))
	out := filepath.Join(dir, "out.c")

	for _, in := range []string{full, empty} {
		writeFile(t, out, "STALE\n")
		code, _, stderr := runCLI(in, out)
		assert.Equal(t, exitRuntime, code, in)
		assert.Contains(t, stderr, "is a directory", in)
		assert.Equal(t, "STALE\n", readFile(t, out), in)
	}
}

// 配置驱动时 output_path 只能承接一个输入根
func TestRunOutputPathManyInputs(t *testing.T) {
	dir := chdir(t)
	writeFile(t, filepath.Join(dir, "config.json"), `{"inputs":["a.txt","b.txt"],"options":{"writer":{"output_path":"out.c"}}}`)
	code, _, stderr := runCLI()
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "output_path")
}

func TestRunInitConfig(t *testing.T) {
	dir := chdir(t)
	target := filepath.Join(dir, "cfg")
	code, _, stderr := runCLI("--init-config=" + target)
	require.Equal(t, exitOK, code, stderr)
	cfg := readFile(t, filepath.Join(target, "config.json"))
	assert.Contains(t, cfg, `"transformer": "ifdef"`)
	env := readFile(t, filepath.Join(target, ".env"))
	assert.Contains(t, env, `CONSTGUARD_CONCURRENCY=""`)

	// 再次生成不覆盖
	writeFile(t, filepath.Join(target, "config.json"), "{}")
	code, _, _ = runCLI("--init-config=" + target)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "{}", readFile(t, filepath.Join(target, "config.json")))

	// 裸开关：当前目录
	code, _, _ = runCLI("--init-config")
	require.Equal(t, exitOK, code)
	_, err := os.Stat(filepath.Join(dir, "config.json"))
	assert.NoError(t, err)
}

func TestRunInitConfigStdout(t *testing.T) {
	chdir(t)
	code, stdout, _ := runCLI("--init-config=-")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"alias_prefix": "__XYX__"`)
}

// 配置文件驱动（无位置参数），并注入 pipelineRun
func TestRunConfigDriven(t *testing.T) {
	dir := chdir(t)
	writeFile(t, filepath.Join(dir, "config.yaml"), "inputs: [lib]\nconcurrency: 3\noptions:\n  writer:\n    output_dir: out\n")
	var got pipeline.Settings
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (pipeline.Summary, error) {
		got = set
		return pipeline.Summary{Files: 1}, nil
	}
	t.Cleanup(func() { pipelineRun = orig })

	code, _, stderr := runCLI("--config", "config.yaml", "--concurrency", "4")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, []string{"lib"}, got.Inputs)
	assert.Equal(t, 4, got.Concurrency)
}

func TestRunDotEnvAndMetrics(t *testing.T) {
	dir := chdir(t)
	in := filepath.Join(dir, "in.txt")
	writeFile(t, in, "A\nA\n")
	writeFile(t, filepath.Join(dir, ".env"), "CONSTGUARD_METRICS_FILE=metrics.prom\n")
	t.Cleanup(func() { _ = os.Unsetenv("CONSTGUARD_METRICS_FILE") })

	code, _, stderr := runCLI(in, filepath.Join(dir, "out.c"))
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, readFile(t, filepath.Join(dir, "metrics.prom")), "constguard_lines_total")
}

func TestRunStatusLines(t *testing.T) {
	dir := chdir(t)
	in := filepath.Join(dir, "in.txt")
	writeFile(t, in, "A\n")
	code, _, stderr := runCLI("--status", in, filepath.Join(dir, "out.c"))
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stderr, "[done] in.txt")
	assert.Contains(t, stderr, "[ok] 全部完成 | 文件 1")
}

func TestRunCanceledIsQuiet(t *testing.T) {
	dir := chdir(t)
	writeFile(t, filepath.Join(dir, "in.txt"), "A\n")
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (pipeline.Summary, error) {
		return pipeline.Summary{}, context.Canceled
	}
	t.Cleanup(func() { pipelineRun = orig })
	code, _, stderr := runCLI("in.txt", "-")
	assert.Equal(t, exitRuntime, code)
	assert.NotContains(t, stderr, "运行失败")
}

// 仓库内的 golden 用例逐个经 CLI 运行（testdata 目录不在 ./... 之内）
func TestRunGoldenFiles(t *testing.T) {
	golden, err := filepath.Abs(filepath.Join("..", "..", "testdata", "golden"))
	require.NoError(t, err)
	inputs, err := filepath.Glob(filepath.Join(golden, "*.txt"))
	require.NoError(t, err)
	require.NotEmpty(t, inputs)

	dir := chdir(t)
	for _, in := range inputs {
		base := strings.TrimSuffix(filepath.Base(in), ".txt")
		t.Run(base, func(t *testing.T) {
			out := filepath.Join(dir, base+".c")
			code, _, stderr := runCLI(in, out)
			require.Equal(t, exitOK, code, stderr)
			assert.Equal(t, readFile(t, filepath.Join(golden, base+".golden")), readFile(t, out))
		})
	}
}

func TestDescribeOutput(t *testing.T) {
	chdir(t)
	base, err := loadConfig("")
	require.NoError(t, err)
	cfg, err := applyFlags(newRootCmd(io.Discard, io.Discard), base, flags{}, []string{"in", "out.c"})
	require.NoError(t, err)
	assert.Equal(t, "out.c", describeOutput(cfg))
	assert.Equal(t, []string{"in"}, cfg.Inputs)
	cfg, err = applyFlags(newRootCmd(io.Discard, io.Discard), base, flags{}, []string{"in", "-"})
	require.NoError(t, err)
	assert.Equal(t, "-", describeOutput(cfg))
	assert.Equal(t, "stdout", cfg.Components.Writer)
}
