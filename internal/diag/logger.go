package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (l Level) zero() zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogDir 为默认日志目录。
const LogDir = "logs"

// Logger 为结构化事件日志器：zerolog 单行 JSON，写入轮转文件。
type Logger struct {
	corrID string
	level  Level
	zl     zerolog.Logger
	sink   *RotatingFile
}

// NewLogger 通过配置的 level 初始化，并将日志写入 logs/，10 MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile(LogDir, 10*1024*1024)
	l := NewLoggerTo(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入任意 io.Writer（测试与嵌入使用）。
// w 为 nil 时丢弃输出。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	if w == nil {
		w = io.Discard
	}
	lvl := parseLevel(strings.TrimSpace(level))
	zl := zerolog.New(fallbackWriter{w: w}).Level(lvl.zero()).With().Str("corr_id", corrID).Logger()
	return &Logger{corrID: corrID, level: lvl, zl: zl}
}

// NewCorrID 生成一次运行的关联 ID。
func NewCorrID() string { return uuid.NewString() }

// CorrID 返回本 Logger 的关联 ID。
func (l *Logger) CorrID() string { return l.corrID }

// Close 关闭底层轮转文件（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// ValidLevel 报告 s 是否为可识别的日志级别（空串视为默认 info）。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}

// Event 为标准事件结构。
type Event struct {
	Comp   string
	Stage  string // start|finish|error
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Msg    string
	KV     map[string]string
}

// log 写出事件；低于阈值的级别由 zerolog 丢弃。
func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	var e *zerolog.Event
	switch lv {
	case Debug:
		e = l.zl.Debug()
	case Warn:
		e = l.zl.Warn()
	case Error:
		e = l.zl.Error()
	default:
		e = l.zl.Info()
	}
	e = e.Str("ts", NowUTC()).Str("comp", ev.Comp).Str("stage", ev.Stage)
	if ev.Code != "" {
		e = e.Str("code", ev.Code)
	}
	if ev.DurMS != 0 {
		e = e.Int64("dur_ms", ev.DurMS)
	}
	if ev.Count != 0 {
		e = e.Int64("count", ev.Count)
	}
	if ev.FileID != "" {
		e = e.Str("file_id", ev.FileID)
	}
	if len(ev.KV) > 0 {
		d := zerolog.Dict()
		for k, v := range ev.KV {
			d = d.Str(k, v)
		}
		e = e.Dict("kv", d)
	}
	e.Msg(ev.Msg)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", nil)
}

// ErrorWith 支持 file_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, nil)
}

// ErrorWithKV 支持附带键值对（例如行号、残余文本）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugKV 输出调试级别事件（仅在 level=debug 时生效）。
func (l *Logger) DebugKV(comp, msg, fileID string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "debug", FileID: fileID, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Finish 记录 finish 并上报耗时指标；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, FileID: t.fileID, Msg: msg})
	ObserveDuration(t.comp, msg, dur)
}

// Since 返回计时起点（供 ErrorWith 计算时长）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// fallbackWriter: 下游写失败时退回 stderr，保证错误事件不丢。
type fallbackWriter struct{ w io.Writer }

func (f fallbackWriter) Write(p []byte) (int, error) {
	if _, err := f.w.Write(p); err != nil {
		_, _ = os.Stderr.WriteString("logger sink error: " + err.Error() + "\n")
		_, _ = os.Stderr.Write(p)
	}
	return len(p), nil
}
