package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"constguard/internal/diag"
	"constguard/pkg/contract"
)

// - 单点并发：仅此层管理并发；Reader/Transformer/Writer 均为同步实现。
// - 逐文件流式：Transformer 写入 io.Pipe，Writer 在独立 goroutine 中消费。
// - 首错取消：任一文件出错即取消其余文件并返回该错误；已写出的内容不回滚。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader      contract.Reader
	Transformer contract.Transformer
	Writer      contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// 输入根（输出由 Writer 的 options 决定）
	Inputs []string
	// Concurrency: 同时处理的文件数；1 表示逐文件流式处理。
	Concurrency int
}

// Summary 汇总一次运行的结果。
type Summary struct {
	Files int
	Stats contract.Stats
}

// writerFailed 标记“由 Writer 一侧关闭管道”的错误，便于区分失败方。
type writerFailed struct{ err error }

func (w *writerFailed) Error() string { return w.err.Error() }
func (w *writerFailed) Unwrap() error { return w.err }

// Run 执行流水线：Reader → Transformer ⇒ io.Pipe ⇒ Writer。
// Concurrency 为 1 时在 Reader 回调内直接流式处理；
// 大于 1 时将文件内容读入内存，交由 errgroup 有界并发处理。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	var sum Summary
	if err := sanity(comp, set); err != nil {
		return sum, fmt.Errorf("sanity: %w", err)
	}
	workers := set.Concurrency
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	record := func(st contract.Stats) {
		mu.Lock()
		sum.Files++
		sum.Stats.Add(st)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	rtimer := logger.Start("reader", "iterate")
	ierr := comp.Reader.Iterate(gctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		if workers == 1 {
			st, err := processFile(gctx, comp, fid, rc, logger)
			if err != nil {
				return err
			}
			record(st)
			return nil
		}
		// Reader 在 yield 返回后关闭 rc，并发处理前需读出全部内容
		data, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", fid, err)
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			st, err := processFile(gctx, comp, fid, bytes.NewReader(data), logger)
			if err != nil {
				return err
			}
			record(st)
			return nil
		})
		return nil
	})
	werr := g.Wait()

	// 优先返回 worker 首错；Iterate 因取消返回的错误只是其结果
	if werr != nil {
		return sum, werr
	}
	if ierr != nil {
		code := diag.Classify(ierr)
		logger.Error("reader", string(code), "iterate failed", rtimer.Since())
		diag.IncOp("reader", "iterate", "error")
		diag.IncError("reader", string(code))
		return sum, fmt.Errorf("reader iterate: %w", ierr)
	}
	rtimer.Finish("iterate", int64(sum.Files))
	diag.IncOp("reader", "iterate", "success")
	return sum, nil
}

// processFile 处理单个文件：Transformer 写管道，Writer 读管道。
func processFile(ctx context.Context, comp Components, fid contract.FileID, r io.Reader, logger *diag.Logger) (st contract.Stats, err error) {
	if t := diag.GetTerminal(); t != nil {
		t.FileStart(string(fid))
	}
	start := time.Now()
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.FileFinish(string(fid), err == nil, st, time.Since(start))
		}
	}()

	ttimer := logger.StartWith("transformer", "transform", string(fid))
	pr, pw := io.Pipe()
	wdone := make(chan error, 1)
	go func() {
		werr := comp.Writer.Write(ctx, contract.ArtifactID(fid), pr)
		if werr != nil {
			_ = pr.CloseWithError(&writerFailed{err: werr})
		} else {
			_ = pr.Close()
		}
		wdone <- werr
	}()

	st, terr := comp.Transformer.Transform(ctx, fid, r, pw)
	if terr != nil {
		_ = pw.CloseWithError(terr)
	} else {
		_ = pw.Close()
	}
	werr := <-wdone

	diag.AddLines("blank", st.BlankLines)
	diag.AddLines("block", st.Blocks)
	diag.AddLines("duplicate", st.Duplicates)

	var wf *writerFailed
	switch {
	case terr != nil && errors.As(terr, &wf):
		return st, fail(logger, "writer", "write failed", fid, wf.err, ttimer)
	case terr != nil:
		return st, fail(logger, "transformer", "transform failed", fid, terr, ttimer)
	case werr != nil:
		return st, fail(logger, "writer", "write failed", fid, werr, ttimer)
	}
	ttimer.Finish("transform", st.Blocks)
	diag.IncOp("transformer", "transform", "success")
	logger.DebugKV("transformer", "stats", string(fid), map[string]string{
		"lines":      strconv.FormatInt(st.Lines, 10),
		"blank":      strconv.FormatInt(st.BlankLines, 10),
		"duplicates": strconv.FormatInt(st.Duplicates, 10),
	})
	return st, nil
}

// fail 记录错误事件与指标，并按阶段包装错误。
func fail(logger *diag.Logger, comp, msg string, fid contract.FileID, err error, timer *diag.Timer) error {
	code := diag.Classify(err)
	var kv map[string]string
	var me *contract.MalformedInputError
	if errors.As(err, &me) {
		kv = map[string]string{
			"line":      strconv.Itoa(me.Line),
			"name":      me.Name,
			"remainder": me.Remainder,
		}
	}
	logger.ErrorWithKV(comp, string(code), msg, timer.Since(), string(fid), kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if comp == "writer" {
		return fmt.Errorf("writer write: %w", err)
	}
	return fmt.Errorf("transformer transform: %w", err)
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Transformer == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}
