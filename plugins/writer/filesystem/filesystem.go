package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"constguard/pkg/contract"
)

// DefaultExt 为目录模式下输出文件的默认扩展名（供 C 预处理器消费）。
const DefaultExt = ".c"

// Options: 最小必要选项。OutputDir 与 OutputPath 二选一。
type Options struct {
	// OutputDir: 输出根目录（目录模式）。
	OutputDir string `json:"output_dir,omitempty"`
	// OutputPath: 单一输出文件（单文件模式）；只接受一个工件，父目录须已存在。
	OutputPath string `json:"output_path,omitempty"`
	// Ext: 目录模式下替换输入扩展名；nil 使用 DefaultExt，显式 "" 保留原名。
	Ext *string `json:"ext,omitempty"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认 false：出错时保留已写出的部分内容，不回滚。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 是否扁平化输出（仅保留文件名，不保留目录层级）。默认 true。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	root    string
	target  string
	ext     string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int

	mu    sync.Mutex
	owner contract.ArtifactID // 单文件模式下已占用 target 的工件
}

var _ contract.Writer = (*FS)(nil)

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		return nil, fmt.Errorf("writer fs: %w: output_dir or output_path required", contract.ErrInvalidInput)
	}
	dir := strings.TrimSpace(opts.OutputDir)
	target := strings.TrimSpace(opts.OutputPath)
	switch {
	case dir == "" && target == "":
		return nil, fmt.Errorf("writer fs: %w: output_dir or output_path required", contract.ErrInvalidInput)
	case dir != "" && target != "":
		return nil, fmt.Errorf("writer fs: %w: output_dir and output_path are mutually exclusive", contract.ErrInvalidInput)
	}
	w := &FS{root: dir, target: target, ext: DefaultExt, flat: true, permF: 0o644, permD: 0o755, bufSize: 64 * 1024}
	if opts.Ext != nil {
		w.ext = *opts.Ext
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.Flat != nil {
		w.flat = *opts.Flat
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	return w, nil
}

// Write 将 r 的全部字节写入到基于 id 映射的目标路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if w.target != "" {
		// 单文件模式：多个工件写同一路径会相互截断，直接拒绝
		if err := w.claim(id); err != nil {
			return err
		}
	} else if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}

	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeOverwrite(ctx, dest, r)
}

func (w *FS) claim(id contract.ArtifactID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.owner != "" && w.owner != id {
		return fmt.Errorf("writer fs: %w: output_path %s already written from %s, cannot also take %s (use output_dir)",
			contract.ErrInvalidInput, w.target, w.owner, id)
	}
	w.owner = id
	return nil
}

// Dest 返回 id 对应的目标路径（不做 I/O）。
func (w *FS) Dest(id contract.ArtifactID) (string, error) { return w.mapPath(id) }

// mapPath: 单文件模式直接返回目标；目录模式 Clean + 扩展名替换 + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	if w.target != "" {
		return w.target, nil
	}
	rel := filepath.Clean(filepath.FromSlash(string(contract.WithExt(id, w.ext))))
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.root, rel), nil
	}
	// 非扁平：禁止绝对路径、父级逃逸、Windows 卷名
	if rel == "." || rel == "" {
		return "", contract.ErrPathInvalid
	}
	if filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if vol := filepath.VolumeName(rel); vol != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// writeOverwrite 截断写入；r 出错时先冲刷已缓冲的字节再返回该错误（不回滚）。
func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		_ = bw.Flush()
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// os.Rename 在 Windows 上同样以替换语义实现
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir 最佳努力同步父目录元数据；不支持的平台忽略错误。
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
