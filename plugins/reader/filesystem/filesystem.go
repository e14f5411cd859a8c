package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"constguard/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// IgnorePatterns: gitignore 语法的忽略规则，按相对扫描根的路径匹配。
	// 仅影响目录递归，不影响单文件 root。
	IgnorePatterns []string `json:"ignore_patterns"`
	// AllowExts: 目录递归时允许的扩展名（含点，大小写不敏感）；为空表示不限制。
	AllowExts []string `json:"allow_exts"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	ignore     *ignore.GitIgnore
	allow      map[string]struct{}
}

var _ contract.Reader = (*FileSystem)(nil)

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	o := Options{}
	if opts != nil {
		o = *opts
	}
	b := defaultBuf
	if o.BufSize > 0 {
		b = o.BufSize
	}
	r := &FileSystem{bufSize: b, excludeDir: lowerSet(o.ExcludeDirNames)}
	if len(o.AllowExts) > 0 {
		r.allow = lowerSet(o.AllowExts)
	}
	if len(o.IgnorePatterns) > 0 {
		r.ignore = ignore.CompileIgnoreLines(o.IgnorePatterns...)
	}
	return r
}

// Iterate 遍历 roots，按稳定顺序对每个文件调用 yield；yield 返回后关闭该文件。
// 目录内只取常规文件，显式给出的非目录根总是打开。
// 支持 roots 为空或仅包含 "-" 作为 STDIN。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		// STDIN 不由 Reader 关闭
		return yield(contract.FileID("stdin"), newBufferedCloser(io.NopCloser(os.Stdin), r.bufSize))
	}
	if len(roots) > 1 {
		for _, s := range roots {
			if s == "-" {
				return errors.New("stdin '-' cannot be mixed with other roots")
			}
		}
	}

	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	// 目录符号链接不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if t.IsDir() {
			return nil
		}
		return r.open(root, yield)
	}

	if info.IsDir() {
		return r.walkDir(ctx, root, root, yield)
	}
	// 显式给出的根即使不是常规文件（FIFO、/dev/stdin 等）也直接打开；打不开即报错
	return r.open(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, root, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if r.ignored(root, p, true) {
			continue
		}
		if err := r.walkDir(ctx, root, p, yield); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接；目录符号链接忽略）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备、FIFO 等
			continue
		}
		if r.allow != nil {
			if _, ok := r.allow[strings.ToLower(path.Ext(e.Name()))]; !ok {
				continue
			}
		}
		if r.ignored(root, p, false) {
			continue
		}
		if err := r.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

// ignored 以相对扫描根的正斜杠路径匹配忽略规则；目录追加 '/' 以匹配 "dir/" 形式的规则。
func (r *FileSystem) ignored(root, p string, isDir bool) bool {
	if r.ignore == nil {
		return false
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if isDir {
		rel += "/"
	}
	return r.ignore.MatchesPath(rel)
}

func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	brc := newBufferedCloser(f, r.bufSize)
	defer brc.Close()
	return yield(contract.NormalizeFileID(p), brc)
}

func lowerSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		out[strings.ToLower(n)] = struct{}{}
	}
	return out
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
