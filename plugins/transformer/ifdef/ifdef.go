package ifdef

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"text/template"

	"constguard/pkg/contract"
)

// DefaultAliasPrefix 为内部别名符号的默认前缀。
const DefaultAliasPrefix = "__XYX__"

const defaultMaxLineBytes = 1 << 20

// Options 为守卫块变换器的可选配置。
// - Prologue / ProloguePath: 文件头模板（二选一，inline 优先），在首行之前渲染一次；
// - Epilogue / EpiloguePath: 文件尾模板，在末行之后渲染一次；
// 模板数据见 TemplateData。
type Options struct {
	AliasPrefix    string `json:"alias_prefix"`
	SeparateBlocks bool   `json:"separate_blocks"`
	Prologue       string `json:"prologue"`
	ProloguePath   string `json:"prologue_path"`
	Epilogue       string `json:"epilogue"`
	EpiloguePath   string `json:"epilogue_path"`
	// MaxLineBytes: 单行最大字节数；<=0 使用默认 1MiB。
	MaxLineBytes int `json:"max_line_bytes"`
}

// TemplateData 为 prologue/epilogue 模板的渲染数据。
type TemplateData struct {
	FileID string // 规范化输入标识，例如 lib/constants/errno.txt
	Base   string // 去扩展名的基名，例如 errno
}

// Transformer 实现常量清单 → #ifdef 守卫块的单遍变换。
// 构造期完成模板加载；Transform 期间无共享可变状态，可被多个文件并发复用。
type Transformer struct {
	prefix   string
	sep      bool
	prologue *template.Template
	epilogue *template.Template
	maxLine  int
}

var _ contract.Transformer = (*Transformer)(nil)

// New 创建守卫块变换器。
func New(opts *Options) (*Transformer, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	prefix := o.AliasPrefix
	if prefix == "" {
		prefix = DefaultAliasPrefix
	}
	if !isIdentPrefix(prefix) {
		return nil, fmt.Errorf("ifdef: %w: alias_prefix %q is not an identifier prefix", contract.ErrInvalidInput, prefix)
	}
	maxLine := o.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}
	pro, err := loadTemplate("prologue", o.Prologue, o.ProloguePath)
	if err != nil {
		return nil, err
	}
	epi, err := loadTemplate("epilogue", o.Epilogue, o.EpiloguePath)
	if err != nil {
		return nil, err
	}
	return &Transformer{prefix: prefix, sep: o.SeparateBlocks, prologue: pro, epilogue: epi, maxLine: maxLine}, nil
}

// Transform 逐行读取 r，将守卫块写入 w。
// 出错时已写出的内容会先冲刷到 w，再返回错误。
func (t *Transformer) Transform(ctx context.Context, fileID contract.FileID, r io.Reader, w io.Writer) (st contract.Stats, err error) {
	bw := bufio.NewWriter(w)
	defer func() {
		if ferr := bw.Flush(); err == nil && ferr != nil {
			err = ferr
		}
	}()

	data := TemplateData{FileID: string(fileID), Base: baseName(fileID)}
	if t.prologue != nil {
		if err := t.prologue.Execute(bw, data); err != nil {
			return st, fmt.Errorf("prologue render: %w", err)
		}
	}

	// 缓冲上限多留两个字节给行尾 "\r\n"，行长由下方显式检查。
	sc := bufio.NewScanner(r)
	limit := t.maxLine + 2
	initial := 64 * 1024
	if initial > limit {
		initial = limit
	}
	sc.Buffer(make([]byte, 0, initial), limit)

	prev := "" // 上一个已输出的常量名；空行不重置
	n := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		n++
		if len(sc.Bytes()) > t.maxLine {
			return st, t.tooLong(fileID, n)
		}
		st.Lines++
		d, err := ParseLine(n, sc.Text())
		if err != nil {
			var me *contract.MalformedInputError
			if errors.As(err, &me) {
				me.FileID = fileID
			}
			return st, err
		}
		if d.Blank {
			if err := bw.WriteByte('\n'); err != nil {
				return st, err
			}
			st.BlankLines++
			continue
		}
		if d.Name == prev {
			st.Duplicates++
			continue
		}
		prev = d.Name
		if err := t.writeBlock(bw, d); err != nil {
			return st, err
		}
		st.Blocks++
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return st, t.tooLong(fileID, n+1)
		}
		return st, err
	}

	if t.epilogue != nil {
		if err := t.epilogue.Execute(bw, data); err != nil {
			return st, fmt.Errorf("epilogue render: %w", err)
		}
	}
	return st, nil
}

func (t *Transformer) tooLong(fileID contract.FileID, line int) error {
	return fmt.Errorf("%w: %s:%d: line exceeds %d bytes", contract.ErrInvalidInput, fileID, line, t.maxLine)
}

// writeBlock 写出：
//
//	#ifdef C
//	  enum <prefix>C = C; R
//	#endif
func (t *Transformer) writeBlock(bw *bufio.Writer, d contract.Decl) error {
	var b strings.Builder
	b.Grow(3*len(d.Name) + len(t.prefix) + len(d.Remainder) + 32)
	b.WriteString("#ifdef ")
	b.WriteString(d.Name)
	b.WriteString("\n  enum ")
	b.WriteString(t.prefix)
	b.WriteString(d.Name)
	b.WriteString(" = ")
	b.WriteString(d.Name)
	b.WriteByte(';')
	if d.Remainder != "" {
		b.WriteByte(' ')
		b.WriteString(d.Remainder)
	}
	b.WriteString("\n#endif\n")
	if t.sep {
		b.WriteByte('\n')
	}
	_, err := bw.WriteString(b.String())
	return err
}

func loadTemplate(name, inline, p string) (*template.Template, error) {
	src := inline
	if src == "" && p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s read: %w", name, err)
		}
		src = string(b)
	}
	if src == "" {
		return nil, nil
	}
	tpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%s parse: %w", name, err)
	}
	return tpl, nil
}

func baseName(id contract.FileID) string {
	b := path.Base(string(id))
	return strings.TrimSuffix(b, path.Ext(b))
}

func isIdentPrefix(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}
