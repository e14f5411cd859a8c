package stdout

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	"constguard/pkg/contract"
)

// Options: 标准输出 Writer 的选项。
type Options struct {
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// Stdout 将所有工件按到达顺序写入同一输出流（默认 os.Stdout）。
// 多个工件并发写入时串行化，单个工件的字节不会交错。
type Stdout struct {
	mu      sync.Mutex
	out     io.Writer
	bufSize int
}

var _ contract.Writer = (*Stdout)(nil)

// New 创建写往 os.Stdout 的 Writer。
func New(opts *Options) (*Stdout, error) {
	return NewTo(os.Stdout, opts), nil
}

// NewTo 创建写往任意 io.Writer 的实现（测试与嵌入使用）。
func NewTo(out io.Writer, opts *Options) *Stdout {
	s := &Stdout{out: out, bufSize: 32 * 1024}
	if opts != nil && opts.BufSize > 0 {
		s.bufSize = opts.BufSize
	}
	return s
}

// Write 忽略 id，将 r 的字节透传到输出流；r 出错时已读到的字节照常冲刷。
func (s *Stdout) Write(ctx context.Context, _ contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bw := bufio.NewWriterSize(s.out, s.bufSize)
	_, err := io.Copy(bw, &ctxReader{ctx: ctx, r: r})
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	return err
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
