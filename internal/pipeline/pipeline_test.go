package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constguard/internal/diag"
	"constguard/pkg/contract"
	rfs "constguard/plugins/reader/filesystem"
	"constguard/plugins/transformer/ifdef"
	wfs "constguard/plugins/writer/filesystem"
)

// 通用桩件 ----------------------------------------------------
type memReader struct{ files map[string]string }

func (m memReader) Iterate(ctx context.Context, roots []string, yield func(contract.FileID, io.ReadCloser) error) error {
	for _, r := range roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := yield(contract.FileID(r), io.NopCloser(strings.NewReader(m.files[r]))); err != nil {
			return err
		}
	}
	return nil
}

type memWriter struct {
	mu  sync.Mutex
	out map[contract.ArtifactID]string
}

func (w *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	var buf bytes.Buffer
	_, err := io.Copy(&buf, r)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		w.out = map[contract.ArtifactID]string{}
	}
	w.out[id] = buf.String()
	return err
}

type failWriter struct{ err error }

func (f failWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	return f.err
}

func newTransformer(t testing.TB) contract.Transformer {
	tr, err := ifdef.New(nil)
	require.NoError(t, err)
	return tr
}

func TestRunSingle(t *testing.T) {
	w := &memWriter{}
	comp := Components{
		Reader:      memReader{files: map[string]string{"errno.txt": "EAGAIN\nEAGAIN\n\nEINTR // x\n"}},
		Transformer: newTransformer(t),
		Writer:      w,
	}
	sum, err := Run(context.Background(), comp, Settings{Inputs: []string{"errno.txt"}, Concurrency: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Files)
	assert.Equal(t, contract.Stats{Lines: 4, BlankLines: 1, Blocks: 2, Duplicates: 1}, sum.Stats)
	assert.Equal(t, "#ifdef EAGAIN\n  enum __XYX__EAGAIN = EAGAIN;\n#endif\n\n#ifdef EINTR\n  enum __XYX__EINTR = EINTR; // x\n#endif\n", w.out["errno.txt"])
}

func TestRunConcurrent(t *testing.T) {
	files := map[string]string{}
	var roots []string
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("f%d.txt", i)
		files[name] = fmt.Sprintf("C%d\n", i)
		roots = append(roots, name)
	}
	w := &memWriter{}
	comp := Components{Reader: memReader{files: files}, Transformer: newTransformer(t), Writer: w}
	sum, err := Run(context.Background(), comp, Settings{Inputs: roots, Concurrency: 4}, diag.NewLoggerTo(io.Discard, "t", "debug"))
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Files)
	assert.EqualValues(t, 8, sum.Stats.Blocks)
	for i := 0; i < 8; i++ {
		assert.Equal(t, fmt.Sprintf("#ifdef C%d\n  enum __XYX__C%d = C%d;\n#endif\n", i, i, i), w.out[contract.ArtifactID(fmt.Sprintf("f%d.txt", i))])
	}
}

func TestRunMalformedKeepsPartial(t *testing.T) {
	for _, workers := range []int{1, 2} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			w := &memWriter{}
			comp := Components{
				Reader:      memReader{files: map[string]string{"a.txt": "A\nB junk\nC\n"}},
				Transformer: newTransformer(t),
				Writer:      w,
			}
			var logs bytes.Buffer
			_, err := Run(context.Background(), comp, Settings{Inputs: []string{"a.txt"}, Concurrency: workers}, diag.NewLoggerTo(&logs, "t", "info"))
			require.Error(t, err)
			var me *contract.MalformedInputError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, "junk", me.Remainder)
			assert.Equal(t, 2, me.Line)
			assert.Contains(t, err.Error(), "transformer transform")
			assert.Equal(t, "#ifdef A\n  enum __XYX__A = A;\n#endif\n", w.out["a.txt"])
			assert.Contains(t, logs.String(), `"remainder":"junk"`)
		})
	}
}

func TestRunWriterError(t *testing.T) {
	boom := errors.New("disk full")
	comp := Components{
		Reader:      memReader{files: map[string]string{"a.txt": strings.Repeat("A\nB\n", 10000)}},
		Transformer: newTransformer(t),
		Writer:      failWriter{err: boom},
	}
	_, err := Run(context.Background(), comp, Settings{Inputs: []string{"a.txt"}, Concurrency: 1}, nil)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "writer write")
}

func TestRunWriterErrorEmptyInput(t *testing.T) {
	boom := errors.New("open failed")
	comp := Components{
		Reader:      memReader{files: map[string]string{"a.txt": ""}},
		Transformer: newTransformer(t),
		Writer:      failWriter{err: boom},
	}
	_, err := Run(context.Background(), comp, Settings{Inputs: []string{"a.txt"}, Concurrency: 1}, nil)
	require.ErrorIs(t, err, boom)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	comp := Components{
		Reader:      memReader{files: map[string]string{"a.txt": "A\n"}},
		Transformer: newTransformer(t),
		Writer:      &memWriter{},
	}
	_, err := Run(ctx, comp, Settings{Inputs: []string{"a.txt"}, Concurrency: 1}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSanity(t *testing.T) {
	_, err := Run(context.Background(), Components{}, Settings{Inputs: []string{"a"}}, nil)
	assert.ErrorContains(t, err, "missing components")
	comp := Components{Reader: memReader{}, Transformer: newTransformer(t), Writer: &memWriter{}}
	_, err = Run(context.Background(), comp, Settings{}, nil)
	assert.ErrorContains(t, err, "empty inputs")
}

// 真实插件串联：目录输入 → 目录输出
func TestRunFilesystemPlugins(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "errno.txt"), []byte("EPERM\nENOENT , // no entry\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "signal.txt"), []byte("SIGINT\n"), 0o644))
	w, err := wfs.New(&wfs.Options{OutputDir: out})
	require.NoError(t, err)
	comp := Components{Reader: rfs.New(nil), Transformer: newTransformer(t), Writer: w}
	sum, err := Run(context.Background(), comp, Settings{Inputs: []string{in}, Concurrency: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Files)
	b, err := os.ReadFile(filepath.Join(out, "errno.c"))
	require.NoError(t, err)
	assert.Equal(t, "#ifdef EPERM\n  enum __XYX__EPERM = EPERM;\n#endif\n#ifdef ENOENT\n  enum __XYX__ENOENT = ENOENT; // no entry\n#endif\n", string(b))
	_, err = os.Stat(filepath.Join(out, "signal.c"))
	assert.NoError(t, err)
}
