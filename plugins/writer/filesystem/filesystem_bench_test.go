package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"constguard/pkg/contract"
)

// BenchmarkWrite 不同输入尺寸下测量写入性能。
func BenchmarkWrite(b *testing.B) {
	for _, sz := range []int{1024, 1024 * 1024} {
		b.Run(fmt.Sprintf("size=%d", sz), func(b *testing.B) {
			data := bytes.Repeat([]byte("#ifdef EAGAIN\n"), sz/14+1)
			w, err := New(&Options{OutputDir: b.TempDir()})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			id := contract.ArtifactID("errno.txt")
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
	}
}
