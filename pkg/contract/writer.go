package contract

import (
	"context"
	"io"
)

// ArtifactID: 输出工件标识，与 FileID 复用同一表示。
type ArtifactID = FileID

// Writer: 将变换结果以流式方式持久化到目标介质（文件/STDOUT）。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. 打开目标即截断已有内容；
//  4. r 返回错误时，非原子实现须保留此前已写出的字节（无回滚），并原样上抛该错误；
//  5. ctx 取消需尽快返回。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
