package contract

import (
	"context"
	"io"
)

// Transformer: 将单个常量清单流变换为预处理器守卫块流。
// 约束：
//  1. 单遍、同步、无内部并发；
//  2. 逐行写出，出错前已写出的内容保持不变；
//  3. 状态仅存在于单次调用内，调用之间互不影响；
//  4. 首个格式错误即终止并返回 *MalformedInputError。
type Transformer interface {
	Transform(ctx context.Context, fileID FileID, r io.Reader, w io.Writer) (Stats, error)
}
