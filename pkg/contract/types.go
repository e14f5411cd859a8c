package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Decl: 单行常量声明的解析结果。
// 约束：
// - Line 自 1 起计；
// - Blank 为真时 Name/Remainder 均为空；
// - Remainder 已去除可选的前导分隔符（',' 或 ';'）与首尾空白，且为空或以 '/' 开头。
type Decl struct {
	Line      int
	Blank     bool
	Name      string
	Remainder string
}

// Stats: 单文件变换计数（仅用于日志/指标/终端提示，不参与语义）。
type Stats struct {
	Lines      int64 // 读取的行数（含空行）
	BlankLines int64 // 原样透传的空行
	Blocks     int64 // 输出的守卫块
	Duplicates int64 // 因与上一常量同名而跳过的行
}

// Add 累加另一份计数。
func (s *Stats) Add(o Stats) {
	s.Lines += o.Lines
	s.BlankLines += o.BlankLines
	s.Blocks += o.Blocks
	s.Duplicates += o.Duplicates
}
