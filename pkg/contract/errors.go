package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定与退出码映射）。
var (
	// ErrMalformedInput: 常量行的剩余部分既非空，也不以注释引导符 '/' 开头。
	ErrMalformedInput = errors.New("malformed input")
	// ErrInvalidInput: 输入本身不可处理（超长行、非法选项组合等）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)

// MalformedInputError 携带出错行的定位信息与原样剩余文本。
type MalformedInputError struct {
	FileID    FileID
	Line      int
	Name      string
	Remainder string
}

func (e *MalformedInputError) Error() string {
	loc := ""
	switch {
	case e.FileID != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d: ", e.FileID, e.Line)
	case e.Line > 0:
		loc = fmt.Sprintf("line %d: ", e.Line)
	}
	return fmt.Sprintf("%sunexpected rest string after %s: %q", loc, e.Name, e.Remainder)
}

func (e *MalformedInputError) Unwrap() error { return ErrMalformedInput }
