package ifdef

import (
	"strings"
	"unicode"

	"constguard/pkg/contract"
)

// ParseLine 将第 n 行（自 1 起）解析为 Decl。
// 规则：
//   - 仅含空白的行为 Blank；
//   - 首个空白分隔的记号为常量名，其余部分去首尾空白后为剩余文本；
//   - 剩余文本若以 ',' 或 ';' 开头，去掉这一个字符后再去空白；
//   - 前置条件：剩余文本为空或以 '/' 开头，否则返回 *contract.MalformedInputError。
//
// 可容忍的分隔符集合保持为 ',' 与 ';'，不做推广。
func ParseLine(n int, line string) (contract.Decl, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return contract.Decl{Line: n, Blank: true}, nil
	}
	name := s
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		name = s[:i]
	}
	rest := strings.TrimSpace(s[len(name):])
	if rest != "" && (rest[0] == ',' || rest[0] == ';') {
		rest = strings.TrimSpace(rest[1:])
	}
	if rest != "" && rest[0] != '/' {
		return contract.Decl{}, &contract.MalformedInputError{Line: n, Name: name, Remainder: rest}
	}
	return contract.Decl{Line: n, Name: name, Remainder: rest}, nil
}
