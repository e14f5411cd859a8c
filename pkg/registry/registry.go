package registry

import (
	"bytes"
	"encoding/json"

	"constguard/pkg/contract"
	rfs "constguard/plugins/reader/filesystem"
	tifd "constguard/plugins/transformer/ifdef"
	wfs "constguard/plugins/writer/filesystem"
	wstd "constguard/plugins/writer/stdout"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewTransformer 工厂签名：接收原样 JSON Options。
type NewTransformer func(raw json.RawMessage) (contract.Transformer, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Transformer 工厂注册表。
var Transformer = map[string]NewTransformer{
	// ifdef: 常量清单 → #ifdef/enum 别名守卫块
	"ifdef": func(raw json.RawMessage) (contract.Transformer, error) {
		var opts tifd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tifd.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// stdout: 标准输出
	"stdout": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wstd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wstd.New(&opts)
	},
}
