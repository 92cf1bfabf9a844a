// Package lib 包含与协议组件无关的基础设施工具库
//
//   - log: 基于 slog 的分组件日志封装
//
// # 与 pkg/ 其他目录的关系
//
//   - interfaces/: 外部协作方接口
//   - types/: 公共类型定义
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import "github.com/dep2p/go-btpnips/pkg/lib/log"
//
//	var logger = log.Logger("btpnips/node")
package lib
