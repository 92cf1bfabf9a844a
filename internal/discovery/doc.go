// Package discovery 实现节点公告与解析
//
// 节点以参数化可替换事件（kind 32001，d=ilp-node-info）公告自己的
// ILP 地址、BTP 端点、结算地址、币种、协议版本与特性列表：
//
//	["d", "ilp-node-info"]
//	["ilp-address", "g.btpnips.0123456789abcdef"]
//	["ilp-endpoint", "wss://node.example/btp"]
//	["settlement-address", "0x..."]
//	["currencies", "ETH", "USDC"]
//	["version", "1"]
//	["features", "subscriptions", "payments"]
//
// 组成：
//   - Announcer: 启动时发布公告，配置变化后以更新的时间戳重新发布
//   - Resolver: 身份 → PeerAddress，批量解析部分成功
//   - CachedStore: 事件存储之上的公告缓存（含负缓存）
//   - FollowMonitor: 关注列表变化驱动连接建立与断开
package discovery
