// Package types 定义 BTP-NIPs 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
//
// # 文件组织
//
//   - ids.go     - PeerID（社交身份公钥）
//   - events.go  - 事件种类常量、标签辅助函数
//   - filter.go  - 订阅过滤器与匹配规则
//   - peer.go    - 由节点公告解析出的地址
//   - errors.go  - 公共错误定义
//
// 事件本身直接使用 go-nostr 的 nostr.Event，保持与 Nostr 生态一致的
// 序列化与签名格式。
package types
