// Package interfaces 定义 BTP-NIPs 的外部协作方接口
//
// 核心子系统只通过这些接口使用外部能力，具体实现可替换：
//   - transport.go  - 原始字节传输（每个连接一条"发送/接收字节"通道）
//   - store.go      - 事件持久化（查询、保存、逻辑删除）
//   - discovery.go  - 节点公告查询（缓存与负缓存由实现负责）
//   - storage.go    - 底层 KV 引擎
//
// 各结算链的客户端接口位于 internal/payment/settlement。
package interfaces
