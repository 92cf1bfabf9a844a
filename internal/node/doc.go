// Package node 组装 BTP-NIPs 节点
//
// Handler 实现入站处理流水线：
//
//	解码 → 验签 → 支付声明 → 存储 → 删除/关注/公告处理 → 转发 → ACK
//
// Node 消费传输层入站帧、连接断开通知与生命周期状态变化，
// 并通过 Fx 把存储、支付、转发、生命周期、发现与传输模块组装在一起。
package node
