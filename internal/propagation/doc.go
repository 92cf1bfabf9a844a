// Package propagation 实现事件的多跳转发
//
// 每个事件的转发决策依次经过：
//
//  1. 去重缓存：24 小时内见过的事件直接丢弃
//  2. 跳数：TTL 递减，耗尽即停止
//  3. 订阅索引：按作者 / kind / 标签取候选订阅，再做完整过滤器匹配
//  4. 逐节点筛选：跳过来源节点、已投递节点、令牌不足的节点
//  5. 并发发送：单个节点发送失败不影响其他节点
//
// 每次转发返回 Summary，累计计数可通过 Stats 查询。
package propagation
