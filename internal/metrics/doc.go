// Package metrics 提供节点指标
//
// 两部分：
//   - BandwidthCounter: 传输层字节计数（总量与按节点），带 60 秒滑动窗口速率
//   - Metrics: Prometheus 指标（入站包、认证、声明校验、传播、生命周期、结算）
//
// Metrics 实现 propagation.Observer，传播摘要直接计入计数器。
//
//	m := metrics.New(clk)
//	engine := propagation.NewEngine(..., propagation.Options{Observer: m})
//	http.Handle("/metrics", m.Handler())
package metrics
