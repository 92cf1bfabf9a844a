// Package testutil 提供测试用的内存协作者与辅助函数
//
//   - MemNetwork / MemTransport：进程内传输，帧直接投递到对端入站通道
//   - NewEvent：生成已签名事件
//   - WaitForCondition：轮询等待条件成立
package testutil
