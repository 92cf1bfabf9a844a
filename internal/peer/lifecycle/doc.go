// Package lifecycle 管理对等连接的状态机与重连
//
// 状态转换：
//
//	DISCOVERING     -> CONNECTING | FAILED
//	CONNECTING      -> CHANNEL_NEEDED | CONNECTED | FAILED
//	CHANNEL_NEEDED  -> CHANNEL_OPENING | FAILED
//	CHANNEL_OPENING -> CONNECTED | FAILED
//	CONNECTED       -> DISCONNECTED | FAILED
//	DISCONNECTED    -> DISCOVERING | FAILED
//	FAILED          -> DISCOVERING（仅手动重试）
//
// 每次连接尝试从当前状态向 CONNECTED 推进；失败时状态保持不变并按
// min(max, initial·2^n) 安排重连，超过最大次数进入 FAILED。
// 状态变化通过 Changes() 通道发布。
package lifecycle
