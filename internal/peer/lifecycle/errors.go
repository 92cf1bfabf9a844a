package lifecycle

import "errors"

var (
	// ErrInvalidTransition 非法状态转换
	ErrInvalidTransition = errors.New("lifecycle: invalid state transition")

	// ErrConnectionNotFound 连接不存在
	ErrConnectionNotFound = errors.New("lifecycle: connection not found")

	// ErrMaxReconnectAttempts 重连次数超限
	ErrMaxReconnectAttempts = errors.New("lifecycle: max reconnect attempts exceeded")

	// ErrInvalidPriority 优先级不在 1..10
	ErrInvalidPriority = errors.New("lifecycle: priority must be within 1..10")

	// ErrPeerNotAnnounced 节点没有可用的公告
	ErrPeerNotAnnounced = errors.New("lifecycle: peer has no announcement")

	// ErrAttemptInProgress 该节点已有进行中的连接尝试
	ErrAttemptInProgress = errors.New("lifecycle: attempt in progress")

	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("lifecycle: manager closed")
)
