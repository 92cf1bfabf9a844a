package codec

import "errors"

// 协议错误：包被拒绝，但连接处理器继续运行
var (
	// ErrMalformedHeader 不足 4 字节头
	ErrMalformedHeader = errors.New("codec: malformed header")

	// ErrUnsupportedVersion 版本不是 1
	ErrUnsupportedVersion = errors.New("codec: unsupported version")

	// ErrInvalidMessageKind 消息种类不在 1..7
	ErrInvalidMessageKind = errors.New("codec: invalid message kind")

	// ErrLengthMismatch 声明长度与实际剩余字节不一致
	ErrLengthMismatch = errors.New("codec: length mismatch")

	// ErrInvalidPayload JSON 无效或缺少必需字段
	ErrInvalidPayload = errors.New("codec: invalid payload")

	// ErrPayloadTooLarge 负载超过 65535 字节
	ErrPayloadTooLarge = errors.New("codec: payload too large")

	// ErrWrongKind 以错误的正文类型读取包
	ErrWrongKind = errors.New("codec: wrong message kind for body")
)
