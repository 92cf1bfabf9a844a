package ws

import "errors"

var (
	// ErrClosed 传输层已关闭
	ErrClosed = errors.New("ws: transport closed")

	// ErrMissingPeerHeader 升级请求缺少或带有非法的身份头
	ErrMissingPeerHeader = errors.New("ws: missing or invalid peer header")

	// ErrFrameTooLarge 帧超过最大长度
	ErrFrameTooLarge = errors.New("ws: frame too large")
)
