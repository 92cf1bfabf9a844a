package types

import "errors"

var (
	// ErrEmptyPeerID 空节点 ID
	ErrEmptyPeerID = errors.New("empty peer ID")

	// ErrInvalidPeerID 无效的节点 ID（必须是 32 字节十六进制公钥）
	ErrInvalidPeerID = errors.New("invalid peer ID")

	// ErrInvalidFilter 无效的订阅过滤器
	ErrInvalidFilter = errors.New("invalid filter")
)
