package claim

import "errors"

var (
	// ErrChannelNotFound 通道不存在
	ErrChannelNotFound = errors.New("claim: channel not found")

	// ErrInvalidChannel 通道状态字段不合法
	ErrInvalidChannel = errors.New("claim: invalid channel state")
)
