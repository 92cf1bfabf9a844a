package node

import "errors"

var (
	// ErrNoIdentity 没有可用的节点密钥
	ErrNoIdentity = errors.New("node: no secret key available")

	// ErrInvalidKey 密钥格式错误
	ErrInvalidKey = errors.New("node: invalid secret key")

	// ErrUnknownChallenge 应答对应的挑战不存在或已过期
	ErrUnknownChallenge = errors.New("node: unknown auth challenge")

	// ErrBadEvent 本地事件验签失败
	ErrBadEvent = errors.New("node: event failed verification")

	// ErrBadChallengeResponse 挑战应答事件无效
	ErrBadChallengeResponse = errors.New("node: invalid auth challenge response")
)
