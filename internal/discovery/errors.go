package discovery

import "errors"

var (
	// ErrNotAnnouncement 事件不是节点公告
	ErrNotAnnouncement = errors.New("discovery: not a node announcement")

	// ErrMissingTag 公告缺少必需标签
	ErrMissingTag = errors.New("discovery: announcement missing required tag")

	// ErrIdentityMismatch 公告作者与查询身份不一致
	ErrIdentityMismatch = errors.New("discovery: announcement author mismatch")

	// ErrInvalidSecretKey 私钥格式错误
	ErrInvalidSecretKey = errors.New("discovery: invalid secret key")

	// ErrNotFollowList 事件不是关注列表
	ErrNotFollowList = errors.New("discovery: not a follow list")
)
