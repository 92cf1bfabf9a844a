package types

import (
	"encoding/hex"
	"strings"
)

// PeerID 对等节点标识
//
// 即节点社交身份的 x-only 公钥（64 个小写十六进制字符）。
type PeerID string

// String 返回完整字符串
func (id PeerID) String() string {
	return string(id)
}

// ShortString 返回日志用的短标识（前 8 个字符）
func (id PeerID) ShortString() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// IsEmpty 检查是否为空
func (id PeerID) IsEmpty() bool {
	return id == ""
}

// ParsePeerID 解析并规范化公钥形式的 PeerID
func ParsePeerID(s string) (PeerID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrEmptyPeerID
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return "", ErrInvalidPeerID
	}
	return PeerID(s), nil
}
