package types

import (
	"github.com/nbd-wtf/go-nostr"
)

// 事件种类常量
const (
	// KindMetadata 用户资料
	KindMetadata = 0
	// KindTextNote 文本
	KindTextNote = 1
	// KindFollowList 关注列表（p 标签）
	KindFollowList = 3
	// KindDeletion 删除请求（e 标签）
	KindDeletion = 5
	// KindNodeAnnouncement 节点公告（参数化可替换事件）
	KindNodeAnnouncement = 32001
)

// 保留标签名
const (
	TagPayment = "payment"
	TagEvent   = "e"
	TagPubKey  = "p"
	TagD       = "d"
)

// TagValues 返回事件中名为 name 的所有标签的第一个值
func TagValues(evt *nostr.Event, name string) []string {
	var out []string
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// FirstTagValue 返回名为 name 的第一个标签值
func FirstTagValue(evt *nostr.Event, name string) (string, bool) {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// IsReplaceable 可替换事件（每个作者只保留最新一条）
func IsReplaceable(kind int) bool {
	return kind == KindMetadata || kind == KindFollowList || (kind >= 10000 && kind < 20000)
}

// IsParameterizedReplaceable 参数化可替换事件（按 d 标签区分）
func IsParameterizedReplaceable(kind int) bool {
	return kind >= 30000 && kind < 40000
}
