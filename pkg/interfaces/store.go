package interfaces

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// ErrEventNotFound 事件不存在或已被逻辑删除
var ErrEventNotFound = errors.New("store: event not found")

// EventStore 事件持久化接口
type EventStore interface {
	// GetEvent 按 ID 获取事件，已删除事件返回 ErrEventNotFound
	GetEvent(ctx context.Context, id string) (*nostr.Event, error)

	// QueryByFilters 查询匹配任一过滤器的事件（不含已删除事件）
	//
	// 结果按 created_at 降序，单个过滤器的 Limit 生效。
	QueryByFilters(ctx context.Context, filters []types.Filter) ([]*nostr.Event, error)

	// SaveEvent 保存事件
	//
	// 对可替换事件，仅当新事件比已存事件更新时才替换；
	// 已被逻辑删除的事件返回 ErrEventDeleted。
	SaveEvent(ctx context.Context, evt *nostr.Event) error

	// MarkDeleted 逻辑删除事件（保留数据，查询不可见）
	MarkDeleted(ctx context.Context, id string, deletedBy string) error
}

// ErrStaleEvent 可替换事件不比已存版本新，未保存
var ErrStaleEvent = errors.New("store: stale replaceable event")

// ErrEventDeleted 事件已被逻辑删除，不再保存
var ErrEventDeleted = errors.New("store: event deleted")
