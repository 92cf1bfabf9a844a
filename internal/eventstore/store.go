// Package eventstore 基于 KV 引擎的事件存储
//
// 键布局（均位于 e/ 前缀下）：
//
//	id/<eventID>               → record JSON
//	rep/<pubkey>:<kind>[:<d>]  → 当前版本的 eventID
//
// 删除为逻辑删除：记录保留并打上 deleted 标记，查询不可见。
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/internal/storage"
	"github.com/dep2p/go-btpnips/internal/storage/engine"
	"github.com/dep2p/go-btpnips/internal/storage/kv"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

var logger = log.Logger("btpnips/eventstore")

var (
	prefixByID        = []byte("id/")
	prefixReplaceable = []byte("rep/")
)

// record 持久化的事件
type record struct {
	Event     *nostr.Event `json:"event"`
	Deleted   bool         `json:"deleted,omitempty"`
	DeletedBy string       `json:"deleted_by,omitempty"`
}

// Store 事件存储
type Store struct {
	base *kv.Store
	byID *kv.Store
	rep  *kv.Store

	// 写操作串行化，保证可替换事件的比较与替换原子
	mu sync.Mutex
}

var _ interfaces.EventStore = (*Store)(nil)

// New 创建事件存储
func New(base *kv.Store) *Store {
	return &Store{
		base: base,
		byID: base.Sub(prefixByID),
		rep:  base.Sub(prefixReplaceable),
	}
}

// Module 返回 eventstore Fx 模块
func Module() fx.Option {
	return fx.Module("eventstore",
		fx.Provide(Provide),
	)
}

// Provide 在 e/ 前缀下创建事件存储
func Provide(eng engine.InternalEngine) (*Store, interfaces.EventStore) {
	s := New(storage.NewKVStore(eng, storage.PrefixEvents))
	return s, s
}

// GetEvent 实现 EventStore
func (s *Store) GetEvent(_ context.Context, id string) (*nostr.Event, error) {
	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, interfaces.ErrEventNotFound
	}
	return rec.Event, nil
}

// SaveEvent 实现 EventStore
//
// 重复保存同一事件是无操作，已删除的事件返回 ErrEventDeleted；
// 可替换事件不新于当前版本时返回 ErrStaleEvent。
func (s *Store) SaveEvent(_ context.Context, evt *nostr.Event) error {
	if evt == nil || evt.ID == "" {
		return errors.New("eventstore: event without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(evt.ID)
	switch {
	case err == nil:
		if existing.Deleted {
			return interfaces.ErrEventDeleted
		}
		return nil
	case !errors.Is(err, interfaces.ErrEventNotFound):
		return err
	}

	batch := s.base.Batch()
	if key, ok := replaceKey(evt); ok {
		curID, err := s.rep.Get(key)
		switch {
		case err == nil:
			cur, err := s.load(string(curID))
			if err != nil && !errors.Is(err, interfaces.ErrEventNotFound) {
				return err
			}
			if cur != nil && !newer(evt, cur.Event) {
				return interfaces.ErrStaleEvent
			}
			batch.Delete(idKey(string(curID)))
		case !engine.IsNotFound(err):
			return err
		}
		batch.Put(append(append([]byte(nil), prefixReplaceable...), key...), []byte(evt.ID))
	}

	if err := batch.PutJSON(idKey(evt.ID), &record{Event: evt}); err != nil {
		return err
	}
	return batch.Write()
}

// MarkDeleted 实现 EventStore
func (s *Store) MarkDeleted(_ context.Context, id string, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(id)
	if err != nil {
		return err
	}
	if rec.Deleted {
		return nil
	}
	rec.Deleted = true
	rec.DeletedBy = deletedBy
	if err := s.byID.PutJSON([]byte(id), rec); err != nil {
		return err
	}
	logger.Debug("事件已逻辑删除", "id", log.TruncateID(id, 16), "by", log.TruncateID(deletedBy, 16))
	return nil
}

// QueryByFilters 实现 EventStore
//
// 逐条扫描；结果按 created_at 降序（相同时按 id 升序），每个过滤器的 Limit 单独生效。
func (s *Store) QueryByFilters(ctx context.Context, filters []types.Filter) ([]*nostr.Event, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	perFilter := make([][]*nostr.Event, len(filters))
	err := s.byID.ForEach(func(_, value []byte) bool {
		if ctx.Err() != nil {
			return false
		}
		rec, err := decode(value)
		if err != nil || rec.Deleted {
			return true
		}
		for i := range filters {
			if filters[i].Matches(rec.Event) {
				perFilter[i] = append(perFilter[i], rec.Event)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []*nostr.Event
	for i, events := range perFilter {
		sortEvents(events)
		if limit := filters[i].Limit; limit > 0 && len(events) > limit {
			events = events[:limit]
		}
		for _, evt := range events {
			if _, dup := seen[evt.ID]; dup {
				continue
			}
			seen[evt.ID] = struct{}{}
			out = append(out, evt)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *Store) load(id string) (*record, error) {
	data, err := s.byID.Get([]byte(id))
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, interfaces.ErrEventNotFound
		}
		return nil, err
	}
	return decode(data)
}

func decode(data []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Event == nil {
		return nil, fmt.Errorf("event record: %w", engine.ErrCorrupted)
	}
	return &rec, nil
}

func idKey(id string) []byte {
	return append(append([]byte(nil), prefixByID...), id...)
}

// replaceKey 可替换事件的版本键
func replaceKey(evt *nostr.Event) ([]byte, bool) {
	kind := strconv.Itoa(evt.Kind)
	switch {
	case types.IsReplaceable(evt.Kind):
		return []byte(evt.PubKey + ":" + kind), true
	case types.IsParameterizedReplaceable(evt.Kind):
		d, _ := types.FirstTagValue(evt, types.TagD)
		return []byte(evt.PubKey + ":" + kind + ":" + d), true
	}
	return nil, false
}

// newer created_at 更大；相同时 id 更小者胜出
func newer(evt, cur *nostr.Event) bool {
	if evt.CreatedAt != cur.CreatedAt {
		return evt.CreatedAt > cur.CreatedAt
	}
	return evt.ID < cur.ID
}

func sortEvents(events []*nostr.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}
