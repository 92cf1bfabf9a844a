package propagation

import (
	"sort"
	"strconv"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// SubscriptionIndex 订阅倒排索引
//
// 每个过滤器按其全部作者、kind、"#name:value" 条件建立索引；
// 没有任何此类条件的过滤器放入 unindexed 集合，
// 因此 Candidates 返回的始终是真实匹配集合的超集。
type SubscriptionIndex struct {
	mu sync.RWMutex

	subs      map[string]*Subscription
	keys      map[string][]string
	postings  map[string]map[string]struct{}
	unindexed map[string]struct{}
}

// NewSubscriptionIndex 创建索引
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		subs:      make(map[string]*Subscription),
		keys:      make(map[string][]string),
		postings:  make(map[string]map[string]struct{}),
		unindexed: make(map[string]struct{}),
	}
}

func authorKey(pubkey string) string {
	return "a:" + pubkey
}

func kindKey(kind int) string {
	return "k:" + strconv.Itoa(kind)
}

func tagKey(name, value string) string {
	return "#" + name + ":" + value
}

// indexKeys 计算订阅的索引键；needUnindexed 表示存在无索引条件的过滤器
func indexKeys(sub *Subscription) (keys []string, needUnindexed bool) {
	seen := make(map[string]struct{})
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	for i := range sub.Filters {
		f := &sub.Filters[i]
		indexed := false
		for _, a := range f.Authors {
			add(authorKey(a))
			indexed = true
		}
		for _, k := range f.Kinds {
			add(kindKey(k))
			indexed = true
		}
		for name, values := range f.Tags {
			for _, v := range values {
				add(tagKey(name, v))
				indexed = true
			}
		}
		if !indexed {
			needUnindexed = true
		}
	}
	return keys, needUnindexed
}

// Add 添加或替换订阅
func (idx *SubscriptionIndex) Add(sub *Subscription) {
	key := sub.Key()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(key)

	keys, unindexed := indexKeys(sub)
	for _, k := range keys {
		set, ok := idx.postings[k]
		if !ok {
			set = make(map[string]struct{})
			idx.postings[k] = set
		}
		set[key] = struct{}{}
	}
	if unindexed {
		idx.unindexed[key] = struct{}{}
	}
	idx.subs[key] = sub
	idx.keys[key] = keys
}

// Remove 删除订阅，返回是否存在
func (idx *SubscriptionIndex) Remove(key string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(key)
}

func (idx *SubscriptionIndex) removeLocked(key string) bool {
	if _, ok := idx.subs[key]; !ok {
		return false
	}
	for _, k := range idx.keys[key] {
		if set, ok := idx.postings[k]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(idx.postings, k)
			}
		}
	}
	delete(idx.unindexed, key)
	delete(idx.keys, key)
	delete(idx.subs, key)
	return true
}

// Get 按键获取订阅
func (idx *SubscriptionIndex) Get(key string) (*Subscription, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	sub, ok := idx.subs[key]
	return sub, ok
}

// Len 订阅数量
func (idx *SubscriptionIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.subs)
}

// Candidates 返回可能匹配事件的订阅
//
// 查找代价为每类索引 O(1) 加上事件标签数，不遍历全部订阅。
func (idx *SubscriptionIndex) Candidates(evt *nostr.Event) []*Subscription {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	found := make(map[string]struct{})
	collect := func(set map[string]struct{}) {
		for key := range set {
			found[key] = struct{}{}
		}
	}

	collect(idx.postings[authorKey(evt.PubKey)])
	collect(idx.postings[kindKey(evt.Kind)])
	for _, tag := range evt.Tags {
		if len(tag) >= 2 {
			collect(idx.postings[tagKey(tag[0], tag[1])])
		}
	}
	collect(idx.unindexed)

	keys := make([]string, 0, len(found))
	for key := range found {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*Subscription, len(keys))
	for i, key := range keys {
		out[i] = idx.subs[key]
	}
	return out
}
