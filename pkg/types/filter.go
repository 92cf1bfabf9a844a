package types

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Filter 订阅过滤器
//
// 匹配规则：
//   - 过滤器内所有出现的字段都必须匹配（AND）
//   - 订阅中任一过滤器匹配即可（OR，见 MatchAny）
//   - 缺失或为空的字段不施加约束
//
// JSON 格式与 NIP-01 一致，标签条件以 "#<name>" 为键。
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string
	Since   *int64
	Until   *int64
	Limit   int
}

// Matches 检查事件是否匹配过滤器
func (f *Filter) Matches(evt *nostr.Event) bool {
	if evt == nil {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, evt.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, evt.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, evt.Kind) {
		return false
	}
	created := int64(evt.CreatedAt)
	if f.Since != nil && created < *f.Since {
		return false
	}
	if f.Until != nil && created > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		if !hasTagValue(evt, name, values) {
			return false
		}
	}
	return true
}

// IsEmpty 过滤器没有任何约束（匹配所有事件）
func (f *Filter) IsEmpty() bool {
	if len(f.IDs) > 0 || len(f.Authors) > 0 || len(f.Kinds) > 0 {
		return false
	}
	if f.Since != nil || f.Until != nil {
		return false
	}
	for _, values := range f.Tags {
		if len(values) > 0 {
			return false
		}
	}
	return true
}

// MatchAny 任一过滤器匹配即返回 true
func MatchAny(filters []Filter, evt *nostr.Event) bool {
	for i := range filters {
		if filters[i].Matches(evt) {
			return true
		}
	}
	return false
}

func hasTagValue(evt *nostr.Event, name string, values []string) bool {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name && slices.Contains(values, tag[1]) {
			return true
		}
	}
	return false
}

// MarshalJSON 输出 NIP-01 格式
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 6+len(f.Tags))
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// UnmarshalJSON 解析 NIP-01 格式
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter{}
	for key, value := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(value, &f.IDs)
		case key == "authors":
			err = json.Unmarshal(value, &f.Authors)
		case key == "kinds":
			err = json.Unmarshal(value, &f.Kinds)
		case key == "since":
			f.Since = new(int64)
			err = json.Unmarshal(value, f.Since)
		case key == "until":
			f.Until = new(int64)
			err = json.Unmarshal(value, f.Until)
		case key == "limit":
			err = json.Unmarshal(value, &f.Limit)
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var values []string
			if err = json.Unmarshal(value, &values); err == nil {
				if f.Tags == nil {
					f.Tags = make(map[string][]string)
				}
				f.Tags[key[1:]] = values
			}
		}
		if err != nil {
			return ErrInvalidFilter
		}
	}
	return nil
}
