package propagation

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"

	"github.com/dep2p/go-btpnips/pkg/types"
)

func keysOf(subs []*Subscription) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.Key()
	}
	return out
}

func TestSubscriptionIndex_Candidates(t *testing.T) {
	idx := NewSubscriptionIndex()
	idx.Add(&Subscription{ID: "by-author", PeerID: "p1", Filters: []types.Filter{{Authors: []string{"alice"}}}})
	idx.Add(&Subscription{ID: "by-kind", PeerID: "p2", Filters: []types.Filter{{Kinds: []int{7}}}})
	idx.Add(&Subscription{ID: "by-tag", PeerID: "p3", Filters: []types.Filter{{Tags: map[string][]string{"t": {"btp"}}}}})
	idx.Add(&Subscription{ID: "by-since", PeerID: "p4", Filters: []types.Filter{{Since: new(int64)}}})

	evt := &nostr.Event{PubKey: "alice", Kind: 1, Tags: nostr.Tags{{"t", "other"}}}
	assert.ElementsMatch(t, []string{"p1/by-author", "p4/by-since"}, keysOf(idx.Candidates(evt)))

	evt = &nostr.Event{PubKey: "bob", Kind: 7, Tags: nostr.Tags{{"t", "btp"}}}
	assert.ElementsMatch(t, []string{"p2/by-kind", "p3/by-tag", "p4/by-since"}, keysOf(idx.Candidates(evt)))

	assert.True(t, idx.Remove("p4/by-since"))
	assert.False(t, idx.Remove("p4/by-since"))
	assert.Len(t, idx.Candidates(&nostr.Event{PubKey: "nobody"}), 0)
	assert.Equal(t, 3, idx.Len())
}

func TestSubscriptionIndex_Replace(t *testing.T) {
	idx := NewSubscriptionIndex()
	idx.Add(&Subscription{ID: "s", PeerID: "p", Filters: []types.Filter{{Kinds: []int{1}}}})
	idx.Add(&Subscription{ID: "s", PeerID: "p", Filters: []types.Filter{{Kinds: []int{2}}}})

	assert.Empty(t, idx.Candidates(&nostr.Event{Kind: 1}))
	assert.Len(t, idx.Candidates(&nostr.Event{Kind: 2}), 1)
	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, idx.postings[kindKey(1)], "旧索引键已删除")
}

// TestSubscriptionIndex_SupersetProperty 候选集合总是包含线性扫描得到的匹配集合
func TestSubscriptionIndex_SupersetProperty(t *testing.T) {
	authors := []string{"a0", "a1", "a2"}
	tagValues := []string{"x", "y", "z"}

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("candidates ⊇ matches", prop.ForAll(
		func(seeds []int, evtAuthor, evtKind, evtTag int) bool {
			idx := NewSubscriptionIndex()
			var all []*Subscription
			for i, seed := range seeds {
				f := types.Filter{}
				if seed&1 != 0 {
					f.Authors = []string{authors[seed%3]}
				}
				if seed&2 != 0 {
					f.Kinds = []int{seed % 4}
				}
				if seed&4 != 0 {
					f.Tags = map[string][]string{"t": {tagValues[(seed/8)%3]}}
				}
				sub := &Subscription{ID: fmt.Sprintf("s%d", i), PeerID: "p", Filters: []types.Filter{f}}
				idx.Add(sub)
				all = append(all, sub)
			}

			evt := &nostr.Event{
				PubKey: authors[evtAuthor],
				Kind:   evtKind,
				Tags:   nostr.Tags{{"t", tagValues[evtTag]}},
			}
			candidates := make(map[string]bool)
			for _, c := range idx.Candidates(evt) {
				candidates[c.Key()] = true
			}
			for _, sub := range all {
				if types.MatchAny(sub.Filters, evt) && !candidates[sub.Key()] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 63)),
		gen.IntRange(0, 2),
		gen.IntRange(0, 3),
		gen.IntRange(0, 2),
	))
	properties.TestingRun(t)
}
