package eventstore

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-btpnips/internal/storage/badger"
	"github.com/dep2p/go-btpnips/internal/storage/engine"
	"github.com/dep2p/go-btpnips/internal/storage/kv"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	eng, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return New(kv.New(eng, []byte("e/")))
}

func signed(t *testing.T, sk string, kind int, createdAt int64, tags nostr.Tags, content string) *nostr.Event {
	t.Helper()
	evt := &nostr.Event{
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	require.NoError(t, evt.Sign(sk))
	return evt
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sk := nostr.GeneratePrivateKey()

	evt := signed(t, sk, types.KindTextNote, 100, nostr.Tags{{"t", "go"}}, "hello")
	require.NoError(t, s.SaveEvent(ctx, evt))
	require.NoError(t, s.SaveEvent(ctx, evt))

	got, err := s.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, evt.Sig, got.Sig)

	_, err = s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrEventNotFound)
}

func TestMarkDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sk := nostr.GeneratePrivateKey()

	evt := signed(t, sk, types.KindTextNote, 100, nil, "bye")
	require.NoError(t, s.SaveEvent(ctx, evt))
	require.NoError(t, s.MarkDeleted(ctx, evt.ID, "deleter"))
	require.NoError(t, s.MarkDeleted(ctx, evt.ID, "deleter"))

	_, err := s.GetEvent(ctx, evt.ID)
	assert.ErrorIs(t, err, interfaces.ErrEventNotFound)

	res, err := s.QueryByFilters(ctx, []types.Filter{{Kinds: []int{types.KindTextNote}}})
	require.NoError(t, err)
	assert.Empty(t, res)

	// 已删除的事件不会被重新保存
	assert.ErrorIs(t, s.SaveEvent(ctx, evt), interfaces.ErrEventDeleted)
	_, err = s.GetEvent(ctx, evt.ID)
	assert.ErrorIs(t, err, interfaces.ErrEventNotFound)

	assert.ErrorIs(t, s.MarkDeleted(ctx, "missing", "x"), interfaces.ErrEventNotFound)
}

func TestReplaceable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sk := nostr.GeneratePrivateKey()

	v1 := signed(t, sk, types.KindFollowList, 100, nostr.Tags{{"p", "aa"}}, "")
	v2 := signed(t, sk, types.KindFollowList, 200, nostr.Tags{{"p", "bb"}}, "")
	require.NoError(t, s.SaveEvent(ctx, v1))
	require.NoError(t, s.SaveEvent(ctx, v2))

	_, err := s.GetEvent(ctx, v1.ID)
	assert.ErrorIs(t, err, interfaces.ErrEventNotFound)

	older := signed(t, sk, types.KindFollowList, 50, nil, "")
	assert.ErrorIs(t, s.SaveEvent(ctx, older), interfaces.ErrStaleEvent)

	res, err := s.QueryByFilters(ctx, []types.Filter{{Kinds: []int{types.KindFollowList}}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, v2.ID, res[0].ID)
}

func TestParameterizedReplaceable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sk := nostr.GeneratePrivateKey()

	a1 := signed(t, sk, types.KindNodeAnnouncement, 100, nostr.Tags{{"d", "ilp-node-info"}}, "")
	other := signed(t, sk, types.KindNodeAnnouncement, 100, nostr.Tags{{"d", "other"}}, "")
	a2 := signed(t, sk, types.KindNodeAnnouncement, 101, nostr.Tags{{"d", "ilp-node-info"}}, "")
	for _, e := range []*nostr.Event{a1, other, a2} {
		require.NoError(t, s.SaveEvent(ctx, e))
	}

	res, err := s.QueryByFilters(ctx, []types.Filter{{Kinds: []int{types.KindNodeAnnouncement}}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, a2.ID, res[0].ID)
	assert.Equal(t, other.ID, res[1].ID)
}

func TestQueryByFilters_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := nostr.GeneratePrivateKey()
	bob := nostr.GeneratePrivateKey()
	bobPub, err := nostr.GetPublicKey(bob)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.SaveEvent(ctx, signed(t, alice, types.KindTextNote, i*10, nil, "a")))
	}
	b := signed(t, bob, 7, 1000, nostr.Tags{{"t", "x"}}, "b")
	require.NoError(t, s.SaveEvent(ctx, b))

	res, err := s.QueryByFilters(ctx, []types.Filter{{Kinds: []int{types.KindTextNote}, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, nostr.Timestamp(50), res[0].CreatedAt)
	assert.Equal(t, nostr.Timestamp(40), res[1].CreatedAt)

	// 多个过滤器取并集，去重后整体降序
	res, err = s.QueryByFilters(ctx, []types.Filter{
		{Authors: []string{bobPub}},
		{Tags: map[string][]string{"t": {"x"}}},
		{Kinds: []int{types.KindTextNote}, Limit: 1},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, b.ID, res[0].ID)
	assert.Equal(t, nostr.Timestamp(50), res[1].CreatedAt)

	res, err = s.QueryByFilters(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}
