package btpnips

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-btpnips/internal/discovery"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/internal/peer/lifecycle"
	"github.com/dep2p/go-btpnips/internal/testutil"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              测试辅助
// ════════════════════════════════════════════════════════════════════════════

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	addr := freeAddr(t)
	base := []Option{
		WithInMemoryStorage(),
		WithListenAddr(addr),
		WithEndpoint("ws://" + addr + "/btp"),
	}
	n, err := Start(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

func TestNode_StartStopClose(t *testing.T) {
	n := startNode(t)

	assert.Equal(t, StateRunning, n.State())
	assert.Len(t, string(n.ID()), 64)
	assert.Equal(t, discovery.ILPAddress("g.btpnips", string(n.ID())), n.ILPAddress())
	assert.NotEmpty(t, n.ListenAddr())

	ann := n.Announcement()
	require.NotNil(t, ann)
	addr, err := discovery.ParseAnnouncement(ann)
	require.NoError(t, err)
	assert.Equal(t, n.ID(), addr.Identity)

	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
	assert.ErrorIs(t, n.Start(context.Background()), ErrNodeClosed)
	assert.NoError(t, n.Close())
}

func TestNew_InvalidOption(t *testing.T) {
	_, err := New(context.Background(), WithConfig(nil))
	assert.Error(t, err)

	_, err = New(context.Background(), WithInMemoryStorage(), WithAddressPrefix(""))
	assert.Error(t, err)
}

func TestNodeState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "unknown", NodeState(99).String())
}

// ════════════════════════════════════════════════════════════════════════════
//                              本地发布
// ════════════════════════════════════════════════════════════════════════════

func TestNode_UpdateAnnouncement(t *testing.T) {
	n := startNode(t)
	ctx := context.Background()

	first := n.Announcement()
	require.NotNil(t, first)
	prev, err := discovery.ParseAnnouncement(first)
	require.NoError(t, err)

	update := AnnouncementInfo{
		Endpoint:          "wss://relay.example.com/btp",
		SettlementAddress: "0x000000000000000000000000000000000000bEEF",
		Features:          []string{"subscriptions", "auth"},
	}
	changed, err := n.UpdateAnnouncement(ctx, update)
	require.NoError(t, err)
	assert.True(t, changed)

	second := n.Announcement()
	require.NotNil(t, second)
	assert.Greater(t, second.CreatedAt, first.CreatedAt)
	addr, err := discovery.ParseAnnouncement(second)
	require.NoError(t, err)
	assert.Equal(t, update.Endpoint, addr.Endpoint)
	assert.Equal(t, update.SettlementAddress, addr.SettlementAddress)
	assert.Equal(t, prev.ILPAddress, addr.ILPAddress)
	assert.Equal(t, prev.Currencies, addr.Currencies)

	// 新版本替换了存储中的旧公告
	got, err := n.Query(ctx, types.Filter{Kinds: []int{types.KindNodeAnnouncement}, Authors: []string{string(n.ID())}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)

	// 未变化时不重新发布
	changed, err = n.UpdateAnnouncement(ctx, update)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, second.ID, n.Announcement().ID)

	require.NoError(t, n.Close())
	_, err = n.UpdateAnnouncement(ctx, update)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestNode_PublishAndQuery(t *testing.T) {
	n := startNode(t)
	ctx := context.Background()
	author := testutil.NewKeypair(t)

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "local")
	require.NoError(t, n.Publish(ctx, evt))

	got, err := n.Query(ctx, types.Filter{Authors: []string{author.PubKey}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, evt.ID, got[0].ID)

	tampered := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "x")
	tampered.Content = "y"
	assert.Error(t, n.Publish(ctx, tampered))
}

func TestNode_RegisterChannel(t *testing.T) {
	n := startNode(t)
	ctx := context.Background()

	state := &claim.ChannelState{
		ChannelID:  "channel-registered-01",
		Currency:   claim.CurrencyETH,
		Sender:     "0x1111111111111111111111111111111111111111",
		Recipient:  "0x2222222222222222222222222222222222222222",
		Status:     claim.StatusOpen,
		Capacity:   10_000,
		Expiration: time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, n.RegisterChannel(ctx, state))

	got, err := n.Channel(ctx, state.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), got.Capacity)

	bad := *state
	bad.Capacity = 0
	assert.ErrorIs(t, n.RegisterChannel(ctx, &bad), claim.ErrInvalidChannel)
}

// ════════════════════════════════════════════════════════════════════════════
//                              两节点互联（WebSocket）
// ════════════════════════════════════════════════════════════════════════════

func TestNode_ConnectAndRelay(t *testing.T) {
	a := startNode(t)
	b := startNode(t)
	ctx := context.Background()

	_, err := b.AddPeer(ctx, a.Announcement())
	require.NoError(t, err)

	conn, err := b.Connect(ctx, a.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateConnected, conn.State)
	assert.Equal(t, DefaultPriority, conn.Priority)

	// B 在连接建立后自动订阅 A
	testutil.WaitForConditionOrFail(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return a.Stats().Subscriptions == 1
	}, "A 未收到 B 的订阅")

	author := testutil.NewKeypair(t)
	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "across the wire")
	require.NoError(t, a.Publish(ctx, evt))

	testutil.WaitForConditionOrFail(t, 5*time.Second, 20*time.Millisecond, func() bool {
		got, err := b.Query(ctx, types.Filter{IDs: []string{evt.ID}})
		return err == nil && len(got) == 1
	}, "事件未到达 B")

	require.NoError(t, b.Challenge(ctx, a.ID()))
	testutil.WaitForConditionOrFail(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return b.Authenticated(a.ID())
	}, "认证挑战未完成")

	require.NoError(t, b.Disconnect(ctx, a.ID()))
	assert.Empty(t, b.Connections())
}
