package node

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/eventstore"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/internal/propagation"
	"github.com/dep2p/go-btpnips/internal/protocol/codec"
	"github.com/dep2p/go-btpnips/internal/storage/badger"
	"github.com/dep2p/go-btpnips/internal/storage/engine"
	"github.com/dep2p/go-btpnips/internal/storage/kv"
	"github.com/dep2p/go-btpnips/internal/testutil"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// ============================================================================
//                              测试辅助
// ============================================================================

const testChannel = "channel-0123456789abcdef"

type recordingSettler struct {
	mu       sync.Mutex
	channels []string
}

func (s *recordingSettler) Trigger(channelID string) {
	s.mu.Lock()
	s.channels = append(s.channels, channelID)
	s.mu.Unlock()
}

func (s *recordingSettler) triggered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channels...)
}

// dropRecorder 统计被丢弃的包
type dropRecorder struct {
	nopRecorder

	mu    sync.Mutex
	drops map[string]int
}

func (r *dropRecorder) PacketDropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drops == nil {
		r.drops = make(map[string]int)
	}
	r.drops[reason]++
}

func (r *dropRecorder) dropped(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops[reason]
}

type harness struct {
	id        *Identity
	transport *testutil.MemTransport
	events    *eventstore.Store
	engine    *propagation.Engine
	channels  *claim.MemoryChannelStore
	settler   *recordingSettler
	recorder  *dropRecorder
	handler   *Handler
	node      *Node
}

func newHarness(t *testing.T, net *testutil.MemNetwork, requirePayment bool) *harness {
	t.Helper()
	return newHarnessWithClock(t, net, requirePayment, clock.New())
}

func newHarnessWithClock(t *testing.T, net *testutil.MemNetwork, requirePayment bool, clk clock.Clock) *harness {
	t.Helper()

	kp := testutil.NewKeypair(t)
	id, err := NewIdentity(kp.SecretKey)
	require.NoError(t, err)

	eng, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	tr := net.Join(id.PeerID())
	address := "g.btpnips." + id.PubKey()[:16]
	pe := propagation.NewEngine(
		propagation.NewDedupCache(time.Hour, 1000, clk),
		propagation.NewHopLimiter(5, 16),
		propagation.NewRateLimiter(100, 1000, clk),
		propagation.NewDeliveredTracker(1000, time.Hour, clk),
		tr,
		propagation.NotifyEncoder(address, "ETH", clk),
		propagation.Options{},
	)

	h := &harness{
		id:        id,
		transport: tr,
		events:    eventstore.New(kv.New(eng, []byte("e/"))),
		engine:    pe,
		channels:  claim.NewMemoryChannelStore(),
		settler:   &recordingSettler{},
		recorder:  &dropRecorder{},
	}
	h.handler, err = NewHandler(HandlerConfig{
		Protocol: config.ProtocolConfig{RequirePayment: requirePayment, DefaultTTL: 5, MaxTTL: 16},
		Address:  address,
		Currency: "ETH",
	}, Deps{
		Identity: id,
		Sender:   tr,
		Events:   h.events,
		Claims:   claim.NewVerifier(h.channels, clk),
		Engine:   pe,
		Settler:  h.settler,
		Recorder: h.recorder,
		Clock:    clk,
	})
	require.NoError(t, err)

	h.node = NewNode(Components{Handler: h.handler, Transport: tr, Engine: pe, Clock: clk})
	require.NoError(t, h.node.Start(context.Background()))
	t.Cleanup(func() { _ = h.node.Stop(context.Background()) })
	return h
}

func (h *harness) peer() types.PeerID { return h.id.PeerID() }

func publishFrame(t *testing.T, evt *nostr.Event, ttl *int) []byte {
	t.Helper()
	pkt, err := codec.NewPacket(codec.KindPublish,
		codec.Payment{Amount: "0", Currency: "ETH"},
		evt,
		codec.Metadata{Timestamp: time.Now().Unix(), Sender: "g.btpnips.client", TTL: ttl},
	)
	require.NoError(t, err)
	data, err := codec.Encode(pkt)
	require.NoError(t, err)
	return data
}

func subscribeFrame(t *testing.T, subID string, filters ...types.Filter) []byte {
	t.Helper()
	pkt, err := codec.NewPacket(codec.KindSubscribe,
		codec.Payment{Amount: "0", Currency: "ETH"},
		codec.SubscribeBody{SubscriptionID: subID, Filters: filters},
		codec.Metadata{Timestamp: time.Now().Unix(), Sender: "g.btpnips.client"},
	)
	require.NoError(t, err)
	data, err := codec.Encode(pkt)
	require.NoError(t, err)
	return data
}

func notifyFrame(t *testing.T, subID string, evt *nostr.Event) []byte {
	t.Helper()
	raw, err := codec.MarshalEvent(evt)
	require.NoError(t, err)
	pkt, err := codec.NewPacket(codec.KindNotify,
		codec.Payment{Amount: "0", Currency: "ETH"},
		codec.NotifyBody{SubscriptionID: subID, Event: raw},
		codec.Metadata{Timestamp: time.Now().Unix(), Sender: "g.btpnips.upstream", TTL: codec.IntPtr(4)},
	)
	require.NoError(t, err)
	data, err := codec.Encode(pkt)
	require.NoError(t, err)
	return data
}

func notifiesTo(h *harness, peer types.PeerID) int {
	n := 0
	for _, call := range h.transport.SendCalls() {
		if call.Peer != peer {
			continue
		}
		if pkt, err := codec.Decode(call.Data); err == nil && pkt.Kind == codec.KindNotify {
			n++
		}
	}
	return n
}

// recv 读取下一个指定种类的包，跳过其他种类
func recv(t *testing.T, tr *testutil.MemTransport, kind codec.MessageKind) *codec.Packet {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case in := <-tr.Inbound():
			pkt, err := codec.Decode(in.Data)
			require.NoError(t, err)
			if pkt.Kind == kind {
				return pkt
			}
		case <-timeout:
			t.Fatalf("等待 %s 包超时", kind)
			return nil
		}
	}
}

func recvAck(t *testing.T, tr *testutil.MemTransport) *codec.AckBody {
	t.Helper()
	ack, err := recv(t, tr, codec.KindAck).Ack()
	require.NoError(t, err)
	return ack
}

func stored(h *harness, id string) bool {
	_, err := h.events.GetEvent(context.Background(), id)
	return err == nil
}

// ============================================================================
//                              发布
// ============================================================================

func TestHandler_PublishAccepted(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "hello")
	require.NoError(t, client.Send(context.Background(), a.peer(), publishFrame(t, evt, nil)))

	ack := recvAck(t, client)
	assert.True(t, ack.Accepted)
	assert.Equal(t, evt.ID, ack.EventID)
	assert.Empty(t, ack.Message)
	assert.True(t, stored(a, evt.ID))
}

func TestHandler_PublishInvalidSignature(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "hello")
	evt.Content = "tampered"
	require.NoError(t, client.Send(context.Background(), a.peer(), publishFrame(t, evt, nil)))

	ack := recvAck(t, client)
	assert.False(t, ack.Accepted)
	assert.True(t, strings.HasPrefix(ack.Message, ackInvalid), ack.Message)
	assert.False(t, stored(a, evt.ID))
}

func TestHandler_PublishDuplicate(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "once")
	frame := publishFrame(t, evt, nil)
	require.NoError(t, client.Send(context.Background(), a.peer(), frame))
	require.True(t, recvAck(t, client).Accepted)

	require.NoError(t, client.Send(context.Background(), a.peer(), frame))
	ack := recvAck(t, client)
	assert.True(t, ack.Accepted)
	assert.True(t, strings.HasPrefix(ack.Message, ackDuplicate), ack.Message)
}

func TestHandler_MalformedFrameDoesNotStopLoop(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)

	require.NoError(t, client.Send(context.Background(), a.peer(), []byte{0x01, 0x01}))
	require.NoError(t, client.Send(context.Background(), a.peer(), []byte{0x02, 0x01, 0x00, 0x00}))

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "after garbage")
	require.NoError(t, client.Send(context.Background(), a.peer(), publishFrame(t, evt, nil)))
	assert.True(t, recvAck(t, client).Accepted)
}

func TestHandler_StaleReplaceableNotPropagated(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)
	now := time.Now().Unix()

	newer := testutil.NewEvent(t, author, types.KindMetadata, now, `{"name":"new"}`)
	older := testutil.NewEvent(t, author, types.KindMetadata, now-60, `{"name":"old"}`)

	require.NoError(t, client.Send(context.Background(), a.peer(), publishFrame(t, newer, nil)))
	require.True(t, recvAck(t, client).Accepted)

	require.NoError(t, client.Send(context.Background(), a.peer(), publishFrame(t, older, nil)))
	ack := recvAck(t, client)
	assert.True(t, ack.Accepted)
	assert.True(t, strings.HasPrefix(ack.Message, ackDuplicate), ack.Message)
	assert.False(t, stored(a, older.ID))
}

// ============================================================================
//                              支付
// ============================================================================

func claimTag(channelID string, amount, nonce uint64, sig string) nostr.Tag {
	c := &claim.Claim{ChannelID: channelID, Amount: amount, Nonce: nonce, Signature: sig, Currency: claim.CurrencyETH}
	return c.Tag()
}

func TestHandler_PaymentRequiredWithoutClaim(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, true)
	client := net.Join("client")
	author := testutil.NewKeypair(t)

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "free ride")
	require.NoError(t, client.Send(context.Background(), a.peer(), publishFrame(t, evt, nil)))

	ack := recvAck(t, client)
	assert.False(t, ack.Accepted)
	assert.True(t, strings.HasPrefix(ack.Message, ackPaymentRequired), ack.Message)
	assert.False(t, stored(a, evt.ID))
}

func TestHandler_ClaimExceedsBalance(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, true)
	client := net.Join("client")
	author := testutil.NewKeypair(t)

	require.NoError(t, a.channels.Put(context.Background(), &claim.ChannelState{
		ChannelID:  testChannel,
		Currency:   claim.CurrencyETH,
		Sender:     "0x1111111111111111111111111111111111111111",
		Recipient:  "0x2222222222222222222222222222222222222222",
		Status:     claim.StatusOpen,
		Capacity:   1000,
		Expiration: time.Now().Add(48 * time.Hour).Unix(),
	}))

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "too expensive",
		claimTag(testChannel, 2000, 1, strings.Repeat("ab", 65)))
	require.NoError(t, client.Send(context.Background(), a.peer(), publishFrame(t, evt, nil)))

	ack := recvAck(t, client)
	assert.False(t, ack.Accepted)
	assert.Equal(t, ackPaymentRequired+claim.ReasonExceedsBalance, ack.Message)
	assert.False(t, stored(a, evt.ID))
	assert.Empty(t, a.settler.triggered())

	st, err := a.channels.Get(context.Background(), testChannel)
	require.NoError(t, err)
	assert.Zero(t, st.HighestClaim)
}

func TestHandler_ValidClaimTriggersSettlement(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, true)
	client := net.Join("client")
	author := testutil.NewKeypair(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, a.channels.Put(context.Background(), &claim.ChannelState{
		ChannelID:  testChannel,
		Currency:   claim.CurrencyETH,
		Sender:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Recipient:  "0x2222222222222222222222222222222222222222",
		Status:     claim.StatusOpen,
		Capacity:   1_000_000,
		Expiration: time.Now().Add(48 * time.Hour).Unix(),
	}))
	sig, err := claim.SignEVM(key, testChannel, 5000, 1)
	require.NoError(t, err)

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "paid",
		claimTag(testChannel, 5000, 1, sig))
	require.NoError(t, client.Send(context.Background(), a.peer(), publishFrame(t, evt, nil)))

	ack := recvAck(t, client)
	require.True(t, ack.Accepted, ack.Message)
	assert.True(t, stored(a, evt.ID))
	assert.Equal(t, []string{testChannel}, a.settler.triggered())

	st, err := a.channels.Get(context.Background(), testChannel)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), st.HighestClaim)
	assert.Equal(t, uint64(1), st.HighestNonce)
}

// ============================================================================
//                              订阅
// ============================================================================

func TestHandler_SubscribeReplaysThenEOSE(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)
	other := testutil.NewKeypair(t)
	now := time.Now().Unix()

	ctx := context.Background()
	e1 := testutil.NewEvent(t, author, types.KindTextNote, now-20, "first")
	e2 := testutil.NewEvent(t, author, types.KindTextNote, now-10, "second")
	e3 := testutil.NewEvent(t, other, types.KindTextNote, now-5, "unrelated")
	for _, evt := range []*nostr.Event{e1, e2, e3} {
		require.NoError(t, a.events.SaveEvent(ctx, evt))
	}

	require.NoError(t, client.Send(ctx, a.peer(), subscribeFrame(t, "sub-1", types.Filter{Authors: []string{author.PubKey}})))

	var got []string
	for i := 0; i < 2; i++ {
		subID, evt, err := recv(t, client, codec.KindNotify).Notify()
		require.NoError(t, err)
		assert.Equal(t, "sub-1", subID)
		got = append(got, evt.ID)
	}
	assert.Equal(t, []string{e2.ID, e1.ID}, got)

	eose, err := recv(t, client, codec.KindEndOfStored).SubscriptionID()
	require.NoError(t, err)
	assert.Equal(t, "sub-1", eose)
	assert.Equal(t, []string{"sub-1"}, a.engine.PeerSubscriptions("client"))
}

func TestHandler_Unsubscribe(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	client := net.Join("client")
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, a.peer(), subscribeFrame(t, "sub-1", types.Filter{})))
	recv(t, client, codec.KindEndOfStored)

	pkt, err := codec.NewPacket(codec.KindUnsubscribe, codec.Payment{Amount: "0", Currency: "ETH"},
		codec.UnsubscribeBody{SubscriptionID: "sub-1"}, codec.Metadata{Sender: "client"})
	require.NoError(t, err)
	data, err := codec.Encode(pkt)
	require.NoError(t, err)
	require.NoError(t, client.Send(ctx, a.peer(), data))

	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.engine.PeerSubscriptions("client")) == 0
	}, "订阅未移除")
}

func TestHandler_NotifyRequiresOutboundSubscription(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, true)
	client := net.Join("client")
	upstream := net.Join("upstream")
	author := testutil.NewKeypair(t)
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, a.peer(), subscribeFrame(t, "sub-1", types.Filter{})))
	recv(t, client, codec.KindEndOfStored)

	// 未发起过的订阅：丢弃，不存储不转发
	forged := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "unpaid")
	require.NoError(t, upstream.Send(ctx, a.peer(), notifyFrame(t, "never-issued", forged)))
	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return a.recorder.dropped("unsolicited_notify") == 1
	}, "推送未被丢弃")
	assert.False(t, stored(a, forged.ID))
	assert.Zero(t, notifiesTo(a, "client"))

	// 本节点发起的订阅：接受并转发
	require.NoError(t, a.handler.Subscribe(ctx, "upstream", "relay", []types.Filter{{}}))
	relayed := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "relayed")
	require.NoError(t, upstream.Send(ctx, a.peer(), notifyFrame(t, "relay", relayed)))
	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return stored(a, relayed.ID) && notifiesTo(a, "client") == 1
	}, "订阅推送未被接受")

	// 同一订阅 ID 但来自其他节点
	other := net.Join("other")
	spoofed := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "spoofed")
	require.NoError(t, other.Send(ctx, a.peer(), notifyFrame(t, "relay", spoofed)))

	// 取消订阅后不再接受
	require.NoError(t, a.handler.Unsubscribe(ctx, "upstream", "relay"))
	late := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "late")
	require.NoError(t, upstream.Send(ctx, a.peer(), notifyFrame(t, "relay", late)))

	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return a.recorder.dropped("unsolicited_notify") == 3
	}, "推送未被丢弃")
	assert.False(t, stored(a, spoofed.ID))
	assert.False(t, stored(a, late.ID))
	assert.Equal(t, 1, notifiesTo(a, "client"))
}

// ============================================================================
//                              删除
// ============================================================================

func TestHandler_DeletionSameAuthorOnly(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)
	stranger := testutil.NewKeypair(t)
	now := time.Now().Unix()
	ctx := context.Background()

	target := testutil.NewEvent(t, author, types.KindTextNote, now-10, "regret")
	require.NoError(t, client.Send(ctx, a.peer(), publishFrame(t, target, nil)))
	require.True(t, recvAck(t, client).Accepted)

	foreign := testutil.NewEvent(t, stranger, types.KindDeletion, now-5, "", nostr.Tag{types.TagEvent, target.ID})
	require.NoError(t, client.Send(ctx, a.peer(), publishFrame(t, foreign, nil)))
	require.True(t, recvAck(t, client).Accepted)
	assert.True(t, stored(a, target.ID), "他人的删除请求不应生效")

	own := testutil.NewEvent(t, author, types.KindDeletion, now, "", nostr.Tag{types.TagEvent, target.ID})
	require.NoError(t, client.Send(ctx, a.peer(), publishFrame(t, own, nil)))
	require.True(t, recvAck(t, client).Accepted)

	_, err := a.events.GetEvent(ctx, target.ID)
	assert.ErrorIs(t, err, interfaces.ErrEventNotFound)
}

func TestHandler_DeletedEventNotPropagatedAgain(t *testing.T) {
	net := testutil.NewMemNetwork()
	clk := clock.NewMock()
	a := newHarnessWithClock(t, net, false, clk)
	author := testutil.NewKeypair(t)
	now := time.Now().Unix()
	ctx := context.Background()

	target := testutil.NewEvent(t, author, types.KindTextNote, now-10, "gone")
	require.NoError(t, a.handler.Publish(ctx, target))
	own := testutil.NewEvent(t, author, types.KindDeletion, now, "", nostr.Tag{types.TagEvent, target.ID})
	require.NoError(t, a.handler.Publish(ctx, own))
	require.False(t, stored(a, target.ID))

	// 删除之后才订阅的节点不会收到被删除的事件
	late := net.Join("late")
	require.NoError(t, late.Send(ctx, a.peer(), subscribeFrame(t, "sub-1", types.Filter{})))
	recv(t, late, codec.KindEndOfStored)

	// 去重记录过期后再次收到同一事件
	clk.Add(2 * time.Hour)
	assert.False(t, a.engine.Dedup().HasSeen(target.ID))
	require.NoError(t, a.handler.Publish(ctx, target))
	assert.False(t, stored(a, target.ID))
	assert.Zero(t, notifiesTo(a, "late"))
}

// ============================================================================
//                              多跳转发
// ============================================================================

// TestNode_ThreeHopPropagation 客户端 → A → B → C
func TestNode_ThreeHopPropagation(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	b := newHarness(t, net, false)
	c := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)
	ctx := context.Background()

	require.NoError(t, b.handler.Subscribe(ctx, a.peer(), "relay", []types.Filter{{}}))
	require.NoError(t, c.handler.Subscribe(ctx, b.peer(), "relay", []types.Filter{{}}))
	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.engine.PeerSubscriptions(b.peer())) == 1 && len(b.engine.PeerSubscriptions(c.peer())) == 1
	}, "订阅未建立")

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "multi-hop")
	require.NoError(t, client.Send(ctx, a.peer(), publishFrame(t, evt, nil)))
	require.True(t, recvAck(t, client).Accepted)

	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return stored(b, evt.ID) && stored(c, evt.ID)
	}, "事件未到达 C")

	// A 发出 ttl 4，B 转发 ttl 3
	var ttl *int
	for _, call := range b.transport.SendCalls() {
		if call.Peer != c.peer() {
			continue
		}
		pkt, err := codec.Decode(call.Data)
		require.NoError(t, err)
		if pkt.Kind == codec.KindNotify {
			ttl = pkt.Payload.Metadata.TTL
		}
	}
	require.NotNil(t, ttl)
	assert.Equal(t, 3, *ttl)

	assert.Equal(t, uint64(1), b.engine.Stats().Totals.Events)
}

func TestNode_TTLExhaustedStopsAtHop(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	b := newHarness(t, net, false)
	client := net.Join("client")
	author := testutil.NewKeypair(t)
	ctx := context.Background()

	require.NoError(t, b.handler.Subscribe(ctx, a.peer(), "relay", []types.Filter{{}}))
	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.engine.PeerSubscriptions(b.peer())) == 1
	}, "订阅未建立")

	evt := testutil.NewEvent(t, author, types.KindTextNote, time.Now().Unix(), "last hop")
	require.NoError(t, client.Send(ctx, a.peer(), publishFrame(t, evt, codec.IntPtr(1))))
	require.True(t, recvAck(t, client).Accepted)

	assert.True(t, stored(a, evt.ID))
	assert.Equal(t, uint64(1), a.engine.Stats().Totals.TTLExhausted)
	assert.False(t, stored(b, evt.ID))
}

func TestNode_DisconnectDropsSubscriptions(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	b := newHarness(t, net, false)
	ctx := context.Background()

	require.NoError(t, b.handler.Subscribe(ctx, a.peer(), "relay", []types.Filter{{}}))
	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.engine.PeerSubscriptions(b.peer())) == 1
	}, "订阅未建立")

	a.transport.Drop(b.peer())
	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(a.engine.PeerSubscriptions(b.peer())) == 0
	}, "断开后订阅未清除")
}

// ============================================================================
//                              认证挑战
// ============================================================================

func TestHandler_AuthChallengeRoundTrip(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	b := newHarness(t, net, false)

	_, err := a.handler.Challenge(context.Background(), b.peer())
	require.NoError(t, err)

	testutil.WaitForConditionOrFail(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return a.handler.Authenticated(b.peer())
	}, "挑战未完成")
	assert.False(t, b.handler.Authenticated(a.peer()))

	a.handler.ForgetPeer(b.peer())
	assert.False(t, a.handler.Authenticated(b.peer()))
}

func TestHandler_UnsolicitedResponseRejected(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	b := newHarness(t, net, false)

	resp, err := b.handler.answer("never-issued")
	require.NoError(t, err)
	err = a.handler.verifyResponse(b.peer(), &codec.AuthChallengeBody{Challenge: "never-issued", Response: resp})
	assert.ErrorIs(t, err, ErrUnknownChallenge)
	assert.False(t, a.handler.Authenticated(b.peer()))
}

func TestHandler_ResponseFromWrongPeerRejected(t *testing.T) {
	net := testutil.NewMemNetwork()
	a := newHarness(t, net, false)
	b := newHarness(t, net, false)
	c := newHarness(t, net, false)

	// 挑战不送达 B，保持未完成
	a.transport.SendFunc = func(context.Context, types.PeerID, []byte) error { return nil }
	value, err := a.handler.Challenge(context.Background(), b.peer())
	require.NoError(t, err)

	// C 用自己的密钥应答发给 B 的挑战
	resp, err := c.handler.answer(value)
	require.NoError(t, err)
	err = a.handler.verifyResponse(c.peer(), &codec.AuthChallengeBody{Challenge: value, Response: resp})
	assert.ErrorIs(t, err, ErrUnknownChallenge)
}
