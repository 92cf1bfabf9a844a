package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	arc "github.com/hashicorp/golang-lru/arc/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/discovery"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/internal/peer/lifecycle"
	"github.com/dep2p/go-btpnips/internal/propagation"
	"github.com/dep2p/go-btpnips/internal/protocol/auth"
	"github.com/dep2p/go-btpnips/internal/protocol/codec"
	"github.com/dep2p/go-btpnips/pkg/interfaces"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

var logger = log.Logger("btpnips/node")

// 默认值
const (
	// DefaultVerifiedCacheSize 已验签事件缓存大小
	DefaultVerifiedCacheSize = 8192

	// ChallengeTTL 认证挑战有效期
	ChallengeTTL = 5 * time.Minute

	// ReplayTTL 历史回放的跳数，接收方不再继续转发
	ReplayTTL = 1
)

// ACK 消息前缀
const (
	ackDuplicate       = "duplicate: "
	ackInvalid         = "invalid: "
	ackPaymentRequired = "payment-required: "
	ackError           = "error: "
)

// Lifecycle 处理器使用的连接生命周期操作
type Lifecycle interface {
	Touch(identity types.PeerID)
	AddSubscription(identity types.PeerID, subID string) error
	RemoveSubscription(identity types.PeerID, subID string) error
}

// Settler 结算触发
type Settler interface {
	Trigger(channelID string)
}

// Recorder 入站处理的指标记录
type Recorder interface {
	PacketReceived(kind string)
	PacketDropped(reason string)
	AuthFailed(reason string)
	ClaimVerified(valid bool, reason string)
	AckSent(accepted bool)
}

type nopRecorder struct{}

func (nopRecorder) PacketReceived(string)      {}
func (nopRecorder) PacketDropped(string)       {}
func (nopRecorder) AuthFailed(string)          {}
func (nopRecorder) ClaimVerified(bool, string) {}
func (nopRecorder) AckSent(bool)               {}

// HandlerConfig 处理器参数
type HandlerConfig struct {
	Protocol config.ProtocolConfig

	// Address 本节点 ILP 地址，写入出站包的 metadata.sender
	Address string

	// Currency 出站控制包的 payment.currency
	Currency string

	VerifiedCacheSize int
}

// Deps 处理器依赖；Lifecycle / Follow / Discovery / Settler / Recorder 可为空
type Deps struct {
	Identity  *Identity
	Sender    propagation.Sender
	Events    interfaces.EventStore
	Claims    *claim.Verifier
	Engine    *propagation.Engine
	Encoder   propagation.Encoder
	Settler   Settler
	Lifecycle Lifecycle
	Follow    *discovery.FollowMonitor
	Discovery interfaces.DiscoveryStore
	Recorder  Recorder
	Clock     clock.Clock
}

type challenge struct {
	peer    types.PeerID
	expires time.Time
}

// Handler 入站包处理流水线
type Handler struct {
	cfg  HandlerConfig
	deps Deps

	verified *arc.ARCCache[string, struct{}]

	mu            sync.Mutex
	challenges    map[string]challenge
	authenticated map[types.PeerID]time.Time
	outbound      map[types.PeerID]map[string]struct{}
}

// NewHandler 创建处理器
func NewHandler(cfg HandlerConfig, deps Deps) (*Handler, error) {
	if deps.Identity == nil || deps.Sender == nil || deps.Events == nil || deps.Engine == nil {
		return nil, errors.New("node: handler requires identity, sender, events and engine")
	}
	if cfg.VerifiedCacheSize <= 0 {
		cfg.VerifiedCacheSize = DefaultVerifiedCacheSize
	}
	if cfg.Currency == "" {
		cfg.Currency = string(claim.CurrencyETH)
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Encoder == nil {
		deps.Encoder = propagation.NotifyEncoder(cfg.Address, cfg.Currency, deps.Clock)
	}
	verified, err := arc.NewARC[string, struct{}](cfg.VerifiedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("verified cache: %w", err)
	}
	return &Handler{
		cfg:           cfg,
		deps:          deps,
		verified:      verified,
		challenges:    make(map[string]challenge),
		authenticated: make(map[types.PeerID]time.Time),
		outbound:      make(map[types.PeerID]map[string]struct{}),
	}, nil
}

// ============================================================================
//                              入站分发
// ============================================================================

// HandlePacket 处理来自 from 的一帧字节
//
// 协议错误只会导致该包被丢弃，不会影响后续处理。
func (h *Handler) HandlePacket(ctx context.Context, from types.PeerID, data []byte) {
	pkt, err := codec.Decode(data)
	if err != nil {
		h.deps.Recorder.PacketDropped(dropReason(err))
		logger.Debug("丢弃无法解码的包", "peer", from.ShortString(), "size", len(data), "error", err)
		return
	}
	h.deps.Recorder.PacketReceived(pkt.Kind.String())
	if h.deps.Lifecycle != nil {
		h.deps.Lifecycle.Touch(from)
	}

	switch pkt.Kind {
	case codec.KindPublish:
		h.handlePublish(ctx, from, pkt)
	case codec.KindSubscribe:
		h.handleSubscribe(ctx, from, pkt)
	case codec.KindUnsubscribe:
		h.handleUnsubscribe(from, pkt)
	case codec.KindNotify:
		h.handleNotify(ctx, from, pkt)
	case codec.KindEndOfStored:
		if id, err := pkt.SubscriptionID(); err == nil {
			logger.Debug("历史回放结束", "peer", from.ShortString(), "sub", id)
		}
	case codec.KindAck:
		if ack, err := pkt.Ack(); err == nil && !ack.Accepted {
			logger.Debug("事件被对端拒绝",
				"peer", from.ShortString(),
				"eventID", log.TruncateID(ack.EventID, 8),
				"message", ack.Message)
		}
	case codec.KindAuthChallenge:
		h.handleAuth(ctx, from, pkt)
	}
}

func (h *Handler) handlePublish(ctx context.Context, from types.PeerID, pkt *codec.Packet) {
	evt, err := pkt.Event()
	if err != nil {
		h.deps.Recorder.PacketDropped("invalid_payload")
		return
	}

	if reason := h.authenticate(evt); reason != auth.ReasonOK {
		h.deps.Recorder.AuthFailed(string(reason))
		h.ack(ctx, from, evt.ID, false, ackInvalid+string(reason))
		return
	}
	if h.deps.Engine.Dedup().HasSeen(evt.ID) {
		h.ack(ctx, from, evt.ID, true, ackDuplicate+"already have this event")
		return
	}
	if msg, ok := h.checkPayment(ctx, from, evt); !ok {
		h.ack(ctx, from, evt.ID, false, msg)
		return
	}

	stored, err := h.ingest(ctx, from, evt, pkt.Payload.Metadata.TTL)
	switch {
	case err != nil:
		h.ack(ctx, from, evt.ID, false, ackError+"could not store event")
	case !stored:
		h.ack(ctx, from, evt.ID, true, ackDuplicate+"newer version already stored")
	default:
		h.ack(ctx, from, evt.ID, true, "")
	}
}

// handleNotify 接收订阅推送的事件
//
// 只接受本节点向 from 发起的订阅对应的推送。转发包已由上游节点收费，
// 不再校验支付声明，也不回复 ACK。
func (h *Handler) handleNotify(ctx context.Context, from types.PeerID, pkt *codec.Packet) {
	subID, evt, err := pkt.Notify()
	if err != nil {
		h.deps.Recorder.PacketDropped("invalid_payload")
		return
	}
	if !h.subscribed(from, subID) {
		h.deps.Recorder.PacketDropped("unsolicited_notify")
		logger.Debug("丢弃未订阅的推送", "peer", from.ShortString(), "sub", subID)
		return
	}
	if reason := h.authenticate(evt); reason != auth.ReasonOK {
		h.deps.Recorder.AuthFailed(string(reason))
		logger.Debug("丢弃验签失败的推送", "peer", from.ShortString(), "sub", subID, "reason", string(reason))
		return
	}
	if h.deps.Engine.Dedup().HasSeen(evt.ID) {
		return
	}
	if _, err := h.ingest(ctx, from, evt, pkt.Payload.Metadata.TTL); err != nil {
		logger.Warn("推送事件处理失败", "peer", from.ShortString(), "eventID", log.TruncateID(evt.ID, 8), "error", err)
	}
}

// authenticate 校验事件签名，通过的事件 ID 进入缓存
func (h *Handler) authenticate(evt *nostr.Event) auth.Reason {
	if h.verified.Contains(evt.ID) {
		// ID 已验证，只需确认事件内容对应该 ID
		if auth.ComputeID(evt) == evt.ID {
			return auth.ReasonOK
		}
		return auth.ReasonIDMismatch
	}
	reason := auth.Check(evt)
	if reason == auth.ReasonOK {
		h.verified.Add(evt.ID, struct{}{})
	}
	return reason
}

// checkPayment 校验支付声明
//
// 未要求付费时，无声明或声明无效的事件按免费事件接受。
func (h *Handler) checkPayment(ctx context.Context, from types.PeerID, evt *nostr.Event) (string, bool) {
	c := claim.ExtractClaim(evt)
	if c == nil {
		if h.cfg.Protocol.RequirePayment {
			return ackPaymentRequired + "missing payment claim", false
		}
		return "", true
	}
	if h.deps.Claims == nil {
		if h.cfg.Protocol.RequirePayment {
			return ackPaymentRequired + claim.ReasonChannelNotFound, false
		}
		return "", true
	}

	res := h.deps.Claims.VerifyClaim(ctx, c)
	h.deps.Recorder.ClaimVerified(res.Valid, res.Reason)
	if !res.Valid {
		logger.Debug("支付声明无效",
			"peer", from.ShortString(),
			"channel", log.TruncateID(c.ChannelID, 16),
			"reason", res.Reason)
		if h.cfg.Protocol.RequirePayment {
			return ackPaymentRequired + res.Reason, false
		}
		return "", true
	}

	if h.deps.Settler != nil {
		h.deps.Settler.Trigger(c.ChannelID)
	}
	h.deps.Engine.SetPaymentRate(from, c.Amount)
	return "", true
}

// ingest 存储事件、执行种类相关处理并转发
//
// 可替换事件已有更新版本时返回 stored=false，不转发。
func (h *Handler) ingest(ctx context.Context, from types.PeerID, evt *nostr.Event, ttl *int) (bool, error) {
	if err := h.deps.Events.SaveEvent(ctx, evt); err != nil {
		if errors.Is(err, interfaces.ErrStaleEvent) || errors.Is(err, interfaces.ErrEventDeleted) {
			h.deps.Engine.Dedup().MarkSeen(evt.ID)
			return false, nil
		}
		logger.Warn("事件存储失败", "eventID", log.TruncateID(evt.ID, 8), "error", err)
		return false, err
	}

	switch evt.Kind {
	case types.KindDeletion:
		h.applyDeletion(ctx, evt)
	case types.KindFollowList:
		h.applyFollowList(ctx, evt)
	case types.KindNodeAnnouncement:
		if h.deps.Discovery != nil {
			h.deps.Discovery.Invalidate(types.PeerID(evt.PubKey))
		}
	}

	summary := h.deps.Engine.Propagate(ctx, evt, ttl, from)
	logger.Debug("事件已处理",
		"eventID", log.TruncateID(evt.ID, 8),
		"kind", evt.Kind,
		"from", from.ShortString(),
		"sent", summary.Sent)
	return true, nil
}

// applyDeletion 标记同一作者的被引用事件为已删除
func (h *Handler) applyDeletion(ctx context.Context, evt *nostr.Event) {
	for _, id := range types.TagValues(evt, types.TagEvent) {
		target, err := h.deps.Events.GetEvent(ctx, id)
		if err != nil {
			continue
		}
		if target.PubKey != evt.PubKey {
			logger.Debug("忽略跨作者删除", "target", log.TruncateID(id, 8), "by", log.TruncateID(evt.PubKey, 8))
			continue
		}
		if err := h.deps.Events.MarkDeleted(ctx, id, evt.ID); err != nil {
			logger.Warn("标记删除失败", "target", log.TruncateID(id, 8), "error", err)
		}
	}
}

func (h *Handler) applyFollowList(ctx context.Context, evt *nostr.Event) {
	if h.deps.Follow == nil || types.PeerID(evt.PubKey) != h.deps.Follow.Owner() {
		return
	}
	diff, err := h.deps.Follow.HandleFollowList(ctx, evt)
	if err != nil {
		logger.Warn("关注列表处理失败", "error", err)
		return
	}
	if diff.Processed {
		logger.Info("关注列表已更新", "added", len(diff.Added), "removed", len(diff.Removed), "failed", len(diff.Failed))
	}
}

// ============================================================================
//                              订阅
// ============================================================================

func (h *Handler) handleSubscribe(ctx context.Context, from types.PeerID, pkt *codec.Packet) {
	body, err := pkt.Subscribe()
	if err != nil {
		h.deps.Recorder.PacketDropped("invalid_payload")
		return
	}
	sub, err := h.deps.Engine.Subscribe(from, body.SubscriptionID, body.Filters)
	if err != nil {
		h.deps.Recorder.PacketDropped("invalid_subscription")
		logger.Debug("订阅被拒绝", "peer", from.ShortString(), "sub", body.SubscriptionID, "error", err)
		return
	}
	if h.deps.Lifecycle != nil {
		if err := h.deps.Lifecycle.AddSubscription(from, sub.ID); err != nil && !errors.Is(err, lifecycle.ErrConnectionNotFound) {
			logger.Warn("记录订阅失败", "peer", from.ShortString(), "error", err)
		}
	}

	sent, err := h.replay(ctx, sub)
	if err != nil {
		logger.Warn("历史回放失败", "peer", from.ShortString(), "sub", sub.ID, "error", err)
	}
	if err := h.send(ctx, from, codec.KindEndOfStored, codec.EndOfStoredBody{SubscriptionID: sub.ID}, nil); err != nil {
		logger.Debug("发送回放结束失败", "peer", from.ShortString(), "error", err)
	}
	logger.Debug("订阅已建立", "peer", from.ShortString(), "sub", sub.ID, "replayed", sent)
}

// replay 把存储中匹配订阅的事件逐条推送给订阅方
func (h *Handler) replay(ctx context.Context, sub *propagation.Subscription) (int, error) {
	events, err := h.deps.Events.QueryByFilters(ctx, sub.Filters)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		data, err := h.deps.Encoder(sub, evt, ReplayTTL)
		if err != nil {
			return sent, err
		}
		if err := h.deps.Sender.Send(ctx, sub.PeerID, data); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (h *Handler) handleUnsubscribe(from types.PeerID, pkt *codec.Packet) {
	id, err := pkt.SubscriptionID()
	if err != nil {
		h.deps.Recorder.PacketDropped("invalid_payload")
		return
	}
	if !h.deps.Engine.Unsubscribe(from, id) {
		return
	}
	if h.deps.Lifecycle != nil {
		if err := h.deps.Lifecycle.RemoveSubscription(from, id); err != nil && !errors.Is(err, lifecycle.ErrConnectionNotFound) {
			logger.Warn("移除订阅记录失败", "peer", from.ShortString(), "error", err)
		}
	}
}

// ============================================================================
//                              出站
// ============================================================================

// Subscribe 向 peer 发送订阅请求
func (h *Handler) Subscribe(ctx context.Context, peer types.PeerID, subID string, filters []types.Filter) error {
	h.mu.Lock()
	subs, ok := h.outbound[peer]
	if !ok {
		subs = make(map[string]struct{})
		h.outbound[peer] = subs
	}
	_, existed := subs[subID]
	subs[subID] = struct{}{}
	h.mu.Unlock()

	err := h.send(ctx, peer, codec.KindSubscribe, codec.SubscribeBody{SubscriptionID: subID, Filters: filters}, nil)
	if err != nil && !existed {
		h.dropOutbound(peer, subID)
	}
	return err
}

// Unsubscribe 向 peer 发送取消订阅
func (h *Handler) Unsubscribe(ctx context.Context, peer types.PeerID, subID string) error {
	h.dropOutbound(peer, subID)
	return h.send(ctx, peer, codec.KindUnsubscribe, codec.UnsubscribeBody{SubscriptionID: subID}, nil)
}

// subscribed 返回本节点是否向 peer 发起过 subID 订阅
func (h *Handler) subscribed(peer types.PeerID, subID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.outbound[peer][subID]
	return ok
}

func (h *Handler) dropOutbound(peer types.PeerID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.outbound[peer]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(h.outbound, peer)
		}
	}
}

// Publish 存储并转发本地事件
func (h *Handler) Publish(ctx context.Context, evt *nostr.Event) error {
	if reason := h.authenticate(evt); reason != auth.ReasonOK {
		return fmt.Errorf("%w: %s", ErrBadEvent, reason)
	}
	_, err := h.ingest(ctx, "", evt, nil)
	return err
}

func (h *Handler) ack(ctx context.Context, to types.PeerID, eventID string, accepted bool, message string) {
	h.deps.Recorder.AckSent(accepted)
	body := codec.AckBody{EventID: eventID, Accepted: accepted, Message: message}
	if err := h.send(ctx, to, codec.KindAck, body, nil); err != nil {
		logger.Debug("发送 ACK 失败", "peer", to.ShortString(), "error", err)
	}
}

func (h *Handler) send(ctx context.Context, to types.PeerID, kind codec.MessageKind, body any, ttl *int) error {
	pkt, err := codec.NewPacket(kind,
		codec.Payment{Amount: "0", Currency: h.cfg.Currency},
		body,
		codec.Metadata{
			Timestamp: h.deps.Clock.Now().Unix(),
			Sender:    h.cfg.Address,
			TTL:       ttl,
		},
	)
	if err != nil {
		return err
	}
	data, err := codec.Encode(pkt)
	if err != nil {
		return err
	}
	return h.deps.Sender.Send(ctx, to, data)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, codec.ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, codec.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, codec.ErrInvalidMessageKind):
		return "invalid_kind"
	case errors.Is(err, codec.ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, codec.ErrPayloadTooLarge):
		return "payload_too_large"
	default:
		return "invalid_payload"
	}
}
