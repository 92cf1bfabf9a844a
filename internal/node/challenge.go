package node

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/internal/protocol/auth"
	"github.com/dep2p/go-btpnips/internal/protocol/codec"
	"github.com/dep2p/go-btpnips/pkg/types"
)

// KindAuthResponse 挑战应答事件种类（NIP-42）
const KindAuthResponse = 22242

// 应答事件标签
const (
	tagChallenge = "challenge"
	tagRelay     = "relay"
)

// maxResponseSkew 应答事件 created_at 与本地时间允许的偏差（秒）
const maxResponseSkew = 600

// Challenge 向 peer 发出认证挑战
//
// 对端以签名事件应答后，peer 被标记为已认证。
func (h *Handler) Challenge(ctx context.Context, peer types.PeerID) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	h.mu.Lock()
	h.pruneChallengesLocked()
	h.challenges[value] = challenge{peer: peer, expires: h.deps.Clock.Now().Add(ChallengeTTL)}
	h.mu.Unlock()

	if err := h.send(ctx, peer, codec.KindAuthChallenge, codec.AuthChallengeBody{Challenge: value}, nil); err != nil {
		h.mu.Lock()
		delete(h.challenges, value)
		h.mu.Unlock()
		return "", err
	}
	return value, nil
}

// Authenticated 返回 peer 是否已通过认证挑战
func (h *Handler) Authenticated(peer types.PeerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.authenticated[peer]
	return ok
}

// ForgetPeer 清除 peer 的认证状态、未完成的挑战与发往它的订阅
func (h *Handler) ForgetPeer(peer types.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.authenticated, peer)
	delete(h.outbound, peer)
	for value, c := range h.challenges {
		if c.peer == peer {
			delete(h.challenges, value)
		}
	}
}

// handleAuth 无应答时签名回复挑战；携带应答时校验本节点发出的挑战
func (h *Handler) handleAuth(ctx context.Context, from types.PeerID, pkt *codec.Packet) {
	body, err := pkt.AuthChallenge()
	if err != nil {
		h.deps.Recorder.PacketDropped("invalid_payload")
		return
	}

	if len(body.Response) == 0 {
		resp, err := h.answer(body.Challenge)
		if err != nil {
			logger.Warn("签名挑战应答失败", "error", err)
			return
		}
		reply := codec.AuthChallengeBody{Challenge: body.Challenge, Response: resp}
		if err := h.send(ctx, from, codec.KindAuthChallenge, reply, nil); err != nil {
			logger.Debug("发送挑战应答失败", "peer", from.ShortString(), "error", err)
		}
		return
	}

	if err := h.verifyResponse(from, body); err != nil {
		h.deps.Recorder.AuthFailed("challenge")
		logger.Warn("挑战应答校验失败", "peer", from.ShortString(), "error", err)
		return
	}
	logger.Info("节点已通过认证", "peer", from.ShortString())
}

func (h *Handler) answer(value string) ([]byte, error) {
	evt := &nostr.Event{
		CreatedAt: nostr.Timestamp(h.deps.Clock.Now().Unix()),
		Kind:      KindAuthResponse,
		Tags: nostr.Tags{
			{tagChallenge, value},
			{tagRelay, h.cfg.Address},
		},
	}
	if err := h.deps.Identity.Sign(evt); err != nil {
		return nil, err
	}
	return codec.MarshalEvent(evt)
}

func (h *Handler) verifyResponse(from types.PeerID, body *codec.AuthChallengeBody) error {
	h.mu.Lock()
	h.pruneChallengesLocked()
	c, ok := h.challenges[body.Challenge]
	if ok && c.peer == from {
		delete(h.challenges, body.Challenge)
	}
	h.mu.Unlock()
	if !ok || c.peer != from {
		return ErrUnknownChallenge
	}

	evt, err := codec.UnmarshalEvent(body.Response)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadChallengeResponse, err)
	}
	if reason := auth.Check(evt); reason != auth.ReasonOK {
		return fmt.Errorf("%w: %s", ErrBadChallengeResponse, reason)
	}
	if evt.Kind != KindAuthResponse || types.PeerID(evt.PubKey) != from {
		return fmt.Errorf("%w: wrong kind or author", ErrBadChallengeResponse)
	}
	if v, _ := types.FirstTagValue(evt, tagChallenge); v != body.Challenge {
		return fmt.Errorf("%w: challenge tag mismatch", ErrBadChallengeResponse)
	}
	skew := h.deps.Clock.Now().Unix() - int64(evt.CreatedAt)
	if skew > maxResponseSkew || skew < -maxResponseSkew {
		return fmt.Errorf("%w: stale response", ErrBadChallengeResponse)
	}

	h.mu.Lock()
	h.authenticated[from] = h.deps.Clock.Now()
	h.mu.Unlock()
	return nil
}

func (h *Handler) pruneChallengesLocked() {
	now := h.deps.Clock.Now()
	for value, c := range h.challenges {
		if now.After(c.expires) {
			delete(h.challenges, value)
		}
	}
}
