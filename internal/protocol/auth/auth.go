// Package auth 校验 Nostr 事件的 ID 与 BIP-340 签名
//
// 畸形输入（非 hex、长度错误、无效公钥）一律返回 false，不会 panic。
package auth

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/internal/protocol/codec"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
)

var logger = log.Logger("btpnips/auth")

// Reason 校验失败原因
type Reason string

// 校验结果
const (
	ReasonOK             Reason = ""
	ReasonMalformedEvent Reason = "malformed event"
	ReasonIDMismatch     Reason = "id mismatch"
	ReasonBadSignature   Reason = "invalid signature"
)

// ComputeID 计算事件 ID
//
// sha256([0,pubkey,created_at,kind,tags,content]) 的小写 hex。
func ComputeID(evt *nostr.Event) string {
	return evt.GetID()
}

// Verify 事件 ID 与签名均正确时返回 true
func Verify(evt *nostr.Event) bool {
	return check(evt) == ReasonOK
}

// VerifyPacket 校验包中携带的事件
//
// 只有 publish 与 notify 包携带需要验签的事件，其余种类直接通过。
func VerifyPacket(pkt *codec.Packet) (bool, Reason) {
	var (
		evt *nostr.Event
		err error
	)
	switch pkt.Kind {
	case codec.KindPublish:
		evt, err = pkt.Event()
	case codec.KindNotify:
		_, evt, err = pkt.Notify()
	default:
		return true, ReasonOK
	}
	if err != nil {
		return false, ReasonMalformedEvent
	}
	reason := check(evt)
	if reason != ReasonOK {
		logger.Debug("事件校验失败", "eventID", log.TruncateID(evt.ID, 8), "reason", string(reason))
	}
	return reason == ReasonOK, reason
}

// Check 返回事件的校验结果，通过时为 ReasonOK
func Check(evt *nostr.Event) Reason {
	return check(evt)
}

func check(evt *nostr.Event) (reason Reason) {
	if evt == nil {
		return ReasonMalformedEvent
	}
	defer func() {
		if recover() != nil {
			reason = ReasonMalformedEvent
		}
	}()

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil || len(idBytes) != 32 {
		return ReasonMalformedEvent
	}
	if ComputeID(evt) != evt.ID {
		return ReasonIDMismatch
	}

	pkBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil || len(pkBytes) != 32 {
		return ReasonMalformedEvent
	}
	pubKey, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return ReasonBadSignature
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil || len(sigBytes) != schnorr.SignatureSize {
		return ReasonBadSignature
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return ReasonBadSignature
	}
	if !sig.Verify(idBytes, pubKey) {
		return ReasonBadSignature
	}
	return ReasonOK
}
