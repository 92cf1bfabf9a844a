package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// ============================================================================
//                              正文类型
// ============================================================================

// SubscribeBody 订阅正文
type SubscribeBody struct {
	SubscriptionID string         `json:"subscriptionId"`
	Filters        []types.Filter `json:"filters"`
}

// UnsubscribeBody 取消订阅正文
type UnsubscribeBody struct {
	SubscriptionID string `json:"subscriptionId"`
}

// NotifyBody 通知正文：把事件推送给某个订阅
type NotifyBody struct {
	SubscriptionID string          `json:"subscriptionId"`
	Event          json.RawMessage `json:"event"`
}

// EndOfStoredBody 历史事件回放结束
type EndOfStoredBody struct {
	SubscriptionID string `json:"subscriptionId"`
}

// AckBody 发布结果确认
type AckBody struct {
	EventID  string `json:"eventId"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// AuthChallengeBody 认证挑战；Response 为对挑战签名的事件
type AuthChallengeBody struct {
	Challenge string          `json:"challenge"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// ============================================================================
//                              事件结构校验
// ============================================================================

// wireEvent 事件的线上结构，指针字段用于检查字段是否出现
type wireEvent struct {
	ID        *string     `json:"id"`
	PubKey    *string     `json:"pubkey"`
	CreatedAt *int64      `json:"created_at"`
	Kind      *int        `json:"kind"`
	Tags      *[][]string `json:"tags"`
	Content   *string     `json:"content"`
	Sig       *string     `json:"sig"`
}

// MarshalEvent 将事件编码为线上 JSON
func MarshalEvent(evt *nostr.Event) (json.RawMessage, error) {
	created := int64(evt.CreatedAt)
	tags := make([][]string, len(evt.Tags))
	for i, tag := range evt.Tags {
		tags[i] = []string(tag)
	}
	w := wireEvent{
		ID:        &evt.ID,
		PubKey:    &evt.PubKey,
		CreatedAt: &created,
		Kind:      &evt.Kind,
		Tags:      &tags,
		Content:   &evt.Content,
		Sig:       &evt.Sig,
	}
	return marshalCompact(w)
}

// UnmarshalEvent 解析并校验事件结构（字段存在性与类型）
//
// 不做密码学校验。
func UnmarshalEvent(data []byte) (*nostr.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: event: %v", ErrInvalidPayload, err)
	}
	switch {
	case w.ID == nil || !isHex(*w.ID, 32):
		return nil, fmt.Errorf("%w: event id must be 32-byte hex", ErrInvalidPayload)
	case w.PubKey == nil || !isHex(*w.PubKey, 32):
		return nil, fmt.Errorf("%w: event pubkey must be 32-byte hex", ErrInvalidPayload)
	case w.Sig == nil || !isHex(*w.Sig, 64):
		return nil, fmt.Errorf("%w: event sig must be 64-byte hex", ErrInvalidPayload)
	case w.CreatedAt == nil || *w.CreatedAt < 0:
		return nil, fmt.Errorf("%w: event created_at missing", ErrInvalidPayload)
	case w.Kind == nil || *w.Kind < 0:
		return nil, fmt.Errorf("%w: event kind must be non-negative", ErrInvalidPayload)
	case w.Tags == nil:
		return nil, fmt.Errorf("%w: event tags missing", ErrInvalidPayload)
	case w.Content == nil:
		return nil, fmt.Errorf("%w: event content missing", ErrInvalidPayload)
	}

	tags := make(nostr.Tags, len(*w.Tags))
	for i, tag := range *w.Tags {
		tags[i] = nostr.Tag(tag)
	}
	return &nostr.Event{
		ID:        *w.ID,
		PubKey:    *w.PubKey,
		CreatedAt: nostr.Timestamp(*w.CreatedAt),
		Kind:      *w.Kind,
		Tags:      tags,
		Content:   *w.Content,
		Sig:       *w.Sig,
	}, nil
}

func isHex(s string, size int) bool {
	if len(s) != size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ============================================================================
//                              正文读取
// ============================================================================

// Event 读取 publish 包中的事件
func (p *Packet) Event() (*nostr.Event, error) {
	if p.Kind != KindPublish {
		return nil, ErrWrongKind
	}
	return UnmarshalEvent(p.Payload.Nostr)
}

// Subscribe 读取 subscribe 正文
func (p *Packet) Subscribe() (*SubscribeBody, error) {
	if p.Kind != KindSubscribe {
		return nil, ErrWrongKind
	}
	var b SubscribeBody
	if err := json.Unmarshal(p.Payload.Nostr, &b); err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", ErrInvalidPayload, err)
	}
	if b.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscribe: empty subscription id", ErrInvalidPayload)
	}
	return &b, nil
}

// SubscriptionID 读取 unsubscribe / end-of-stored 正文中的订阅 ID
func (p *Packet) SubscriptionID() (string, error) {
	if p.Kind != KindUnsubscribe && p.Kind != KindEndOfStored {
		return "", ErrWrongKind
	}
	var b UnsubscribeBody
	if err := json.Unmarshal(p.Payload.Nostr, &b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if b.SubscriptionID == "" {
		return "", fmt.Errorf("%w: empty subscription id", ErrInvalidPayload)
	}
	return b.SubscriptionID, nil
}

// Notify 读取 notify 正文
func (p *Packet) Notify() (string, *nostr.Event, error) {
	if p.Kind != KindNotify {
		return "", nil, ErrWrongKind
	}
	var b NotifyBody
	if err := json.Unmarshal(p.Payload.Nostr, &b); err != nil {
		return "", nil, fmt.Errorf("%w: notify: %v", ErrInvalidPayload, err)
	}
	evt, err := UnmarshalEvent(b.Event)
	if err != nil {
		return "", nil, err
	}
	return b.SubscriptionID, evt, nil
}

// Ack 读取 ack 正文
func (p *Packet) Ack() (*AckBody, error) {
	if p.Kind != KindAck {
		return nil, ErrWrongKind
	}
	var b AckBody
	if err := json.Unmarshal(p.Payload.Nostr, &b); err != nil {
		return nil, fmt.Errorf("%w: ack: %v", ErrInvalidPayload, err)
	}
	return &b, nil
}

// AuthChallenge 读取认证挑战正文
func (p *Packet) AuthChallenge() (*AuthChallengeBody, error) {
	if p.Kind != KindAuthChallenge {
		return nil, ErrWrongKind
	}
	var b AuthChallengeBody
	if err := json.Unmarshal(p.Payload.Nostr, &b); err != nil {
		return nil, fmt.Errorf("%w: auth: %v", ErrInvalidPayload, err)
	}
	if b.Challenge == "" {
		return nil, fmt.Errorf("%w: auth: empty challenge", ErrInvalidPayload)
	}
	return &b, nil
}
