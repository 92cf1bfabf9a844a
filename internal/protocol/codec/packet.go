package codec

import (
	"encoding/json"
	"strconv"
	"strings"
)

// 协议常量
const (
	// Version 当前协议版本
	Version uint8 = 1

	// HeaderSize 帧头长度
	HeaderSize = 4

	// MaxPayloadSize 负载最大长度（u16）
	MaxPayloadSize = 0xFFFF
)

// MessageKind 消息种类
type MessageKind uint8

// 消息种类定义
const (
	KindPublish       MessageKind = 1
	KindSubscribe     MessageKind = 2
	KindUnsubscribe   MessageKind = 3
	KindNotify        MessageKind = 4
	KindEndOfStored   MessageKind = 5
	KindAck           MessageKind = 6
	KindAuthChallenge MessageKind = 7
)

// Valid 是否为已定义的消息种类
func (k MessageKind) Valid() bool {
	return k >= KindPublish && k <= KindAuthChallenge
}

// String 返回种类名称
func (k MessageKind) String() string {
	switch k {
	case KindPublish:
		return "publish"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindNotify:
		return "notify"
	case KindEndOfStored:
		return "eose"
	case KindAck:
		return "ack"
	case KindAuthChallenge:
		return "auth"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Payment 负载中的支付描述
//
// Amount 在 JSON 中可以是数字或数字字符串，编码时总是输出数字。
type Payment struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Purpose  string      `json:"purpose,omitempty"`
}

// AmountUint 解析金额为非负整数
func (p Payment) AmountUint() (uint64, bool) {
	v, err := strconv.ParseUint(p.Amount.String(), 10, 64)
	return v, err == nil
}

func (p Payment) validate() bool {
	s := p.Amount.String()
	if s == "" || strings.HasPrefix(s, "-") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// Metadata 负载元数据
type Metadata struct {
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
	TTL       *int   `json:"ttl,omitempty"`
}

// Payload 包负载
type Payload struct {
	Payment  Payment         `json:"payment"`
	Nostr    json.RawMessage `json:"nostr"`
	Metadata Metadata        `json:"metadata"`
}

// Packet 协议包
//
// 负载长度不单独存储，编码时由负载计算得到。
type Packet struct {
	Version uint8
	Kind    MessageKind
	Payload Payload
}

// TTL 返回元数据中的跳数，未携带时返回 def
func (p *Packet) TTL(def int) int {
	if p.Payload.Metadata.TTL == nil {
		return def
	}
	return *p.Payload.Metadata.TTL
}

// IntPtr 辅助构造可选整数
func IntPtr(v int) *int {
	return &v
}
