package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// rawPayload 解码时使用，指针字段用于区分缺失与零值
type rawPayload struct {
	Payment  *Payment        `json:"payment"`
	Nostr    json.RawMessage `json:"nostr"`
	Metadata *Metadata       `json:"metadata"`
}

// NewPacket 构造一个版本 1 的包
//
// body 会被编码为 nostr 字段；*nostr.Event 按线上事件结构编码。
func NewPacket(kind MessageKind, payment Payment, body any, meta Metadata) (*Packet, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessageKind, kind)
	}
	var (
		raw json.RawMessage
		err error
	)
	switch b := body.(type) {
	case *nostr.Event:
		raw, err = MarshalEvent(b)
	case json.RawMessage:
		raw = b
	default:
		raw, err = marshalCompact(body)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &Packet{
		Version: Version,
		Kind:    kind,
		Payload: Payload{Payment: payment, Nostr: raw, Metadata: meta},
	}, nil
}

// Encode 将包编码为 [version][kind][len u16 BE][payload]
func Encode(p *Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrInvalidPayload)
	}
	if p.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessageKind, p.Kind)
	}
	if !p.Payload.Payment.validate() {
		return nil, fmt.Errorf("%w: payment amount %q", ErrInvalidPayload, p.Payload.Payment.Amount)
	}
	if len(p.Payload.Nostr) == 0 {
		return nil, fmt.Errorf("%w: missing nostr body", ErrInvalidPayload)
	}

	payload, err := marshalCompact(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = p.Version
	buf[1] = byte(p.Kind)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode 解析字节流为包
//
// 校验顺序：头长度、版本、种类、长度、JSON 结构。
// publish 包额外校验事件字段的存在性与格式。
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(data))
	}
	version := data[0]
	if version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	kind := MessageKind(data[1])
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessageKind, data[1])
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data)-HeaderSize != length {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, length, len(data)-HeaderSize)
	}

	var raw rawPayload
	if err := json.Unmarshal(data[HeaderSize:], &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw.Payment == nil || !raw.Payment.validate() {
		return nil, fmt.Errorf("%w: missing or invalid payment", ErrInvalidPayload)
	}
	if len(raw.Nostr) == 0 || bytes.Equal(raw.Nostr, []byte("null")) {
		return nil, fmt.Errorf("%w: missing nostr body", ErrInvalidPayload)
	}

	pkt := &Packet{
		Version: version,
		Kind:    kind,
		Payload: Payload{Payment: *raw.Payment, Nostr: raw.Nostr},
	}
	if raw.Metadata != nil {
		pkt.Payload.Metadata = *raw.Metadata
	}

	if kind == KindPublish {
		if _, err := UnmarshalEvent(raw.Nostr); err != nil {
			return nil, err
		}
	}
	return pkt, nil
}

// marshalCompact 编码为紧凑 JSON，不转义 HTML 字符
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
