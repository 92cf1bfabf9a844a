package discovery

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/pkg/types"
)

// 公告标签
const (
	AnnouncementD = "ilp-node-info"

	TagILPAddress        = "ilp-address"
	TagILPEndpoint       = "ilp-endpoint"
	TagSettlementAddress = "settlement-address"
	TagCurrencies        = "currencies"
	TagVersion           = "version"
	TagFeatures          = "features"

	// ProtocolVersion 当前协议版本
	ProtocolVersion = "1"

	// DefaultAddressPrefix ILP 地址前缀
	DefaultAddressPrefix = "g.btpnips"

	addressKeyChars = 16
)

// ILPAddress 由前缀与公钥派生 ILP 地址：<prefix>.<公钥前 16 个十六进制字符>
func ILPAddress(prefix, pubkey string) string {
	if prefix == "" {
		prefix = DefaultAddressPrefix
	}
	key := strings.ToLower(pubkey)
	if len(key) > addressKeyChars {
		key = key[:addressKeyChars]
	}
	return prefix + "." + key
}

// Info 本节点要公告的信息
type Info struct {
	AddressPrefix     string
	Endpoint          string
	SettlementAddress string
	Currencies        []string
	Features          []string
	Metadata          map[string]string
}

// Equal 比较两份公告信息
func (i Info) Equal(o Info) bool {
	if i.AddressPrefix != o.AddressPrefix || i.Endpoint != o.Endpoint || i.SettlementAddress != o.SettlementAddress {
		return false
	}
	if !slices.Equal(i.Currencies, o.Currencies) || !slices.Equal(i.Features, o.Features) {
		return false
	}
	if len(i.Metadata) != len(o.Metadata) {
		return false
	}
	for k, v := range i.Metadata {
		if ov, ok := o.Metadata[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// BuildAnnouncement 构造未签名的公告事件
func BuildAnnouncement(info Info, pubkey string, createdAt nostr.Timestamp) (*nostr.Event, error) {
	tags := nostr.Tags{
		{types.TagD, AnnouncementD},
		{TagILPAddress, ILPAddress(info.AddressPrefix, pubkey)},
		{TagILPEndpoint, info.Endpoint},
	}
	if info.SettlementAddress != "" {
		tags = append(tags, nostr.Tag{TagSettlementAddress, info.SettlementAddress})
	}
	if len(info.Currencies) > 0 {
		tags = append(tags, append(nostr.Tag{TagCurrencies}, info.Currencies...))
	}
	tags = append(tags, nostr.Tag{TagVersion, ProtocolVersion})
	if len(info.Features) > 0 {
		tags = append(tags, append(nostr.Tag{TagFeatures}, info.Features...))
	}

	content := ""
	if len(info.Metadata) > 0 {
		raw, err := json.Marshal(info.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		content = string(raw)
	}

	return &nostr.Event{
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      types.KindNodeAnnouncement,
		Tags:      tags,
		Content:   content,
	}, nil
}

// ParseAnnouncement 把公告事件投影为 PeerAddress
//
// 缺少 ilp-address 或 ilp-endpoint 视为无效公告；
// content 为空或不是 JSON 对象时省略 Metadata，不报错。
func ParseAnnouncement(evt *nostr.Event) (*types.PeerAddress, error) {
	if evt == nil || evt.Kind != types.KindNodeAnnouncement {
		return nil, ErrNotAnnouncement
	}
	if d, _ := types.FirstTagValue(evt, types.TagD); d != AnnouncementD {
		return nil, ErrNotAnnouncement
	}

	addr := &types.PeerAddress{
		Identity:    types.PeerID(strings.ToLower(evt.PubKey)),
		AnnouncedAt: int64(evt.CreatedAt),
	}
	for _, tag := range evt.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case TagILPAddress:
			addr.ILPAddress = tag[1]
		case TagILPEndpoint:
			addr.Endpoint = tag[1]
		case TagSettlementAddress:
			addr.SettlementAddress = tag[1]
		case TagCurrencies:
			addr.Currencies = splitValues(tag[1:])
		case TagVersion:
			addr.Version = tag[1]
		case TagFeatures:
			addr.Features = splitValues(tag[1:])
		}
	}
	if addr.ILPAddress == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingTag, TagILPAddress)
	}
	if addr.Endpoint == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingTag, TagILPEndpoint)
	}

	if evt.Content != "" {
		var meta map[string]string
		if err := json.Unmarshal([]byte(evt.Content), &meta); err == nil {
			addr.Metadata = meta
		} else {
			logger.Debug("公告元数据不是 JSON 对象，已忽略", "author", addr.Identity.ShortString())
		}
	}
	return addr, nil
}

// splitValues 同时兼容多值标签与逗号分隔的单值标签
func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
