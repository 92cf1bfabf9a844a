package claim

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dep2p/go-btpnips/pkg/lib/log"
	"github.com/dep2p/go-btpnips/pkg/types"
)

var logger = log.Logger("btpnips/claim")

// 标签格式常量
const (
	// TagScheme 支付标签的第二个元素
	TagScheme = "ilp"

	// MaxSafeInteger 金额与 nonce 的上限（2^53-1）
	MaxSafeInteger uint64 = 1<<53 - 1

	// MinChannelIDLength 通道 ID 最短长度
	MinChannelIDLength = 10

	// MaxChannelIDLength 通道 ID 最长长度
	MaxChannelIDLength = 256

	// MinSignatureHexLength 签名最短 hex 长度
	MinSignatureHexLength = 128

	paymentTagLen = 7
)

// Currency 支持的币种
type Currency string

// 币种定义
const (
	CurrencyAKT  Currency = "AKT"
	CurrencyATOM Currency = "ATOM"
	CurrencyETH  Currency = "ETH"
	CurrencyUSDC Currency = "USDC"
)

// Family 签名方案族
type Family int

// 签名方案族
const (
	FamilyUnknown Family = iota
	FamilyEVM
	FamilyCosmos
)

// Family 返回币种对应的签名方案族
func (c Currency) Family() Family {
	switch c {
	case CurrencyETH, CurrencyUSDC:
		return FamilyEVM
	case CurrencyAKT, CurrencyATOM:
		return FamilyCosmos
	default:
		return FamilyUnknown
	}
}

// Supported 是否为受支持的币种
func (c Currency) Supported() bool {
	return c.Family() != FamilyUnknown
}

// Claim 支付声明
type Claim struct {
	ChannelID string
	Amount    uint64
	Nonce     uint64
	Signature string
	Currency  Currency
}

// Tag 将声明编码为事件标签
func (c *Claim) Tag() nostr.Tag {
	return nostr.Tag{
		types.TagPayment,
		TagScheme,
		c.ChannelID,
		strconv.FormatUint(c.Amount, 10),
		strconv.FormatUint(c.Nonce, 10),
		c.Signature,
		string(c.Currency),
	}
}

// ExtractClaim 从事件标签中提取支付声明
//
// 无支付标签返回 nil；存在多个时取第一个并记录日志；
// 格式校验失败也返回 nil。
func ExtractClaim(evt *nostr.Event) *Claim {
	if evt == nil {
		return nil
	}

	var first nostr.Tag
	count := 0
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == types.TagPayment && tag[1] == TagScheme {
			if first == nil {
				first = tag
			}
			count++
		}
	}
	if first == nil {
		return nil
	}
	if count > 1 {
		logger.Warn("事件包含多个支付标签，仅使用第一个",
			"eventID", log.TruncateID(evt.ID, 8),
			"count", count)
	}

	c, reason := parseTag(first)
	if c == nil {
		logger.Warn("支付标签格式错误，按免费事件处理",
			"eventID", log.TruncateID(evt.ID, 8),
			"reason", reason)
	}
	return c
}

func parseTag(tag nostr.Tag) (*Claim, string) {
	if len(tag) < paymentTagLen {
		return nil, "too few fields"
	}

	channelID := tag[2]
	if len(channelID) < MinChannelIDLength || len(channelID) > MaxChannelIDLength {
		return nil, "channel id length"
	}

	amount, err := strconv.ParseUint(tag[3], 10, 64)
	if err != nil || amount == 0 || amount > MaxSafeInteger {
		return nil, "amount"
	}

	nonce, err := strconv.ParseUint(tag[4], 10, 64)
	if err != nil || nonce > MaxSafeInteger {
		return nil, "nonce"
	}

	sig := tag[5]
	if len(sig) < MinSignatureHexLength || strings.HasPrefix(sig, "0x") || strings.HasPrefix(sig, "0X") {
		return nil, "signature format"
	}
	if _, err := hex.DecodeString(sig); err != nil {
		return nil, "signature hex"
	}

	currency := Currency(tag[6])
	if !currency.Supported() {
		return nil, "unsupported currency"
	}

	return &Claim{
		ChannelID: channelID,
		Amount:    amount,
		Nonce:     nonce,
		Signature: strings.ToLower(sig),
		Currency:  currency,
	}, ""
}
