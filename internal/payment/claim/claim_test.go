package claim

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "0x" + "ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12ab12"

func paymentEvent(tags ...nostr.Tag) *nostr.Event {
	return &nostr.Event{ID: strings.Repeat("e", 64), Kind: 1, Tags: tags}
}

func TestExtractClaim_Valid(t *testing.T) {
	sig := strings.Repeat("ab", 65)
	evt := paymentEvent(
		nostr.Tag{"t", "btp"},
		nostr.Tag{"payment", "ilp", testChannel, "1500", "3", sig, "ETH"},
	)

	c := ExtractClaim(evt)
	require.NotNil(t, c)
	assert.Equal(t, testChannel, c.ChannelID)
	assert.Equal(t, uint64(1500), c.Amount)
	assert.Equal(t, uint64(3), c.Nonce)
	assert.Equal(t, sig, c.Signature)
	assert.Equal(t, CurrencyETH, c.Currency)
	assert.Equal(t, nostr.Tag{"payment", "ilp", testChannel, "1500", "3", sig, "ETH"}, c.Tag())
}

func TestExtractClaim_Free(t *testing.T) {
	assert.Nil(t, ExtractClaim(paymentEvent()))
	assert.Nil(t, ExtractClaim(paymentEvent(nostr.Tag{"e", "x"})))
	assert.Nil(t, ExtractClaim(nil))
}

func TestExtractClaim_FirstWins(t *testing.T) {
	sig := strings.Repeat("cd", 64)
	evt := paymentEvent(
		nostr.Tag{"payment", "ilp", testChannel, "10", "1", sig, "ATOM"},
		nostr.Tag{"payment", "ilp", testChannel, "20", "2", sig, "ATOM"},
	)
	c := ExtractClaim(evt)
	require.NotNil(t, c)
	assert.Equal(t, uint64(10), c.Amount)
}

func TestExtractClaim_Malformed(t *testing.T) {
	sig := strings.Repeat("ab", 64)
	valid := []string{"payment", "ilp", testChannel, "100", "0", sig, "AKT"}

	tests := []struct {
		name  string
		index int
		value string
	}{
		{"通道 ID 过短", 2, "short"},
		{"通道 ID 过长", 2, strings.Repeat("c", 257)},
		{"金额为 0", 3, "0"},
		{"金额为负", 3, "-5"},
		{"金额非整数", 3, "1.5"},
		{"金额超过安全整数", 3, "9007199254740992"},
		{"nonce 为负", 4, "-1"},
		{"nonce 超过安全整数", 4, "9007199254740992"},
		{"签名过短", 5, strings.Repeat("a", 127)},
		{"签名带 0x", 5, "0x" + sig},
		{"签名非 hex", 5, strings.Repeat("g", 128)},
		{"币种不支持", 6, "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag := append(nostr.Tag{}, valid...)
			tag[tt.index] = tt.value
			assert.Nil(t, ExtractClaim(paymentEvent(tag)))
		})
	}

	// 边界值可以通过
	tag := append(nostr.Tag{}, valid...)
	tag[3] = "9007199254740991"
	tag[4] = "9007199254740991"
	assert.NotNil(t, ExtractClaim(paymentEvent(tag)))

	// 字段不足
	assert.Nil(t, ExtractClaim(paymentEvent(nostr.Tag{"payment", "ilp", testChannel})))
}

func TestCurrency_Family(t *testing.T) {
	assert.Equal(t, FamilyEVM, CurrencyETH.Family())
	assert.Equal(t, FamilyEVM, CurrencyUSDC.Family())
	assert.Equal(t, FamilyCosmos, CurrencyAKT.Family())
	assert.Equal(t, FamilyCosmos, CurrencyATOM.Family())
	assert.False(t, Currency("DOGE").Supported())
}
