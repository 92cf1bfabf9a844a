package propagation

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"

	"github.com/dep2p/go-btpnips/pkg/types"
)

const peerA types.PeerID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestRateLimiter_DefaultBucket(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateLimiter(100, 1000, clk)

	for i := 0; i < 100; i++ {
		assert.True(t, r.TryConsume(peerA), "第 %d 个令牌", i)
	}
	assert.False(t, r.TryConsume(peerA), "容量耗尽")

	// 100/s 的速率，约 10ms 补充一个令牌
	clk.Add(11 * time.Millisecond)
	assert.True(t, r.TryConsume(peerA))
	assert.False(t, r.TryConsume(peerA))
}

func TestRateLimiter_PaymentScaling(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateLimiter(100, 1000, clk)

	r.SetPaymentRate(peerA, 2000)
	assert.Equal(t, 200, r.Capacity(peerA))

	r.SetPaymentRate(peerA, 500)
	assert.Equal(t, 50, r.Capacity(peerA))

	// 最小容量为 1
	r.SetPaymentRate(peerA, 1)
	assert.Equal(t, 1, r.Capacity(peerA))
	clk.Add(time.Second)
	assert.True(t, r.TryConsume(peerA))
	assert.False(t, r.TryConsume(peerA))
}

func TestRateLimiter_FailureHasNoSideEffect(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateLimiter(1, 1000, clk)

	assert.True(t, r.TryConsume(peerA))
	for i := 0; i < 5; i++ {
		assert.False(t, r.TryConsume(peerA))
	}
	// 失败的尝试不透支令牌，1 秒后恰好恢复一个
	clk.Add(time.Second + time.Millisecond)
	assert.True(t, r.TryConsume(peerA))
}

func TestRateLimiter_Remove(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateLimiter(100, 1000, clk)

	r.SetPaymentRate(peerA, 5000)
	r.Remove(peerA)
	assert.Equal(t, 100, r.Capacity(peerA))
}
