package propagation

import (
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestDedupCache_TTL(t *testing.T) {
	clk := clock.NewMock()
	d := NewDedupCache(24*time.Hour, 1000, clk)

	assert.False(t, d.CheckAndMark("evt"))
	assert.True(t, d.HasSeen("evt"))

	clk.Add(23 * time.Hour)
	assert.True(t, d.HasSeen("evt"), "23 小时内仍视为已见")
	assert.True(t, d.CheckAndMark("evt"))

	clk.Add(2 * time.Hour)
	assert.False(t, d.HasSeen("evt"), "超过 24 小时不再视为已见")
	assert.Equal(t, 0, d.Len(), "过期条目被惰性删除")
}

func TestDedupCache_RemarkRefreshes(t *testing.T) {
	clk := clock.NewMock()
	d := NewDedupCache(24*time.Hour, 1000, clk)

	d.MarkSeen("evt")
	clk.Add(20 * time.Hour)
	d.MarkSeen("evt")
	clk.Add(20 * time.Hour)

	assert.True(t, d.HasSeen("evt"))
}

func TestDedupCache_PeriodicSweep(t *testing.T) {
	clk := clock.NewMock()
	d := NewDedupCache(time.Hour, 10, clk)

	for i := 0; i < 5; i++ {
		d.MarkSeen("old-" + strconv.Itoa(i))
	}
	clk.Add(2 * time.Hour)

	for i := 0; i < 4; i++ {
		d.MarkSeen("new-" + strconv.Itoa(i))
	}
	assert.Equal(t, 9, d.Len())

	// 第 10 次插入触发全量清理
	d.MarkSeen("new-4")
	assert.Equal(t, 5, d.Len())
}

func TestHopLimiter(t *testing.T) {
	h := NewHopLimiter(5, 16)

	next, ok := h.Next(nil)
	assert.True(t, ok)
	assert.Equal(t, 4, next)

	one := 1
	next, ok = h.Next(&one)
	assert.False(t, ok)
	assert.Equal(t, 0, next)

	zero := 0
	_, ok = h.Next(&zero)
	assert.False(t, ok)

	huge := 100
	next, ok = h.Next(&huge)
	assert.True(t, ok)
	assert.Equal(t, 15, next)
}
