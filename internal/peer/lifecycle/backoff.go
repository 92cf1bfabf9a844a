package lifecycle

import "time"

// Backoff 指数退避
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay 第 n 次（从 0 开始）重连的延迟：min(Max, Initial·2^n)
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Initial
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
