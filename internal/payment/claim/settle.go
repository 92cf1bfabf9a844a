package claim

import (
	"time"

	"github.com/dep2p/go-btpnips/config"
)

// Policy 结算触发条件
type Policy struct {
	Threshold    uint64
	Interval     time.Duration
	ExpiryWindow time.Duration
	MaxClaims    uint64
}

// PolicyFromConfig 由结算配置构造触发条件
func PolicyFromConfig(cfg config.SettlementConfig) Policy {
	return Policy{
		Threshold:    cfg.Threshold,
		Interval:     cfg.Interval.Duration(),
		ExpiryWindow: cfg.ExpiryWindow.Duration(),
		MaxClaims:    cfg.MaxClaims,
	}
}

// ShouldSettle 判断通道是否应当结算
//
// 满足任一条件即返回 true：
//   - 自上次结算以来累计金额 >= Threshold
//   - 距最后一次声明 >= Interval（从未有声明时不考虑）
//   - 距过期 < ExpiryWindow
//   - 自上次结算以来声明次数 >= MaxClaims
func ShouldSettle(state *ChannelState, p Policy, now time.Time) bool {
	if state == nil || state.Status != StatusOpen {
		return false
	}
	if state.UnsettledAmount() >= p.Threshold {
		return true
	}
	if state.LastClaimTime > 0 && now.Sub(time.Unix(state.LastClaimTime, 0)) >= p.Interval {
		return true
	}
	if state.ExpiresAt().Sub(now) < p.ExpiryWindow {
		return true
	}
	return state.UnsettledClaims() >= p.MaxClaims
}
