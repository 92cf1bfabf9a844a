package claim

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-btpnips/pkg/lib/log"
)

// 校验失败原因
const (
	ReasonChannelNotFound  = "channel not found"
	ReasonChannelNotOpen   = "channel not open"
	ReasonChannelExpired   = "channel expired"
	ReasonNonceNotMonotone = "nonce not monotonic"
	ReasonExceedsBalance   = "exceeds channel balance"
	ReasonInvalidSignature = "invalid signature"
	ReasonStoreUnavailable = "channel store unavailable"
)

// Result 声明校验结果
//
// Valid 为 true 时 Channel 为更新后的通道状态副本。
type Result struct {
	Valid   bool
	Reason  string
	Channel *ChannelState
}

func invalid(reason string) Result {
	return Result{Reason: reason}
}

// Verifier 校验支付声明并推进通道高水位
type Verifier struct {
	store ChannelStore
	clock clock.Clock

	mu    sync.Mutex
	locks map[string]*channelLock
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

// NewVerifier 创建校验器
func NewVerifier(store ChannelStore, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.New()
	}
	return &Verifier{
		store: store,
		clock: clk,
		locks: make(map[string]*channelLock),
	}
}

// VerifyClaim 校验声明
//
// 校验顺序：通道存在、OPEN、未过期、nonce 严格递增、金额不超过容量、签名。
// 成功时更新 HighestClaim、HighestNonce、LastClaimTime、TotalClaims 并持久化。
func (v *Verifier) VerifyClaim(ctx context.Context, c *Claim) Result {
	if c == nil {
		return invalid(ReasonInvalidSignature)
	}

	unlock := v.lock(c.ChannelID)
	defer unlock()

	state, err := v.store.Get(ctx, c.ChannelID)
	if err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			return invalid(ReasonChannelNotFound)
		}
		logger.Warn("读取通道状态失败", "channel", log.TruncateID(c.ChannelID, 16), "error", err)
		return invalid(ReasonStoreUnavailable)
	}

	now := v.clock.Now()
	switch {
	case state.Status != StatusOpen:
		return invalid(ReasonChannelNotOpen)
	case now.Unix() >= state.Expiration:
		return invalid(ReasonChannelExpired)
	case c.Nonce <= state.HighestNonce:
		return invalid(ReasonNonceNotMonotone)
	case c.Amount > state.Capacity:
		return invalid(ReasonExceedsBalance)
	case !VerifySignature(state, c):
		return invalid(ReasonInvalidSignature)
	}

	if c.Amount >= state.HighestClaim {
		state.HighestClaim = c.Amount
		state.HighestSignature = c.Signature
		state.HighestSignedNonce = c.Nonce
	}
	state.HighestNonce = c.Nonce
	state.LastClaimTime = now.Unix()
	state.TotalClaims++

	if err := v.store.Put(ctx, state); err != nil {
		logger.Warn("保存通道状态失败", "channel", log.TruncateID(c.ChannelID, 16), "error", err)
		return invalid(ReasonStoreUnavailable)
	}

	logger.Debug("支付声明有效",
		"channel", log.TruncateID(c.ChannelID, 16),
		"amount", c.Amount,
		"nonce", c.Nonce)
	return Result{Valid: true, Channel: state.Clone()}
}

// Update 在通道锁内读取、修改并保存通道状态
//
// 与 VerifyClaim 共用同一把锁，结算写回不会覆盖并发接受的声明。
func (v *Verifier) Update(ctx context.Context, channelID string, fn func(*ChannelState) error) (*ChannelState, error) {
	unlock := v.lock(channelID)
	defer unlock()

	state, err := v.store.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := v.store.Put(ctx, state); err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// Store 返回底层通道存储
func (v *Verifier) Store() ChannelStore {
	return v.store
}

// lock 获取通道锁，返回释放函数
func (v *Verifier) lock(channelID string) func() {
	v.mu.Lock()
	l, ok := v.locks[channelID]
	if !ok {
		l = &channelLock{}
		v.locks[channelID] = l
	}
	l.refs++
	v.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		v.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(v.locks, channelID)
		}
		v.mu.Unlock()
	}
}
