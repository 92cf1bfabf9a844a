package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
)

var logger = log.Logger("btpnips/settlement")

// DefaultSweepInterval 周期性检查全部通道的间隔
const DefaultSweepInterval = time.Minute

// Manager 结算触发器
type Manager struct {
	verifier *claim.Verifier
	modules  map[claim.Family]Ledger
	policy   claim.Policy
	clock    clock.Clock

	mu       sync.Mutex
	inflight map[string]struct{}
	onResult func(result string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 创建结算管理器
//
// 未注册模块的币种族使用 Disabled。
func NewManager(verifier *claim.Verifier, policy claim.Policy, clk clock.Clock, modules map[claim.Family]Ledger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		verifier: verifier,
		modules:  make(map[claim.Family]Ledger),
		policy:   policy,
		clock:    clk,
		inflight: make(map[string]struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for fam, mod := range modules {
		m.modules[fam] = mod
	}
	return m
}

func (m *Manager) module(c claim.Currency) Ledger {
	if mod, ok := m.modules[c.Family()]; ok && mod != nil {
		return mod
	}
	return Disabled{}
}

// MaybeSettle 满足结算条件时执行结算
//
// 返回是否真正提交了结算。成功后通道转为 CLOSED 并记录已结算的金额与次数。
func (m *Manager) MaybeSettle(ctx context.Context, channelID string) (bool, error) {
	state, err := m.verifier.Store().Get(ctx, channelID)
	if err != nil {
		return false, err
	}
	if !claim.ShouldSettle(state, m.policy, m.clock.Now()) {
		return false, nil
	}

	m.mu.Lock()
	if _, busy := m.inflight[channelID]; busy {
		m.mu.Unlock()
		return false, ErrAlreadySettling
	}
	m.inflight[channelID] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, channelID)
		m.mu.Unlock()
	}()

	mod := m.module(state.Currency)
	if _, ok := mod.(Disabled); ok {
		logger.Debug("结算模块未提交", "channel", log.TruncateID(channelID, 16), "module", mod.Name())
		return false, nil
	}

	// 先关闭通道再提交，关闭期间的新声明会以 channel not open 拒绝
	snapshot, err := m.verifier.Update(ctx, channelID, func(st *claim.ChannelState) error {
		if st.Status != claim.StatusOpen {
			return ErrChannelNotOpen
		}
		st.Status = claim.StatusClosed
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrChannelNotOpen) {
			return false, nil
		}
		return false, fmt.Errorf("close channel: %w", err)
	}

	prepared, receipt, err := m.submit(ctx, mod, snapshot)
	if err != nil || !receipt.Settled {
		if _, rerr := m.verifier.Update(ctx, channelID, func(st *claim.ChannelState) error {
			st.Status = claim.StatusOpen
			return nil
		}); rerr != nil {
			logger.Warn("重新打开通道失败", "channel", log.TruncateID(channelID, 16), "error", rerr)
		}
		if err != nil {
			return false, err
		}
		logger.Debug("结算模块未提交", "channel", log.TruncateID(channelID, 16), "module", mod.Name())
		return false, nil
	}

	now := m.clock.Now().Unix()
	_, err = m.verifier.Update(ctx, channelID, func(st *claim.ChannelState) error {
		if prepared.Amount > st.SettledAmount {
			st.SettledAmount = prepared.Amount
		}
		st.SettledClaims = snapshot.TotalClaims
		st.LastSettlement = now
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("record settlement: %w", err)
	}

	logger.Info("通道已结算",
		"channel", log.TruncateID(channelID, 16),
		"module", mod.Name(),
		"amount", prepared.Amount,
		"tx", receipt.TxHash)
	return true, nil
}

func (m *Manager) submit(ctx context.Context, mod Ledger, state *claim.ChannelState) (*Prepared, *Receipt, error) {
	prepared, err := mod.Prepare(ctx, state)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare %s settlement: %w", mod.Name(), err)
	}
	receipt, err := mod.Execute(ctx, prepared)
	if err != nil {
		return nil, nil, fmt.Errorf("execute %s settlement: %w", mod.Name(), err)
	}
	return prepared, receipt, nil
}

// OnResult 注册结算结果回调（settled / skipped / error），需在 Start 前调用
func (m *Manager) OnResult(fn func(result string)) {
	m.mu.Lock()
	m.onResult = fn
	m.mu.Unlock()
}

func (m *Manager) report(result string) {
	m.mu.Lock()
	fn := m.onResult
	m.mu.Unlock()
	if fn != nil {
		fn(result)
	}
}

// Trigger 异步检查结算，错误只记录日志
func (m *Manager) Trigger(channelID string) {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		settled, err := m.MaybeSettle(m.ctx, channelID)
		switch {
		case errors.Is(err, ErrAlreadySettling):
		case err != nil:
			m.report("error")
			logger.Warn("结算失败", "channel", log.TruncateID(channelID, 16), "error", err)
		case settled:
			m.report("settled")
		default:
			m.report("skipped")
		}
	}()
}

// Sweep 检查所有 OPEN 通道
func (m *Manager) Sweep(ctx context.Context) {
	states, err := m.verifier.Store().List(ctx)
	if err != nil {
		logger.Warn("列出通道失败", "error", err)
	}
	for _, st := range states {
		if st.Status != claim.StatusOpen {
			continue
		}
		if _, err := m.MaybeSettle(ctx, st.ChannelID); err != nil && !errors.Is(err, ErrAlreadySettling) {
			logger.Warn("结算失败", "channel", log.TruncateID(st.ChannelID, 16), "error", err)
		}
	}
}

// Start 启动周期性检查
func (m *Manager) Start(_ context.Context) error {
	ticker := m.clock.Ticker(DefaultSweepInterval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(m.ctx)
			}
		}
	}()
	return nil
}

// Stop 停止并等待进行中的结算
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
	for _, mod := range m.modules {
		if c, ok := mod.(interface{ Close() }); ok {
			c.Close()
		}
	}
	return nil
}
