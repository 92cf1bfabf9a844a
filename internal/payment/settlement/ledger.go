package settlement

import (
	"context"
	"math/big"

	"github.com/dep2p/go-btpnips/internal/payment/claim"
)

// Prepared 已准备好的结算
type Prepared struct {
	ChannelID string
	Currency  claim.Currency
	Amount    uint64
	Nonce     uint64

	// Calldata 提交到链上的调用数据（disabled 模块为空）
	Calldata []byte

	payload any
}

// Receipt 结算回执
//
// Settled 为 false 表示模块没有真正提交（disabled）。
type Receipt struct {
	Settled bool
	TxHash  string
	Amount  uint64
}

// Ledger 单个账本的结算客户端
type Ledger interface {
	// Name 模块名称
	Name() string

	// Prepare 根据通道高水位构造结算
	Prepare(ctx context.Context, state *claim.ChannelState) (*Prepared, error)

	// Execute 提交已准备的结算
	Execute(ctx context.Context, p *Prepared) (*Receipt, error)

	// GetBalance 查询地址余额
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// Disabled 不做任何链上操作的结算模块
type Disabled struct{}

var _ Ledger = Disabled{}

// Name 实现 Ledger
func (Disabled) Name() string { return "disabled" }

// Prepare 实现 Ledger
func (Disabled) Prepare(_ context.Context, state *claim.ChannelState) (*Prepared, error) {
	return &Prepared{
		ChannelID: state.ChannelID,
		Currency:  state.Currency,
		Amount:    state.HighestClaim,
		Nonce:     state.HighestSignedNonce,
	}, nil
}

// Execute 实现 Ledger
func (Disabled) Execute(_ context.Context, _ *Prepared) (*Receipt, error) {
	return &Receipt{}, nil
}

// GetBalance 实现 Ledger
func (Disabled) GetBalance(_ context.Context, _ string) (*big.Int, error) {
	return new(big.Int), nil
}
