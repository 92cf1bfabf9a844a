package settlement

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
)

// settleABI 结算合约接口
const settleABI = `[{
	"type": "function",
	"name": "settle",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "channelId", "type": "bytes32"},
		{"name": "amount", "type": "uint256"},
		{"name": "nonce", "type": "uint256"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": []
}]`

// Backend EVM 节点访问接口，*ethclient.Client 满足该接口
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EVM 通过结算合约提交通道高水位
type EVM struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	gasLimit uint64
	abi      abi.ABI
}

var _ Ledger = (*EVM)(nil)

// NewEVM 创建 EVM 结算模块
func NewEVM(backend Backend, cfg config.EVMSettlementConfig) (*EVM, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("%w: contract address %q", ErrInvalidConfig, cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidConfig, err)
	}
	parsed, err := abi.JSON(strings.NewReader(settleABI))
	if err != nil {
		return nil, err
	}
	return &EVM{
		backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  big.NewInt(cfg.ChainID),
		gasLimit: cfg.GasLimit,
		abi:      parsed,
	}, nil
}

// Name 实现 Ledger
func (e *EVM) Name() string { return "evm" }

// From 结算交易发送地址
func (e *EVM) From() common.Address { return e.from }

// Prepare 打包 settle 调用并签名 EIP-1559 交易
func (e *EVM) Prepare(ctx context.Context, state *claim.ChannelState) (*Prepared, error) {
	if state.HighestSignature == "" || state.HighestClaim == 0 {
		return nil, ErrNothingToSettle
	}
	sig, err := hex.DecodeString(state.HighestSignature)
	if err != nil {
		return nil, fmt.Errorf("decode claim signature: %w", err)
	}

	calldata, err := e.abi.Pack("settle",
		claim.ChannelKey(state.ChannelID),
		new(big.Int).SetUint64(state.HighestClaim),
		new(big.Int).SetUint64(state.HighestSignedNonce),
		sig,
	)
	if err != nil {
		return nil, fmt.Errorf("pack settle: %w", err)
	}

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	contract := e.contract
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       e.gasLimit,
		To:        &contract,
		Value:     new(big.Int),
		Data:      calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	return &Prepared{
		ChannelID: state.ChannelID,
		Currency:  state.Currency,
		Amount:    state.HighestClaim,
		Nonce:     state.HighestSignedNonce,
		Calldata:  calldata,
		payload:   signed,
	}, nil
}

// Execute 广播已签名交易
func (e *EVM) Execute(ctx context.Context, p *Prepared) (*Receipt, error) {
	tx, ok := p.payload.(*types.Transaction)
	if !ok {
		return nil, fmt.Errorf("settlement: prepared payload is not an evm transaction")
	}
	if err := e.backend.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return &Receipt{Settled: true, TxHash: tx.Hash().Hex(), Amount: p.Amount}, nil
}

// GetBalance 查询地址余额（wei）
func (e *EVM) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	return e.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// Close 关闭底层 RPC 连接
func (e *EVM) Close() {
	if c, ok := e.backend.(interface{ Close() }); ok {
		c.Close()
	}
}
