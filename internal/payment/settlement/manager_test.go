package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
)

const (
	testChannel  = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testContract = "0x00000000000000000000000000000000000C0FFE"
)

var testNow = time.Unix(1_700_000_000, 0)

// fakeBackend 记录发送的交易
type fakeBackend struct {
	mu      sync.Mutex
	sent    []*types.Transaction
	sendErr error
	closed  bool
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(42), nil
}

func (b *fakeBackend) Close() { b.closed = true }

type fixture struct {
	manager  *Manager
	verifier *claim.Verifier
	store    *claim.MemoryChannelStore
	backend  *fakeBackend
	evm      *EVM
	clock    *clock.Mock
}

func newFixture(t *testing.T, state *claim.ChannelState) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	backend := &fakeBackend{}
	evm, err := NewEVM(backend, config.EVMSettlementConfig{
		Enable:          true,
		ChainID:         11155111,
		ContractAddress: testContract,
		PrivateKey:      common.Bytes2Hex(crypto.FromECDSA(key)),
		GasLimit:        200_000,
	})
	require.NoError(t, err)

	store := claim.NewMemoryChannelStore()
	require.NoError(t, store.Put(context.Background(), state))

	clk := clock.NewMock()
	clk.Set(testNow)
	verifier := claim.NewVerifier(store, clk)

	m := NewManager(verifier, claim.PolicyFromConfig(config.DefaultSettlementConfig()), clk,
		map[claim.Family]Ledger{claim.FamilyEVM: evm})
	return &fixture{manager: m, verifier: verifier, store: store, backend: backend, evm: evm, clock: clk}
}

func dueChannel() *claim.ChannelState {
	return &claim.ChannelState{
		ChannelID:          testChannel,
		Currency:           claim.CurrencyETH,
		Sender:             "0x000000000000000000000000000000000000bEEF",
		Status:             claim.StatusOpen,
		Capacity:           5_000_000,
		HighestClaim:       1_200_000,
		HighestNonce:       12,
		HighestSignature:   "aa",
		HighestSignedNonce: 12,
		TotalClaims:        12,
		LastClaimTime:      testNow.Unix(),
		Expiration:         testNow.Add(72 * time.Hour).Unix(),
	}
}

// ============================================================================
//                              结算触发
// ============================================================================

func TestManager_SettlesAndClosesChannel(t *testing.T) {
	f := newFixture(t, dueChannel())
	ctx := context.Background()

	settled, err := f.manager.MaybeSettle(ctx, testChannel)
	require.NoError(t, err)
	assert.True(t, settled)

	require.Len(t, f.backend.sent, 1)
	tx := f.backend.sent[0]
	assert.Equal(t, common.HexToAddress(testContract), *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(200_000), tx.Gas())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	require.NoError(t, err)
	assert.Equal(t, f.evm.From(), from)

	// 调用数据解码
	method, err := f.evm.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "settle", method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, claim.ChannelKey(testChannel), args[0].([32]byte))
	assert.Equal(t, big.NewInt(1_200_000), args[1].(*big.Int))
	assert.Equal(t, big.NewInt(12), args[2].(*big.Int))

	st, err := f.store.Get(ctx, testChannel)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusClosed, st.Status)
	assert.Equal(t, uint64(1_200_000), st.SettledAmount)
	assert.Equal(t, uint64(12), st.SettledClaims)
	assert.Equal(t, testNow.Unix(), st.LastSettlement)
}

func TestManager_NotDue(t *testing.T) {
	state := dueChannel()
	state.HighestClaim = 10
	f := newFixture(t, state)

	settled, err := f.manager.MaybeSettle(context.Background(), testChannel)
	require.NoError(t, err)
	assert.False(t, settled)
	assert.Empty(t, f.backend.sent)
}

func TestManager_ExecuteFailureKeepsChannelOpen(t *testing.T) {
	f := newFixture(t, dueChannel())
	f.backend.sendErr = errors.New("rpc down")

	settled, err := f.manager.MaybeSettle(context.Background(), testChannel)
	assert.Error(t, err)
	assert.False(t, settled)

	st, _ := f.store.Get(context.Background(), testChannel)
	assert.Equal(t, claim.StatusOpen, st.Status)
}

func TestManager_DisabledForCosmos(t *testing.T) {
	state := dueChannel()
	state.ChannelID = "cosmos-channel-42"
	state.Currency = claim.CurrencyAKT
	f := newFixture(t, state)

	settled, err := f.manager.MaybeSettle(context.Background(), state.ChannelID)
	require.NoError(t, err)
	assert.False(t, settled)

	st, _ := f.store.Get(context.Background(), state.ChannelID)
	assert.Equal(t, claim.StatusOpen, st.Status)
}

// racingLedger 在提交期间写入一次新的声明计数，并记录提交时看到的通道状态
type racingLedger struct {
	verifier *claim.Verifier
	seen     claim.ChannelStatus
}

func (r *racingLedger) Name() string { return "racing" }

func (r *racingLedger) Prepare(_ context.Context, state *claim.ChannelState) (*Prepared, error) {
	return &Prepared{ChannelID: state.ChannelID, Currency: state.Currency, Amount: state.HighestClaim, Nonce: state.HighestSignedNonce}, nil
}

func (r *racingLedger) Execute(ctx context.Context, p *Prepared) (*Receipt, error) {
	st, err := r.verifier.Update(ctx, p.ChannelID, func(st *claim.ChannelState) error {
		st.TotalClaims++
		st.HighestClaim += 1000
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.seen = st.Status
	return &Receipt{Settled: true, Amount: p.Amount}, nil
}

func (r *racingLedger) GetBalance(context.Context, string) (*big.Int, error) {
	return new(big.Int), nil
}

func TestManager_ClosesChannelBeforeSubmitting(t *testing.T) {
	f := newFixture(t, dueChannel())
	ledger := &racingLedger{verifier: f.verifier}
	m := NewManager(f.verifier, claim.PolicyFromConfig(config.DefaultSettlementConfig()), f.clock,
		map[claim.Family]Ledger{claim.FamilyEVM: ledger})

	settled, err := m.MaybeSettle(context.Background(), testChannel)
	require.NoError(t, err)
	assert.True(t, settled)

	// 提交期间通道已关闭，新声明会被拒绝
	assert.Equal(t, claim.StatusClosed, ledger.seen)

	st, err := f.store.Get(context.Background(), testChannel)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_200_000), st.SettledAmount)
	assert.Equal(t, uint64(12), st.SettledClaims, "只有提交时的声明计为已结算")
	assert.Equal(t, uint64(13), st.TotalClaims)

	// 已关闭的通道不会再次结算
	settled, err = m.MaybeSettle(context.Background(), testChannel)
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestManager_TriggerAfterStop(t *testing.T) {
	f := newFixture(t, dueChannel())
	require.NoError(t, f.manager.Start(context.Background()))
	require.NoError(t, f.manager.Stop(context.Background()))

	f.manager.Trigger(testChannel)
	f.manager.wg.Wait()

	assert.Empty(t, f.backend.sent)
	st, _ := f.store.Get(context.Background(), testChannel)
	assert.Equal(t, claim.StatusOpen, st.Status)
}

func TestManager_SweepAndStop(t *testing.T) {
	f := newFixture(t, dueChannel())

	require.NoError(t, f.manager.Start(context.Background()))
	f.clock.Add(DefaultSweepInterval)

	require.Eventually(t, func() bool {
		st, _ := f.store.Get(context.Background(), testChannel)
		return st.Status == claim.StatusClosed
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.manager.Stop(context.Background()))
	assert.True(t, f.backend.closed)
}

func TestEVM_Prepare(t *testing.T) {
	f := newFixture(t, dueChannel())

	empty := dueChannel()
	empty.HighestSignature = ""
	_, err := f.evm.Prepare(context.Background(), empty)
	assert.ErrorIs(t, err, ErrNothingToSettle)

	bal, err := f.evm.GetBalance(context.Background(), "0x000000000000000000000000000000000000bEEF")
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())

	_, err = NewEVM(&fakeBackend{}, config.EVMSettlementConfig{ContractAddress: "nope"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDisabled(t *testing.T) {
	d := Disabled{}
	p, err := d.Prepare(context.Background(), dueChannel())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_200_000), p.Amount)

	r, err := d.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, r.Settled)
}
