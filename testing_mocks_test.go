package txengine

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/block-wallet/extension-sub006/testutil"
)

// mockProvider implements Provider with overridable function fields. Every
// field has a sane default so tests only set what they care about.
type mockProvider struct {
	mu sync.Mutex

	estimateGasFn func(msg ethereum.CallMsg) (uint64, error)
	txCountFn     func(account common.Address) (*big.Int, error)
	sendRawFn     func(raw []byte) (common.Hash, error)
	txByHashFn    func(hash common.Hash) (*types.Transaction, *big.Int, error)
	receiptFn     func(hash common.Hash) (*types.Receipt, error)
	codeAtFn      func(account common.Address) ([]byte, error)

	supports1559  bool
	blockGasLimit *big.Int

	sentRaw [][]byte
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		supports1559:  true,
		blockGasLimit: big.NewInt(30_000_000),
	}
}

func (m *mockProvider) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	if m.estimateGasFn != nil {
		return m.estimateGasFn(msg)
	}
	return 21000, nil
}

func (m *mockProvider) TransactionCount(_ context.Context, account common.Address) (*big.Int, error) {
	if m.txCountFn != nil {
		return m.txCountFn(account)
	}
	return big.NewInt(0), nil
}

func (m *mockProvider) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	m.mu.Lock()
	m.sentRaw = append(m.sentRaw, append([]byte(nil), raw...))
	m.mu.Unlock()
	if m.sendRawFn != nil {
		return m.sendRawFn(raw)
	}
	return common.BytesToHash(crypto.Keccak256(raw)), nil
}

func (m *mockProvider) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentRaw)
}

func (m *mockProvider) lastSent() *types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sentRaw) == 0 {
		return nil
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(m.sentRaw[len(m.sentRaw)-1]); err != nil {
		return nil
	}
	return tx
}

func (m *mockProvider) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, *big.Int, error) {
	if m.txByHashFn != nil {
		return m.txByHashFn(hash)
	}
	return nil, nil, ethereum.NotFound
}

func (m *mockProvider) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if m.receiptFn != nil {
		return m.receiptFn(hash)
	}
	return nil, ethereum.NotFound
}

func (m *mockProvider) CodeAt(_ context.Context, account common.Address) ([]byte, error) {
	if m.codeAtFn != nil {
		return m.codeAtFn(account)
	}
	return nil, nil
}

func (m *mockProvider) SupportsEIP1559(context.Context) (bool, error) {
	return m.supports1559, nil
}

func (m *mockProvider) BlockGasLimit(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.blockGasLimit), nil
}

// mockFeeSource serves fixed tiers.
type mockFeeSource struct {
	tiersFn func() (*FeeTiers, error)
	tiers   *FeeTiers
	err     error
}

func newMockFeeSource() *mockFeeSource {
	return &mockFeeSource{tiers: testFeeTiers()}
}

func (m *mockFeeSource) FeeTiers(context.Context, uint64) (*FeeTiers, error) {
	if m.tiersFn != nil {
		return m.tiersFn()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.tiers, nil
}

func testFeeTiers() *FeeTiers {
	return &FeeTiers{
		Slow: FeeData{
			GasPrice:             big.NewInt(10_000_000_000),
			MaxFeePerGas:         big.NewInt(10_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		},
		Medium: FeeData{
			GasPrice:             big.NewInt(20_000_000_000),
			MaxFeePerGas:         big.NewInt(20_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(1_500_000_000),
		},
		Fast: FeeData{
			GasPrice:             big.NewInt(40_000_000_000),
			MaxFeePerGas:         big.NewInt(40_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		},
		BaseFee: big.NewInt(8_000_000_000),
	}
}

// mockRelay is an off-chain relay stub.
type mockRelay struct {
	mu       sync.Mutex
	sendFn   func(raw []byte) (common.Hash, error)
	statusFn func(hash common.Hash) (RelayStatus, error)
	sent     int
}

func (m *mockRelay) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(raw)
	}
	return common.BytesToHash(crypto.Keccak256(raw)), nil
}

func (m *mockRelay) Status(_ context.Context, hash common.Hash) (RelayStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(hash)
	}
	return RelayStatusUnknown, nil
}

// mockPermissions grants origins listed in the map.
type mockPermissions struct {
	granted map[string]common.Address
}

func (m *mockPermissions) HasPermission(origin string, account common.Address) bool {
	addr, ok := m.granted[origin]
	return ok && addr == account
}

// mockSelected reports a fixed active account.
type mockSelected struct {
	account common.Address
}

func (m *mockSelected) SelectedAccount() common.Address {
	return m.account
}

// mockBlockSource serves a pre-filled block channel.
type mockBlockSource struct {
	ch  chan *big.Int
	err error
}

func (m *mockBlockSource) Blocks(_ context.Context, _ uint64) (<-chan *big.Int, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.ch, nil
}

// realSigner signs with the testutil key, exercising the full wire path.
func realSigner(_ context.Context, tx *types.Transaction, _ common.Address) (*types.Transaction, error) {
	return testutil.SignTx(tx, tx.ChainId()), nil
}
