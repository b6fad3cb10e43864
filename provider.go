package txengine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provider is the network/RPC contract consumed by the engine. Implementations
// wrap whatever client the hosting wallet configures; endpoint selection is
// not the engine's concern.
//
// TransactionByHash returns the block number the transaction was included in,
// or nil while it is still pending. A missing transaction is reported as
// ethereum.NotFound.
type Provider interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	// TransactionCount is the account nonce at the latest block.
	TransactionCount(ctx context.Context, account common.Address) (*big.Int, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, blockNumber *big.Int, err error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	SupportsEIP1559(ctx context.Context) (bool, error)
	BlockGasLimit(ctx context.Context) (*big.Int, error)
}

// FeeDataSource provides tiered fee suggestions for a chain. Polling and
// caching live behind this interface.
type FeeDataSource interface {
	FeeTiers(ctx context.Context, chainID uint64) (*FeeTiers, error)
}

// SignerFunc is the externally supplied signing callback. The key material
// stays with the hosting wallet; the engine only ever sees the signed result.
type SignerFunc func(ctx context.Context, tx *types.Transaction, from common.Address) (*types.Transaction, error)

// PermissionSource answers whether an external origin may act as an account.
type PermissionSource interface {
	HasPermission(origin string, account common.Address) bool
}

// SelectedAccountSource reports the currently active wallet account, used to
// authorize wallet-originated transactions.
type SelectedAccountSource interface {
	SelectedAccount() common.Address
}

// RelayStatus is the off-chain relay's view of a submitted bundle.
type RelayStatus string

const (
	RelayStatusIncluded RelayStatus = "included"
	RelayStatusFailed   RelayStatus = "failed"
	RelayStatusPending  RelayStatus = "pending"
	RelayStatusUnknown  RelayStatus = "unknown"
)

// BlockSource delivers new block heights for a chain. The returned channel
// stays open until the context ends; heights may skip when the consumer
// falls behind, never go backwards.
type BlockSource interface {
	Blocks(ctx context.Context, chainID uint64) (<-chan *big.Int, error)
}

// RelayClient is the private-relay (flashbots) contract: an alternative
// submission path plus a status endpoint consulted before standard
// reconciliation.
type RelayClient interface {
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	Status(ctx context.Context, hash common.Hash) (RelayStatus, error)
}
