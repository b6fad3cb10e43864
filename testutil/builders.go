package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// NewDynamicTx builds an EIP-1559 transaction with explicit pricing.
func NewDynamicTx(nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasTipCap, gasFeeCap, chainID *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
	})
}

// NewTx builds a plain mainnet transfer priced at a 2 gwei tip under a
// 20 gwei cap.
func NewTx(nonce uint64, to common.Address, value *big.Int) *types.Transaction {
	return NewDynamicTx(nonce, to, value, params.TxGas, Gwei(2), Gwei(20), big.NewInt(1))
}

// SignTx signs a test transaction with TestPrivateKey1 using the signer
// appropriate for its type and chain ID. Panics on failure; tests have no
// business recovering from a broken fixture.
func SignTx(tx *types.Transaction, chainID *big.Int) *types.Transaction {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), TestPrivateKey1)
	if err != nil {
		panic(err)
	}
	return signed
}

// NewReceiptAtBlock builds a receipt for tx mined at blockNumber with the
// given status. Logs is non-nil so the receipt survives a JSON round trip.
func NewReceiptAtBlock(tx *types.Transaction, status uint64, blockNumber int64) *types.Receipt {
	return &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		TxHash:            tx.Hash(),
		BlockNumber:       big.NewInt(blockNumber),
		BlockHash:         common.BigToHash(big.NewInt(blockNumber)),
		GasUsed:           tx.Gas(),
		CumulativeGasUsed: tx.Gas(),
		Logs:              []*types.Log{},
	}
}
