package txengine

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"

	"github.com/block-wallet/extension-sub006/testutil"
)

func TestClassifyTransaction(t *testing.T) {
	transferData, _ := hexutil.Decode("0xa9059cbb" + common.Bytes2Hex(make([]byte, 64)))
	approveData, _ := hexutil.Decode("0x095ea7b3" + common.Bytes2Hex(make([]byte, 64)))
	depositData, _ := hexutil.Decode("0xb6b55f25" + common.Bytes2Hex(make([]byte, 32)))

	tests := []struct {
		name string
		p    TransactionParams
		code []byte
		want TransactionCategory
	}{
		{
			name: "deployment without recipient",
			p:    TransactionParams{From: testutil.TestAddr1, Data: hexutil.Bytes{0x60, 0x80}},
			want: CategoryContractDeployment,
		},
		{
			name: "plain value send",
			p:    TransactionParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, Value: testutil.OneEth},
			want: CategorySentEther,
		},
		{
			name: "erc20 transfer selector",
			p:    TransactionParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, Data: transferData},
			want: CategoryTokenTransfer,
		},
		{
			name: "erc20 approve selector",
			p:    TransactionParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, Data: approveData},
			want: CategoryTokenApprove,
		},
		{
			name: "privacy deposit selector",
			p:    TransactionParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, Data: depositData},
			want: CategoryPrivacyDeposit,
		},
		{
			name: "unknown data against contract",
			p:    TransactionParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, Data: hexutil.Bytes{0xde, 0xad, 0xbe, 0xef}},
			code: []byte{0x60},
			want: CategoryContractInteraction,
		},
		{
			name: "unknown data against externally owned account",
			p:    TransactionParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, Data: hexutil.Bytes{0xde, 0xad, 0xbe, 0xef}},
			want: CategorySentEther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newMockProvider()
			provider.codeAtFn = func(common.Address) ([]byte, error) { return tt.code, nil }
			got := ClassifyTransaction(context.Background(), provider, tt.p)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyDegradesOnCodeLookupFailure(t *testing.T) {
	provider := newMockProvider()
	provider.codeAtFn = func(common.Address) ([]byte, error) { return nil, errors.New("rpc down") }

	p := TransactionParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, Data: hexutil.Bytes{0xde, 0xad, 0xbe, 0xef}}
	got := ClassifyTransaction(context.Background(), provider, p)
	assert.Equal(t, CategoryContractInteraction, got)
}
