package txengine

import (
	"context"
	"encoding/hex"
)

// Known 4-byte method selectors, used for a best-effort classification of
// call data. Absence of a match is not an error.
var methodSelectors = map[string]TransactionCategory{
	"a9059cbb": CategoryTokenTransfer,  // transfer(address,uint256)
	"23b872dd": CategoryTokenTransfer,  // transferFrom(address,address,uint256)
	"095ea7b3": CategoryTokenApprove,   // approve(address,uint256)
	"39509351": CategoryTokenApprove,   // increaseAllowance(address,uint256)
	"d505accf": CategoryTokenApprove,   // permit(...)
	"b6b55f25": CategoryPrivacyDeposit, // deposit(uint256)
	"47e7ef24": CategoryPrivacyDeposit, // deposit(address,uint256)
}

// ClassifyTransaction determines the transaction category from its params
// using static, bytecode-independent heuristics. The provider is only used
// to distinguish a plain value send from a contract interaction when there
// is no call data match; a provider failure degrades to the structural
// answer.
func ClassifyTransaction(ctx context.Context, provider Provider, p TransactionParams) TransactionCategory {
	if p.To == nil {
		return CategoryContractDeployment
	}
	if len(p.Data) == 0 {
		return CategorySentEther
	}
	if len(p.Data) >= 4 {
		selector := hex.EncodeToString(p.Data[:4])
		if cat, ok := methodSelectors[selector]; ok {
			return cat
		}
	}
	if provider != nil {
		code, err := provider.CodeAt(ctx, *p.To)
		if err == nil && len(code) == 0 {
			// Data on a non-contract recipient is still just a send.
			return CategorySentEther
		}
	}
	return CategoryContractInteraction
}
