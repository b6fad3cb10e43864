package txengine

import (
	"context"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/params"
)

// fallbackBlockGasLimit is used when the current block gas limit cannot be
// read, matching mainnet's long-standing target.
const fallbackBlockGasLimit = 30_000_000

// GasEstimator produces gas limits with buffering and fallbacks, and
// normalizes legacy vs fee-market pricing. Pure computation apart from the
// provider reads.
type GasEstimator struct {
	provider Provider
}

// NewGasEstimator creates an estimator backed by the given provider.
func NewGasEstimator(provider Provider) *GasEstimator {
	return &GasEstimator{provider: provider}
}

// Estimate returns a gas limit for the populated-but-unsigned params and
// whether the estimate came from the node rather than a fallback. Estimation
// failure is degradation, not an error: the caller proceeds with the returned
// limit and surfaces the flag.
//
// fallback is the caller-supplied limit used on failure for chains with a
// fixed gas cost; zero means none.
func (e *GasEstimator) Estimate(ctx context.Context, p TransactionParams, fallback uint64, fixedGasCost bool) (uint64, bool) {
	if p.GasLimit != 0 {
		return p.GasLimit, true
	}

	blockGasLimit := e.blockGasLimit(ctx)

	msg := ethereum.CallMsg{
		From:  p.From,
		To:    p.To,
		Value: p.Value,
		Data:  p.Data,
	}
	raw, err := e.provider.EstimateGas(ctx, msg)
	if err != nil {
		limit := blockGasLimit * 95 / 100
		if fixedGasCost && fallback > 0 {
			limit = fallback
		}
		logger.WithFields(logger.Fields{
			"from":     p.From.Hex(),
			"chain_id": p.ChainID,
			"fallback": limit,
			"error":    err,
		}).Warn("gas estimation failed, using fallback limit")
		return limit, false
	}

	ceiling := blockGasLimit * 90 / 100

	// A plain transfer estimate needs no buffer, and an estimate already
	// beyond the ceiling can't safely be buffered further.
	if raw == params.TxGas || raw > ceiling {
		return raw, true
	}

	buffered := raw * 3 / 2
	if buffered > ceiling {
		buffered = ceiling
	}
	return buffered, true
}

func (e *GasEstimator) blockGasLimit(ctx context.Context) uint64 {
	limit, err := e.provider.BlockGasLimit(ctx)
	if err != nil || limit == nil || !limit.IsUint64() || limit.Uint64() == 0 {
		return fallbackBlockGasLimit
	}
	return limit.Uint64()
}

// PopulateFeeDefaults fills missing pricing fields from the medium fee tier,
// normalizing the params to either legacy or fee-market form depending on
// chain support. Explicit caller-supplied values are never overwritten.
func PopulateFeeDefaults(p *TransactionParams, tiers *FeeTiers, supportsFeeMarket bool) {
	if supportsFeeMarket {
		if p.MaxFeePerGas == nil {
			p.MaxFeePerGas = copyBig(tiers.Medium.MaxFeePerGas)
		}
		if p.MaxPriorityFeePerGas == nil {
			p.MaxPriorityFeePerGas = copyBig(tiers.Medium.MaxPriorityFeePerGas)
		}
		// Fee-market params carry no legacy price.
		p.GasPrice = nil
		return
	}

	if p.GasPrice == nil {
		p.GasPrice = copyBig(tiers.Medium.GasPrice)
	}
	p.MaxFeePerGas = nil
	p.MaxPriorityFeePerGas = nil
}
