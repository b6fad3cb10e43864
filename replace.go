package txengine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/google/uuid"
)

// replaceKind distinguishes the two replacement flavors.
type replaceKind int

const (
	replaceCancel replaceKind = iota
	replaceSpeedUp
)

// CancelTransaction replaces a SUBMITTED transaction with a zero-value
// self-transfer at the same nonce, priced to outbid the original. The
// original is marked as being cancelled immediately so the UI reflects the
// intent before the replacement lands.
func (e *Engine) CancelTransaction(ctx context.Context, id string, feeOverride *FeeData, gasLimitOverride uint64) (*TransactionRecord, error) {
	return e.replaceTransaction(ctx, id, replaceCancel, feeOverride, gasLimitOverride)
}

// SpeedUpTransaction rebroadcasts a SUBMITTED transaction's payload at the
// same nonce with a higher fee.
func (e *Engine) SpeedUpTransaction(ctx context.Context, id string, feeOverride *FeeData, gasLimitOverride uint64) (*TransactionRecord, error) {
	return e.replaceTransaction(ctx, id, replaceSpeedUp, feeOverride, gasLimitOverride)
}

func (e *Engine) replaceTransaction(ctx context.Context, id string, kind replaceKind, feeOverride *FeeData, gasLimitOverride uint64) (*TransactionRecord, error) {
	e.approvalMu.Lock()
	defer e.approvalMu.Unlock()

	orig, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusSubmitted {
		return nil, fmt.Errorf("%w: only submitted transactions can be replaced, %s is %s", ErrInvalidStatus, id, orig.Status)
	}
	if orig.MetaType == MetaRegularNoReplacement {
		return nil, fmt.Errorf("%w: the network already mined nonce %d", ErrNonReplaceable, mustNonce(orig))
	}
	if orig.ReplacedBy != "" || orig.MetaType != MetaRegular {
		return nil, fmt.Errorf("%w: %s already has replacement %s", ErrReplacementExists, id, orig.ReplacedBy)
	}

	fees, err := e.replacementFees(ctx, orig, kind, feeOverride)
	if err != nil {
		return nil, err
	}

	replacement := e.buildReplacement(orig, kind, fees, gasLimitOverride)

	// Flag the original before any network interaction so a crash between
	// here and broadcast leaves the intent visible. The flag and the link go
	// in a single write: either both land or neither does, so a failure can
	// never strand a flagged original without its replacement pointer.
	switch kind {
	case replaceCancel:
		orig.MetaType = MetaRegularCancelling
	case replaceSpeedUp:
		orig.MetaType = MetaRegularSpeedingUp
	}
	orig.ReplacedBy = replacement.ID
	if err := e.store.Update(orig); err != nil {
		return nil, err
	}
	e.publishStatus(orig)

	if err := e.store.Add(replacement); err != nil {
		e.unwindReplacement(orig, MetaRegular)
		return nil, err
	}
	metricTrackedRecords.Set(float64(e.store.Len()))

	if err := e.signAndSubmit(ctx, replacement); err != nil {
		if ClassifyProviderError(err) == ProviderErrorNonceTooLow {
			// The original's nonce was consumed before the replacement
			// reached the node. Nothing at this nonce can be replaced
			// anymore.
			e.unwindReplacement(orig, MetaRegularNoReplacement)
			return nil, fmt.Errorf("%w: nonce %d was already mined", ErrNonReplaceable, mustNonce(orig))
		}
		e.unwindReplacement(orig, MetaRegular)
		return nil, err
	}

	eventType := EventCancellation
	if kind == replaceSpeedUp {
		eventType = EventSpeedup
	}
	e.hub.Publish(Event{
		Type:     eventType,
		RecordID: replacement.ID,
		Status:   replacement.Status,
		Hash:     replacement.Params.Hash,
		Record:   replacement.Copy(),
	})

	logger.WithFields(logger.Fields{
		"original_id":    orig.ID,
		"replacement_id": replacement.ID,
		"nonce":          mustNonce(orig),
		"chain_id":       orig.ChainID,
		"kind":           replacement.MetaType,
	}).Info("replacement transaction submitted")

	return replacement.Copy(), nil
}

// unwindReplacement restores the original record after a failed replacement
// attempt, leaving it in the given meta type.
func (e *Engine) unwindReplacement(orig *TransactionRecord, meta MetaType) {
	cur, err := e.store.Get(orig.ID)
	if err != nil {
		return
	}
	cur.MetaType = meta
	cur.ReplacedBy = ""
	if err := e.store.Update(cur); err != nil {
		logger.WithFields(logger.Fields{"record_id": orig.ID, "error": err}).Error("couldn't unwind replacement state")
		return
	}
	*orig = *cur
	e.publishStatus(cur)
}

// replacementFees computes the pricing of a replacement: at least a 3/2 bump
// over the original (rounded up, plus one for speed-ups so the delta is never
// zero on tiny fees), and never below the current fast tier. Caller overrides
// are honored but still floored at the mandatory bump.
func (e *Engine) replacementFees(ctx context.Context, orig *TransactionRecord, kind replaceKind, override *FeeData) (*FeeData, error) {
	var fast FeeData
	if tiers, err := e.feeSource.FeeTiers(ctx, orig.ChainID); err == nil {
		fast = tiers.Fast
	} else {
		logger.WithFields(logger.Fields{
			"chain_id": orig.ChainID,
			"error":    err,
		}).Warn("couldn't fetch fee tiers for replacement, using bumped original fees only")
	}

	extra := int64(0)
	if kind == replaceSpeedUp {
		extra = 1
	}

	fees := &FeeData{}
	if orig.Params.IsFeeMarket() {
		fees.MaxFeePerGas = bumpedFee(orig.Params.MaxFeePerGas, extra, fast.MaxFeePerGas, overrideField(override, func(f *FeeData) *big.Int { return f.MaxFeePerGas }))
		fees.MaxPriorityFeePerGas = bumpedFee(orig.Params.MaxPriorityFeePerGas, extra, fast.MaxPriorityFeePerGas, overrideField(override, func(f *FeeData) *big.Int { return f.MaxPriorityFeePerGas }))
		if fees.MaxFeePerGas == nil || fees.MaxPriorityFeePerGas == nil {
			return nil, fmt.Errorf("%w: original fee-market pricing is incomplete", ErrInvalidParams)
		}
		if fees.MaxFeePerGas.Cmp(fees.MaxPriorityFeePerGas) < 0 {
			fees.MaxFeePerGas = new(big.Int).Set(fees.MaxPriorityFeePerGas)
		}
	} else {
		fees.GasPrice = bumpedFee(orig.Params.GasPrice, extra, fast.GasPrice, overrideField(override, func(f *FeeData) *big.Int { return f.GasPrice }))
		if fees.GasPrice == nil {
			return nil, fmt.Errorf("%w: original gas price is missing", ErrInvalidParams)
		}
	}
	return fees, nil
}

func overrideField(override *FeeData, pick func(*FeeData) *big.Int) *big.Int {
	if override == nil {
		return nil
	}
	return pick(override)
}

// bumpedFee returns max(ceil(orig*3/2)+extra, fast, override). A nil original
// yields nil; the caller decides whether that is an error.
func bumpedFee(orig *big.Int, extra int64, fast, override *big.Int) *big.Int {
	if orig == nil {
		return nil
	}
	floor := new(big.Int).Mul(orig, big.NewInt(BumpNumerator))
	floor.Add(floor, big.NewInt(BumpDenominator-1))
	floor.Div(floor, big.NewInt(BumpDenominator))
	floor.Add(floor, big.NewInt(extra))

	result := floor
	if override != nil && override.Cmp(result) > 0 {
		result = new(big.Int).Set(override)
	}
	if fast != nil && fast.Cmp(result) > 0 {
		result = new(big.Int).Set(fast)
	}
	return result
}

// buildReplacement assembles the replacement record. A cancel sends zero
// value back to the sender with no data; a speed-up reuses the original
// payload untouched.
func (e *Engine) buildReplacement(orig *TransactionRecord, kind replaceKind, fees *FeeData, gasLimitOverride uint64) *TransactionRecord {
	rec := &TransactionRecord{
		ID:        uuid.NewString(),
		Status:    StatusApproved,
		Category:  orig.Category,
		Params:    orig.Params.Copy(),
		ChainID:   orig.ChainID,
		Origin:    orig.Origin,
		Time:      e.clock.Now(),
		Flashbots: orig.Flashbots,
	}
	rec.ApproveTime = rec.Time

	rec.Params.Hash = common.Hash{}
	rec.Params.R, rec.Params.S, rec.Params.V = nil, nil, nil
	rec.RawTransaction = nil

	switch kind {
	case replaceCancel:
		rec.MetaType = MetaCancel
		from := rec.Params.From
		rec.Params.To = &from
		rec.Params.Value = new(big.Int)
		rec.Params.Data = nil
		rec.Params.GasLimit = params.TxGas
	case replaceSpeedUp:
		rec.MetaType = MetaSpeedUp
	}
	if gasLimitOverride > 0 {
		rec.Params.GasLimit = gasLimitOverride
	}

	rec.Params.GasPrice = copyBig(fees.GasPrice)
	rec.Params.MaxFeePerGas = copyBig(fees.MaxFeePerGas)
	rec.Params.MaxPriorityFeePerGas = copyBig(fees.MaxPriorityFeePerGas)
	rec.Params.Type = txTypeFor(rec.Params)
	return rec
}

func mustNonce(rec *TransactionRecord) uint64 {
	n, _ := rec.Nonce()
	return n
}
