package txengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sethvargo/go-retry"

	"github.com/block-wallet/extension-sub006/internal/circuitbreaker"
)

// Reconciler aligns the store's belief about pending and confirmed
// transactions with what the chain actually did, one pass per new block.
// Errors on individual records never abort a cycle; the remaining records
// still get their pass.
type Reconciler struct {
	engine   *Engine
	breakers sync.Map // map[uint64]*circuitbreaker.CircuitBreaker
}

// NewReconciler builds a reconciler over the engine's store and provider.
func NewReconciler(e *Engine) *Reconciler {
	return &Reconciler{engine: e}
}

// Watch subscribes to src for chainID and reconciles once per delivered
// block until the context ends.
func (rc *Reconciler) Watch(ctx context.Context, chainID uint64, src BlockSource) error {
	blocks, err := src.Blocks(ctx, chainID)
	if err != nil {
		return fmt.Errorf("subscribe to blocks for chain %d: %w", chainID, err)
	}
	rc.Run(ctx, chainID, blocks)
	return nil
}

// Run consumes block numbers until the context ends or the channel closes,
// reconciling once per block.
func (rc *Reconciler) Run(ctx context.Context, chainID uint64, blocks <-chan *big.Int) {
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-blocks:
			if !ok {
				return
			}
			rc.OnNewBlock(ctx, chainID, block)
		}
	}
}

// OnNewBlock runs one reconciliation cycle at the given block height.
func (rc *Reconciler) OnNewBlock(ctx context.Context, chainID uint64, blockNumber *big.Int) {
	if blockNumber == nil {
		return
	}
	breaker := rc.breaker(chainID)
	if !breaker.Allow() {
		logger.WithFields(logger.Fields{
			"chain_id": chainID,
			"block":    blockNumber,
		}).Warn("reconciliation skipped, node circuit open")
		return
	}
	metricReconcileCycles.WithLabelValues(chainLabel(chainID)).Inc()

	records := rc.engine.store.Where(func(rec *TransactionRecord) bool {
		if rec.ChainID != chainID || rec.VerifiedOnBlockchain {
			return false
		}
		switch rec.Status {
		case StatusSubmitted, StatusConfirmed, StatusFailed:
			return true
		}
		return false
	})

	cycleFailed := false
	for _, rec := range records {
		if err := rc.reconcileRecord(ctx, rec, blockNumber); err != nil {
			cycleFailed = true
			metricReconcileErrors.WithLabelValues(chainLabel(chainID)).Inc()
			logger.WithFields(logger.Fields{
				"record_id": rec.ID,
				"tx_hash":   rec.Params.Hash.Hex(),
				"block":     blockNumber,
				"error":     err,
			}).Error("couldn't reconcile record")
		}
	}
	if cycleFailed {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
	metricTrackedRecords.Set(float64(rc.engine.store.Len()))
}

// breaker returns the chain's circuit breaker, creating it on first use. One
// Watch goroutine per chain is the expected deployment, so lookups from
// different goroutines race without the sync.Map.
func (rc *Reconciler) breaker(chainID uint64) *circuitbreaker.CircuitBreaker {
	if cb, ok := rc.breakers.Load(chainID); ok {
		return cb.(*circuitbreaker.CircuitBreaker)
	}
	cfg := circuitbreaker.DefaultConfig()
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.WithFields(logger.Fields{
			"chain_id": chainID,
			"from":     from,
			"to":       to,
		}).Warn("reconciliation circuit state changed")
	}
	cb, _ := rc.breakers.LoadOrStore(chainID, circuitbreaker.New(cfg))
	return cb.(*circuitbreaker.CircuitBreaker)
}

func (rc *Reconciler) reconcileRecord(ctx context.Context, rec *TransactionRecord, blockNumber *big.Int) error {
	switch rec.Status {
	case StatusSubmitted:
		return rc.checkSubmitted(ctx, rec, blockNumber)
	case StatusConfirmed, StatusFailed:
		return rc.verifyOnChain(ctx, rec, blockNumber)
	}
	return nil
}

// checkSubmitted resolves the fate of a broadcast transaction: mined,
// still pending, or vanished from the network.
func (rc *Reconciler) checkSubmitted(ctx context.Context, rec *TransactionRecord, blockNumber *big.Int) error {
	e := rc.engine

	// Relay-routed transactions get their status from the relay first. An
	// inclusion report still goes through the on-chain check below.
	if rec.Flashbots && e.relay != nil && rec.ChainID == e.cfg.FlashbotsChainID {
		status, err := e.relay.Status(ctx, rec.Params.Hash)
		if err != nil {
			logger.WithFields(logger.Fields{
				"record_id": rec.ID,
				"error":     err,
			}).Warn("couldn't query relay status, falling back to on-chain check")
		} else {
			switch status {
			case RelayStatusPending:
				return nil
			case RelayStatusFailed:
				rc.dropRecord(rec, "transaction failed on the relay")
				return nil
			}
		}
	}

	var minedAt *big.Int
	err := withRetry(ctx, func(ctx context.Context) error {
		var lookupErr error
		_, minedAt, lookupErr = e.provider.TransactionByHash(ctx, rec.Params.Hash)
		if lookupErr != nil && !errors.Is(lookupErr, ethereum.NotFound) {
			return retry.RetryableError(lookupErr)
		}
		return lookupErr
	})
	if errors.Is(err, ethereum.NotFound) {
		return rc.countMissing(ctx, rec, blockNumber)
	}
	if err != nil {
		return fmt.Errorf("transaction lookup: %w", err)
	}

	// Reappearing in the pool clears any drop suspicion.
	if rec.BlocksDropCount > 0 {
		rec.BlocksDropCount = 0
		if err := e.store.Update(rec); err != nil {
			return err
		}
	}
	if minedAt == nil {
		// Known to the node, not mined yet.
		return nil
	}

	confirmations := confirmationDepth(blockNumber, minedAt)
	if rec.Category == CategoryPrivacyDeposit && confirmations < e.cfg.DepositConfirmationDepth {
		// Deposits stay SUBMITTED until the deposit depth is reached, so a
		// shallow reorg can't strand a privacy-pool note.
		rec.ConfirmedAtBlock = new(big.Int).Set(minedAt)
		rec.Confirmations = confirmations
		return e.store.Update(rec)
	}

	var receipt *types.Receipt
	err = withRetry(ctx, func(ctx context.Context) error {
		var lookupErr error
		receipt, lookupErr = e.provider.TransactionReceipt(ctx, rec.Params.Hash)
		if lookupErr != nil && !errors.Is(lookupErr, ethereum.NotFound) {
			return retry.RetryableError(lookupErr)
		}
		return lookupErr
	})
	if errors.Is(err, ethereum.NotFound) {
		// Mined per the tx lookup but no receipt yet; try again next block.
		return nil
	}
	if err != nil {
		return fmt.Errorf("receipt lookup: %w", err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		rc.markReverted(rec, receipt, blockNumber)
		return nil
	}
	rc.markConfirmed(rec, receipt, blockNumber)
	return nil
}

// countMissing advances the drop counter for a transaction the network no
// longer knows. The record whose nonce is the account's current network nonce
// gets extra grace: it may simply be sitting in a queue the node pruned.
func (rc *Reconciler) countMissing(ctx context.Context, rec *TransactionRecord, blockNumber *big.Int) error {
	e := rc.engine
	n, ok := rec.Nonce()
	if !ok {
		return nil
	}

	count, err := e.provider.TransactionCount(ctx, rec.Params.From)
	if err != nil {
		return fmt.Errorf("transaction count: %w", err)
	}
	if count == nil || !count.IsUint64() {
		return ErrIntegerExpected
	}
	networkNonce := count.Uint64()

	if networkNonce < n {
		// A lower nonce is still unmined; this record can't have been
		// passed over yet.
		return nil
	}

	threshold := e.cfg.DropThreshold
	if networkNonce == n {
		threshold = e.cfg.NextNonceDropThreshold
	}

	rec.BlocksDropCount++
	if rec.BlocksDropCount > threshold {
		rc.dropRecord(rec, "transaction was dropped by the network and never mined")
		return nil
	}
	logger.WithFields(logger.Fields{
		"record_id":  rec.ID,
		"tx_hash":    rec.Params.Hash.Hex(),
		"nonce":      n,
		"drop_count": rec.BlocksDropCount,
		"threshold":  threshold,
		"block":      blockNumber,
	}).Debug("transaction missing from network")
	return e.store.Update(rec)
}

// verifyOnChain re-checks a confirmed or reverted record a few blocks later.
// A receipt that vanished means a reorg took the block; pull the record back
// to SUBMITTED and let the normal flow re-confirm it.
func (rc *Reconciler) verifyOnChain(ctx context.Context, rec *TransactionRecord, blockNumber *big.Int) error {
	e := rc.engine
	if rec.ConfirmedAtBlock == nil {
		return nil
	}
	elapsed := new(big.Int).Sub(blockNumber, rec.ConfirmedAtBlock)
	if elapsed.Sign() < 0 || elapsed.Uint64() < e.cfg.VerificationBlocks {
		return nil
	}

	var receipt *types.Receipt
	err := withRetry(ctx, func(ctx context.Context) error {
		var lookupErr error
		receipt, lookupErr = e.provider.TransactionReceipt(ctx, rec.Params.Hash)
		if lookupErr != nil && !errors.Is(lookupErr, ethereum.NotFound) {
			return retry.RetryableError(lookupErr)
		}
		return lookupErr
	})
	if errors.Is(err, ethereum.NotFound) {
		if rec.Category == CategoryPrivacyDeposit {
			// Deposits never roll back silently; keep waiting for the
			// receipt to resurface.
			return nil
		}
		rc.unconfirm(rec, blockNumber)
		return nil
	}
	if err != nil {
		return fmt.Errorf("receipt verification: %w", err)
	}

	confirmations := confirmationDepth(blockNumber, receipt.BlockNumber)
	required := e.cfg.VerificationBlocks
	if rec.Category == CategoryPrivacyDeposit {
		required = e.cfg.DepositConfirmationDepth
	}
	if confirmations < required {
		rec.Confirmations = confirmations
		return e.store.Update(rec)
	}

	rec.Confirmations = confirmations
	rec.VerifiedOnBlockchain = true
	if err := e.store.Update(rec); err != nil {
		return err
	}
	e.finish(rec)

	rc.dropSiblings(rec)
	return nil
}

// markConfirmed transitions a submitted record to CONFIRMED. The original of
// a replacement chain that confirms sheds its replacedBy link: the
// replacement lost the race.
func (rc *Reconciler) markConfirmed(rec *TransactionRecord, receipt *types.Receipt, blockNumber *big.Int) {
	e := rc.engine
	rec.Status = StatusConfirmed
	rec.ConfirmationTime = e.clock.Now()
	rec.Receipt = receipt
	rec.ConfirmedAtBlock = new(big.Int).Set(receipt.BlockNumber)
	rec.Confirmations = confirmationDepth(blockNumber, receipt.BlockNumber)
	rec.BlocksDropCount = 0
	rec.ReplacedBy = ""
	if err := e.store.Update(rec); err != nil {
		logger.WithFields(logger.Fields{"record_id": rec.ID, "error": err}).Error("couldn't store confirmed record")
		return
	}
	metricConfirmed.WithLabelValues(chainLabel(rec.ChainID)).Inc()
	e.hub.Publish(Event{Type: EventConfirmed, RecordID: rec.ID, Status: rec.Status, Hash: rec.Params.Hash, Record: rec.Copy()})
	e.publishStatus(rec)
	e.resolveConfirmed(rec.ID, rec.Params.Hash)

	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"tx_hash":   rec.Params.Hash.Hex(),
		"block":     receipt.BlockNumber,
		"chain_id":  rec.ChainID,
	}).Info("transaction confirmed")
}

// markReverted records an on-chain revert. The receipt exists, so the state
// still goes through reorg verification before it is final.
func (rc *Reconciler) markReverted(rec *TransactionRecord, receipt *types.Receipt, blockNumber *big.Int) {
	e := rc.engine
	rec.Status = StatusFailed
	rec.Error = "transaction reverted on chain"
	rec.Receipt = receipt
	rec.ConfirmedAtBlock = new(big.Int).Set(receipt.BlockNumber)
	rec.Confirmations = confirmationDepth(blockNumber, receipt.BlockNumber)
	rec.BlocksDropCount = 0
	if err := e.store.Update(rec); err != nil {
		logger.WithFields(logger.Fields{"record_id": rec.ID, "error": err}).Error("couldn't store reverted record")
		return
	}
	metricTerminal.WithLabelValues(chainLabel(rec.ChainID), string(StatusFailed)).Inc()
	e.publishStatus(rec)
	e.resolveResult(rec.ID, common.Hash{}, fmt.Errorf("transaction %s reverted on chain", rec.Params.Hash.Hex()), true)

	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"tx_hash":   rec.Params.Hash.Hex(),
		"block":     receipt.BlockNumber,
	}).Warn("transaction reverted")
}

// unconfirm pulls a previously confirmed (or reverted) record back to
// SUBMITTED after its receipt disappeared in a reorg.
func (rc *Reconciler) unconfirm(rec *TransactionRecord, blockNumber *big.Int) {
	e := rc.engine
	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"tx_hash":   rec.Params.Hash.Hex(),
		"was":       rec.Status,
		"block":     blockNumber,
		"chain_id":  rec.ChainID,
	}).Warn("receipt disappeared, returning transaction to the pending pool")

	rec.Status = StatusSubmitted
	rec.ConfirmationTime = time.Time{}
	rec.Receipt = nil
	rec.ConfirmedAtBlock = nil
	rec.Confirmations = 0
	rec.BlocksDropCount = 0
	rec.Error = ""
	if err := e.store.Update(rec); err != nil {
		logger.WithFields(logger.Fields{"record_id": rec.ID, "error": err}).Error("couldn't store unconfirmed record")
		return
	}
	metricUnconfirmReversals.WithLabelValues(chainLabel(rec.ChainID)).Inc()
	e.publishStatus(rec)
}

// dropRecord terminates a record that the network abandoned.
func (rc *Reconciler) dropRecord(rec *TransactionRecord, reason string) {
	e := rc.engine
	rec.Status = StatusDropped
	rec.Error = reason
	rec.VerifiedOnBlockchain = true
	if err := e.store.Update(rec); err != nil {
		logger.WithFields(logger.Fields{"record_id": rec.ID, "error": err}).Error("couldn't store dropped record")
		return
	}
	metricTerminal.WithLabelValues(chainLabel(rec.ChainID), string(StatusDropped)).Inc()
	e.publishStatus(rec)
	e.finish(rec)
	e.resolveResult(rec.ID, common.Hash{}, fmt.Errorf("%s (%s)", reason, rec.Params.Hash.Hex()), true)

	logger.WithFields(logger.Fields{
		"record_id":  rec.ID,
		"tx_hash":    rec.Params.Hash.Hex(),
		"drop_count": rec.BlocksDropCount,
		"chain_id":   rec.ChainID,
	}).Warn("transaction dropped")
}

// dropSiblings fails every still-pending record that shares the verified
// record's nonce. Only one transaction per nonce can ever land.
func (rc *Reconciler) dropSiblings(verified *TransactionRecord) {
	n, ok := verified.Nonce()
	if !ok {
		return
	}
	siblings := rc.engine.store.Where(func(rec *TransactionRecord) bool {
		if rec.ID == verified.ID || rec.ChainID != verified.ChainID {
			return false
		}
		if rec.Params.From != verified.Params.From || !rec.Status.IsPending() {
			return false
		}
		sn, ok := rec.Nonce()
		return ok && sn == n
	})
	for _, sibling := range siblings {
		rc.dropRecord(sibling, fmt.Sprintf("superseded by transaction %s at the same nonce", verified.Params.Hash.Hex()))
	}
}

func confirmationDepth(current, minedAt *big.Int) uint64 {
	if current == nil || minedAt == nil {
		return 0
	}
	depth := new(big.Int).Sub(current, minedAt)
	depth.Add(depth, big.NewInt(1))
	if depth.Sign() <= 0 || !depth.IsUint64() {
		return 0
	}
	return depth.Uint64()
}

// withRetry wraps transient RPC reads in a short fibonacci backoff.
func withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(200*time.Millisecond))
	return retry.Do(ctx, backoff, op)
}
