// Package txengine is the transaction-lifecycle engine of the wallet: it
// turns an intent to move value or invoke a contract into a signed, broadcast
// and eventually confirmed on-chain transaction, and reconciles the wallet's
// local belief about transaction state against the external ledger.
package txengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/block-wallet/extension-sub006/idempotency"
	"github.com/block-wallet/extension-sub006/internal/nonce"
)

// Engine coordinates the record store, nonce tracker, estimator, signing
// gateway, replacement engine and reconciler. It owns the state machine
// transitions and the event hub; every record mutation goes through it.
type Engine struct {
	cfg   Config
	clock clock.Clock

	provider    Provider
	feeSource   FeeDataSource
	relay       RelayClient
	permissions PermissionSource
	selected    SelectedAccountSource

	store     *Store
	tracker   *nonce.Tracker
	estimator *GasEstimator
	gateway   *SigningGateway
	hub       *Hub
	persister Persister
	idemStore idempotency.Store

	// approvalMu serializes every sign+submit sequence across the whole
	// wallet, so no two submissions race on nonce allocation or node
	// submission ordering.
	approvalMu sync.Mutex

	resultsMu sync.Mutex
	results   map[string]*pendingResult
}

type pendingResult struct {
	res           *Result
	waitConfirmed bool
	idemKey       string
}

// Result is the caller's future for a transaction: it resolves to the hash
// once the record reaches SUBMITTED (or CONFIRMED when requested), or to the
// failure that ended the attempt.
type Result struct {
	ch chan resultOutcome
}

type resultOutcome struct {
	hash common.Hash
	err  error
}

func newResult() *Result {
	return &Result{ch: make(chan resultOutcome, 1)}
}

// Wait blocks until the transaction resolves or the context ends.
func (r *Result) Wait(ctx context.Context) (common.Hash, error) {
	select {
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	case out := <-r.ch:
		return out.hash, out.err
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { cfg.Normalize(); e.cfg = cfg }
}

// WithClock injects a clock, used by tests for deterministic timeouts.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithPersister sets the durable record store backing.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

// WithRelayClient enables the off-chain relay submission path.
func WithRelayClient(rc RelayClient) Option {
	return func(e *Engine) { e.relay = rc }
}

// WithPermissionSource sets the dapp permission oracle. Without one, every
// externally-originated transaction is rejected.
func WithPermissionSource(ps PermissionSource) Option {
	return func(e *Engine) { e.permissions = ps }
}

// WithSelectedAccountSource sets the active-account oracle used to authorize
// wallet-originated transactions.
func WithSelectedAccountSource(s SelectedAccountSource) Option {
	return func(e *Engine) { e.selected = s }
}

// WithIdempotencyStore enables duplicate-submission protection keyed by
// caller-supplied idempotency keys.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(e *Engine) { e.idemStore = store }
}

// NewEngine creates an engine around the wallet's provider, fee source and
// signer callback. Persisted records are restored before the engine is
// returned.
func NewEngine(provider Provider, feeSource FeeDataSource, signer SignerFunc, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if feeSource == nil {
		return nil, fmt.Errorf("fee data source is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	e := &Engine{
		cfg:       DefaultConfig(),
		provider:  provider,
		feeSource: feeSource,
		hub:       NewHub(),
		results:   make(map[string]*pendingResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clock.NewDefaultClock()
	}

	if e.persister != nil {
		if timeout, err := e.persister.LoadSignTimeout(); err == nil && timeout > 0 {
			e.cfg.SignTimeout = timeout
			e.cfg.Normalize()
		}
	}

	e.store = NewStore(e.cfg.TxHistoryLimit, e.persister)
	if err := e.store.Restore(); err != nil {
		return nil, err
	}
	e.tracker = nonce.NewTracker(provider, e.store)
	e.estimator = NewGasEstimator(provider)
	e.gateway = NewSigningGateway(signer, e.cfg, e.clock)

	metricTrackedRecords.Set(float64(e.store.Len()))
	return e, nil
}

// Hub returns the engine's event hub for collaborators that observe status
// changes.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// SetSignTimeout updates and persists the signing timeout, still capped by
// the auto-lock interval. Safe to call while signing is in flight; the new
// value applies to subsequent sign attempts.
func (e *Engine) SetSignTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultSignTimeout
	}
	if e.cfg.AutoLockInterval > 0 && d > e.cfg.AutoLockInterval {
		d = e.cfg.AutoLockInterval
	}
	e.gateway.SetSignTimeout(d)
	if e.persister != nil {
		if err := e.persister.SaveSignTimeout(d); err != nil {
			logger.WithFields(logger.Fields{"error": err}).Error("couldn't persist sign timeout")
		}
	}
}

// AddTxOptions tune a single AddTransaction call.
type AddTxOptions struct {
	// Category overrides the classification heuristics.
	Category TransactionCategory
	// Flashbots routes the transaction through the off-chain relay where
	// supported.
	Flashbots bool
	// WaitForConfirmation resolves the result at CONFIRMED instead of
	// SUBMITTED.
	WaitForConfirmation bool
	// FallbackGasLimit is used when estimation fails on a fixed-gas-cost
	// chain.
	FallbackGasLimit uint64
	// FixedGasCost marks the chain as having a deterministic gas cost for
	// this call, making FallbackGasLimit trustworthy.
	FixedGasCost bool
	// IdempotencyKey deduplicates retried submissions when an idempotency
	// store is configured.
	IdempotencyKey string
}

// AddTransaction validates, authorizes and registers a new UNAPPROVED
// transaction. The record is visible in the store before gas estimation
// completes; estimation and default fee population run asynchronously and
// flip LoadingGasValues off when done. The returned record is a snapshot;
// re-read it through GetTransaction for later state.
func (e *Engine) AddTransaction(ctx context.Context, params TransactionParams, origin string, opts *AddTxOptions) (*TransactionRecord, *Result, error) {
	if opts == nil {
		opts = &AddTxOptions{}
	}

	if err := validateParams(params); err != nil {
		return nil, nil, err
	}
	if err := e.authorize(origin, params.From); err != nil {
		return nil, nil, err
	}

	// Claim the idempotency key before constructing anything. The claim is
	// atomic, so exactly one of two concurrent retries builds a record; the
	// loser is pointed at the winner's record when it is already linked.
	var idemRec *idempotency.Record
	if opts.IdempotencyKey != "" && e.idemStore != nil {
		claimed, err := e.idemStore.Create(opts.IdempotencyKey)
		if errors.Is(err, idempotency.ErrDuplicateKey) {
			if claimed != nil && claimed.RecordID != "" {
				if existing, recErr := e.store.Get(claimed.RecordID); recErr == nil {
					return existing, nil, idempotency.ErrDuplicateKey
				}
			}
			return nil, nil, idempotency.ErrDuplicateKey
		}
		if err == nil {
			idemRec = claimed
		}
	}

	category := opts.Category
	if category == "" {
		category = ClassifyTransaction(ctx, e.provider, params)
	}

	rec := &TransactionRecord{
		ID:               uuid.NewString(),
		Status:           StatusUnapproved,
		MetaType:         MetaRegular,
		Category:         category,
		Params:           params.Copy(),
		ChainID:          params.ChainID,
		Origin:           origin,
		Time:             e.clock.Now(),
		Flashbots:        opts.Flashbots,
		LoadingGasValues: true,
	}

	if err := e.store.Add(rec); err != nil {
		if idemRec != nil {
			_ = e.idemStore.Delete(idemRec.Key)
		}
		return nil, nil, err
	}
	metricTrackedRecords.Set(float64(e.store.Len()))

	res := newResult()
	e.resultsMu.Lock()
	e.results[rec.ID] = &pendingResult{res: res, waitConfirmed: opts.WaitForConfirmation, idemKey: opts.IdempotencyKey}
	e.resultsMu.Unlock()

	if idemRec != nil {
		idemRec.RecordID = rec.ID
		idemRec.Status = idempotency.StatusPending
		_ = e.idemStore.Update(idemRec)
	}

	e.publishStatus(rec)

	go e.loadGasValues(context.WithoutCancel(ctx), rec.ID, opts)

	return rec.Copy(), res, nil
}

// loadGasValues fills the gas limit and default fee values of a fresh record.
// Estimation failure is only a quality downgrade; a fee lookup failure fails
// the transaction and rejects the caller's result.
func (e *Engine) loadGasValues(ctx context.Context, id string, opts *AddTxOptions) {
	rec, err := e.store.Get(id)
	if err != nil {
		return
	}

	limit, ok := e.estimator.Estimate(ctx, rec.Params, opts.FallbackGasLimit, opts.FixedGasCost)
	rec.Params.GasLimit = limit
	rec.EstimationSucceeded = ok

	tiers, err := e.feeSource.FeeTiers(ctx, rec.ChainID)
	if err != nil {
		e.failTransaction(id, errors.Join(ErrGetFeeDataFailed, err))
		return
	}
	feeMarket := rec.Params.IsFeeMarket()
	if !feeMarket {
		if supported, err := e.provider.SupportsEIP1559(ctx); err == nil {
			feeMarket = supported
		}
	}
	PopulateFeeDefaults(&rec.Params, tiers, feeMarket)
	rec.Params.Type = txTypeFor(rec.Params)
	rec.LoadingGasValues = false

	// A record that moved on (or was rejected) while we were estimating must
	// not come back to UNAPPROVED; the check and the write share the store
	// lock.
	applied, err := e.store.UpdateIf(rec, func(cur *TransactionRecord) bool {
		return cur.Status == StatusUnapproved
	})
	if err != nil {
		logger.WithFields(logger.Fields{"record_id": id, "error": err}).Error("couldn't store gas values")
		return
	}
	if !applied {
		return
	}
	e.publishStatus(rec)
}

// ApproveTransaction runs the sign-and-submit critical section for an
// UNAPPROVED record: nonce allocation (unless the caller pinned one), fee
// finalization, signing through the gateway and broadcast. A signing timeout
// rejects the record; any other failure before SUBMITTED fails it.
func (e *Engine) ApproveTransaction(ctx context.Context, id string) error {
	e.approvalMu.Lock()
	defer e.approvalMu.Unlock()

	rec, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if rec.Status != StatusUnapproved {
		return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, rec.Status)
	}
	if rec.LoadingGasValues {
		return fmt.Errorf("%w: %s is still loading gas values", ErrInvalidStatus, id)
	}

	if rec.Params.Nonce == nil {
		n, release, err := e.tracker.GetNonceLock(ctx, rec.Params.From, rec.ChainID)
		if err != nil {
			nonceErr := errors.Join(ErrAcquireNonceFailed, err)
			e.failTransaction(id, nonceErr)
			return nonceErr
		}
		// Released on every exit path. The pending record is persisted
		// below before any suspension point, so a concurrent allocation
		// after release observes this nonce as taken.
		defer release()
		rec.Params.Nonce = &n
		metricNonceAllocations.WithLabelValues(chainLabel(rec.ChainID)).Inc()
	}

	if err := e.finalizeFees(ctx, &rec.Params); err != nil {
		e.failTransaction(id, err)
		return err
	}

	rec.Status = StatusApproved
	rec.ApproveTime = e.clock.Now()
	if err := e.store.Update(rec); err != nil {
		return err
	}
	e.publishStatus(rec)

	return e.signAndSubmit(ctx, rec)
}

// signAndSubmit signs an APPROVED record and broadcasts it. The record must
// already carry a nonce and final fees.
func (e *Engine) signAndSubmit(ctx context.Context, rec *TransactionRecord) error {
	unsigned := buildUnsignedTx(rec.Params)

	rejected := func() bool {
		cur, err := e.store.Get(rec.ID)
		return err == nil && cur.Status == StatusRejected
	}

	signed, err := e.gateway.Sign(ctx, unsigned, rec.Params.From, rejected)
	if err != nil {
		switch {
		case errors.Is(err, ErrSignRejected):
			// The user rejection already transitioned the record.
			return err
		case errors.Is(err, ErrSignTimeout):
			e.rejectRecord(rec.ID, ErrSignTimeout)
			return err
		default:
			e.failTransaction(rec.ID, err)
			return err
		}
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		e.failTransaction(rec.ID, fmt.Errorf("couldn't serialize signed transaction: %w", err))
		return err
	}
	v, r, s := signed.RawSignatureValues()
	rec.Params.V = copyBig(v)
	rec.Params.R = copyBig(r)
	rec.Params.S = copyBig(s)
	rec.Params.Hash = signed.Hash()
	rec.RawTransaction = raw
	rec.Status = StatusSigned
	// A rejection that arrived while the signer was running wins; the signed
	// payload is discarded without touching the record.
	applied, err := e.store.UpdateIf(rec, func(cur *TransactionRecord) bool {
		return cur.Status != StatusRejected
	})
	if err != nil {
		return err
	}
	if !applied {
		return ErrSignRejected
	}
	e.publishStatus(rec)

	hash, err := e.broadcast(ctx, rec, raw, signed.Hash())
	if err != nil {
		e.failTransaction(rec.ID, errors.Join(ErrSubmitFailed, err))
		return err
	}

	rec.Params.Hash = hash
	rec.Status = StatusSubmitted
	rec.SubmittedTime = e.clock.Now()
	applied, err = e.store.UpdateIf(rec, func(cur *TransactionRecord) bool {
		return cur.Status != StatusRejected
	})
	if err != nil {
		return err
	}
	if !applied {
		return ErrSignRejected
	}
	metricSubmitted.WithLabelValues(chainLabel(rec.ChainID)).Inc()
	e.hub.Publish(Event{Type: EventSubmitted, RecordID: rec.ID, Status: rec.Status, Hash: hash, Record: rec.Copy()})
	e.publishStatus(rec)
	e.resolveResult(rec.ID, hash, nil, false)

	logger.WithFields(logger.Fields{
		"record_id": rec.ID,
		"tx_hash":   hash.Hex(),
		"nonce":     *rec.Params.Nonce,
		"chain_id":  rec.ChainID,
	}).Info("transaction submitted")
	return nil
}

// broadcast pushes the raw payload through the relay or the provider. An
// "already known" response is idempotent success.
func (e *Engine) broadcast(ctx context.Context, rec *TransactionRecord, raw []byte, signedHash common.Hash) (common.Hash, error) {
	var hash common.Hash
	var err error
	if rec.Flashbots && e.relay != nil && rec.ChainID == e.cfg.FlashbotsChainID {
		hash, err = e.relay.SendRawTransaction(ctx, raw)
	} else {
		hash, err = e.provider.SendRawTransaction(ctx, raw)
	}
	if err != nil {
		if ClassifyProviderError(err) == ProviderErrorKnownTransaction {
			logger.WithFields(logger.Fields{
				"record_id": rec.ID,
				"tx_hash":   signedHash.Hex(),
			}).Debug("node already knows the transaction, treating submission as success")
			return signedHash, nil
		}
		return common.Hash{}, err
	}
	if hash == (common.Hash{}) {
		hash = signedHash
	}
	return hash, nil
}

// RejectTransaction marks a not-yet-submitted record as rejected by the user.
// An in-flight approval observes the rejection at its next checkpoint and
// discards its work.
func (e *Engine) RejectTransaction(id string) error {
	rec, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if rec.Status != StatusUnapproved && rec.Status != StatusApproved && rec.Status != StatusSigned {
		return fmt.Errorf("%w: cannot reject %s record", ErrInvalidStatus, rec.Status)
	}
	e.rejectRecord(id, ErrSignRejected)
	return nil
}

// UpdateTransaction replaces a record's stored state. The assigned nonce is
// immutable; updates that try to change it are refused. Updating with an
// unmodified record is a no-op on observable state.
func (e *Engine) UpdateTransaction(rec *TransactionRecord) error {
	if rec == nil {
		return ErrInvalidParams
	}
	cur, err := e.store.Get(rec.ID)
	if err != nil {
		return err
	}
	if curNonce, ok := cur.Nonce(); ok {
		if newNonce, ok2 := rec.Nonce(); !ok2 || newNonce != curNonce {
			return fmt.Errorf("%w: nonce is fixed once assigned", ErrInvalidParams)
		}
	}
	if err := e.store.Update(rec); err != nil {
		return err
	}
	if cur.Status != rec.Status {
		e.publishStatus(rec)
	}
	return nil
}

// GetTransaction returns a snapshot of a record.
func (e *Engine) GetTransaction(id string) (*TransactionRecord, error) {
	return e.store.Get(id)
}

// GetTransactions returns snapshots of all records, oldest first.
func (e *Engine) GetTransactions() []*TransactionRecord {
	return e.store.All()
}

// GetNextNonce is a read-only, lock-free estimate of the next nonce for
// display purposes.
func (e *Engine) GetNextNonce(ctx context.Context, addr common.Address, chainID uint64) (uint64, error) {
	return e.tracker.NextNonce(ctx, addr, chainID)
}

// EstimateGas exposes the estimator for callers that price transactions
// before adding them.
func (e *Engine) EstimateGas(ctx context.Context, params TransactionParams, fallback uint64, fixedGasCost bool) (uint64, bool) {
	return e.estimator.Estimate(ctx, params, fallback, fixedGasCost)
}

// finalizeFees makes sure the params carry complete pricing for their
// transaction type before signing.
func (e *Engine) finalizeFees(ctx context.Context, p *TransactionParams) error {
	if p.IsFeeMarket() && p.MaxFeePerGas != nil && p.MaxPriorityFeePerGas != nil {
		p.Type = txTypeFor(*p)
		return nil
	}
	if !p.IsFeeMarket() && p.GasPrice != nil {
		p.Type = txTypeFor(*p)
		return nil
	}

	tiers, err := e.feeSource.FeeTiers(ctx, p.ChainID)
	if err != nil {
		return errors.Join(ErrGetFeeDataFailed, err)
	}
	feeMarket := p.IsFeeMarket()
	if !feeMarket {
		if supported, err := e.provider.SupportsEIP1559(ctx); err == nil {
			feeMarket = supported
		}
	}
	PopulateFeeDefaults(p, tiers, feeMarket)
	p.Type = txTypeFor(*p)
	return nil
}

// failTransaction moves a record to FAILED with the triggering error and
// rejects the caller's pending result.
func (e *Engine) failTransaction(id string, cause error) {
	rec, err := e.store.Get(id)
	if err != nil {
		return
	}
	rec.Status = StatusFailed
	rec.Error = cause.Error()
	rec.VerifiedOnBlockchain = true
	rec.LoadingGasValues = false
	applied, err := e.store.UpdateIf(rec, func(cur *TransactionRecord) bool {
		return !cur.Status.IsTerminal()
	})
	if err != nil {
		logger.WithFields(logger.Fields{"record_id": id, "error": err}).Error("couldn't store failed record")
		return
	}
	if !applied {
		// Already settled, typically by a rejection that won the race.
		return
	}
	metricTerminal.WithLabelValues(chainLabel(rec.ChainID), string(StatusFailed)).Inc()
	e.publishStatus(rec)
	e.finish(rec)
	e.resolveResult(id, common.Hash{}, cause, true)

	logger.WithFields(logger.Fields{
		"record_id": id,
		"chain_id":  rec.ChainID,
		"error":     cause,
	}).Warn("transaction failed")
}

// rejectRecord moves a record to REJECTED. Distinct from failure: no funds
// were ever at risk.
func (e *Engine) rejectRecord(id string, cause error) {
	rec, err := e.store.Get(id)
	if err != nil {
		return
	}
	rec.Status = StatusRejected
	rec.Error = cause.Error()
	rec.VerifiedOnBlockchain = true
	rec.LoadingGasValues = false
	// Only pre-submission states can be rejected; a record that reached
	// SUBMITTED or settled in the meantime stays where it is.
	applied, err := e.store.UpdateIf(rec, func(cur *TransactionRecord) bool {
		switch cur.Status {
		case StatusUnapproved, StatusApproved, StatusSigned:
			return true
		}
		return false
	})
	if err != nil || !applied {
		return
	}
	metricTerminal.WithLabelValues(chainLabel(rec.ChainID), string(StatusRejected)).Inc()
	e.publishStatus(rec)
	e.finish(rec)
	e.resolveResult(id, common.Hash{}, cause, true)
}

func (e *Engine) publishStatus(rec *TransactionRecord) {
	e.hub.Publish(Event{
		Type:     EventStatusUpdate,
		RecordID: rec.ID,
		Status:   rec.Status,
		Hash:     rec.Params.Hash,
		Record:   rec.Copy(),
	})
}

func (e *Engine) finish(rec *TransactionRecord) {
	e.hub.Publish(Event{
		Type:     EventFinished,
		RecordID: rec.ID,
		Status:   rec.Status,
		Hash:     rec.Params.Hash,
		Record:   rec.Copy(),
	})
}

// resolveResult settles a caller future. Confirmation-gated futures are only
// settled by final=true outcomes or by the reconciler's confirm path.
func (e *Engine) resolveResult(id string, hash common.Hash, err error, final bool) {
	e.resultsMu.Lock()
	pending, ok := e.results[id]
	if ok && (!pending.waitConfirmed || final) {
		delete(e.results, id)
	}
	e.resultsMu.Unlock()
	if !ok {
		return
	}
	e.updateIdempotency(pending.idemKey, hash, err)
	if pending.waitConfirmed && !final {
		return
	}
	pending.res.ch <- resultOutcome{hash: hash, err: err}
}

func (e *Engine) updateIdempotency(key string, hash common.Hash, cause error) {
	if key == "" || e.idemStore == nil {
		return
	}
	idemRec, err := e.idemStore.Get(key)
	if err != nil {
		return
	}
	switch {
	case cause != nil:
		idemRec.Status = idempotency.StatusFailed
		idemRec.Error = cause
	case hash != (common.Hash{}):
		idemRec.Status = idempotency.StatusSubmitted
		idemRec.TxHash = hash
	}
	_ = e.idemStore.Update(idemRec)
}

// resolveConfirmed settles confirmation-gated futures.
func (e *Engine) resolveConfirmed(id string, hash common.Hash) {
	e.resolveResult(id, hash, nil, true)
}

func (e *Engine) authorize(origin string, from common.Address) error {
	if origin == "" {
		return fmt.Errorf("%w: empty origin", ErrInvalidParams)
	}
	if origin == OriginWallet {
		if e.selected == nil || e.selected.SelectedAccount() != from {
			return ErrNotSelectedAccount
		}
		return nil
	}
	if e.permissions == nil || !e.permissions.HasPermission(origin, from) {
		return fmt.Errorf("%w: origin %q, account %s", ErrUnauthorizedOrigin, origin, from.Hex())
	}
	return nil
}

func validateParams(p TransactionParams) error {
	if p.From == (common.Address{}) {
		return fmt.Errorf("%w: from address is empty", ErrInvalidAddress)
	}
	if p.ChainID == 0 {
		return fmt.Errorf("%w: chain id is required", ErrInvalidParams)
	}
	if p.Value != nil && p.Value.Sign() < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidValue)
	}
	if p.To == nil && len(p.Data) == 0 {
		return fmt.Errorf("%w: transaction needs a recipient or call data", ErrInvalidParams)
	}
	if p.GasPrice != nil && p.IsFeeMarket() {
		return fmt.Errorf("%w: legacy gas price and fee-market fields are mutually exclusive", ErrInvalidParams)
	}
	return nil
}

// txTypeFor picks the wire transaction type from the populated pricing.
func txTypeFor(p TransactionParams) uint8 {
	if p.Type == types.AccessListTxType {
		return types.AccessListTxType
	}
	if p.IsFeeMarket() {
		return types.DynamicFeeTxType
	}
	return types.LegacyTxType
}

// buildUnsignedTx constructs the unsigned wire transaction from params.
// Serialization itself is delegated to go-ethereum's core/types.
func buildUnsignedTx(p TransactionParams) *types.Transaction {
	chainID := new(big.Int).SetUint64(p.ChainID)
	var n uint64
	if p.Nonce != nil {
		n = *p.Nonce
	}
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}

	switch txTypeFor(p) {
	case types.DynamicFeeTxType:
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     n,
			GasTipCap: orZero(p.MaxPriorityFeePerGas),
			GasFeeCap: orZero(p.MaxFeePerGas),
			Gas:       p.GasLimit,
			To:        p.To,
			Value:     value,
			Data:      p.Data,
		})
	case types.AccessListTxType:
		return types.NewTx(&types.AccessListTx{
			ChainID:  chainID,
			Nonce:    n,
			GasPrice: orZero(p.GasPrice),
			Gas:      p.GasLimit,
			To:       p.To,
			Value:    value,
			Data:     p.Data,
		})
	default:
		return types.NewTx(&types.LegacyTx{
			Nonce:    n,
			GasPrice: orZero(p.GasPrice),
			Gas:      p.GasLimit,
			To:       p.To,
			Value:    value,
			Data:     p.Data,
		})
	}
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

func chainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
