package txengine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Defaults for the engine. Durations are capped or overridden by Config.
const (
	DefaultSignTimeout        = 3 * time.Minute
	DefaultRejectionPoll      = 500 * time.Millisecond
	DefaultTxHistoryLimit     = 100
	DefaultDropThreshold      = 3
	DefaultNextNonceGrace     = 6
	DefaultDepositDepth       = 12
	DefaultVerificationBlocks = 4

	// Fee bump ratio for replacement transactions, applied as
	// ceil(fee * BumpNumerator / BumpDenominator).
	BumpNumerator   = 3
	BumpDenominator = 2
)

// TransactionStatus is the lifecycle state of a tracked transaction.
type TransactionStatus string

const (
	StatusUnapproved TransactionStatus = "UNAPPROVED"
	StatusApproved   TransactionStatus = "APPROVED"
	StatusSigned     TransactionStatus = "SIGNED"
	StatusSubmitted  TransactionStatus = "SUBMITTED"
	StatusConfirmed  TransactionStatus = "CONFIRMED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusRejected   TransactionStatus = "REJECTED"
	StatusDropped    TransactionStatus = "DROPPED"
	StatusCancelled  TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether the status is a dead end for the record.
// CONFIRMED is not terminal on its own: a confirmed transaction may still be
// pulled back into the pending pool by a reorg until it is verified.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusRejected, StatusDropped, StatusCancelled:
		return true
	}
	return false
}

// IsPending reports whether the transaction still needs chain reconciliation.
func (s TransactionStatus) IsPending() bool {
	switch s {
	case StatusApproved, StatusSigned, StatusSubmitted:
		return true
	}
	return false
}

// MetaType tags what role a record plays in a replacement chain.
type MetaType string

const (
	MetaRegular MetaType = "REGULAR"
	MetaCancel  MetaType = "CANCEL"
	MetaSpeedUp MetaType = "SPEED_UP"
	// The original transaction while a cancel/speed-up for it is in flight.
	MetaRegularCancelling MetaType = "REGULAR_CANCELLING"
	MetaRegularSpeedingUp MetaType = "REGULAR_SPEEDING_UP"
	// The node reported the nonce as already used, so no replacement can be
	// built for this record anymore.
	MetaRegularNoReplacement MetaType = "REGULAR_NO_REPLACEMENT"
)

// TransactionCategory classifies what a transaction does, best effort.
type TransactionCategory string

const (
	CategorySentEther           TransactionCategory = "sentEther"
	CategoryTokenTransfer       TransactionCategory = "tokenTransfer"
	CategoryTokenApprove        TransactionCategory = "tokenApprove"
	CategoryContractDeployment  TransactionCategory = "contractDeployment"
	CategoryContractInteraction TransactionCategory = "contractInteraction"
	// CategoryPrivacyDeposit marks privacy-pool deposits, which require a
	// deeper confirmation depth before they are treated as settled.
	CategoryPrivacyDeposit TransactionCategory = "privacyDeposit"
)

// OriginWallet marks transactions created by the wallet itself as opposed to
// an external dapp origin.
const OriginWallet = "wallet"

// TransactionParams are the chain-level fields of a transaction. Nil pointer
// fields are "not set yet"; GasLimit zero means "estimate".
type TransactionParams struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Value    *big.Int        `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
	Nonce    *uint64         `json:"nonce,omitempty"`
	GasLimit uint64          `json:"gasLimit,omitempty"`

	// Legacy pricing.
	GasPrice *big.Int `json:"gasPrice,omitempty"`
	// Fee-market pricing.
	MaxFeePerGas         *big.Int `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas,omitempty"`

	Type    uint8  `json:"type"`
	ChainID uint64 `json:"chainId"`

	// Signature components, populated after signing.
	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`

	Hash common.Hash `json:"hash,omitempty"`
}

// Copy returns a deep copy of the params.
func (p TransactionParams) Copy() TransactionParams {
	out := p
	if p.To != nil {
		to := *p.To
		out.To = &to
	}
	if p.Nonce != nil {
		n := *p.Nonce
		out.Nonce = &n
	}
	out.Value = copyBig(p.Value)
	out.GasPrice = copyBig(p.GasPrice)
	out.MaxFeePerGas = copyBig(p.MaxFeePerGas)
	out.MaxPriorityFeePerGas = copyBig(p.MaxPriorityFeePerGas)
	out.R = copyBig(p.R)
	out.S = copyBig(p.S)
	out.V = copyBig(p.V)
	if p.Data != nil {
		out.Data = append(hexutil.Bytes{}, p.Data...)
	}
	return out
}

// IsFeeMarket reports whether the params carry EIP-1559 pricing.
func (p TransactionParams) IsFeeMarket() bool {
	return p.MaxFeePerGas != nil || p.MaxPriorityFeePerGas != nil
}

// TransactionRecord is the central tracked entity. It is created UNAPPROVED
// by the engine and mutated only through the engine's update path and the
// reconciler.
type TransactionRecord struct {
	ID       string              `json:"id"`
	Status   TransactionStatus   `json:"status"`
	MetaType MetaType            `json:"metaType"`
	Category TransactionCategory `json:"category,omitempty"`

	Params  TransactionParams `json:"params"`
	ChainID uint64            `json:"chainId"`
	Origin  string            `json:"origin"`

	Time             time.Time `json:"time"`
	ApproveTime      time.Time `json:"approveTime,omitempty"`
	SubmittedTime    time.Time `json:"submittedTime,omitempty"`
	ConfirmationTime time.Time `json:"confirmationTime,omitempty"`

	// BlocksDropCount counts consecutive reconciliation cycles where the
	// transaction was missing on-chain while nonce ordering says it should
	// have appeared. Reset whenever the hash reappears.
	BlocksDropCount int `json:"blocksDropCount"`

	// ReplacedBy links to the cancel/speed-up record currently replacing
	// this one. At most one outstanding replacement per record.
	ReplacedBy string `json:"replacedBy,omitempty"`

	// VerifiedOnBlockchain is set once the confirmation depth requirement
	// is met, or the record lands in a terminal failed/dropped state.
	VerifiedOnBlockchain bool `json:"verifiedOnBlockchain"`

	Error string `json:"error,omitempty"`

	// LoadingGasValues is true while the asynchronous gas/fee population
	// after AddTransaction is still running.
	LoadingGasValues bool `json:"loadingGasValues"`
	// EstimationSucceeded records whether the gas limit came from a real
	// estimate or from a fallback. A quality signal, not an error.
	EstimationSucceeded bool `json:"estimationSucceeded"`

	// Flashbots routes submission and status checks through the off-chain
	// relay where the chain supports it.
	Flashbots bool `json:"flashbots,omitempty"`

	// RawTransaction is the signed serialized payload.
	RawTransaction hexutil.Bytes `json:"rawTransaction,omitempty"`

	Receipt *types.Receipt `json:"receipt,omitempty"`
	// ConfirmedAtBlock is the block where the receipt was first observed.
	ConfirmedAtBlock *big.Int `json:"confirmedAtBlock,omitempty"`
	// Confirmations is a synthetic confirmation count maintained for
	// deposits below their settlement depth.
	Confirmations uint64 `json:"confirmations,omitempty"`
}

// Copy returns a deep copy of the record. Store reads hand out copies so
// callers can't mutate shared state behind the engine's back.
func (r *TransactionRecord) Copy() *TransactionRecord {
	out := *r
	out.Params = r.Params.Copy()
	out.ConfirmedAtBlock = copyBig(r.ConfirmedAtBlock)
	if r.RawTransaction != nil {
		out.RawTransaction = append(hexutil.Bytes{}, r.RawTransaction...)
	}
	if r.Receipt != nil {
		receipt := *r.Receipt
		out.Receipt = &receipt
	}
	return &out
}

// Nonce returns the assigned nonce, or (0, false) when none was assigned yet.
func (r *TransactionRecord) Nonce() (uint64, bool) {
	if r.Params.Nonce == nil {
		return 0, false
	}
	return *r.Params.Nonce, true
}

// FeeData is a single pricing point, legacy or fee-market.
type FeeData struct {
	GasPrice             *big.Int `json:"gasPrice,omitempty"`
	MaxFeePerGas         *big.Int `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas,omitempty"`
}

// FeeTiers are the tiered fee suggestions from the external fee data source.
type FeeTiers struct {
	Slow    FeeData  `json:"slow"`
	Medium  FeeData  `json:"medium"`
	Fast    FeeData  `json:"fast"`
	BaseFee *big.Int `json:"baseFee,omitempty"`
}

func copyBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
