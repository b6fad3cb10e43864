package txengine

import (
	"fmt"
	"strings"

	"github.com/block-wallet/extension-sub006/internal/nonce"
)

// ErrIntegerExpected surfaces a malformed network transaction count. Aliased
// from the nonce tracker so errors.Is works on errors from either path.
var ErrIntegerExpected = nonce.ErrIntegerExpected

// Engine errors. Callers discriminate with errors.Is.
var (
	ErrInvalidParams      = fmt.Errorf("invalid transaction params")
	ErrInvalidAddress     = fmt.Errorf("invalid address")
	ErrInvalidValue       = fmt.Errorf("invalid value")
	ErrUnauthorizedOrigin = fmt.Errorf("origin is not authorized for this account")
	ErrNotSelectedAccount = fmt.Errorf("from address is not the selected account")
	ErrTxNotFound         = fmt.Errorf("transaction not found")
	ErrInvalidStatus      = fmt.Errorf("transaction is not in a valid status for this operation")
	ErrAcquireNonceFailed = fmt.Errorf("acquire nonce failed")
	ErrGetFeeDataFailed   = fmt.Errorf("get fee data failed")
	ErrSignTimeout        = fmt.Errorf("signing timed out")
	ErrSignRejected       = fmt.Errorf("signing rejected by user")
	ErrSubmitFailed       = fmt.Errorf("transaction submission failed")
	ErrNonReplaceable     = fmt.Errorf("transaction nonce already used, it can no longer be replaced")
	ErrReplacementExists  = fmt.Errorf("transaction already has an outstanding replacement")
)

// ProviderErrorKind is the result of classifying a provider submission error.
type ProviderErrorKind int

const (
	// ProviderErrorOther is any submission error with no special handling.
	ProviderErrorOther ProviderErrorKind = iota
	// ProviderErrorKnownTransaction means the node already has this exact
	// transaction. Resubmission is idempotent, so this is a success.
	ProviderErrorKnownTransaction
	// ProviderErrorNonceTooLow means the nonce was already consumed on
	// chain. A replacement with this nonce is no longer possible.
	ProviderErrorNonceTooLow
	// ProviderErrorUnderpriced means the replacement fee did not clear the
	// node's minimum bump requirement.
	ProviderErrorUnderpriced
)

// knownTransactionPatterns and nonceTooLowPatterns match the error text of
// the major execution clients (geth, erigon, nethermind, besu). Matching on
// provider error strings is a known fragility; the patterns are kept in one
// place so they are testable and easy to extend when a provider moves to
// structured error codes.
var (
	knownTransactionPatterns = []string{
		"already known",
		"known transaction",
		"alreadyknown",
		"transaction already exists",
	}
	nonceTooLowPatterns = []string{
		"nonce too low",
		"nonce is too low",
		"invalid nonce",
		"oldnonce",
		"transaction nonce is too low",
	}
	underpricedPatterns = []string{
		"replacement transaction underpriced",
		"replacement fee too low",
		"transaction underpriced",
	}
)

// ClassifyProviderError buckets a submission error by the provider's error
// text. A nil error classifies as ProviderErrorOther.
func ClassifyProviderError(err error) ProviderErrorKind {
	if err == nil {
		return ProviderErrorOther
	}
	msg := strings.ToLower(err.Error())
	for _, p := range knownTransactionPatterns {
		if strings.Contains(msg, p) {
			return ProviderErrorKnownTransaction
		}
	}
	for _, p := range nonceTooLowPatterns {
		if strings.Contains(msg, p) {
			return ProviderErrorNonceTooLow
		}
	}
	for _, p := range underpricedPatterns {
		if strings.Contains(msg, p) {
			return ProviderErrorUnderpriced
		}
	}
	return ProviderErrorOther
}
