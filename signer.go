package txengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/clock"
)

// SigningGateway wraps the externally supplied signer with a deadline and a
// polling check for user-initiated rejection. A timeout maps to ErrSignTimeout
// so the engine can reject rather than fail the record: a timeout most often
// means the user never acted.
type SigningGateway struct {
	signer SignerFunc
	clock  clock.Clock

	// mu guards cfg: SetSignTimeout is called while Sign is in flight.
	mu  sync.Mutex
	cfg Config
}

// NewSigningGateway creates a gateway around the wallet's signer callback.
func NewSigningGateway(signer SignerFunc, cfg Config, clk clock.Clock) *SigningGateway {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &SigningGateway{signer: signer, cfg: cfg, clock: clk}
}

// SetSignTimeout changes the signing deadline for subsequent Sign calls.
func (g *SigningGateway) SetSignTimeout(d time.Duration) {
	g.mu.Lock()
	g.cfg.SignTimeout = d
	g.mu.Unlock()
}

// SignTimeout returns the currently configured signing deadline.
func (g *SigningGateway) SignTimeout() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.SignTimeout
}

func (g *SigningGateway) intervals() (signTimeout, pollInterval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.SignTimeout, g.cfg.RejectionPollInterval
}

type signOutcome struct {
	tx  *types.Transaction
	err error
}

// Sign invokes the signer and races it against the configured timeout and the
// rejected poll. rejected is re-read at every poll tick; callers must tolerate
// a short window where a rejected transaction still completes the in-flight
// signer call, whose result is then discarded.
func (g *SigningGateway) Sign(ctx context.Context, tx *types.Transaction, from common.Address, rejected func() bool) (*types.Transaction, error) {
	signCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resCh := make(chan signOutcome, 1)
	go func() {
		signed, err := g.signer(signCtx, tx, from)
		resCh <- signOutcome{tx: signed, err: err}
	}()

	signTimeout, pollInterval := g.intervals()
	deadline := g.clock.Now().Add(signTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case out := <-resCh:
			if out.err != nil {
				return nil, fmt.Errorf("signer error: %w", out.err)
			}
			if out.tx == nil {
				return nil, errors.New("signer returned no transaction")
			}
			return out.tx, nil
		case <-g.clock.TickAfter(pollInterval):
			if rejected != nil && rejected() {
				return nil, ErrSignRejected
			}
			if !g.clock.Now().Before(deadline) {
				logger.WithFields(logger.Fields{
					"from":    from.Hex(),
					"timeout": signTimeout.String(),
				}).Warn("signing timed out waiting for signer")
				return nil, ErrSignTimeout
			}
		}
	}
}
