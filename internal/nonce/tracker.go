// Package nonce serializes account nonce allocation for the transaction
// engine. This is an internal package and should not be imported directly by
// external code.
package nonce

import (
	"context"
	"math/big"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// NetworkReader exposes the authoritative transaction count at the latest
// block.
type NetworkReader interface {
	TransactionCount(ctx context.Context, account common.Address) (*big.Int, error)
}

// LocalState is the engine's view of its own records, consulted to fill the
// gap between what the network reports and what is already in flight locally.
type LocalState interface {
	HighestConfirmedNonce(from common.Address, chainID uint64) (uint64, bool)
	PendingNonces(from common.Address, chainID uint64) []uint64
}

// Tracker computes the next usable nonce per address and serializes
// allocation across concurrent callers.
type Tracker struct {
	reader NetworkReader
	local  LocalState

	// globalMu is acquired and released before the per-address lock. It is
	// a deliberate non-strict barrier: it keeps a new global waiter from
	// starving an address mid-allocation without serializing unrelated
	// addresses.
	globalMu  sync.Mutex
	addrLocks sync.Map // map[addrKey]*sync.Mutex
}

type addrKey struct {
	addr    common.Address
	chainID uint64
}

// NewTracker creates a tracker reading network state from reader and local
// record state from local.
func NewTracker(reader NetworkReader, local LocalState) *Tracker {
	return &Tracker{reader: reader, local: local}
}

func (t *Tracker) addrLock(addr common.Address, chainID uint64) *sync.Mutex {
	lock, _ := t.addrLocks.LoadOrStore(addrKey{addr, chainID}, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// GetNonceLock computes the next usable nonce for the address and returns it
// together with a release function. The per-address lock stays held for the
// whole nonce computation and beyond; the caller MUST invoke release exactly
// once, after the allocated nonce has been durably recorded as pending or the
// allocation attempt has been abandoned. A second release call is a no-op.
func (t *Tracker) GetNonceLock(ctx context.Context, addr common.Address, chainID uint64) (uint64, func(), error) {
	t.globalMu.Lock()
	t.globalMu.Unlock()

	lock := t.addrLock(addr, chainID)
	lock.Lock()

	nonce, err := t.nextNonce(ctx, addr, chainID)
	if err != nil {
		lock.Unlock()
		return 0, nil, err
	}

	var once sync.Once
	release := func() { once.Do(lock.Unlock) }
	return nonce, release, nil
}

// NextNonce is the lock-free estimate of the next nonce, for display
// purposes. It can race with concurrent allocations.
func (t *Tracker) NextNonce(ctx context.Context, addr common.Address, chainID uint64) (uint64, error) {
	return t.nextNonce(ctx, addr, chainID)
}

// nextNonce implements the allocation algorithm:
//  1. read the network transaction count at the latest block
//  2. base = max(network nonce, highest locally confirmed + 1)
//  3. walk past nonces already claimed by locally pending transactions
//  4. guard the result against a stale pending set with a final max against
//     the fresh network read
func (t *Tracker) nextNonce(ctx context.Context, addr common.Address, chainID uint64) (uint64, error) {
	networkNonce, err := t.networkNonce(ctx, addr)
	if err != nil {
		return 0, err
	}

	base := networkNonce
	if highest, ok := t.local.HighestConfirmedNonce(addr, chainID); ok && highest+1 > base {
		base = highest + 1
	}

	pending := make(map[uint64]bool)
	for _, n := range t.local.PendingNonces(addr, chainID) {
		pending[n] = true
	}
	candidate := base
	for pending[candidate] {
		candidate++
	}

	if networkNonce > candidate {
		candidate = networkNonce
	}

	logger.WithFields(logger.Fields{
		"wallet":        addr.Hex(),
		"chain_id":      chainID,
		"network_nonce": networkNonce,
		"next_nonce":    candidate,
		"pending_count": len(pending),
	}).Debug("computed next nonce")

	return candidate, nil
}

func (t *Tracker) networkNonce(ctx context.Context, addr common.Address) (uint64, error) {
	count, err := t.reader.TransactionCount(ctx, addr)
	if err != nil {
		return 0, err
	}
	if count == nil || count.Sign() < 0 || !count.IsUint64() {
		return 0, ErrIntegerExpected
	}
	return count.Uint64(), nil
}
