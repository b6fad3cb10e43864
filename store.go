package txengine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Persister is the durable backing for the record store. The in-memory store
// is authoritative at runtime; the persister only has to survive restarts.
//
// Implementations MUST be safe for concurrent use.
type Persister interface {
	SaveRecord(rec *TransactionRecord) error
	DeleteRecord(id string) error
	// LoadRecords returns all persisted records in insertion order.
	LoadRecords() ([]*TransactionRecord, error)
	SaveSignTimeout(d time.Duration) error
	LoadSignTimeout() (time.Duration, error)
	Close() error
}

// Store is the ordered collection of transaction records. It has no lifecycle
// logic of its own; every mutation goes through the engine.
type Store struct {
	mu        sync.RWMutex
	records   []*TransactionRecord
	index     map[string]int
	limit     int
	persister Persister
}

// NewStore creates a store with the given retention limit. persister may be
// nil for a purely in-memory store.
func NewStore(limit int, persister Persister) *Store {
	if limit <= 0 {
		limit = DefaultTxHistoryLimit
	}
	return &Store{
		index:     make(map[string]int),
		limit:     limit,
		persister: persister,
	}
}

// Restore loads persisted records into the store. Meant to be called once
// before the engine starts mutating state.
func (s *Store) Restore() error {
	if s.persister == nil {
		return nil
	}
	recs, err := s.persister.LoadRecords()
	if err != nil {
		return fmt.Errorf("couldn't restore transaction records: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Time.Before(recs[j].Time) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = s.records[:0]
	s.index = make(map[string]int, len(recs))
	for _, rec := range recs {
		s.index[rec.ID] = len(s.records)
		s.records = append(s.records, rec)
	}
	return nil
}

// Add appends a new record and trims history if the retention limit is
// exceeded. Adding an ID that already exists is an error; IDs are never
// reused.
func (s *Store) Add(rec *TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[rec.ID]; ok {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	stored := rec.Copy()
	s.index[stored.ID] = len(s.records)
	s.records = append(s.records, stored)
	s.persist(stored)
	s.trimLocked()
	return nil
}

// Update replaces the stored record with the same ID.
func (s *Store) Update(rec *TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[rec.ID]
	if !ok {
		return ErrTxNotFound
	}
	stored := rec.Copy()
	s.records[i] = stored
	s.persist(stored)
	return nil
}

// UpdateIf replaces the stored record only when cond accepts the current
// stored state. The check and the swap happen under the store lock, so no
// concurrent transition can slip between them. It reports whether the write
// was applied.
func (s *Store) UpdateIf(rec *TransactionRecord, cond func(cur *TransactionRecord) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[rec.ID]
	if !ok {
		return false, ErrTxNotFound
	}
	if !cond(s.records[i]) {
		return false, nil
	}
	stored := rec.Copy()
	s.records[i] = stored
	s.persist(stored)
	return true, nil
}

// Get returns a copy of the record, or ErrTxNotFound.
func (s *Store) Get(id string) (*TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, ErrTxNotFound
	}
	return s.records[i].Copy(), nil
}

// All returns copies of every record in insertion order.
func (s *Store) All() []*TransactionRecord {
	return s.Where(func(*TransactionRecord) bool { return true })
}

// Where returns copies of the records matching the predicate, in insertion
// order.
func (s *Store) Where(match func(*TransactionRecord) bool) []*TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TransactionRecord, 0)
	for _, rec := range s.records {
		if match(rec) {
			out = append(out, rec.Copy())
		}
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// HighestConfirmedNonce returns the highest nonce among confirmed records for
// the address on the chain, and whether any exist.
func (s *Store) HighestConfirmedNonce(from common.Address, chainID uint64) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var highest uint64
	found := false
	for _, rec := range s.records {
		if rec.ChainID != chainID || rec.Params.From != from || rec.Status != StatusConfirmed {
			continue
		}
		n, ok := rec.Nonce()
		if !ok {
			continue
		}
		if !found || n > highest {
			highest = n
			found = true
		}
	}
	return highest, found
}

// PendingNonces returns the nonces held by not-yet-confirmed records of the
// address on the chain. Approved and signed records count: their nonces are
// already reserved even before submission.
func (s *Store) PendingNonces(from common.Address, chainID uint64) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uint64
	for _, rec := range s.records {
		if rec.ChainID != chainID || rec.Params.From != from || !rec.Status.IsPending() {
			continue
		}
		if n, ok := rec.Nonce(); ok {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) persist(rec *TransactionRecord) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveRecord(rec); err != nil {
		logger.WithFields(logger.Fields{
			"record_id": rec.ID,
			"error":     err,
		}).Error("couldn't persist transaction record")
	}
}

// trimKey buckets records that must be kept or dropped as a unit: records
// sharing a nonce on the same chain within the same calendar day form one
// same-nonce group in history and splitting them would present a broken
// replacement chain.
type trimKey struct {
	nonce   uint64
	hasN    bool
	id      string // records without a nonce trim individually
	chainID uint64
	day     string
}

func (s *Store) trimKeyFor(rec *TransactionRecord) trimKey {
	k := trimKey{chainID: rec.ChainID, day: rec.Time.UTC().Format("2006-01-02")}
	if n, ok := rec.Nonce(); ok {
		k.nonce, k.hasN = n, true
	} else {
		k.id = rec.ID
	}
	return k
}

// trimLocked prunes the oldest removable groups until the store fits the
// retention limit. Only fully settled groups are removable: terminal records,
// or confirmed records that passed blockchain verification.
func (s *Store) trimLocked() {
	overflow := len(s.records) - s.limit
	if overflow <= 0 {
		return
	}

	type group struct {
		members   []int
		removable bool
	}
	order := make([]trimKey, 0)
	groups := make(map[trimKey]*group)
	for i, rec := range s.records {
		k := s.trimKeyFor(rec)
		g, ok := groups[k]
		if !ok {
			g = &group{removable: true}
			groups[k] = g
			order = append(order, k)
		}
		g.members = append(g.members, i)
		if !s.trimmable(rec) {
			g.removable = false
		}
	}

	drop := make(map[int]bool)
	for _, k := range order {
		if overflow <= 0 {
			break
		}
		g := groups[k]
		if !g.removable {
			continue
		}
		for _, i := range g.members {
			drop[i] = true
		}
		overflow -= len(g.members)
	}
	if len(drop) == 0 {
		return
	}

	kept := make([]*TransactionRecord, 0, len(s.records)-len(drop))
	for i, rec := range s.records {
		if drop[i] {
			if s.persister != nil {
				if err := s.persister.DeleteRecord(rec.ID); err != nil {
					logger.WithFields(logger.Fields{
						"record_id": rec.ID,
						"error":     err,
					}).Error("couldn't delete trimmed record")
				}
			}
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	s.index = make(map[string]int, len(kept))
	for i, rec := range kept {
		s.index[rec.ID] = i
	}
}

func (s *Store) trimmable(rec *TransactionRecord) bool {
	if rec.Status.IsTerminal() {
		return true
	}
	return rec.Status == StatusConfirmed && rec.VerifiedOnBlockchain
}
