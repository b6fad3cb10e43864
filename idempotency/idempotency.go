// Package idempotency deduplicates retried transaction submissions. A caller
// that retries AddTransaction with the same key is pointed back at the record
// the first attempt created instead of broadcasting twice.
package idempotency

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrDuplicateKey signals that the key already has a live record. The
	// existing record accompanies the error so callers can resume it.
	ErrDuplicateKey = fmt.Errorf("duplicate idempotency key: transaction already submitted")

	// ErrKeyNotFound signals a lookup for a key with no live record.
	ErrKeyNotFound = fmt.Errorf("idempotency key not found")
)

// Status tracks how far the keyed submission got.
type Status int

const (
	StatusPending   Status = iota // record created, not yet broadcast
	StatusSubmitted               // broadcast to the network
	StatusConfirmed               // mined and confirmed
	StatusFailed                  // failed permanently
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusSubmitted: "submitted",
	StatusConfirmed: "confirmed",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Record ties an idempotency key to the lifecycle record it produced.
type Record struct {
	Key       string
	Status    Status
	RecordID  string
	TxHash    common.Hash
	Error     error
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store maps idempotency keys to their submission outcomes.
type Store interface {
	// Get returns the live record for key, or ErrKeyNotFound.
	Get(key string) (*Record, error)

	// Create claims key. If a live record already holds it, Create
	// returns that record together with ErrDuplicateKey.
	Create(key string) (*Record, error)

	// Update replaces the stored record for record.Key.
	Update(record *Record) error

	// Delete releases key. Deleting an absent key is a no-op.
	Delete(key string) error
}

// InMemoryStore keeps records in a map with optional expiry. Expired
// records are treated as absent on every read and swept by a background
// janitor; a zero TTL keeps records forever.
//
// All methods return copies, so mutating a returned Record has no effect
// until it is passed back through Update.
type InMemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*Record
	ttl   time.Duration
	now   func() time.Time

	quit     chan struct{}
	stopOnce sync.Once
}

// NewInMemoryStore creates a store whose records expire after ttl. With a
// positive ttl a janitor goroutine runs until Stop is called.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	s := &InMemoryStore{
		byKey: make(map[string]*Record),
		ttl:   ttl,
		now:   time.Now,
		quit:  make(chan struct{}),
	}
	if ttl > 0 {
		go s.janitor()
	}
	return s
}

// Stop terminates the janitor. Safe to call more than once.
func (s *InMemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// expired reports whether rec is past its TTL. Holds no lock.
func (s *InMemoryStore) expired(rec *Record) bool {
	return s.ttl > 0 && s.now().Sub(rec.CreatedAt) > s.ttl
}

func (s *InMemoryStore) Get(key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byKey[key]
	if !ok || s.expired(rec) {
		return nil, ErrKeyNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) Create(key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byKey[key]; ok && !s.expired(prev) {
		cp := *prev
		return &cp, ErrDuplicateKey
	}

	now := s.now()
	rec := &Record{
		Key:       key,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byKey[key] = rec

	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) Update(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byKey[record.Key]
	if !ok || s.expired(prev) {
		return ErrKeyNotFound
	}

	cp := *record
	cp.CreatedAt = prev.CreatedAt
	cp.UpdatedAt = s.now()
	s.byKey[record.Key] = &cp
	return nil
}

func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byKey, key)
	return nil
}

// Len returns the number of stored records, expired ones included until
// the janitor sweeps them.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func (s *InMemoryStore) janitor() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.byKey {
		if s.expired(rec) {
			delete(s.byKey, key)
		}
	}
}
