// Package txdb is the durable backing for the transaction record store,
// implemented on badger. The engine's in-memory store stays authoritative at
// runtime; this database only has to survive restarts.
package txdb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/dgraph-io/badger/v4"

	txengine "github.com/block-wallet/extension-sub006"
)

var (
	// recordPrefix namespaces transaction records, keyed by record ID.
	recordPrefix = []byte("txrecord-")
	// signTimeoutKey holds the persisted signing timeout as big-endian
	// nanoseconds.
	signTimeoutKey = []byte("signtimeout")
)

const gcInterval = 5 * time.Minute

// DB is a badger-backed txengine.Persister.
type DB struct {
	db   *badger.DB
	wg   sync.WaitGroup
	quit chan struct{}
}

var _ txengine.Persister = (*DB)(nil)

// Open creates or opens the database at dir and starts the value-log GC
// loop.
func Open(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(&badgerLoggerWrapper{})
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("couldn't open transaction db at %q: %w", dir, err)
	}

	d := &DB{
		db:   bdb,
		quit: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.gcLoop()
	return d, nil
}

// Close stops the GC loop and closes the underlying database.
func (d *DB) Close() error {
	close(d.quit)
	d.wg.Wait()
	return d.db.Close()
}

// gcLoop periodically reclaims value-log space. Each tick keeps collecting
// until badger reports nothing left to rewrite.
func (d *DB) gcLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			for d.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func recordKey(id string) []byte {
	return append(recordPrefix[:len(recordPrefix):len(recordPrefix)], id...)
}

// SaveRecord upserts a record as JSON under its ID.
func (d *DB) SaveRecord(rec *txengine.TransactionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("couldn't marshal record %s: %w", rec.ID, err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	})
}

// DeleteRecord removes a record. Deleting an absent ID is not an error.
func (d *DB) DeleteRecord(id string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(id))
	})
}

// LoadRecords returns every persisted record. A record that fails to decode
// is skipped with a log line rather than poisoning the whole restore.
func (d *DB) LoadRecords() ([]*txengine.TransactionRecord, error) {
	var recs []*txengine.TransactionRecord
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec := new(txengine.TransactionRecord)
				if err := json.Unmarshal(val, rec); err != nil {
					logger.WithFields(logger.Fields{
						"key":   string(item.Key()),
						"error": err,
					}).Error("couldn't decode persisted record, skipping")
					return nil
				}
				recs = append(recs, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't load records: %w", err)
	}
	return recs, nil
}

// SaveSignTimeout persists the signing timeout.
func (d *DB) SaveSignTimeout(timeout time.Duration) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(timeout))
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(signTimeoutKey, buf[:])
	})
}

// LoadSignTimeout returns the persisted signing timeout, or zero when none
// was ever saved.
func (d *DB) LoadSignTimeout() (time.Duration, error) {
	var timeout time.Duration
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(signTimeoutKey)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("malformed sign timeout value, %d bytes", len(val))
			}
			timeout = time.Duration(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("couldn't load sign timeout: %w", err)
	}
	return timeout, nil
}

// badgerLoggerWrapper feeds badger's logging through the engine's logger at
// a muted level; badger is chatty at Info.
type badgerLoggerWrapper struct{}

var _ badger.Logger = (*badgerLoggerWrapper)(nil)

func (*badgerLoggerWrapper) Errorf(format string, args ...interface{}) {
	logger.Errorf("txdb: "+strings.TrimSpace(format), args...)
}

func (*badgerLoggerWrapper) Warningf(format string, args ...interface{}) {
	logger.Warnf("txdb: "+strings.TrimSpace(format), args...)
}

func (*badgerLoggerWrapper) Infof(format string, args ...interface{}) {
	logger.Debugf("txdb: "+strings.TrimSpace(format), args...)
}

func (*badgerLoggerWrapper) Debugf(format string, args ...interface{}) {
	logger.Debugf("txdb: "+strings.TrimSpace(format), args...)
}
