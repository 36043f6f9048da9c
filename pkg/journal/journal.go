// Package journal persists in-flight transaction submissions so that an operator can see,
// after a crash or restart, which nonces were broadcast but never confirmed.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.etcd.io/bbolt"
)

var (
	// ErrRecordNotFound is returned when no record exists for a sender and nonce.
	ErrRecordNotFound = errors.New("journal: record not found")

	// ErrNilRecord is returned when a nil record is saved.
	ErrNilRecord = errors.New("journal: nil record")
)

var bucketPending = []byte("pending")

// Record is the persisted form of one pending submission.
type Record struct {
	Sender         common.Address
	Nonce          uint64
	ChainID        *big.Int
	To             *common.Address
	Value          *big.Int
	Data           []byte
	GasLimit       uint64
	IdempotencyKey string

	// Hashes holds every transaction hash broadcast for this nonce, latest last.
	Hashes []common.Hash

	GasPrice  *big.Int
	GasFeeCap *big.Int
	GasTipCap *big.Int

	Replacements int
	SubmittedAt  time.Time
	UpdatedAt    time.Time

	Abandoned bool
	Reason    string
}

// LatestHash returns the most recently broadcast hash.
func (r *Record) LatestHash() common.Hash {
	if len(r.Hashes) == 0 {
		return common.Hash{}
	}
	return r.Hashes[len(r.Hashes)-1]
}

// BoltJournal stores records in a bbolt database, keyed by sender then nonce.
type BoltJournal struct {
	db *bbolt.DB
}

// OpenBoltJournal opens or creates the journal database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltJournal(dbPath string) (*BoltJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPending)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: create bucket: %w", err)
	}
	return &BoltJournal{db: db}, nil
}

// Close closes the underlying database.
func (j *BoltJournal) Close() error { return j.db.Close() }

// recordKey is the 20 byte sender followed by the big-endian nonce, so records sort by
// sender and then nonce.
func recordKey(sender common.Address, nonce uint64) []byte {
	k := make([]byte, common.AddressLength+8)
	copy(k, sender.Bytes())
	binary.BigEndian.PutUint64(k[common.AddressLength:], nonce)
	return k
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Save inserts or replaces the record for (record.Sender, record.Nonce).
func (j *BoltJournal) Save(record *Record) error {
	if record == nil {
		return ErrNilRecord
	}
	record.UpdatedAt = time.Now().UTC()
	data, err := encodeGob(record)
	if err != nil {
		return fmt.Errorf("journal: encode record: %w", err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).Put(recordKey(record.Sender, record.Nonce), data)
	})
}

// Get returns the record for sender and nonce.
func (j *BoltJournal) Get(sender common.Address, nonce uint64) (*Record, error) {
	var record Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPending).Get(recordKey(sender, nonce))
		if data == nil {
			return ErrRecordNotFound
		}
		return decodeGob(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete removes the record for sender and nonce. Deleting a missing record is not an error.
func (j *BoltJournal) Delete(sender common.Address, nonce uint64) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).Delete(recordKey(sender, nonce))
	})
}

// MarkAbandoned flags the record as given up on, keeping it for manual inspection.
func (j *BoltJournal) MarkAbandoned(sender common.Address, nonce uint64, reason string) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		key := recordKey(sender, nonce)
		data := b.Get(key)
		if data == nil {
			return ErrRecordNotFound
		}
		var record Record
		if err := decodeGob(data, &record); err != nil {
			return fmt.Errorf("journal: decode record: %w", err)
		}
		record.Abandoned = true
		record.Reason = reason
		record.UpdatedAt = time.Now().UTC()
		updated, err := encodeGob(&record)
		if err != nil {
			return fmt.Errorf("journal: encode record: %w", err)
		}
		return b.Put(key, updated)
	})
}

// List returns every record ordered by sender and nonce.
func (j *BoltJournal) List() ([]*Record, error) {
	var records []*Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(_, v []byte) error {
			var record Record
			if err := decodeGob(v, &record); err != nil {
				return fmt.Errorf("journal: decode record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
