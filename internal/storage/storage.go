// Package storage implements the newsletter document store on top of BoltDB.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketNewsletters    = []byte("newsletters")
	bucketGroups         = []byte("groups")
	bucketRecipients     = []byte("recipients")
	bucketRecipientIndex = []byte("recipient_index")
	bucketEmailIndex     = []byte("email_index")
	bucketEvents         = []byte("tracking_events")
	bucketEventIndex     = []byte("tracking_index")
	bucketAudit          = []byte("audit_log")
	bucketSandbox        = []byte("sandbox")

	allBuckets = [][]byte{
		bucketNewsletters,
		bucketGroups,
		bucketRecipients,
		bucketRecipientIndex,
		bucketEmailIndex,
		bucketEvents,
		bucketEventIndex,
		bucketAudit,
		bucketSandbox,
	}
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key is already taken
	ErrDuplicate = errors.New("already exists")
	// ErrStatusMismatch is returned by conditional status writes when the
	// stored status differs from the expected one
	ErrStatusMismatch = errors.New("status mismatch")
)

// keySep separates components of composite index keys
const keySep = 0x00

// keyTimeFormat is a fixed-width layout so keys sort chronologically
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z"

// BoltStore is the BoltDB backed document store
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) the store at path
func Open(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying BoltDB instance
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}

// SetClock overrides the time source used for timestamps
func (s *BoltStore) SetClock(now func() time.Time) {
	s.now = now
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(keyTimeFormat) + ":" + id)
}

// compositeKey joins parts with keySep
func compositeKey(parts ...string) []byte {
	var key []byte
	for i, p := range parts {
		if i > 0 {
			key = append(key, keySep)
		}
		key = append(key, p...)
	}
	return key
}

// prefixKey is compositeKey with a trailing separator, for prefix scans
func prefixKey(parts ...string) []byte {
	return append(compositeKey(parts...), keySep)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	return b.Put(key, data)
}
