package trust

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("config")

// BoltStore keeps records in a bbolt database under the "config"
// bucket, keyed exactly like the file layout.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening trust database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising trust database %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

// Load implements [Store].
func (s *BoltStore) Load(host string) (string, bool, error) {
	if err := validHost(host); err != nil {
		return "", false, err
	}
	var fp string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		// The value is only valid inside the transaction.
		fp = string(b.Get([]byte(Key(host))))
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", Key(host), err)
	}
	return fp, fp != "", nil
}

// Save implements [Store].
func (s *BoltStore) Save(host, fingerprint string) error {
	if err := validHost(host); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(Key(host)), []byte(fingerprint))
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", Key(host), err)
	}
	return nil
}

// Close implements [Store].
func (s *BoltStore) Close() error { return s.db.Close() }
