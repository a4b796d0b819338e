// Package archive provides an optional local mirror of forwarded records
// using BoltDB (bbolt). Writes are best-effort; the relay logs and drops
// archive failures without touching the primary forward path.
package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"tapline/internal/relay"
)

// Bucket names for organizing data
var (
	// BucketPosts stores record JSON keyed by post id
	BucketPosts = []byte("posts")

	// BucketByTime indexes post ids by forward time: {unixnano:post_id} -> {}
	BucketByTime = []byte("by_time")

	// BucketMeta stores counters and metadata
	BucketMeta = []byte("meta")
)

var keyRecordCount = []byte("record_count")

// Store wraps a BoltDB database holding the forwarded-record archive.
type Store struct {
	db *bolt.DB
}

// Options configures the archive store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// Timeout for obtaining a file lock on the database.
	// If zero, a default of 5 seconds is used.
	Timeout time.Duration

	// FileMode for creating the database file.
	// If zero, 0600 is used.
	FileMode os.FileMode
}

// Open creates or opens the archive database at the specified path and
// creates the buckets if they don't exist.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "tapline.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{BucketPosts, BucketByTime, BucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Archive writes one record. Re-archiving the same post id overwrites the
// stored copy without inflating the count.
func (s *Store) Archive(rec relay.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		posts := tx.Bucket(BucketPosts)
		key := []byte(rec.TweetID)

		fresh := posts.Get(key) == nil
		if err := posts.Put(key, data); err != nil {
			return err
		}

		timeKey := make([]byte, 8, 8+len(rec.TweetID)+1)
		binary.BigEndian.PutUint64(timeKey, uint64(rec.Timestamp.UnixNano()))
		timeKey = append(timeKey, ':')
		timeKey = append(timeKey, rec.TweetID...)
		if err := tx.Bucket(BucketByTime).Put(timeKey, nil); err != nil {
			return err
		}

		if fresh {
			meta := tx.Bucket(BucketMeta)
			count := getUint64(meta, keyRecordCount) + 1
			return putUint64(meta, keyRecordCount, count)
		}
		return nil
	})
}

// Get returns the archived record for a post id, or nil when absent.
func (s *Store) Get(tweetID string) (*relay.Record, error) {
	var rec *relay.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketPosts).Get([]byte(tweetID))
		if data == nil {
			return nil
		}
		var r relay.Record
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
		rec = &r
		return nil
	})
	return rec, err
}

// Count returns the number of archived records.
func (s *Store) Count() int {
	var count uint64
	s.db.View(func(tx *bolt.Tx) error {
		count = getUint64(tx.Bucket(BucketMeta), keyRecordCount)
		return nil
	})
	return int(count)
}

func getUint64(b *bolt.Bucket, key []byte) uint64 {
	data := b.Get(key)
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func putUint64(b *bolt.Bucket, key []byte, v uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, v)
	return b.Put(key, data)
}
