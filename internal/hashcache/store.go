package hashcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var entriesBucket = []byte("entries")

const keySeparator = "\x00"

// Entry is one persisted digest
type Entry struct {
	Size           int64     `json:"size"`
	ModTime        int64     `json:"mod_time"`
	Algorithm      string    `json:"algorithm"`
	Digest         string    `json:"digest"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

// Matches reports whether the entry is still valid for a file of the
// given size and modification time.
func (e Entry) Matches(size int64, modTime time.Time) bool {
	return e.Size == size && e.ModTime == modTime.UnixNano()
}

// Key builds the store key for a normalized path and algorithm key
func Key(path, algorithm string) []byte {
	return []byte(path + keySeparator + algorithm)
}

// SplitKey reverses Key
func SplitKey(key []byte) (path, algorithm string, ok bool) {
	i := bytes.LastIndex(key, []byte(keySeparator))
	if i < 0 {
		return "", "", false
	}
	return string(key[:i]), string(key[i+1:]), true
}

// store wraps the bbolt database holding cache entries
type store struct {
	db   *bolt.DB
	path string
}

func openStore(path string, timeout time.Duration) (*store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open hash cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize hash cache: %w", err)
	}

	return &store{db: db, path: path}, nil
}

var errCorrupt = errors.New("undecodable cache entry")

// get returns the entry for key. A value that cannot be decoded is
// reported as errCorrupt and found is false.
func (s *store) get(key []byte) (entry Entry, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(entriesBucket).Get(key)
		if raw == nil {
			return nil
		}
		if jerr := json.Unmarshal(raw, &entry); jerr != nil || entry.Digest == "" {
			return errCorrupt
		}
		found = true
		return nil
	})
	return entry, found, err
}

func (s *store) put(key []byte, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put(key, raw)
	})
}

func (s *store) delete(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// forEach visits every entry; corrupt is true when the value failed to decode
func (s *store) forEach(fn func(key []byte, entry Entry, corrupt bool) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			var entry Entry
			corrupt := json.Unmarshal(v, &entry) != nil || entry.Digest == ""
			key := append([]byte(nil), k...)
			return fn(key, entry, corrupt)
		})
	})
}

func (s *store) count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(entriesBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *store) size() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *store) clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(entriesBucket)
		return err
	})
}

// compact rewrites the database into a fresh file and swaps it in
func (s *store) compact(timeout time.Duration) error {
	tmpPath := s.path + ".compact"
	os.Remove(tmpPath)

	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("failed to open compaction target: %w", err)
	}
	if err := bolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to compact hash cache: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := s.db.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		if db, rerr := bolt.Open(s.path, 0600, &bolt.Options{Timeout: timeout}); rerr == nil {
			s.db = db
		}
		return fmt.Errorf("failed to replace hash cache: %w", err)
	}

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("failed to reopen hash cache: %w", err)
	}
	s.db = db
	return nil
}

func (s *store) close() error {
	return s.db.Close()
}
