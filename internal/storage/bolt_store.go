package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HBNetNetworks/fortinet-wrapper/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const (
	snapshotBucket = "snapshots"
	keySeparator   = 0x00
	stampBytes     = 8
)

// snapshotRecord is the stored value for one report.
type snapshotRecord struct {
	ExpiresAt int64         `json:"expires_at"`
	Report    domain.Report `json:"report"`
}

// boltStore implements a Store backed by BoltDB.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	snapshotTTL     time.Duration
	cleanupInterval time.Duration
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	store := &boltStore{
		db:              db,
		snapshotTTL:     opts.SnapshotTTL,
		cleanupInterval: opts.CleanupInterval,
	}
	store.lastCleanup.Store(time.Now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Save appends the report under <device id>\x00<collected-at nanos>.
func (b *boltStore) Save(report domain.Report) error {
	if b == nil || b.db == nil {
		return nil
	}
	if report.DeviceID == "" {
		return fmt.Errorf("report has no device id")
	}

	now := time.Now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}
	if report.CollectedAt.IsZero() {
		report.CollectedAt = now.UTC()
	}

	value, err := json.Marshal(snapshotRecord{
		ExpiresAt: now.Add(b.snapshotTTL).Unix(),
		Report:    report,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket missing")
		}
		return bucket.Put(snapshotKey(report.DeviceID, report.CollectedAt), value)
	})
}

// Latest returns the most recent unexpired report for the device.
func (b *boltStore) Latest(deviceID string) (domain.Report, bool, error) {
	if b == nil || b.db == nil {
		return domain.Report{}, false, nil
	}

	var (
		found  bool
		report domain.Report
	)
	now := time.Now()
	prefix := devicePrefix(deviceID)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket missing")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var rec snapshotRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			if rec.ExpiresAt <= now.Unix() {
				continue
			}
			report = rec.Report
			found = true
		}
		return nil
	})
	return report, found, err
}

// maybeCleanupExpired removes expired snapshots on a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket missing")
		}

		var expired [][]byte
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var rec snapshotRecord
			if err := json.Unmarshal(v, &rec); err != nil || rec.ExpiresAt <= now.Unix() {
				expired = append(expired, bytes.Clone(k))
			}
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

func devicePrefix(deviceID string) []byte {
	return append([]byte(deviceID), keySeparator)
}

// snapshotKey sorts by device, then chronologically.
func snapshotKey(deviceID string, at time.Time) []byte {
	key := devicePrefix(deviceID)
	stamp := make([]byte, stampBytes)
	binary.BigEndian.PutUint64(stamp, uint64(at.UnixNano()))
	return append(key, stamp...)
}
