package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	nameKeyPrefix   = "name:"
	expiryKeyPrefix = "expiry:"
)

// Cache remembers successful resolutions for a fixed TTL.
type Cache interface {
	Get(ctx context.Context, service Service, name string) (string, bool, error)
	Put(ctx context.Context, service Service, name, address string) error
}

type cachedEntry struct {
	Address   string `json:"address"`
	ExpiresAt int64  `json:"expiresAt"`
}

// LevelDBCache is a Cache persisted in LevelDB with an expiry index so stale
// entries can be pruned in key order.
type LevelDBCache struct {
	db  *leveldb.DB
	ttl time.Duration
	now func() time.Time
}

// OpenLevelDBCache opens (or creates) the cache at path.
func OpenLevelDBCache(path string, ttl time.Duration) (*LevelDBCache, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("identity: cache path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("identity: resolve cache path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: open cache: %w", err)
	}
	return newLevelDBCache(db, ttl), nil
}

// NewMemoryCache returns a LevelDB cache backed by memory storage.
func NewMemoryCache(ttl time.Duration) (*LevelDBCache, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("identity: open memory cache: %w", err)
	}
	return newLevelDBCache(db, ttl), nil
}

func newLevelDBCache(db *leveldb.DB, ttl time.Duration) *LevelDBCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LevelDBCache{db: db, ttl: ttl, now: time.Now}
}

func (c *LevelDBCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached address; expired entries read as misses.
func (c *LevelDBCache) Get(ctx context.Context, service Service, name string) (string, bool, error) {
	if c == nil || c.db == nil {
		return "", false, nil
	}
	raw, err := c.db.Get([]byte(nameKey(service, name)), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("identity: cache get: %w", err)
	}
	var entry cachedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", false, nil
	}
	if c.now().UnixNano() >= entry.ExpiresAt {
		return "", false, nil
	}
	return entry.Address, true, nil
}

// Put stores address for name, replacing any earlier expiry index entry.
func (c *LevelDBCache) Put(ctx context.Context, service Service, name, address string) error {
	if c == nil || c.db == nil {
		return nil
	}
	composite := string(service) + ":" + name
	key := []byte(nameKeyPrefix + composite)
	batch := new(leveldb.Batch)
	if raw, err := c.db.Get(key, nil); err == nil {
		var previous cachedEntry
		if json.Unmarshal(raw, &previous) == nil {
			batch.Delete([]byte(expiryKey(previous.ExpiresAt, composite)))
		}
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("identity: cache get: %w", err)
	}
	expires := c.now().Add(c.ttl).UnixNano()
	encoded, err := json.Marshal(cachedEntry{Address: address, ExpiresAt: expires})
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	batch.Put([]byte(expiryKey(expires, composite)), nil)
	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("identity: cache put: %w", err)
	}
	return nil
}

// Prune deletes entries that expired before now and returns how many went.
func (c *LevelDBCache) Prune(ctx context.Context) (int, error) {
	if c == nil || c.db == nil {
		return 0, nil
	}
	cutoff := []byte(expiryKey(c.now().UnixNano(), ""))
	iter := c.db.NewIterator(util.BytesPrefix([]byte(expiryKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	removed := 0
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if string(iter.Key()) >= string(cutoff) {
			break
		}
		composite, ok := parseExpiryKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(nameKeyPrefix + composite))
		removed++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("identity: iterate expiries: %w", err)
	}
	if batch.Len() > 0 {
		if err := c.db.Write(batch, nil); err != nil {
			return 0, fmt.Errorf("identity: prune cache: %w", err)
		}
	}
	return removed, nil
}

func nameKey(service Service, name string) string {
	return nameKeyPrefix + string(service) + ":" + name
}

func expiryKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", expiryKeyPrefix, nanos, composite)
}

func parseExpiryKey(key []byte) (string, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", false
	}
	return parts[2], true
}
