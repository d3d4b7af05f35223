package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Provider is an interface for a response cache provider.
// It stores and retrieves []byte values, which represent serialized HTTP
// responses, grouped into named buckets. A bucket corresponds to one cache
// generation: activating a new generation deletes every other bucket.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the cached response for the given key in the given bucket,
	// if it exists. It also returns a boolean indicating whether retrieval
	// was successful.
	Get(bucket, key string) ([]byte, bool, error)
	// Put stores the given response in the bucket under the given key,
	// replacing any previous entry for that key.
	Put(bucket, key string, bytes []byte) error
	// Buckets returns the names of all buckets that currently hold entries.
	Buckets() ([]string, error)
	// DeleteBucket removes a bucket and every entry in it.
	DeleteBucket(bucket string) error
	// Keys calls the given callback for each key in the bucket.
	// It calls the callback in order to enable very large lists of keys to be
	// processable (provider implementation might use paging, for instance).
	Keys(bucket string, cb func(string))
	// Has checks if the specified key exists in the bucket.
	Has(bucket, key string) bool
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) SQLiteCache {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		bucket TEXT,
		key TEXT,
		received_at INTEGER,
		bytes BLOB,
		PRIMARY KEY (bucket, key)
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteCache) Get(bucket, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow(
		"SELECT bytes FROM cache WHERE bucket = ? AND key = ?",
		bucket, key,
	).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(bucket, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO cache (bucket, key, received_at, bytes) VALUES (?, ?, ?, ?)",
		bucket, key, time.Now().Unix(), bytes)
	return err
}

func (s SQLiteCache) Buckets() ([]string, error) {
	buckets := make([]string, 0)
	rows, err := s.db.Query("SELECT DISTINCT bucket FROM cache ORDER BY bucket")
	if err != nil {
		return buckets, err
	}
	defer rows.Close()
	for rows.Next() {
		var bucket string
		if err := rows.Scan(&bucket); err != nil {
			return buckets, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}

func (s SQLiteCache) DeleteBucket(bucket string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE bucket = ?", bucket)
	return err
}

func (s SQLiteCache) Has(bucket, key string) bool {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM cache WHERE bucket = ? AND key = ?",
		bucket, key,
	).Scan(&one)
	return err == nil
}

func (s SQLiteCache) Keys(bucket string, cb func(string)) {
	rows, err := s.db.Query("SELECT key FROM cache WHERE bucket = ?", bucket)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return
		}
		cb(key)
	}
}

type memCacheEntry struct {
	receivedAt time.Time
	bytes      []byte
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string]memCacheEntry
}

// NewMemCache creates a non-durable in-memory cache, mainly for testing.
func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]memCacheEntry),
	}
}

func (m MemCache) Get(bucket, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[bucket][key]
	if !ok {
		return nil, false, nil
	}
	return entry.bytes, true, nil
}

func (m MemCache) Put(bucket, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.db[bucket] == nil {
		m.db[bucket] = make(map[string]memCacheEntry)
	}
	m.db[bucket][key] = memCacheEntry{
		receivedAt: time.Now(),
		bytes:      bytes,
	}
	return nil
}

func (m MemCache) Buckets() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	buckets := make([]string, 0, len(m.db))
	for bucket := range m.db {
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

func (m MemCache) DeleteBucket(bucket string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, bucket)
	return nil
}

func (m MemCache) Has(bucket, key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[bucket][key]
	return ok
}

func (m MemCache) Keys(bucket string, cb func(string)) {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db[bucket]))
	for key := range m.db[bucket] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	for _, key := range keys {
		cb(key)
	}
}
