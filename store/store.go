// Package store implements the dashboard's local persistent store: durable
// key/value snapshots of the domain data (ships, analytics, settings) plus
// the last-sync timestamp. Values are serialized to JSON text on write and
// parsed on read; unparseable values read as the key's default.
//
// Each execution context opens its own store. The store is single-writer per
// context by construction, so there is no cross-process locking protocol.
package store

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/glebarez/go-sqlite"
)

// Persisted key names. These are stable and shared with the serving backend's
// expectations for exported backups.
const (
	KeyShips          = "ships_data"
	KeyAnalytics      = "analytics_data"
	KeySettings       = "app_settings"
	KeyLastSync       = "last_sync_time"
	KeyOperationQueue = "operation_queue"
)

// KV is durable string-to-string storage.
//
// Implementations must be thread-safe!
type KV interface {
	// Get returns the value for the key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores the value under the key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(key string) error
}

type SQLiteKV struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteKV creates a new KV store with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteKV(filename string) SQLiteKV {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteKV{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s SQLiteKV) Set(key, value string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s SQLiteKV) Remove(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

type MemKV struct {
	mutex *sync.RWMutex
	db    map[string]string
}

// NewMemKV creates a non-durable in-memory KV store, mainly for testing.
func NewMemKV() MemKV {
	return MemKV{
		mutex: &sync.RWMutex{},
		db:    make(map[string]string),
	}
}

func (m MemKV) Get(key string) (string, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.db[key]
	return value, ok, nil
}

func (m MemKV) Set(key, value string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = value
	return nil
}

func (m MemKV) Remove(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

// Ship is one vessel row of the ships snapshot.
type Ship struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
	Berth  string `json:"berth,omitempty"`
	ETA    string `json:"eta,omitempty"`
}

// Settings is the dashboard configuration snapshot.
type Settings struct {
	Theme             string `json:"theme"`
	AutoRefresh       bool   `json:"autoRefresh"`
	RefreshIntervalMs int    `json:"refreshIntervalMs"`
}

// DefaultSettings is the configuration seeded by Init.
func DefaultSettings() Settings {
	return Settings{
		Theme:             "light",
		AutoRefresh:       true,
		RefreshIntervalMs: 30000,
	}
}

// Backup is the exported form of the store contents.
type Backup struct {
	Ships      json.RawMessage `json:"ships"`
	Analytics  json.RawMessage `json:"analytics"`
	Settings   Settings        `json:"settings"`
	LastSync   string          `json:"lastSync,omitempty"`
	ExportDate string          `json:"exportDate"`
}

type Config struct {
	// Durable key/value backend.
	KV KV
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Store exposes the typed snapshot operations on top of a KV backend.
type Store struct {
	kv  KV
	log zerolog.Logger
}

// New creates a store on top of the given KV backend and seeds defaults.
func New(config Config) *Store {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	s := &Store{
		kv:  config.KV,
		log: logger.With().Str("component", "store").Logger(),
	}
	s.Init()
	return s
}

// Init seeds each snapshot key with its default value if the key is absent.
// It never overwrites existing data and is safe to call any number of times.
func (s *Store) Init() {
	s.seed(KeyShips, "[]")
	s.seed(KeyAnalytics, "{}")
	defaults, _ := json.Marshal(DefaultSettings())
	s.seed(KeySettings, string(defaults))
}

func (s *Store) seed(key, value string) {
	if _, ok, err := s.kv.Get(key); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not read key during init")
	} else if !ok {
		if err := s.kv.Set(key, value); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("Could not seed key")
		}
	}
}

// GetRaw returns the raw serialized value for a key.
func (s *Store) GetRaw(key string) (string, bool) {
	value, ok, err := s.kv.Get(key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not read key")
		return "", false
	}
	return value, ok
}

// SetRaw stores an already-serialized value under a key.
func (s *Store) SetRaw(key, value string) error {
	return s.kv.Set(key, value)
}

// Remove deletes a key.
func (s *Store) Remove(key string) error {
	return s.kv.Remove(key)
}

// getJSON reads the key and unmarshals it into out.
// Absent or unparseable values leave out untouched and return false.
func (s *Store) getJSON(key string, out interface{}) bool {
	value, ok := s.GetRaw(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Stored value unparseable, using default")
		return false
	}
	return true
}

// Ships returns the ships snapshot. Missing or corrupt data reads as empty.
func (s *Store) Ships() []Ship {
	ships := []Ship{}
	s.getJSON(KeyShips, &ships)
	return ships
}

// ShipsRaw returns the ships snapshot without decoding.
func (s *Store) ShipsRaw() json.RawMessage {
	value, ok := s.GetRaw(KeyShips)
	if !ok || !json.Valid([]byte(value)) {
		return json.RawMessage("[]")
	}
	return json.RawMessage(value)
}

// SaveShips overwrites the ships snapshot wholesale and bumps the sync time.
func (s *Store) SaveShips(ships []Ship) error {
	bytes, err := json.Marshal(ships)
	if err != nil {
		return err
	}
	return s.SaveShipsRaw(bytes)
}

// SaveShipsRaw overwrites the ships snapshot with pre-serialized JSON.
func (s *Store) SaveShipsRaw(raw json.RawMessage) error {
	if err := s.kv.Set(KeyShips, string(raw)); err != nil {
		return err
	}
	s.UpdateLastSync()
	return nil
}

// AddShip appends a ship to the snapshot.
func (s *Store) AddShip(ship Ship) error {
	return s.SaveShips(append(s.Ships(), ship))
}

// UpdateShip merges non-zero fields of updates into the ship with the given id.
// Unknown ids are ignored.
func (s *Store) UpdateShip(id int64, updates Ship) error {
	ships := s.Ships()
	for i := range ships {
		if ships[i].ID != id {
			continue
		}
		if updates.Name != "" {
			ships[i].Name = updates.Name
		}
		if updates.Status != "" {
			ships[i].Status = updates.Status
		}
		if updates.Berth != "" {
			ships[i].Berth = updates.Berth
		}
		if updates.ETA != "" {
			ships[i].ETA = updates.ETA
		}
		return s.SaveShips(ships)
	}
	return nil
}

// DeleteShip removes the ship with the given id from the snapshot.
func (s *Store) DeleteShip(id int64) error {
	ships := s.Ships()
	kept := ships[:0]
	for _, ship := range ships {
		if ship.ID != id {
			kept = append(kept, ship)
		}
	}
	return s.SaveShips(kept)
}

// Analytics returns the analytics snapshot. Missing or corrupt data reads
// as an empty object.
func (s *Store) Analytics() map[string]interface{} {
	analytics := map[string]interface{}{}
	s.getJSON(KeyAnalytics, &analytics)
	return analytics
}

// AnalyticsRaw returns the analytics snapshot without decoding.
func (s *Store) AnalyticsRaw() json.RawMessage {
	value, ok := s.GetRaw(KeyAnalytics)
	if !ok || !json.Valid([]byte(value)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(value)
}

// SaveAnalyticsRaw overwrites the analytics snapshot and bumps the sync time.
func (s *Store) SaveAnalyticsRaw(raw json.RawMessage) error {
	if err := s.kv.Set(KeyAnalytics, string(raw)); err != nil {
		return err
	}
	s.UpdateLastSync()
	return nil
}

// Settings returns the settings snapshot, falling back to defaults.
func (s *Store) Settings() Settings {
	settings := DefaultSettings()
	s.getJSON(KeySettings, &settings)
	return settings
}

// SaveSettings overwrites the settings snapshot. The sync time is not
// touched: settings are local-only state.
func (s *Store) SaveSettings(settings Settings) error {
	bytes, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.kv.Set(KeySettings, string(bytes))
}

// UpdateLastSync records now as the last confirmed sync time.
// The timestamp is advisory, for UI display only.
func (s *Store) UpdateLastSync() {
	if err := s.kv.Set(KeyLastSync, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Error().Err(err).Msg("Could not update last sync time")
	}
}

// LastSync returns the last confirmed sync time, if one is recorded.
func (s *Store) LastSync() (time.Time, bool) {
	value, ok := s.GetRaw(KeyLastSync)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Export returns a backup of all snapshot data.
func (s *Store) Export() Backup {
	backup := Backup{
		Ships:      s.ShipsRaw(),
		Analytics:  s.AnalyticsRaw(),
		Settings:   s.Settings(),
		ExportDate: time.Now().UTC().Format(time.RFC3339),
	}
	if lastSync, ok := s.GetRaw(KeyLastSync); ok {
		backup.LastSync = lastSync
	}
	return backup
}

// Import restores snapshot data from a backup. Absent fields are skipped.
func (s *Store) Import(backup Backup) error {
	if len(backup.Ships) > 0 {
		if err := s.SaveShipsRaw(backup.Ships); err != nil {
			return err
		}
	}
	if len(backup.Analytics) > 0 {
		if err := s.SaveAnalyticsRaw(backup.Analytics); err != nil {
			return err
		}
	}
	if backup.Settings != (Settings{}) {
		if err := s.SaveSettings(backup.Settings); err != nil {
			return err
		}
	}
	return nil
}

// Clear resets every known key to its initialized default, dropping any
// queued operations as well.
func (s *Store) Clear() error {
	for _, key := range []string{KeyShips, KeyAnalytics, KeySettings, KeyLastSync, KeyOperationQueue} {
		if err := s.kv.Remove(key); err != nil {
			return err
		}
	}
	s.Init()
	return nil
}
