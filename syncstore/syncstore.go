// Package syncstore is the interception layer's own durable store. It holds
// the domain-update records the layer queues for background sync, in the
// StevedoreDB schema: shipUpdates and berthStatus tables keyed by id.
//
// This store is deliberately disjoint from the page-side mutation queue: the
// interception layer runs in its own context, cannot see page memory, and
// coordinates with the page only through the network.
//
// Records are keyed by caller-supplied string ids, generated as uuids at
// record creation. Both contexts use this same key policy.
package syncstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "github.com/glebarez/go-sqlite"
)

const (
	// DBName is the durable database name shared by both contexts.
	DBName = "StevedoreDB"
	// SchemaVersion is recorded in the sqlite user_version pragma.
	SchemaVersion = 1

	tableShipUpdates = "shipUpdates"
	tableBerthStatus = "berthStatus"
)

// Record is one pending domain update awaiting background sync.
type Record struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Store struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// Open opens (and if needed creates) the store at the given filename.
// Unlike the page-side store, open failures are returned rather than
// panicking: the background-sync path must degrade to a skipped cycle, not
// a crash loop.
func Open(filename string) (*Store, error) {
	if filename == "" {
		filename = DBName
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", DBName, err)
	}
	for _, table := range []string{tableShipUpdates, tableBerthStatus} {
		_, err = db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payload TEXT,
			created_at INTEGER
		)`, table))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s: %w", table, err)
		}
	}
	if _, err = db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		db.Close()
		return nil, err
	}
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, writeMutex: &sync.Mutex{}}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(ctx context.Context, table string, payload json.RawMessage) (Record, error) {
	record := Record{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	// nanosecond resolution keeps FIFO order stable within the same second
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, payload, created_at) VALUES (?, ?, ?)", table),
		record.ID, string(record.Payload), record.CreatedAt.UnixNano())
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

func (s *Store) all(ctx context.Context, table string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, payload, created_at FROM %s ORDER BY created_at, id", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make([]Record, 0)
	for rows.Next() {
		var record Record
		var payload string
		var createdAt int64
		if err := rows.Scan(&record.ID, &payload, &createdAt); err != nil {
			return records, err
		}
		record.Payload = json.RawMessage(payload)
		record.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) delete(ctx context.Context, table, id string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	return err
}

// PutShipUpdate queues a ship status update for background sync.
func (s *Store) PutShipUpdate(ctx context.Context, payload json.RawMessage) (Record, error) {
	return s.put(ctx, tableShipUpdates, payload)
}

// AllShipUpdates returns pending ship updates in FIFO order.
func (s *Store) AllShipUpdates(ctx context.Context) ([]Record, error) {
	return s.all(ctx, tableShipUpdates)
}

// DeleteShipUpdate removes a confirmed-synced ship update.
func (s *Store) DeleteShipUpdate(ctx context.Context, id string) error {
	return s.delete(ctx, tableShipUpdates, id)
}

// PutBerthStatus queues a berth status record for background sync.
func (s *Store) PutBerthStatus(ctx context.Context, payload json.RawMessage) (Record, error) {
	return s.put(ctx, tableBerthStatus, payload)
}

// AllBerthStatus returns pending berth status records in FIFO order.
func (s *Store) AllBerthStatus(ctx context.Context) ([]Record, error) {
	return s.all(ctx, tableBerthStatus)
}

// DeleteBerthStatus removes a confirmed-synced berth status record.
func (s *Store) DeleteBerthStatus(ctx context.Context, id string) error {
	return s.delete(ctx, tableBerthStatus, id)
}
