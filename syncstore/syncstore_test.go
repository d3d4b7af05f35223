package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	s, err := Open(t.TempDir() + "/" + DBName)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShipUpdatesFIFO(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.PutShipUpdate(ctx, json.RawMessage(`{"shipId":1,"status":"docked"}`))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.PutShipUpdate(ctx, json.RawMessage(`{"shipId":2,"status":"departed"}`))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID || first.ID == "" {
		t.Fatalf("Record ids are %q, %q", first.ID, second.ID)
	}

	records, err := s.AllShipUpdates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].ID != first.ID || records[1].ID != second.ID {
		t.Fatalf("Records are %+v", records)
	}

	if err := s.DeleteShipUpdate(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	records, _ = s.AllShipUpdates(ctx)
	if len(records) != 1 || records[0].ID != second.ID {
		t.Fatalf("Records after delete are %+v", records)
	}
}

func TestBerthStatusIsSeparate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.PutBerthStatus(ctx, json.RawMessage(`{"berth":"B3","occupied":true}`)); err != nil {
		t.Fatal(err)
	}
	ships, _ := s.AllShipUpdates(ctx)
	berths, _ := s.AllBerthStatus(ctx)
	if len(ships) != 0 || len(berths) != 1 {
		t.Fatalf("Ship updates %d, berth records %d", len(ships), len(berths))
	}
}

func TestSyncDeletesConfirmedRecords(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	open := func() (*Store, error) { return Open(dir + "/" + DBName) }

	setup, err := open()
	if err != nil {
		t.Fatal(err)
	}
	setup.PutShipUpdate(context.Background(), json.RawMessage(`{"shipId":1}`))
	setup.PutShipUpdate(context.Background(), json.RawMessage(`{"shipId":2}`))
	setup.Close()

	syncer := Syncer{Open: open, Endpoint: server.URL + "/api/ship-status"}
	synced, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(synced) != 2 {
		t.Fatalf("Synced %d records", len(synced))
	}
	if len(bodies) != 2 || bodies[0] != `{"shipId":1}` || bodies[1] != `{"shipId":2}` {
		t.Fatalf("Posted bodies were %v", bodies)
	}

	check, _ := open()
	defer check.Close()
	records, _ := check.AllShipUpdates(context.Background())
	if len(records) != 0 {
		t.Fatalf("Confirmed records still stored: %+v", records)
	}
}

func TestSyncRetainsFailedRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	dir := t.TempDir()
	open := func() (*Store, error) { return Open(dir + "/" + DBName) }
	setup, _ := open()
	setup.PutShipUpdate(context.Background(), json.RawMessage(`{"shipId":1}`))
	setup.Close()

	syncer := Syncer{Open: open, Endpoint: server.URL + "/api/ship-status"}
	synced, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(synced) != 0 {
		t.Fatalf("Synced %d records", len(synced))
	}

	check, _ := open()
	defer check.Close()
	records, _ := check.AllShipUpdates(context.Background())
	if len(records) != 1 {
		t.Fatalf("Failed record was dropped: %+v", records)
	}
}

func TestSyncSkipsCycleWhenStoreUnavailable(t *testing.T) {
	syncer := Syncer{
		Open:     func() (*Store, error) { return nil, errors.New("disk gone") },
		Endpoint: "http://origin.invalid/api/ship-status",
	}
	synced, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if synced == nil || len(synced) != 0 {
		t.Fatalf("Skipped cycle returned %v", synced)
	}
}
