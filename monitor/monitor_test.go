package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stevedore-dashboard/offline-edge/queue"
	"github.com/stevedore-dashboard/offline-edge/store"
)

type fakeReplayer struct {
	calls     int
	processed []queue.Operation
}

func (f *fakeReplayer) Replay(ctx context.Context) ([]queue.Operation, error) {
	f.calls++
	return f.processed, nil
}

func TestOnlineTransitionTogglesIndicatorAndReplays(t *testing.T) {
	replayer := &fakeReplayer{processed: []queue.Operation{{Target: "/x", Method: "POST"}}}
	var indicator []bool
	var reported int
	m := New(Config{
		Queue:      replayer,
		OnChange:   func(online bool) { indicator = append(indicator, online) },
		OnReplayed: func(processed int) { reported = processed },
	})

	ctx := context.Background()
	m.SetOnline(ctx, false)
	m.SetOnline(ctx, true)

	if len(indicator) != 2 || indicator[0] != false || indicator[1] != true {
		t.Fatalf("Indicator transitions were %v", indicator)
	}
	if replayer.calls != 1 {
		t.Fatalf("Replay called %d times", replayer.calls)
	}
	if reported != 1 {
		t.Fatalf("Reported %d processed operations", reported)
	}
}

func TestRepeatedStateIsNoop(t *testing.T) {
	replayer := &fakeReplayer{}
	var changes int
	m := New(Config{
		Queue:    replayer,
		OnChange: func(bool) { changes++ },
	})

	// monitor starts online
	m.SetOnline(context.Background(), true)

	if changes != 0 || replayer.calls != 0 {
		t.Fatalf("No-op signal caused %d changes, %d replays", changes, replayer.calls)
	}
}

func TestOfflineTransitionDoesNotReplay(t *testing.T) {
	replayer := &fakeReplayer{}
	m := New(Config{Queue: replayer})

	m.SetOnline(context.Background(), false)

	if replayer.calls != 0 {
		t.Fatalf("Offline transition replayed %d times", replayer.calls)
	}
	if m.Online() {
		t.Fatal("Monitor still reports online")
	}
}

// Full reconnect scenario: a queued POST is replayed against a live origin
// and the reported processed count is 1.
func TestReconnectDrainsQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := store.New(store.Config{KV: store.NewMemKV()})
	q := queue.New(queue.Config{Store: s})
	q.Enqueue(queue.Operation{Target: server.URL + "/x", Method: "POST"})

	var reported int
	m := New(Config{
		Queue:      q,
		OnReplayed: func(processed int) { reported = processed },
	})

	ctx := context.Background()
	m.SetOnline(ctx, false)
	m.SetOnline(ctx, true)

	if reported != 1 {
		t.Fatalf("Reported %d processed operations", reported)
	}
	if q.Len() != 0 {
		t.Fatalf("Queue depth after reconnect is %d", q.Len())
	}
}

func TestHTTPProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	prober := HTTPProber{URL: server.URL}

	if !prober.Online(context.Background()) {
		t.Fatal("Prober reports offline against a live server")
	}
	server.Close()
	if prober.Online(context.Background()) {
		t.Fatal("Prober reports online against a closed server")
	}
}
