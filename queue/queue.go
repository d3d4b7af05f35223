// Package queue implements the durable mutation queue: writes attempted
// while the network is down are appended here and replayed, in order, once
// connectivity returns.
//
// Delivery is at-least-once. A replayed operation whose response is lost
// after the server applied it will be attempted again; mutation endpoints
// are expected to tolerate duplicates.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stevedore-dashboard/offline-edge/store"
)

// Operation is one pending write. Operations are immutable once created and
// removed only after a confirmed successful replay.
type Operation struct {
	Target     string            `json:"target"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// Doer issues a single HTTP request, like http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	// Durable backend holding the serialized queue.
	Store *store.Store
	// Client used for replay. http.DefaultClient if nil.
	Client Doer
	// Online reports current connectivity. If set and false, Replay is a
	// no-op. If nil, replay always attempts the network.
	Online func() bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Queue is a FIFO list of pending operations persisted under the
// operation_queue key of the local store.
type Queue struct {
	store  *store.Store
	client Doer
	online func() bool
	log    zerolog.Logger
}

func New(config Config) *Queue {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Queue{
		store:  config.Store,
		client: client,
		online: config.Online,
		log:    logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue appends the operation and persists the whole queue.
// The enqueue timestamp is assigned here, never by the server.
func (q *Queue) Enqueue(op Operation) error {
	op.EnqueuedAt = time.Now().UTC()
	ops := q.PeekAll()
	ops = append(ops, op)
	q.log.Debug().
		Str("method", op.Method).
		Str("target", op.Target).
		Int("depth", len(ops)).
		Msg("Queued operation for replay")
	return q.persist(ops)
}

// PeekAll returns the queued operations in FIFO order without removing them.
// Missing or corrupt queue data reads as empty.
func (q *Queue) PeekAll() []Operation {
	ops := []Operation{}
	value, ok := q.store.GetRaw(store.KeyOperationQueue)
	if !ok {
		return ops
	}
	if err := json.Unmarshal([]byte(value), &ops); err != nil {
		q.log.Warn().Err(err).Msg("Stored queue unparseable, treating as empty")
		return []Operation{}
	}
	return ops
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	return len(q.PeekAll())
}

func (q *Queue) persist(ops []Operation) error {
	bytes, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	return q.store.SetRaw(store.KeyOperationQueue, string(bytes))
}

// drain reads and returns the queue for a replay pass.
func (q *Queue) drain() []Operation {
	return q.PeekAll()
}

// Replay issues every queued operation against the network, strictly in FIFO
// order and one at a time, then rewrites the persisted queue to contain
// exactly the operations that did not succeed. It returns the operations
// that were confirmed (2xx) and therefore dropped.
//
// A single operation's failure does not abort the pass; the operation is
// simply retained for a later pass. There is no retry cap or backoff: replay
// runs only on fresh online transitions or explicit caller action.
func (q *Queue) Replay(ctx context.Context) ([]Operation, error) {
	if q.online != nil && !q.online() {
		return nil, nil
	}

	ops := q.drain()
	if len(ops) == 0 {
		return nil, nil
	}
	q.log.Info().Int("depth", len(ops)).Msg("Replaying queued operations")

	processed := make([]Operation, 0, len(ops))
	remaining := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if err := q.send(ctx, op); err != nil {
			q.log.Warn().Err(err).
				Str("method", op.Method).
				Str("target", op.Target).
				Msg("Replay failed, operation retained")
			remaining = append(remaining, op)
			continue
		}
		processed = append(processed, op)
	}

	if err := q.persist(remaining); err != nil {
		return processed, err
	}
	q.log.Info().
		Int("processed", len(processed)).
		Int("remaining", len(remaining)).
		Msg("Replay pass complete")
	return processed, nil
}

func (q *Queue) send(ctx context.Context, op Operation) error {
	var body *bytes.Reader
	if len(op.Body) > 0 {
		body = bytes.NewReader(op.Body)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, op.Target, body)
	if err != nil {
		return err
	}
	if len(op.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range op.Headers {
		req.Header.Set(name, value)
	}
	res, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &StatusError{Code: res.StatusCode}
	}
	return nil
}

// StatusError reports a non-2xx replay response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}
