package syncstore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Doer issues a single HTTP request, like http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Syncer replays pending ship updates against the origin. It is the
// background-sync counterpart of the page-side queue replay: each record is
// POSTed individually, deleted on confirmed success, and left in place on
// failure for the next trigger.
type Syncer struct {
	// Open provides the store connection per pass. If opening fails the
	// pass is skipped and an empty result returned; the record set is
	// retried on the next trigger.
	Open func() (*Store, error)
	// Endpoint receiving each ship update, e.g. https://origin/api/ship-status.
	Endpoint string
	// Client used for posting. http.DefaultClient if nil.
	Client Doer
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Sync runs one replay pass and returns the records confirmed synced.
func (s Syncer) Sync(ctx context.Context) ([]Record, error) {
	logger := log.Logger
	if s.Logger != nil {
		logger = *s.Logger
	}
	logger = logger.With().Str("component", "syncer").Logger()
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	db, err := s.Open()
	if err != nil {
		// Skipping a cycle is recoverable; wedging the sync subsystem is not.
		logger.Error().Err(err).Msg("Could not open sync store, skipping cycle")
		return []Record{}, nil
	}
	defer db.Close()

	records, err := db.AllShipUpdates(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Could not read pending updates, skipping cycle")
		return []Record{}, nil
	}
	if len(records) == 0 {
		return []Record{}, nil
	}
	logger.Info().Int("pending", len(records)).Msg("Syncing ship updates")

	synced := make([]Record, 0, len(records))
	for _, record := range records {
		if err := s.post(ctx, client, record); err != nil {
			logger.Warn().Err(err).Str("id", record.ID).Msg("Sync failed, will retry")
			continue
		}
		if err := db.DeleteShipUpdate(ctx, record.ID); err != nil {
			logger.Error().Err(err).Str("id", record.ID).Msg("Could not delete synced update")
			continue
		}
		synced = append(synced, record)
	}
	logger.Info().Int("synced", len(synced)).Msg("Sync pass complete")
	return synced, nil
}

func (s Syncer) post(ctx context.Context, client Doer, record Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint,
		bytes.NewReader(record.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &statusError{code: res.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}
