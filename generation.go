package offlineedge

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tee "github.com/stevedore-dashboard/offline-edge/pkg/response-tee"
)

// Install fetches every URL in the precache manifest into the bucket named
// by the current generation. Installation is all-or-nothing: any fetch
// failure discards the whole bucket and returns an error, leaving the
// previously active generation untouched.
func (o *OfflineEdge) Install(ctx context.Context) error {
	bucket := o.manifest.Generation
	o.log.Info().Int("urls", len(o.manifest.Precache)).Msg("Installing precache")

	for _, path := range o.manifest.Precache {
		if err := o.precache(ctx, bucket, path); err != nil {
			o.log.Error().Err(err).Str("path", path).Msg("Precache fetch failed, discarding generation")
			if delErr := o.cache.DeleteBucket(bucket); delErr != nil {
				o.log.Error().Err(delErr).Msg("Could not discard partial precache")
			}
			return fmt.Errorf("install %s: precache %s: %w", bucket, path, err)
		}
	}
	o.log.Info().Msg("Precache installed")
	return nil
}

func (o *OfflineEdge) precache(ctx context.Context, bucket, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	res, err := o.fetchOrigin(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	recorder := tee.NewRecorder(nil)
	copyHeader(recorder.Header(), res.Header)
	recorder.WriteHeader(res.StatusCode)
	if _, err := io.Copy(recorder, res.Body); err != nil {
		return err
	}
	return o.cache.Put(bucket, path, recorder.Bytes())
}

// Activate makes the current generation the only one: every other bucket is
// deleted, freeing storage from superseded versions. Exactly one bucket
// survives.
func (o *OfflineEdge) Activate() error {
	buckets, err := o.cache.Buckets()
	if err != nil {
		return err
	}
	for _, bucket := range buckets {
		if bucket == o.manifest.Generation {
			continue
		}
		o.log.Info().Str("bucket", bucket).Msg("Deleting superseded generation")
		if err := o.cache.DeleteBucket(bucket); err != nil {
			return err
		}
	}
	return nil
}

// InstallAndActivate installs the precache and, on success, activates the
// generation immediately without waiting for in-flight work elsewhere.
// On install failure the previous generation stays active.
func (o *OfflineEdge) InstallAndActivate(ctx context.Context) error {
	if err := o.Install(ctx); err != nil {
		return err
	}
	return o.Activate()
}
