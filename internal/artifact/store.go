// Package artifact provides the NATS JetStream object store for job outputs.
//
// Artifacts are append-only per id (ids are never reused), carry content type
// and audio duration as object metadata, and become inaccessible once their
// expiry time passes. The bucket TTL acts as a storage backstop; logical
// expiry is enforced here so Get and DeleteExpired agree on the cutoff.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/book-expert/web2speech/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Object metadata keys.
const (
	metaContentType = "content_type"
	metaDuration    = "duration_seconds"
	metaExpiresAt   = "expires_at"
)

var extensionByContentType = map[string]string{
	"audio/wav":       ".wav",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

// Store implements core.ArtifactStore on a JetStream object store bucket.
type Store struct {
	bucket string
	store  nats.ObjectStore
}

// New creates or binds the artifact bucket. The bucket TTL should be set to
// the longest artifact TTL the service hands out.
func New(jetstreamContext nats.JetStreamContext, bucketName string, bucketTTL time.Duration) (*Store, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Artifact storage for the %s bucket.", bucketName),
		TTL:         bucketTTL,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		// If the bucket already exists, bind to it.
		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact bucket '%s': %w", bucketName, err)
		}
	}

	return &Store{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Put stores a new artifact and returns its id. A non-positive ttl stores the
// artifact without a logical expiry.
func (s *Store) Put(
	_ context.Context,
	data []byte,
	contentType string,
	duration float64,
	ttl time.Duration,
) (string, error) {
	id := uuid.NewString() + extensionByContentType[contentType]

	metadata := map[string]string{
		metaContentType: contentType,
		metaDuration:    strconv.FormatFloat(duration, 'f', -1, 64),
	}

	if ttl > 0 {
		metadata[metaExpiresAt] = time.Now().UTC().Add(ttl).Format(time.RFC3339Nano)
	}

	_, err := s.store.Put(&nats.ObjectMeta{
		Name:     id,
		Metadata: metadata,
	}, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to put artifact '%s' to bucket '%s': %w", id, s.bucket, err)
	}

	return id, nil
}

// Get retrieves an artifact by id. Expired artifacts report core.ErrNotFound
// even when the underlying object has not been reaped yet.
func (s *Store) Get(_ context.Context, id string) (*core.Artifact, error) {
	obj, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("artifact '%s': %w", id, core.ErrNotFound)
		}

		return nil, fmt.Errorf("failed to get artifact '%s' from bucket '%s': %w", id, s.bucket, err)
	}

	info, infoErr := obj.Info()
	if infoErr != nil {
		_ = obj.Close()

		return nil, fmt.Errorf("failed to read artifact info for '%s': %w", id, infoErr)
	}

	expiresAt, expired := expiry(info, time.Now().UTC())
	if expired {
		_ = obj.Close()

		return nil, fmt.Errorf("artifact '%s' has expired: %w", id, core.ErrNotFound)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read artifact '%s': %w", id, readErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close artifact '%s': %w", id, closeErr)
	}

	duration, _ := strconv.ParseFloat(info.Metadata[metaDuration], 64)

	return &core.Artifact{
		ID:          id,
		Bytes:       data,
		ContentType: info.Metadata[metaContentType],
		Size:        int64(len(data)),
		Duration:    duration,
		CreatedAt:   info.ModTime,
		ExpiresAt:   expiresAt,
	}, nil
}

// Delete removes an artifact regardless of expiry.
func (s *Store) Delete(_ context.Context, id string) error {
	err := s.store.Delete(id)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return fmt.Errorf("artifact '%s': %w", id, core.ErrNotFound)
		}

		return fmt.Errorf("failed to delete artifact '%s' from bucket '%s': %w", id, s.bucket, err)
	}

	return nil
}

// DeleteExpired removes every artifact whose expiry has passed and returns
// how many were removed. Intended for the background reaper.
func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	infos, err := s.store.List()
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to list artifacts in bucket '%s': %w", s.bucket, err)
	}

	removed := 0

	for _, info := range infos {
		if info.Deleted {
			continue
		}

		_, expired := expiry(info, now)
		if !expired {
			continue
		}

		deleteErr := s.store.Delete(info.Name)
		if deleteErr != nil {
			return removed, fmt.Errorf("failed to delete expired artifact '%s': %w", info.Name, deleteErr)
		}

		removed++
	}

	return removed, nil
}

// expiry parses the stored expiry metadata and reports whether the artifact
// is past it. Artifacts without expiry metadata never expire logically.
func expiry(info *nats.ObjectInfo, now time.Time) (time.Time, bool) {
	raw, ok := info.Metadata[metaExpiresAt]
	if !ok {
		return time.Time{}, false
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}

	return expiresAt, now.After(expiresAt)
}
