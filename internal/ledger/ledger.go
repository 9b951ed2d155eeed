// Package ledger provides the durable job ledger backed by NATS JetStream KV.
//
// The ledger is mutated exclusively by the orchestrator (single-writer
// invariant). Reads decode fresh copies of the stored record, so the query
// surface can read concurrently with writes without additional locking.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/web2speech/internal/core"
	"github.com/book-expert/web2speech/internal/job"
	"github.com/nats-io/nats.go"
)

// Ledger records job state transitions in a JetStream key-value bucket.
type Ledger struct {
	bucket string
	kv     nats.KeyValue
}

// New creates or binds the job ledger bucket.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*Ledger, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Job ledger for the %s bucket.", bucketName),
	})
	if err != nil {
		// If the bucket already exists, bind to it.
		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to open job ledger bucket '%s': %w", bucketName, err)
		}
	}

	return &Ledger{
		bucket: bucketName,
		kv:     kv,
	}, nil
}

// Create stores a new job record. The id must not already exist.
func (l *Ledger) Create(record *job.Job) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job '%s': %w", record.ID, err)
	}

	_, err = l.kv.Create(record.ID, data)
	if err != nil {
		return fmt.Errorf("failed to create job '%s' in bucket '%s': %w", record.ID, l.bucket, err)
	}

	return nil
}

// Put overwrites an existing job record and stamps its update time.
func (l *Ledger) Put(record *job.Job) error {
	record.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job '%s': %w", record.ID, err)
	}

	_, err = l.kv.Put(record.ID, data)
	if err != nil {
		return fmt.Errorf("failed to put job '%s' in bucket '%s': %w", record.ID, l.bucket, err)
	}

	return nil
}

// Get returns a snapshot copy of the job record for id.
func (l *Ledger) Get(id string) (*job.Job, error) {
	entry, err := l.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("job '%s': %w", id, core.ErrNotFound)
		}

		return nil, fmt.Errorf("failed to get job '%s' from bucket '%s': %w", id, l.bucket, err)
	}

	var record job.Job

	err = json.Unmarshal(entry.Value(), &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job '%s': %w", id, err)
	}

	return &record, nil
}

// List returns snapshot copies of every job record in the ledger.
func (l *Ledger) List() ([]*job.Job, error) {
	keys, err := l.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list jobs in bucket '%s': %w", l.bucket, err)
	}

	records := make([]*job.Job, 0, len(keys))

	for _, key := range keys {
		record, getErr := l.Get(key)
		if getErr != nil {
			// Deleted between Keys and Get; skip.
			if errors.Is(getErr, core.ErrNotFound) {
				continue
			}

			return nil, getErr
		}

		records = append(records, record)
	}

	return records, nil
}

// Delete removes a job record.
func (l *Ledger) Delete(id string) error {
	err := l.kv.Delete(id)
	if err != nil {
		return fmt.Errorf("failed to delete job '%s' from bucket '%s': %w", id, l.bucket, err)
	}

	return nil
}

// DeleteOlderThan removes terminal job records last updated before cutoff and
// returns how many were removed. Non-terminal records are left for the
// interrupted-job recovery scan.
func (l *Ledger) DeleteOlderThan(cutoff time.Time) (int, error) {
	records, err := l.List()
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, record := range records {
		if !record.State.Terminal() || !record.UpdatedAt.Before(cutoff) {
			continue
		}

		deleteErr := l.Delete(record.ID)
		if deleteErr != nil {
			return removed, deleteErr
		}

		removed++
	}

	return removed, nil
}

// MarkInterrupted fails every non-terminal job that has not been updated
// within the grace period. Called on startup so clients never poll forever on
// a job orphaned by a crash or restart.
func (l *Ledger) MarkInterrupted(grace time.Duration, now time.Time) (int, error) {
	records, err := l.List()
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-grace)
	marked := 0

	for _, record := range records {
		if record.State.Terminal() || !record.UpdatedAt.Before(cutoff) {
			continue
		}

		record.State = job.StateFailed
		record.Error = &job.ErrorDetail{
			Kind:    job.ErrKindInterrupt,
			Message: "processing was interrupted by a service restart",
		}

		putErr := l.Put(record)
		if putErr != nil {
			return marked, putErr
		}

		marked++
	}

	return marked, nil
}
