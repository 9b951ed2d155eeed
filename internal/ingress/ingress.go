// Package ingress consumes text-processed events from NATS and feeds them
// into the job pipeline, replying with an audio-chunk event once synthesis
// completes.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/job"
	"github.com/book-expert/web2speech/internal/orchestrator"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrJobNotCompleted indicates the submitted job finished in a state other
// than completed.
var ErrJobNotCompleted = errors.New("job did not complete")

// Jobs is the orchestrator surface the ingress depends on.
type Jobs interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (string, error)
	WaitTerminal(ctx context.Context, jobID string) error
	Status(jobID string) (*job.Job, error)
}

// TextStore fetches the text payload referenced by an incoming event.
type TextStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// NatsTextStore reads text payloads from a JetStream object store bucket.
type NatsTextStore struct {
	bucket string
	store  nats.ObjectStore
}

// NewNatsTextStore creates the bucket if needed, otherwise binds to it.
func NewNatsTextStore(
	jetstreamContext nats.JetStreamContext,
	bucketName string,
) (*NatsTextStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Text payloads for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf(
				"failed to create text bucket '%s': %w",
				bucketName,
				err,
			)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to bind to existing text bucket '%s': %w",
				bucketName,
				err,
			)
		}
	}

	return &NatsTextStore{bucket: bucketName, store: store}, nil
}

// Download retrieves a text payload by key.
func (s *NatsTextStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to get object '%s' from bucket '%s': %w",
			key,
			s.bucket,
			err,
		)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores a text payload under the given key.
func (s *NatsTextStore) Upload(_ context.Context, key string, data []byte) error {
	_, err := s.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf(
			"failed to put object '%s' to bucket '%s': %w",
			key,
			s.bucket,
			err,
		)
	}

	return nil
}

// Ingress listens on a NATS subject for text-processed events.
type Ingress struct {
	natsConnection *nats.Conn
	subject        string
	texts          TextStore
	jobs           Jobs
	handleTimeout  time.Duration
	log            *logger.Logger
}

// New creates a NATS ingress.
func New(
	natsConnection *nats.Conn,
	subject string,
	texts TextStore,
	jobs Jobs,
	handleTimeout time.Duration,
	log *logger.Logger,
) *Ingress {
	return &Ingress{
		natsConnection: natsConnection,
		subject:        subject,
		texts:          texts,
		jobs:           jobs,
		handleTimeout:  handleTimeout,
		log:            log,
	}
}

// Run subscribes to the subject and blocks until the context is cancelled.
func (i *Ingress) Run(ctx context.Context) error {
	sub, err := i.natsConnection.Subscribe(i.subject, i.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", i.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (i *Ingress) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), i.handleTimeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		i.log.Error("Failed to unmarshal event: %v", err)

		return
	}

	artifactID, processErr := i.processEvent(ctx, &event)
	if processErr != nil {
		i.log.Error(
			"Failed to process event %s: %v",
			event.Header.WorkflowID,
			processErr,
		)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   artifactID,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = i.publishReplyEvent(msg, replyEvent)
	if err != nil {
		i.log.Error(
			"Failed to publish reply event for workflow %s: %v",
			event.Header.WorkflowID,
			err,
		)
	}
}

// processEvent submits the referenced text as a job and waits for a terminal
// state. Failed jobs produce no reply event.
func (i *Ingress) processEvent(
	ctx context.Context,
	event *events.TextProcessedEvent,
) (string, error) {
	textData, err := i.texts.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf(
			"failed to download text data for key '%s': %w",
			event.TextKey,
			err,
		)
	}

	jobID, err := i.jobs.Submit(ctx, orchestrator.SubmitRequest{
		Kind:    job.KindText,
		Payload: string(textData),
		Voice:   event.Voice,
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}

	err = i.jobs.WaitTerminal(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to await job %s: %w", jobID, err)
	}

	record, err := i.jobs.Status(jobID)
	if err != nil {
		return "", fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	if record.State != job.StateCompleted {
		detail := "no detail"
		if record.Error != nil {
			detail = record.Error.Message
		}

		return "", fmt.Errorf(
			"%w: job %s ended %s (%s)",
			ErrJobNotCompleted,
			jobID,
			record.State,
			detail,
		)
	}

	return record.ArtifactID, nil
}

func (i *Ingress) publishReplyEvent(
	msg *nats.Msg,
	replyEvent *events.AudioChunkCreatedEvent,
) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}
