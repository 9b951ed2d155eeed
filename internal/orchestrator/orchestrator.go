// Package orchestrator drives speech generation jobs through their lifecycle.
//
// The orchestrator is the single writer of the job ledger. Submissions are
// validated synchronously, queued FIFO, and processed by a fixed-size worker
// pool that bounds the number of concurrently active adapter calls. Each
// adapter call runs under its own timeout and a bounded exponential retry
// policy for transient failures; cancellation is cooperative through the
// per-job context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/core"
	"github.com/book-expert/web2speech/internal/job"
	"github.com/book-expert/web2speech/internal/ledger"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Progress checkpoints per stage. Progress never decreases while a job is
// non-terminal.
const (
	progressQueued       = 0
	progressExtracting   = 10
	progressExtracted    = 40
	progressSynthesizing = 50
	progressSynthesized  = 80
	progressStoring      = 90
	progressCompleted    = 100
)

var contentTypeByFormat = map[string]string{
	"wav": "audio/wav",
	"mp3": "audio/mpeg",
	"ogg": "audio/ogg",
}

// Config holds the orchestrator tuning knobs. All bounds are configuration
// choices, not inferred values.
type Config struct {
	Workers          int
	QueueSize        int
	RetryMaxAttempts uint64
	RetryBaseDelay   time.Duration
	ExtractTimeout   time.Duration
	SynthTimeout     time.Duration
	SpeedMin         float64
	SpeedMax         float64
	DefaultVoice     string
	MaxPDFBytes      int64
	ArtifactTTL      time.Duration
	GracePeriod      time.Duration
	ReapInterval     time.Duration
	Voices           []core.VoiceDescriptor
}

// SubmitRequest is one validated-on-entry submission.
type SubmitRequest struct {
	Kind    job.InputKind
	Payload string // raw text or URL
	PDF     []byte // pdf bytes for KindPDF
	Voice   string
	Speed   float64
}

// Orchestrator owns the job ledger and the worker pool.
type Orchestrator struct {
	cfg          Config
	jobLedger    *ledger.Ledger
	store        core.ArtifactStore
	extractor    core.Extractor
	synthesizers map[string]core.Synthesizer // keyed by backend name
	voices       map[string]core.VoiceDescriptor
	log          *logger.Logger

	queue chan string

	// writeMu serializes all ledger writes so the single-writer invariant
	// holds across the worker pool and Cancel.
	writeMu sync.Mutex

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	waiters map[string]chan struct{}
}

// New creates an orchestrator. The synthesizers map is keyed by the backend
// names referenced in the configured voice descriptors.
func New(
	cfg Config,
	jobLedger *ledger.Ledger,
	store core.ArtifactStore,
	extractor core.Extractor,
	synthesizers map[string]core.Synthesizer,
	log *logger.Logger,
) (*Orchestrator, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1", core.ErrInvalidParameter)
	}

	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("%w: queue size must be at least 1", core.ErrInvalidParameter)
	}

	voices := make(map[string]core.VoiceDescriptor, len(cfg.Voices))
	for _, voice := range cfg.Voices {
		voices[voice.ID] = voice
	}

	return &Orchestrator{
		cfg:          cfg,
		jobLedger:    jobLedger,
		store:        store,
		extractor:    extractor,
		synthesizers: synthesizers,
		voices:       voices,
		log:          log,
		queue:        make(chan string, cfg.QueueSize),
		cancels:      make(map[string]context.CancelFunc),
		waiters:      make(map[string]chan struct{}),
	}, nil
}

// Run starts the worker pool and the expiry reaper and blocks until ctx is
// cancelled and all in-flight work has drained.
func (o *Orchestrator) Run(ctx context.Context) error {
	var waitGroup sync.WaitGroup

	for workerIndex := 0; workerIndex < o.cfg.Workers; workerIndex++ {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case jobID := <-o.queue:
					o.process(ctx, jobID)
				}
			}
		}()
	}

	if o.cfg.ReapInterval > 0 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()
			o.reapLoop(ctx)
		}()
	}

	<-ctx.Done()
	waitGroup.Wait()

	return nil
}

// RecoverInterrupted fails every non-terminal job older than the configured
// grace period. Called once at startup before the worker pool runs.
func (o *Orchestrator) RecoverInterrupted() (int, error) {
	marked, err := o.jobLedger.MarkInterrupted(o.cfg.GracePeriod, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}

	if marked > 0 {
		o.log.Warn("Marked %d orphaned jobs as interrupted", marked)
	}

	return marked, nil
}

// Submit validates the request, records the job as queued and enqueues it.
// It never blocks on processing; callers poll for completion.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	validated, err := o.validate(req)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	record := &job.Job{
		ID:        uuid.NewString(),
		Kind:      validated.Kind,
		Payload:   validated.Payload,
		Voice:     validated.Voice,
		Speed:     validated.Speed,
		State:     job.StateQueued,
		Progress:  progressQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// PDF payloads are parked in the artifact store so the ledger record
	// stays small.
	if validated.Kind == job.KindPDF {
		payloadRef, putErr := o.store.Put(
			ctx, validated.PDF, "application/pdf", 0, o.cfg.ArtifactTTL,
		)
		if putErr != nil {
			return "", fmt.Errorf("failed to store pdf payload: %w", putErr)
		}

		record.PayloadRef = payloadRef
	}

	err = o.jobLedger.Create(record)
	if err != nil {
		return "", err
	}

	select {
	case o.queue <- record.ID:
	default:
		_ = o.jobLedger.Delete(record.ID)

		return "", fmt.Errorf("%w: %d jobs pending", core.ErrQueueFull, o.cfg.QueueSize)
	}

	o.log.Info("Accepted job %s (kind=%s voice=%s speed=%.2f)",
		record.ID, record.Kind, record.Voice, record.Speed)

	return record.ID, nil
}

// Status returns a read-only snapshot of the job record.
func (o *Orchestrator) Status(jobID string) (*job.Job, error) {
	return o.jobLedger.Get(jobID)
}

// Voices returns the configured voice descriptors.
func (o *Orchestrator) Voices() []core.VoiceDescriptor {
	return o.cfg.Voices
}

// Cancel moves a non-terminal job to cancelled and signals the in-flight
// adapter call to abort. Cancelling a terminal job is an invalid state error;
// a cancelled job's in-flight result is discarded, never stored.
func (o *Orchestrator) Cancel(jobID string) error {
	_, err := o.transition(jobID, job.StateCancelled, func(record *job.Job) {
		record.Error = nil
		record.ArtifactID = ""
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()

	if ok {
		cancel()
	}

	o.log.Info("Cancelled job %s", jobID)

	return nil
}

// Download returns the stored artifact of a completed job.
func (o *Orchestrator) Download(ctx context.Context, jobID string) (*core.Artifact, error) {
	record, err := o.jobLedger.Get(jobID)
	if err != nil {
		return nil, err
	}

	if record.State != job.StateCompleted {
		return nil, fmt.Errorf("%w: job %s is %s, not completed", core.ErrInvalidState, jobID, record.State)
	}

	return o.store.Get(ctx, record.ArtifactID)
}

// WaitTerminal blocks until the job reaches a terminal state or ctx expires.
func (o *Orchestrator) WaitTerminal(ctx context.Context, jobID string) error {
	record, err := o.jobLedger.Get(jobID)
	if err != nil {
		return err
	}

	if record.State.Terminal() {
		return nil
	}

	o.mu.Lock()

	waiter, ok := o.waiters[jobID]
	if !ok {
		waiter = make(chan struct{})
		o.waiters[jobID] = waiter
	}

	o.mu.Unlock()

	// Re-check after registering: the job may have finished in between.
	record, err = o.jobLedger.Get(jobID)
	if err == nil && record.State.Terminal() {
		o.mu.Lock()
		delete(o.waiters, jobID)
		o.mu.Unlock()

		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
	case <-waiter:
		return nil
	}
}

func (o *Orchestrator) validate(req SubmitRequest) (SubmitRequest, error) {
	switch req.Kind {
	case job.KindText:
		if strings.TrimSpace(req.Payload) == "" {
			return req, fmt.Errorf("%w: content cannot be empty", core.ErrInvalidParameter)
		}
	case job.KindURL:
		parsed, err := url.Parse(req.Payload)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" ||
			(parsed.Scheme != "http" && parsed.Scheme != "https") {
			return req, fmt.Errorf("%w: %q is not an absolute http(s) url", core.ErrInvalidParameter, req.Payload)
		}
	case job.KindPDF:
		if len(req.PDF) == 0 {
			return req, fmt.Errorf("%w: pdf payload cannot be empty", core.ErrInvalidParameter)
		}

		if int64(len(req.PDF)) > o.cfg.MaxPDFBytes {
			return req, fmt.Errorf("%w: pdf payload is %d bytes, maximum is %d",
				core.ErrPayloadTooLarge, len(req.PDF), o.cfg.MaxPDFBytes)
		}
	default:
		return req, fmt.Errorf("%w: %q", core.ErrUnsupportedKind, req.Kind)
	}

	if req.Voice == "" {
		req.Voice = o.cfg.DefaultVoice
	}

	if _, ok := o.voices[req.Voice]; !ok {
		return req, fmt.Errorf("%w: %q", core.ErrUnsupportedVoice, req.Voice)
	}

	if req.Speed == 0 {
		req.Speed = 1.0
	}

	if req.Speed < o.cfg.SpeedMin || req.Speed > o.cfg.SpeedMax {
		return req, fmt.Errorf("%w: speed %.2f outside [%.2f, %.2f]",
			core.ErrInvalidParameter, req.Speed, o.cfg.SpeedMin, o.cfg.SpeedMax)
	}

	return req, nil
}

// process runs one job's extraction, synthesis and storage sequence.
func (o *Orchestrator) process(runCtx context.Context, jobID string) {
	record, err := o.jobLedger.Get(jobID)
	if err != nil || record.State != job.StateQueued {
		// Cancelled or reaped while waiting in the queue.
		return
	}

	jobCtx, cancel := context.WithCancel(runCtx)

	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
		cancel()
	}()

	text, ok := o.runExtraction(jobCtx, record)
	if !ok {
		return
	}

	audio, ok := o.runSynthesis(jobCtx, record, text)
	if !ok {
		return
	}

	o.runStorage(jobCtx, record, audio)
}

// runExtraction resolves the job input to plain text. Raw text input skips
// the extracting state entirely.
func (o *Orchestrator) runExtraction(jobCtx context.Context, record *job.Job) (string, bool) {
	if record.Kind == job.KindText {
		return record.Payload, true
	}

	_, err := o.transition(record.ID, job.StateExtracting, func(rec *job.Job) {
		rec.Progress = progressExtracting
	})
	if err != nil {
		return "", false
	}

	extracted, err := withRetry(jobCtx, o.retryPolicy(jobCtx), o.cfg.ExtractTimeout,
		func(callCtx context.Context) (*core.ExtractedText, error) {
			if record.Kind == job.KindURL {
				return o.extractor.ExtractURL(callCtx, record.Payload)
			}

			payload, getErr := o.store.Get(callCtx, record.PayloadRef)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load pdf payload: %w", getErr)
			}

			return o.extractor.ExtractPDF(callCtx, payload.Bytes)
		})
	if err != nil {
		o.failJob(record.ID, job.ErrKindExtraction, err)

		return "", false
	}

	o.setProgress(record.ID, progressExtracted)

	return extracted.Text, true
}

func (o *Orchestrator) runSynthesis(jobCtx context.Context, record *job.Job, text string) (*core.Audio, bool) {
	_, err := o.transition(record.ID, job.StateSynthesizing, func(rec *job.Job) {
		rec.Progress = progressSynthesizing
	})
	if err != nil {
		return nil, false
	}

	synthesizer, err := o.synthesizerFor(record.Voice)
	if err != nil {
		o.failJob(record.ID, job.ErrKindInternal, err)

		return nil, false
	}

	audio, err := withRetry(jobCtx, o.retryPolicy(jobCtx), o.cfg.SynthTimeout,
		func(callCtx context.Context) (*core.Audio, error) {
			return synthesizer.Synthesize(callCtx, text, record.Voice, record.Speed)
		})
	if err != nil {
		o.failJob(record.ID, job.ErrKindSynthesis, err)

		return nil, false
	}

	o.setProgress(record.ID, progressSynthesized)

	return audio, true
}

func (o *Orchestrator) runStorage(jobCtx context.Context, record *job.Job, audio *core.Audio) {
	_, err := o.transition(record.ID, job.StateStoring, func(rec *job.Job) {
		rec.Progress = progressStoring
	})
	if err != nil {
		// Cancel won the race; discard the synthesized audio.
		return
	}

	if jobCtx.Err() != nil {
		return
	}

	contentType, ok := contentTypeByFormat[audio.Format]
	if !ok {
		contentType = "application/octet-stream"
	}

	artifactID, err := o.store.Put(jobCtx, audio.Bytes, contentType, audio.Duration, o.cfg.ArtifactTTL)
	if err != nil {
		o.failJob(record.ID, job.ErrKindInternal, err)

		return
	}

	_, err = o.transition(record.ID, job.StateCompleted, func(rec *job.Job) {
		rec.Progress = progressCompleted
		rec.ArtifactID = artifactID
		rec.Error = nil
		rec.Duration = audio.Duration
		rec.Format = audio.Format
		rec.FileSize = int64(len(audio.Bytes))
	})
	if err != nil {
		// The job was cancelled during storage; remove the orphaned artifact.
		_ = o.store.Delete(context.Background(), artifactID)

		return
	}

	o.log.Info("Completed job %s (%d bytes, %.1fs of audio)",
		record.ID, len(audio.Bytes), audio.Duration)
}

func (o *Orchestrator) synthesizerFor(voiceID string) (core.Synthesizer, error) {
	voice, ok := o.voices[voiceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedVoice, voiceID)
	}

	synthesizer, ok := o.synthesizers[voice.Backend]
	if !ok {
		return nil, fmt.Errorf("no synthesizer registered for backend %q", voice.Backend)
	}

	return synthesizer, nil
}

// transition applies a guarded state change under the write lock. It re-reads
// the record so a cancel that won the race is never overwritten, and keeps
// progress monotonically non-decreasing.
func (o *Orchestrator) transition(
	jobID string,
	to job.State,
	mutate func(*job.Job),
) (*job.Job, error) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	record, err := o.jobLedger.Get(jobID)
	if err != nil {
		return nil, err
	}

	if !job.ValidTransition(record.State, to) {
		return nil, fmt.Errorf("%w: cannot transition %s from %s to %s",
			core.ErrInvalidState, jobID, record.State, to)
	}

	previousProgress := record.Progress
	record.State = to

	if mutate != nil {
		mutate(record)
	}

	if record.Progress < previousProgress {
		record.Progress = previousProgress
	}

	err = o.jobLedger.Put(record)
	if err != nil {
		return nil, err
	}

	if to.Terminal() {
		o.notifyTerminal(jobID)
	}

	return record, nil
}

// setProgress advances progress without a state change.
func (o *Orchestrator) setProgress(jobID string, progress int) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	record, err := o.jobLedger.Get(jobID)
	if err != nil || record.State.Terminal() || record.Progress >= progress {
		return
	}

	record.Progress = progress
	_ = o.jobLedger.Put(record)
}

// failJob records a structured failure. A lost race against cancellation is
// not an error; the cancel result stands.
func (o *Orchestrator) failJob(jobID, kind string, cause error) {
	if errors.Is(cause, core.ErrAdapterTimeout) {
		kind = job.ErrKindTimeout
	}

	_, err := o.transition(jobID, job.StateFailed, func(record *job.Job) {
		record.ArtifactID = ""
		record.Error = &job.ErrorDetail{
			Kind:    kind,
			Message: cause.Error(),
		}
	})
	if err != nil {
		return
	}

	o.log.Error("Job %s failed (%s): %v", jobID, kind, cause)
}

func (o *Orchestrator) notifyTerminal(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	waiter, ok := o.waiters[jobID]
	if ok {
		close(waiter)
		delete(o.waiters, jobID)
	}
}

func (o *Orchestrator) retryPolicy(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = o.cfg.RetryBaseDelay

	attempts := o.cfg.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return backoff.WithContext(backoff.WithMaxRetries(exponential, attempts-1), ctx)
}

// withRetry runs one adapter call under a per-call timeout, retrying only
// transient failures. Non-transient failures abort immediately.
func withRetry[T any](
	ctx context.Context,
	policy backoff.BackOff,
	perCallTimeout time.Duration,
	call func(context.Context) (T, error),
) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		callCtx := ctx

		if perCallTimeout > 0 {
			var cancel context.CancelFunc

			callCtx, cancel = context.WithTimeout(ctx, perCallTimeout)
			defer cancel()
		}

		value, err := call(callCtx)
		if err != nil && !core.Transient(err) {
			return value, backoff.Permanent(err)
		}

		return value, err
	}, policy)
}

// reapLoop periodically removes expired artifacts and stale terminal ledger
// records. The expiry window for jobs matches the artifact TTL.
func (o *Orchestrator) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removedArtifacts, err := o.store.DeleteExpired(ctx, now.UTC())
			if err != nil {
				o.log.Error("Artifact reaper failed: %v", err)
			}

			removedJobs, err := o.jobLedger.DeleteOlderThan(now.UTC().Add(-o.cfg.ArtifactTTL))
			if err != nil {
				o.log.Error("Ledger reaper failed: %v", err)
			}

			if removedArtifacts > 0 || removedJobs > 0 {
				o.log.Info("Reaped %d artifacts and %d job records", removedArtifacts, removedJobs)
			}
		}
	}
}
