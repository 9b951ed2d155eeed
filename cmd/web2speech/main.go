// main package for the web2speech service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/web2speech/internal/artifact"
	"github.com/book-expert/web2speech/internal/config"
	"github.com/book-expert/web2speech/internal/core"
	"github.com/book-expert/web2speech/internal/extract"
	"github.com/book-expert/web2speech/internal/ingress"
	"github.com/book-expert/web2speech/internal/ledger"
	"github.com/book-expert/web2speech/internal/orchestrator"
	"github.com/book-expert/web2speech/internal/server"
	"github.com/book-expert/web2speech/internal/synth"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

const (
	natsConnectTimeout   = 5 * time.Second
	natsReconnectWait    = 2 * time.Second
	httpShutdownTimeout  = 10 * time.Second
	httpReadHeaderLimit  = 10 * time.Second
	ingressHandleTimeout = 10 * time.Minute
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "web2speech.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	_ = godotenv.Load()

	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logsDir := cfg.Paths.BaseLogsDir
	if logsDir == "" {
		logsDir = os.TempDir()
	}

	finalLog, err := setupLogger(logsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	return runService(ctx, cfg, finalLog)
}

func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
		nats.Timeout(natsConnectTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	extractor := extract.NewClient(
		cfg.Extractor.ServiceURL,
		time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second,
	)

	orch, err := buildOrchestrator(cfg, jetstreamContext, extractor, log)
	if err != nil {
		return err
	}

	recovered, err := orch.RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}

	if recovered > 0 {
		log.Info("Marked %d interrupted jobs as failed.", recovered)
	}

	orchErrChan := make(chan error, 1)

	go func() {
		orchErrChan <- orch.Run(ctx)
	}()

	if cfg.NATS.TextProcessedSubject != "" {
		err = startIngress(ctx, cfg, natsConnection, jetstreamContext, orch, log)
		if err != nil {
			return err
		}
	}

	log.System(
		"web2speech initialized. Serving HTTP on port %d.",
		cfg.HTTP.Port,
	)

	err = serveHTTP(ctx, cfg, orch, extractor, log)
	if err != nil {
		return err
	}

	runErr := <-orchErrChan
	if runErr != nil {
		return fmt.Errorf("orchestrator exited with error: %w", runErr)
	}

	return nil
}

func buildOrchestrator(
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
	extractor core.Extractor,
	log *logger.Logger,
) (*orchestrator.Orchestrator, error) {
	jobLedger, err := ledger.New(jetstreamContext, cfg.NATS.JobsBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create job ledger: %w", err)
	}

	artifactTTL := time.Duration(cfg.Orchestrator.ArtifactTTLHours) * time.Hour

	artifacts, err := artifact.New(jetstreamContext, cfg.NATS.ArtifactsBucket, artifactTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	synthesizers, err := buildSynthesizers(cfg, log)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(
		orchestrator.Config{
			Workers:          cfg.Orchestrator.Workers,
			QueueSize:        cfg.Orchestrator.QueueSize,
			RetryMaxAttempts: uint64(cfg.Orchestrator.RetryMaxAttempts),
			RetryBaseDelay:   time.Duration(cfg.Orchestrator.RetryBaseDelayMS) * time.Millisecond,
			ExtractTimeout:   time.Duration(cfg.Extractor.TimeoutSeconds) * time.Second,
			SynthTimeout:     time.Duration(cfg.TTS.TimeoutSeconds) * time.Second,
			SpeedMin:         cfg.TTS.SpeedMin,
			SpeedMax:         cfg.TTS.SpeedMax,
			DefaultVoice:     cfg.TTS.DefaultVoice,
			MaxPDFBytes:      cfg.Orchestrator.MaxPDFBytes,
			ArtifactTTL:      artifactTTL,
			GracePeriod:      time.Duration(cfg.Orchestrator.GracePeriodSeconds) * time.Second,
			ReapInterval:     time.Duration(cfg.Orchestrator.ReapIntervalSecs) * time.Second,
			Voices:           cfg.Voices,
		},
		jobLedger,
		artifacts,
		extractor,
		synthesizers,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return orch, nil
}

// buildSynthesizers creates one synthesizer per backend referenced by the
// configured voices.
func buildSynthesizers(
	cfg *config.Config,
	log *logger.Logger,
) (map[string]core.Synthesizer, error) {
	backends := map[string]struct{}{cfg.TTS.Backend: {}}
	for _, voice := range cfg.Voices {
		backends[voice.Backend] = struct{}{}
	}

	synthesizers := make(map[string]core.Synthesizer, len(backends))

	for backend := range backends {
		synthesizer, err := synth.New(synth.Config{
			Backend:       backend,
			BaseURL:       cfg.TTS.BaseURL,
			APIKey:        cfg.TTS.APIKey,
			Model:         cfg.TTS.Model,
			Timeout:       time.Duration(cfg.TTS.TimeoutSeconds) * time.Second,
			MaxChunkChars: cfg.TTS.MaxChunkChars,
		}, log)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to create %q synthesizer: %w",
				backend,
				err,
			)
		}

		synthesizers[backend] = synthesizer
	}

	return synthesizers, nil
}

func startIngress(
	ctx context.Context,
	cfg *config.Config,
	natsConnection *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	orch *orchestrator.Orchestrator,
	log *logger.Logger,
) error {
	texts, err := ingress.NewNatsTextStore(jetstreamContext, cfg.NATS.TextsBucket)
	if err != nil {
		return fmt.Errorf("failed to create text store: %w", err)
	}

	listener := ingress.New(
		natsConnection,
		cfg.NATS.TextProcessedSubject,
		texts,
		orch,
		ingressHandleTimeout,
		log,
	)

	go func() {
		runErr := listener.Run(ctx)
		if runErr != nil {
			log.Error("NATS ingress exited with error: %v", runErr)
		}
	}()

	log.Info("Listening for text events on subject: %s", cfg.NATS.TextProcessedSubject)

	return nil
}

func serveHTTP(
	ctx context.Context,
	cfg *config.Config,
	orch *orchestrator.Orchestrator,
	extractor core.Extractor,
	log *logger.Logger,
) error {
	httpServer := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler: server.New(
			orch,
			extractor,
			int64(cfg.HTTP.MaxUploadMB)<<20,
			time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second,
			log,
		).Handler(),
		ReadHeaderTimeout: httpReadHeaderLimit,
	}

	serveErrChan := make(chan error, 1)

	go func() {
		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serveErrChan <- serveErr

			return
		}

		serveErrChan <- nil
	}()

	select {
	case <-ctx.Done():
	case serveErr := <-serveErrChan:
		if serveErr != nil {
			return fmt.Errorf("HTTP server failed: %w", serveErr)
		}

		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	return <-serveErrChan
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
