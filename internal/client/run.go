package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/automation-client/internal/config"
	"github.com/morezero/automation-client/pkg/commsutil"
	"github.com/morezero/automation-client/pkg/dispatcher"
	"github.com/morezero/automation-client/pkg/events"
	"github.com/morezero/automation-client/pkg/listener"
	"github.com/morezero/automation-client/pkg/processor"
)

const runLogPrefix = "client:run"

// SetupLogging installs the default slog handler for level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run loads configuration, starts the client and blocks until a shutdown
// signal or a fatal transport error.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", runLogPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForRun(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := New(ctx, cfg, Options{})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", runLogPrefix, sig))
		shutdownErr := c.Shutdown(context.Background())
		cancel()
		if err := <-errCh; err != nil {
			return err
		}
		return shutdownErr
	case err := <-errCh:
		if shutdownErr := c.Shutdown(context.Background()); shutdownErr != nil {
			slog.Warn(fmt.Sprintf("%s - Shutdown after failure: %v", runLogPrefix, shutdownErr))
		}
		return err
	}
}

// Describe writes the registration payload as JSON without connecting.
func Describe(w io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", runLogPrefix, err)
	}
	return WriteRegistration(w, cfg, Options{})
}

// WriteRegistration writes the registration payload for cfg to w.
func WriteRegistration(w io.Writer, cfg *config.Config, opts Options) error {
	if err := cfg.ValidateForDescribe(); err != nil {
		return err
	}
	reg, _, err := buildServer(cfg, opts.Register)
	if err != nil {
		return err
	}
	payload, err := exportRegistration(cfg, reg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// RunWorker serves invocations dispatched over COMMS by a connected client
// until a shutdown signal.
func RunWorker() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", runLogPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForWorker(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWorker(cfg, Options{})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Close()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down worker", runLogPrefix, sig))
	return w.Close()
}

// Worker is a remote worker process: it runs invocations received on its
// worker subject and publishes outbound frames for the connected client.
type Worker struct {
	cfg       *config.Config
	processor *processor.Processor
	nc        *comms.Conn
	subject   string
	sub       *comms.Subscription
}

// NewWorker connects to COMMS and builds the worker's processor.
func NewWorker(cfg *config.Config, opts Options) (*Worker, error) {
	_, server, err := buildServer(cfg, opts.Register)
	if err != nil {
		return nil, err
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-"+cfg.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", runLogPrefix, err)
	}

	publisher := events.NewCommsPublisher(nc, &events.CommsPublisherOpts{SubjectPrefix: cfg.LifecycleSubjectPrefix})
	pipeline := listener.NewPipeline(
		listener.LoggingListener{},
		listener.NewCommsListener(publisher, cfg.AutomationName, cfg.AutomationVersion),
	)
	p := processor.NewProcessor(processor.NewProcessorParams{
		Server:            server,
		Listeners:         pipeline,
		Sender:            dispatcher.NewCommsSender(nc, commsutil.BuildOutboundSubject(cfg.AutomationName)),
		AutomationName:    cfg.AutomationName,
		AutomationVersion: cfg.AutomationVersion,
	})
	return &Worker{
		cfg:       cfg,
		processor: p,
		nc:        nc,
		subject:   commsutil.BuildWorkerSubject(cfg.AutomationName, cfg.WorkerID),
	}, nil
}

// Start subscribes to the worker subject.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := dispatcher.ServeWorker(ctx, w.nc, w.subject, w.processor)
	if err != nil {
		return fmt.Errorf("%s - failed to serve worker %s: %w", runLogPrefix, w.cfg.WorkerID, err)
	}
	w.sub = sub
	slog.Info(fmt.Sprintf("%s - Worker %s ready for %s@%s", runLogPrefix, w.cfg.WorkerID, w.cfg.AutomationName, w.cfg.AutomationVersion))
	return nil
}

// Close unsubscribes and drains the COMMS connection.
func (w *Worker) Close() error {
	if w.sub != nil {
		if err := w.sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - Unsubscribe failed: %v", runLogPrefix, err))
		}
	}
	return w.nc.Drain()
}
