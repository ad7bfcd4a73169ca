// Package client assembles the automation client: handlers, listeners,
// processor, worker pool, transport, optional COMMS and audit database, and
// the HTTP health endpoint.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/automation-client/internal/config"
	"github.com/morezero/automation-client/internal/handlers"
	"github.com/morezero/automation-client/pkg/automation"
	"github.com/morezero/automation-client/pkg/binder"
	"github.com/morezero/automation-client/pkg/commsutil"
	"github.com/morezero/automation-client/pkg/db"
	"github.com/morezero/automation-client/pkg/dispatcher"
	"github.com/morezero/automation-client/pkg/events"
	"github.com/morezero/automation-client/pkg/graph"
	"github.com/morezero/automation-client/pkg/listener"
	"github.com/morezero/automation-client/pkg/processor"
	"github.com/morezero/automation-client/pkg/registry"
	"github.com/morezero/automation-client/pkg/secrets"
	"github.com/morezero/automation-client/pkg/shutdown"
	"github.com/morezero/automation-client/pkg/transport"
	"github.com/morezero/automation-client/pkg/wire"
)

const logPrefix = "client:client"

// ClientVersion is reported in the registration metadata.
const ClientVersion = "0.1.0"

// dispatchSlack is added to the invocation timeout when waiting on workers.
const dispatchSlack = 10 * time.Second

// Options customise New.
type Options struct {
	// Register adds handlers to the registry; defaults to handlers.Register.
	Register func(*registry.Registry) error
	// HTTPClient is used for registration and graph requests.
	HTTPClient *http.Client
}

// Client is the assembled automation client.
type Client struct {
	cfg        *config.Config
	registry   *registry.Registry
	store      *listener.EventStore
	processor  *processor.Processor
	dispatcher *dispatcher.Dispatcher
	graphs     *graph.Factory
	transport  *transport.Client
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	queue      *shutdown.Queue
	started    time.Time
}

// New builds every component. Optional backends (COMMS, audit database)
// are connected here; the orchestration service is contacted by Run.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Client, error) {
	c := &Client{cfg: cfg, queue: shutdown.NewQueue(cfg.ShutdownCeiling), started: time.Now()}

	reg, server, err := buildServer(cfg, opts.Register)
	if err != nil {
		return nil, err
	}
	c.registry = reg

	// Step 1: Listeners
	c.store = listener.NewEventStore(cfg.EventStoreSize)
	pipeline := listener.NewPipeline(listener.LoggingListener{}, c.store)

	// Step 2: COMMS for lifecycle events and remote workers
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		c.nc = nc
		c.queue.Register(shutdown.PriorityComms, "comms", func(context.Context) error { return nc.Drain() })
		publisher := events.NewCommsPublisher(nc, &events.CommsPublisherOpts{SubjectPrefix: cfg.LifecycleSubjectPrefix})
		pipeline.Add(listener.NewCommsListener(publisher, cfg.AutomationName, cfg.AutomationVersion))
	}

	// Step 3: Audit database
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			c.closeBackends()
			return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		c.pool = pool
		c.queue.Register(shutdown.PriorityDatabase, "database", func(context.Context) error { pool.Close(); return nil })
		if cfg.RunMigrations {
			if err := migrate(ctx, pool, cfg.MigrationPath); err != nil {
				c.closeBackends()
				return nil, err
			}
		}
		pipeline.Add(listener.NewAuditListener(db.NewRepository(pool), cfg.AutomationName, cfg.AutomationVersion))
	}

	// Step 4: Processor, optionally behind the worker pool
	c.graphs = graph.NewFactory(graph.NewFactoryParams{BaseURL: cfg.GraphURL, TTL: cfg.GraphCacheTTL, HTTPClient: opts.HTTPClient})
	c.processor = processor.NewProcessor(processor.NewProcessorParams{
		Server:            server,
		Listeners:         pipeline,
		Graphs:            c.graphs,
		AutomationName:    cfg.AutomationName,
		AutomationVersion: cfg.AutomationVersion,
	})
	var target transport.Processor = c.processor
	if workers := c.buildWorkers(); len(workers) > 0 {
		var timeout time.Duration
		if cfg.InvocationTimeout > 0 {
			timeout = cfg.InvocationTimeout + dispatchSlack
		}
		c.dispatcher = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
			Workers:           workers,
			Timeout:           timeout,
			AutomationName:    cfg.AutomationName,
			AutomationVersion: cfg.AutomationVersion,
		})
		target = c.dispatcher
		slog.Info(fmt.Sprintf("%s - Dispatching across %d workers", logPrefix, len(workers)))
	}

	// Step 5: Transport
	c.transport = transport.NewClient(transport.NewClientParams{
		RegistrationURL:   cfg.RegistrationURL,
		APIKey:            cfg.APIKey,
		Payload:           c.Registration,
		Processor:         target,
		Compress:          cfg.WSCompress,
		HandshakeTimeout:  cfg.WSTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Backoff: transport.Backoff{
			Factor:  cfg.BackoffFactor,
			Min:     cfg.BackoffMin,
			Max:     cfg.BackoffMax,
			Retries: cfg.BackoffRetries,
		},
		Graceful:    cfg.GracefulShutdown,
		GracePeriod: cfg.ShutdownGracePeriod,
		HTTPClient:  opts.HTTPClient,
	})
	c.processor.SetSender(c.transport)
	if c.dispatcher != nil {
		c.dispatcher.SetSender(c.transport)
		// Worker statuses compete with dispatcher failures for one claim.
		c.processor.SetSender(c.dispatcher.WorkerSender())
	}
	c.queue.Register(shutdown.PriorityTransport, "transport", c.transport.Shutdown)

	// Step 6: HTTP health
	if cfg.HTTPPort > 0 {
		c.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: c.Handler()}
		c.queue.Register(shutdown.PriorityHTTP, "http", c.httpServer.Shutdown)
	}
	return c, nil
}

func buildServer(cfg *config.Config, register func(*registry.Registry) error) (*registry.Registry, *automation.Server, error) {
	if register == nil {
		register = handlers.Register
	}
	reg := registry.NewRegistry()
	if err := register(reg); err != nil {
		return nil, nil, fmt.Errorf("%s - failed to register handlers: %w", logPrefix, err)
	}
	b := binder.NewBinder(secrets.NewEnvResolver(cfg.MappedEnvPrefix), secrets.NewEnvResolver(cfg.SecretEnvPrefix))
	server := automation.NewServer(automation.NewServerParams{Registry: reg, Binder: b, Timeout: cfg.InvocationTimeout})
	return reg, server, nil
}

func (c *Client) buildWorkers() []dispatcher.Worker {
	var workers []dispatcher.Worker
	for i := 0; i < c.cfg.Workers; i++ {
		workers = append(workers, dispatcher.NewLocalWorker(fmt.Sprintf("local-%d", i+1), c.processor))
	}
	if c.nc != nil {
		for _, id := range c.cfg.RemoteWorkers {
			subject := commsutil.BuildWorkerSubject(c.cfg.AutomationName, id)
			workers = append(workers, dispatcher.NewCommsWorker(id, c.nc, subject, c.cfg.InvocationTimeout))
		}
	}
	return workers
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	migrations, err := db.Migrations(dir)
	if err != nil {
		return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
	}
	return nil
}

func (c *Client) closeBackends() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.nc != nil {
		c.nc.Close()
	}
}

// Registration builds the registration payload from the registered handlers.
func (c *Client) Registration() (*wire.RegistrationRequest, error) {
	return exportRegistration(c.cfg, c.registry)
}

func exportRegistration(cfg *config.Config, reg *registry.Registry) (*wire.RegistrationRequest, error) {
	return reg.Export(registry.ExportInfo{
		Name:     cfg.AutomationName,
		Version:  cfg.AutomationVersion,
		Policy:   cfg.Policy,
		TeamIDs:  cfg.WorkspaceIDs,
		Groups:   cfg.Groups,
		Metadata: clientMetadata(),
	})
}

func clientMetadata() map[string]string {
	md := map[string]string{
		"client.version": ClientVersion,
		"go.version":     runtime.Version(),
	}
	if host, err := os.Hostname(); err == nil {
		md["hostname"] = host
	}
	return md
}

// Store returns the in-memory event store.
func (c *Client) Store() *listener.EventStore {
	return c.store
}

// Run serves until ctx is cancelled, Shutdown is called, or the transport
// gives up.
func (c *Client) Run(ctx context.Context) error {
	if c.httpServer != nil {
		go func() {
			slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, c.httpServer.Addr))
			if err := c.httpServer.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			}
		}()
	}

	if c.nc != nil && c.dispatcher != nil && len(c.cfg.RemoteWorkers) > 0 {
		subject := commsutil.BuildOutboundSubject(c.cfg.AutomationName)
		sub, err := c.dispatcher.ForwardOutbound(ctx, c.nc, subject)
		if err != nil {
			return fmt.Errorf("%s - failed to forward worker frames: %w", logPrefix, err)
		}
		defer sub.Unsubscribe()
		slog.Info(fmt.Sprintf("%s - Forwarding worker frames from %s", logPrefix, subject))
	}

	slog.Info(fmt.Sprintf("%s - Automation %s@%s starting", logPrefix, c.cfg.AutomationName, c.cfg.AutomationVersion))
	return c.transport.Run(ctx)
}

// Shutdown runs the shutdown queue: transport first, then HTTP, COMMS and
// the database.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.queue.Run(ctx)
}
