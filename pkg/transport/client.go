package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

const logPrefix = "transport:client"

const (
	DefaultHandshakeTimeout  = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultGracePeriod       = 30 * time.Second

	writeTimeout = 10 * time.Second
)

// Processor handles frames received over the session. Implemented by
// processor.Processor and dispatcher.Dispatcher.
type Processor interface {
	ProcessCommand(ctx context.Context, frame *wire.CommandFrame, callback func(*handler.Result))
	ProcessEvent(ctx context.Context, frame *wire.EventFrame, callback func([]*handler.Result))
	OnConnect(ctx context.Context, conf *wire.RegistrationConfirmation)
	OnDisconnect(ctx context.Context)
}

// Client registers with the orchestration service and keeps a websocket
// session open, reconnecting with backoff when it drops.
type Client struct {
	registrationURL   string
	apiKey            string
	payload           func() (*wire.RegistrationRequest, error)
	processor         Processor
	compress          bool
	heartbeatInterval time.Duration
	backoff           Backoff
	graceful          bool
	gracePeriod       time.Duration
	httpClient        *http.Client
	dialer            *websocket.Dialer
	rnd               func() float64

	mu   sync.Mutex
	ws   *websocket.Conn
	conf *wire.RegistrationConfirmation

	writeMu sync.Mutex

	// admitMu orders admission of new work against Shutdown, so no
	// invocation is added to inflight once closing is set.
	admitMu   sync.Mutex
	inflight  sync.WaitGroup
	closing   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	pingsSent atomic.Int64
	lastPong  atomic.Int64
	sessions  atomic.Int64
}

type NewClientParams struct {
	RegistrationURL   string
	APIKey            string
	Payload           func() (*wire.RegistrationRequest, error)
	Processor         Processor
	Compress          bool
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	Backoff           Backoff
	Graceful          bool
	GracePeriod       time.Duration
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
}

func NewClient(params NewClientParams) *Client {
	c := &Client{
		registrationURL:   params.RegistrationURL,
		apiKey:            params.APIKey,
		payload:           params.Payload,
		processor:         params.Processor,
		compress:          params.Compress,
		heartbeatInterval: params.HeartbeatInterval,
		backoff:           params.Backoff,
		graceful:          params.Graceful,
		gracePeriod:       params.GracePeriod,
		httpClient:        params.HTTPClient,
		dialer:            params.Dialer,
		rnd:               rand.Float64,
		closed:            make(chan struct{}),
	}
	if c.heartbeatInterval <= 0 {
		c.heartbeatInterval = DefaultHeartbeatInterval
	}
	if c.gracePeriod <= 0 {
		c.gracePeriod = DefaultGracePeriod
	}
	if c.backoff == (Backoff{}) {
		c.backoff = DefaultBackoff
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.dialer == nil {
		timeout := params.HandshakeTimeout
		if timeout <= 0 {
			timeout = DefaultHandshakeTimeout
		}
		c.dialer = &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  timeout,
			EnableCompression: params.Compress,
		}
	}
	return c
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Confirmation returns the current session's registration, or nil.
func (c *Client) Confirmation() *wire.RegistrationConfirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conf
}

// Sessions returns how many sessions have been opened so far.
func (c *Client) Sessions() int64 {
	return c.sessions.Load()
}

// Run registers, connects and serves frames until ctx is cancelled or
// Shutdown is called, reconnecting whenever the session drops. It returns
// REGISTRATION_REJECTED without retrying, and CONNECTION_LOST once the
// retry budget is exhausted.
func (c *Client) Run(ctx context.Context) error {
	for {
		conf, ws, err := c.establish(ctx)
		if err != nil {
			if c.stopping(ctx) {
				return nil
			}
			return err
		}
		c.serve(ctx, conf, ws)
		c.processor.OnDisconnect(ctx)
		if c.stopping(ctx) {
			slog.Info(fmt.Sprintf("%s - Session closed", logPrefix))
			return nil
		}
		slog.Warn(fmt.Sprintf("%s - Session dropped, reconnecting", logPrefix))
	}
}

func (c *Client) stopping(ctx context.Context) bool {
	return c.closing.Load() || ctx.Err() != nil
}

func (c *Client) establish(ctx context.Context) (*wire.RegistrationConfirmation, *websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= c.backoff.Retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt-1, c.rnd())
			slog.Warn(fmt.Sprintf("%s - Attempt %d failed, retrying in %s: %v", logPrefix, attempt, delay, lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, nil, err
			}
		}

		conf, err := c.register(ctx)
		if err != nil {
			if handler.ErrorCode(err) == handler.CodeRegistrationRejected {
				slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
				return nil, nil, err
			}
			lastErr = err
			continue
		}

		ws, err := c.dial(ctx, conf)
		if err != nil {
			lastErr = err
			continue
		}
		return conf, ws, nil
	}
	return nil, nil, handler.WrapError(handler.CodeConnectionLost,
		fmt.Errorf("giving up after %d attempts: %w", c.backoff.Retries+1, lastErr))
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errors.New("client shutting down")
	}
}

func (c *Client) dial(ctx context.Context, conf *wire.RegistrationConfirmation) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+conf.JWT)
	ws, resp, err := c.dialer.DialContext(ctx, conf.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open session %s: %w", logPrefix, conf.URL, err)
	}
	return ws, nil
}

// serve blocks until the session ends.
func (c *Client) serve(ctx context.Context, conf *wire.RegistrationConfirmation, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.conf = conf
	c.mu.Unlock()
	c.pingsSent.Store(0)
	c.lastPong.Store(0)
	c.sessions.Add(1)

	slog.Info(fmt.Sprintf("%s - Connected as %s@%s", logPrefix, conf.Name, conf.Version))
	c.processor.OnConnect(ctx, conf)

	stop := make(chan struct{})
	go c.heartbeat(ws, stop)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-c.closed:
		case <-stop:
		}
	}()

	c.readLoop(ctx, ws)
	close(stop)

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
		c.conf = nil
	}
	c.mu.Unlock()
	ws.Close()
}

func (c *Client) heartbeat(ws *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if c.pingsSent.Load()-c.lastPong.Load() > 1 {
				slog.Warn(fmt.Sprintf("%s - Missed heartbeats (sent %d, last pong %d), closing session", logPrefix, c.pingsSent.Load(), c.lastPong.Load()))
				ws.Close()
				return
			}
			n := c.pingsSent.Add(1)
			if err := c.write(ws, wire.Ping{Ping: n}); err != nil {
				slog.Warn(fmt.Sprintf("%s - Failed to send heartbeat: %v", logPrefix, err))
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) {
	// in-flight work outlives the session so the grace period can drain it
	work := context.WithoutCancel(ctx)
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if !c.stopping(ctx) {
				slog.Warn(fmt.Sprintf("%s - Read failed: %v", logPrefix, err))
			}
			return
		}
		if mt == websocket.BinaryMessage && c.compress {
			data, err = inflate(data)
			if err != nil {
				slog.Error(fmt.Sprintf("%s - Dropping undecodable binary frame: %v", logPrefix, err))
				continue
			}
		}

		frame, err := wire.Decode(data)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - Dropping frame: %v", logPrefix, err))
			continue
		}
		switch frame.Kind {
		case wire.KindPing:
			if err := c.write(ws, wire.Pong{Pong: frame.Ping.Ping}); err != nil {
				slog.Warn(fmt.Sprintf("%s - Failed to answer ping: %v", logPrefix, err))
			}
		case wire.KindPong:
			if frame.Pong.Pong > c.lastPong.Load() {
				c.lastPong.Store(frame.Pong.Pong)
			}
		case wire.KindControl:
			slog.Info(fmt.Sprintf("%s - Control frame: %s", logPrefix, string(frame.Raw)))
		case wire.KindCommand:
			if !c.admit() {
				c.refuse(ws, frame.Command)
				continue
			}
			go func(f *wire.CommandFrame) {
				defer c.inflight.Done()
				c.processor.ProcessCommand(work, f, nil)
			}(frame.Command)
		case wire.KindEvent:
			if !c.admit() {
				slog.Warn(fmt.Sprintf("%s - [%s] Shutting down, dropping event %s", logPrefix, frame.Event.Extensions.CorrelationID, frame.Event.Extensions.OperationName))
				continue
			}
			go func(f *wire.EventFrame) {
				defer c.inflight.Done()
				c.processor.ProcessEvent(work, f, nil)
			}(frame.Event)
		default:
			slog.Error(fmt.Sprintf("%s - Dropping unknown frame: %s", logPrefix, string(data)))
		}
	}
}

// admit registers one invocation with inflight unless Shutdown has begun.
func (c *Client) admit() bool {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()
	if c.closing.Load() {
		return false
	}
	c.inflight.Add(1)
	return true
}

// refuse answers a command that arrived during shutdown with a failure status.
func (c *Client) refuse(ws *websocket.Conn, f *wire.CommandFrame) {
	slog.Warn(fmt.Sprintf("%s - [%s] Shutting down, refusing command %s", logPrefix, f.CorrelationID, f.Name))
	var name, version string
	if conf := c.Confirmation(); conf != nil {
		name, version = conf.Name, conf.Version
	}
	result := handler.ResultFromError(handler.NewError(handler.CodeConnectionLost, "automation client is shutting down"))
	result.HandlerName = f.Name
	status, err := wire.NewStatusFrame(f, result, name, version)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] Failed to build status frame: %v", logPrefix, f.CorrelationID, err))
		return
	}
	if err := c.write(ws, status); err != nil {
		slog.Warn(fmt.Sprintf("%s - [%s] Failed to refuse command: %v", logPrefix, f.CorrelationID, err))
	}
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Send writes a frame to the current session.
func (c *Client) Send(_ context.Context, frame interface{}) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return handler.NewError(handler.CodeConnectionLost, "no open session")
	}
	return c.write(ws, frame)
}

func (c *Client) write(ws *websocket.Conn, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("%s - failed to encode frame: %w", logPrefix, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return handler.WrapError(handler.CodeConnectionLost, err)
	}
	return nil
}

// Shutdown stops reconnecting and closes the session. Commands arriving
// from then on are refused with a failure status. With graceful shutdown
// enabled it first waits up to the grace period for invocations already in
// flight.
func (c *Client) Shutdown(ctx context.Context) error {
	c.admitMu.Lock()
	c.closing.Store(true)
	c.admitMu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })

	if c.graceful {
		done := make(chan struct{})
		go func() {
			c.inflight.Wait()
			close(done)
		}()
		t := time.NewTimer(c.gracePeriod)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			slog.Warn(fmt.Sprintf("%s - Grace period of %s elapsed with invocations still running", logPrefix, c.gracePeriod))
		case <-ctx.Done():
		}
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		slog.Debug(fmt.Sprintf("%s - Close frame not sent: %v", logPrefix, err))
	}
	return ws.Close()
}
