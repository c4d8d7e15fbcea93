// Package channel turns the single duplex connection to the backend into an
// addressable call interface plus per-type event streams.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/remoteide/internal/protocol"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultPingTimeout  = 10 * time.Second
	minBackoff     = time.Second
	maxBackoff     = 30 * time.Second
)

// Mode selects how replies are matched to calls.
type Mode int

const (
	// ModeCorrelate stamps every call with an id. Replies echoing an id go to
	// that call; replies without one go to the oldest call accepting their type.
	ModeCorrelate Mode = iota
	// ModeNextMessage hands the next inbound frame to the oldest call,
	// whatever its type. Only for servers that cannot be matched otherwise.
	ModeNextMessage
)

// Transport is one established connection.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Pinger is implemented by transports that support keepalive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DialFunc establishes a new transport.
type DialFunc func(ctx context.Context) (Transport, error)

// Handler receives inbound frames that no call consumed.
type Handler func(env protocol.Envelope)

type Options struct {
	Timeout time.Duration
	Mode    Mode
	Logger  *slog.Logger
	NewID   func() string
	// PingInterval and PingTimeout drive keepalive on transports that
	// implement Pinger. A ping that outlives PingTimeout drops the transport.
	PingInterval time.Duration
	PingTimeout  time.Duration
}

type Conn struct {
	timeout      time.Duration
	pingInterval time.Duration
	pingTimeout  time.Duration
	mode         Mode
	log          *slog.Logger
	newID        func() string

	mu        sync.Mutex
	transport Transport
	connected bool
	pending   []*pendingCall
	handlers  map[string][]Handler
	onState   []func(connected bool)
	claims    []func() bool

	writeMu sync.Mutex
}

type pendingCall struct {
	id     string
	accept map[string]bool
	done   chan callResult
}

type callResult struct {
	env protocol.Envelope
	err error
}

func New(opts Options) *Conn {
	c := &Conn{
		timeout:      opts.Timeout,
		pingInterval: opts.PingInterval,
		pingTimeout:  opts.PingTimeout,
		mode:         opts.Mode,
		log:          opts.Logger,
		newID:        opts.NewID,
		handlers:     make(map[string][]Handler),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.pingInterval <= 0 {
		c.pingInterval = DefaultPingInterval
	}
	if c.pingTimeout <= 0 {
		c.pingTimeout = DefaultPingTimeout
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Connected reports whether the channel is ready to carry messages.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Handle subscribes h to inbound frames of the given type. Handlers run
// sequentially on the read goroutine.
func (c *Conn) Handle(typ string, h Handler) {
	c.mu.Lock()
	c.handlers[typ] = append(c.handlers[typ], h)
	c.mu.Unlock()
}

// OnStateChange registers fn to be told about connect and disconnect.
func (c *Conn) OnStateChange(fn func(connected bool)) {
	c.mu.Lock()
	c.onState = append(c.onState, fn)
	c.mu.Unlock()
}

// ClaimErrors registers fn for exchanges that were sent without a call but
// can still be answered by an Error frame. While any fn reports true, Error
// frames without an id go to the Error handlers instead of a pending call.
func (c *Conn) ClaimErrors(fn func() bool) {
	c.mu.Lock()
	c.claims = append(c.claims, fn)
	c.mu.Unlock()
}

// Send transmits a message that expects no reply.
func (c *Conn) Send(ctx context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	t := c.transport
	connected := c.connected
	c.mu.Unlock()
	if !connected || t == nil {
		return ErrNotConnected
	}
	return c.write(ctx, t, env)
}

// SendMessage is Send for a typed content value.
func (c *Conn) SendMessage(ctx context.Context, typ string, content any) error {
	env, err := protocol.NewEnvelope(typ, content)
	if err != nil {
		return err
	}
	return c.Send(ctx, env)
}

// Call transmits env and waits for its reply. accept lists the reply types
// the call expects; an Error frame is always accepted and returned as a
// *ServerError together with the frame.
func (c *Conn) Call(ctx context.Context, env protocol.Envelope, accept ...string) (protocol.Envelope, error) {
	p := &pendingCall{
		id:     c.newID(),
		accept: make(map[string]bool, len(accept)+1),
		done:   make(chan callResult, 1),
	}
	for _, typ := range accept {
		p.accept[typ] = true
	}
	p.accept[protocol.TypeError] = true

	c.mu.Lock()
	if !c.connected || c.transport == nil {
		c.mu.Unlock()
		return protocol.Envelope{}, ErrNotConnected
	}
	t := c.transport
	if c.mode == ModeCorrelate {
		env.ID = p.id
	}
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	defer c.removePending(p)

	if err := c.write(ctx, t, env); err != nil {
		return protocol.Envelope{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		if res.err != nil {
			return protocol.Envelope{}, res.err
		}
		if res.env.Type == protocol.TypeError {
			return res.env, serverError(res.env)
		}
		return res.env, nil
	case <-timer.C:
		return protocol.Envelope{}, ErrTimeout
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// CallMessage is Call for a typed content value.
func (c *Conn) CallMessage(ctx context.Context, typ string, content any, accept ...string) (protocol.Envelope, error) {
	env, err := protocol.NewEnvelope(typ, content)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return c.Call(ctx, env, accept...)
}

func serverError(env protocol.Envelope) error {
	var content protocol.ErrorContent
	if err := env.Decode(&content); err != nil || content.Message == "" {
		return &ServerError{Message: "Unknown error occurred"}
	}
	return &ServerError{Message: content.Message}
}

func (c *Conn) write(ctx context.Context, t Transport, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := t.Write(ctx, data); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

func (c *Conn) removePending(p *pendingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// Serve attaches t and reads from it until it fails or ctx is done. Pending
// calls fail with a *TransportError when the transport goes away.
func (c *Conn) Serve(ctx context.Context, t Transport) error {
	c.mu.Lock()
	if c.transport != nil {
		c.mu.Unlock()
		return errors.New("channel: already serving a connection")
	}
	c.transport = t
	c.connected = true
	c.mu.Unlock()
	c.emitState(true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p, ok := t.(Pinger); ok {
		go c.pingLoop(ctx, t, p)
	}

	err := c.readLoop(ctx, t)
	c.detach(t, err)
	return err
}

// Run keeps a connection alive until ctx is done, redialing with backoff.
func (c *Conn) Run(ctx context.Context, dial DialFunc) error {
	backoff := minBackoff
	for {
		t, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("dial failed", "error", err, "retry_in", backoff)
		} else {
			backoff = minBackoff
			err = c.Serve(ctx, t)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("connection lost", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close drops the current transport, if any.
func (c *Conn) Close() error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}

func (c *Conn) readLoop(ctx context.Context, t Transport) error {
	for {
		data, err := t.Read(ctx)
		if err != nil {
			return err
		}
		env, err := protocol.Parse(data)
		if err != nil {
			c.log.Warn("dropping inbound frame", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env protocol.Envelope) {
	if c.resolve(env, c.errorClaimed(env)) {
		return
	}

	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[env.Type]...)
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.log.Debug("unhandled inbound frame", "type", env.Type)
		return
	}
	for _, h := range handlers {
		h(env)
	}
}

// errorClaimed reports whether an id-less Error belongs to an exchange
// registered with ClaimErrors. The claims run without c.mu held.
func (c *Conn) errorClaimed(env protocol.Envelope) bool {
	if env.Type != protocol.TypeError || env.ID != "" || c.mode != ModeCorrelate {
		return false
	}
	c.mu.Lock()
	claims := slices.Clone(c.claims)
	c.mu.Unlock()
	for _, fn := range claims {
		if fn() {
			return true
		}
	}
	return false
}

// resolve hands env to a waiting call. It reports whether env was consumed.
// A claimed Error is never given to a call matched by type alone.
func (c *Conn) resolve(env protocol.Envelope, claimed bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	switch {
	case env.ID != "":
		for i, p := range c.pending {
			if p.id == env.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			c.log.Debug("dropping late reply", "type", env.Type, "id", env.ID)
			return true
		}
	case c.mode == ModeNextMessage:
		if len(c.pending) > 0 {
			idx = 0
		}
	case claimed:
	default:
		for i, p := range c.pending {
			if p.accept[env.Type] {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return false
	}

	p := c.pending[idx]
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	p.done <- callResult{env: env}
	return true
}

func (c *Conn) detach(t Transport, cause error) {
	c.mu.Lock()
	if c.transport == t {
		c.transport = nil
		c.connected = false
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if cause == nil {
		cause = errors.New("connection closed")
	}
	for _, p := range pending {
		p.done <- callResult{err: &TransportError{Err: cause}}
	}
	_ = t.Close()
	c.emitState(false)
}

func (c *Conn) pingLoop(ctx context.Context, t Transport, p Pinger) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
			err := p.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn("ping failed", "error", err)
					_ = t.Close()
				}
				return
			}
		}
	}
}

func (c *Conn) emitState(connected bool) {
	c.mu.Lock()
	fns := slices.Clone(c.onState)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}
