// Package rabbit is the AMQP 0-9-1 client handed out by amqpscope. It wraps a
// github.com/streadway/amqp connection with context-aware dialing and an
// explicit closed-state query.
package rabbit

import (
	"context"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/NetPo4ki/go-amqpscope/scope"
)

// DefaultDialTimeout bounds TCP connect and the AMQP handshake when the
// connect context carries no deadline.
const DefaultDialTimeout = 30 * time.Second

var (
	ErrAlreadyConnected = errors.New("rabbit: client already connected")
	ErrNotConnected     = errors.New("rabbit: client not connected")
)

// Connection is the subset of *amqp.Connection the client uses.
type Connection interface {
	Channel() (*amqp.Channel, error)
	Close() error
	IsClosed() bool
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
}

// DialFunc opens a broker connection. The default is amqp.DialConfig.
type DialFunc func(url string, cfg amqp.Config) (Connection, error)

func dialAMQP(url string, cfg amqp.Config) (Connection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	URL     string
	Locale  string
	Product string
	Version string
	Dial    DialFunc

	// Scheduler runs the client's background tasks. When nil the client
	// owns a private scope and joins it on Close.
	Scheduler *scope.Scope

	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Client is a single-use connection handle: Connect once, Close once.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	conn      Connection
	netConn   net.Conn
	connected bool
	closed    bool
	closeErr  *amqp.Error
	tasks     *scope.Scope
	ownTasks  bool
}

func New(cfg Config) *Client {
	if cfg.Dial == nil {
		cfg.Dial = dialAMQP
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "rabbit").Logger()
	}
	return &Client{cfg: cfg, log: log}
}

// Connect dials the broker and completes the AMQP handshake. The context
// bounds both: cancelling it aborts a handshake in progress, and without a
// deadline DefaultDialTimeout applies.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connected = true
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	uri, err := amqp.ParseURI(c.cfg.URL)
	if err != nil {
		return errors.Wrap(err, "parse url")
	}

	stop := context.AfterFunc(ctx, c.abort)
	conn, err := c.cfg.Dial(c.cfg.URL, c.amqpConfig(ctx))
	stop()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Wrapf(err, "dial %s:%d", uri.Host, uri.Port)
	}
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return err
	}

	tasks, own := c.cfg.Scheduler, false
	if tasks == nil {
		tasks, own = scope.New(context.Background(), scope.Supervisor, scope.WithLogger(c.log)), true
	}
	c.mu.Lock()
	c.conn = conn
	c.tasks = tasks
	c.ownTasks = own
	c.mu.Unlock()

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	tasks.Go("notify-close", func(ctx context.Context) error {
		return c.watch(ctx, notify)
	})
	c.log.Debug().Str("host", uri.Host).Int("port", uri.Port).Str("vhost", uri.Vhost).Msg("connected")
	return nil
}

func (c *Client) amqpConfig(ctx context.Context) amqp.Config {
	props := amqp.Table{
		"product":  c.cfg.Product,
		"platform": "Go " + runtime.Version(),
	}
	if c.cfg.Version != "" {
		props["version"] = c.cfg.Version
	}
	return amqp.Config{
		Locale:     c.cfg.Locale,
		Properties: props,
		Dial: func(network, addr string) (net.Conn, error) {
			deadline, ok := ctx.Deadline()
			if !ok {
				deadline = time.Now().Add(DefaultDialTimeout)
			}
			d := net.Dialer{Deadline: deadline}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// cleared by the amqp library once the handshake completes
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			c.mu.Lock()
			c.netConn = conn
			c.mu.Unlock()
			// abort may have run before the socket was known
			if err := ctx.Err(); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	}
}

// abort unblocks any pending read or write on the socket. The amqp library
// treats the resulting timeout as a fatal connection error.
func (c *Client) abort() {
	c.mu.Lock()
	nc := c.netConn
	c.mu.Unlock()
	if nc != nil {
		_ = nc.SetDeadline(time.Now())
	}
}

// watch marks the client closed when the broker or the library closes the
// connection. The notify channel is closed by the library in both cases.
func (c *Client) watch(ctx context.Context, notify <-chan *amqp.Error) error {
	select {
	case amqpErr, ok := <-notify:
		c.mu.Lock()
		c.closed = true
		if ok && amqpErr != nil {
			c.closeErr = amqpErr
		}
		c.mu.Unlock()
		if ok && amqpErr != nil {
			c.log.Warn().Int("code", amqpErr.Code).Str("reason", amqpErr.Reason).Bool("server", amqpErr.Server).Msg("connection closed")
			return amqpErr
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

// IsClosed reports whether the client holds no open connection. A client
// that never connected is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return true
	}
	return c.conn.IsClosed()
}

// Close shuts the connection down and, when the client owns its scheduler,
// waits for the background tasks to exit. The context bounds the wait for
// the broker's close-ok as well as the join; when it expires first the
// socket is aborted and the context error returned.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conn, nc, tasks, own := c.conn, c.netConn, c.tasks, c.ownTasks
	c.closed = true
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()
	var err error
	select {
	case err = <-closed:
	case <-ctx.Done():
		err = ctx.Err()
		if nc != nil {
			c.abort()
			<-closed
		}
	}
	if errors.Is(err, amqp.ErrClosed) {
		err = nil
	}
	if own {
		done := make(chan struct{})
		go func() {
			tasks.Cancel(nil)
			_ = tasks.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
	}
	if err != nil {
		return errors.Wrap(err, "close connection")
	}
	return nil
}

// Channel opens a new channel on the connection.
func (c *Client) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	return ch, nil
}

// Err returns the reason the broker gave for closing the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr == nil {
		return nil
	}
	return c.closeErr
}
