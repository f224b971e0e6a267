// Package rabbittest provides an in-memory rabbit.Connection for tests that
// must not talk to a broker.
package rabbittest

import (
	"sync"

	"github.com/streadway/amqp"

	"github.com/NetPo4ki/go-amqpscope/rabbit"
)

// Conn records how it was used and mimics the close notifications of
// *amqp.Connection.
type Conn struct {
	CloseErr error
	// Block, when set, holds Close until it is closed, like a broker that
	// never answers connection.close.
	Block chan struct{}

	mu       sync.Mutex
	closed   bool
	closes   int
	notifies []chan *amqp.Error
}

func (c *Conn) Channel() (*amqp.Channel, error) {
	if c.IsClosed() {
		return nil, amqp.ErrClosed
	}
	return nil, amqp.ErrChannelMax
}

func (c *Conn) Close() error {
	if c.Block != nil {
		<-c.Block
	}
	c.mu.Lock()
	c.closes++
	if c.closed {
		c.mu.Unlock()
		return amqp.ErrClosed
	}
	c.shutdown(nil)
	c.mu.Unlock()
	return c.CloseErr
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notifies = append(c.notifies, receiver)
	return receiver
}

// ServerClose simulates a connection.close sent by the broker.
func (c *Conn) ServerClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.shutdown(&amqp.Error{Code: code, Reason: reason, Server: true})
}

// Closes reports how many times Close was called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *Conn) shutdown(err *amqp.Error) {
	c.closed = true
	for _, ch := range c.notifies {
		if err != nil {
			ch <- err
		}
		close(ch)
	}
	c.notifies = nil
}

// Dialer hands out Conn values and records the dial arguments.
type Dialer struct {
	Err error

	mu      sync.Mutex
	URLs    []string
	Configs []amqp.Config
	Conns   []*Conn
}

func (d *Dialer) Dial(url string, cfg amqp.Config) (rabbit.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.URLs = append(d.URLs, url)
	d.Configs = append(d.Configs, cfg)
	if d.Err != nil {
		return nil, d.Err
	}
	c := &Conn{}
	d.Conns = append(d.Conns, c)
	return c, nil
}

// Last returns the most recently dialed connection.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Conns) == 0 {
		return nil
	}
	return d.Conns[len(d.Conns)-1]
}
