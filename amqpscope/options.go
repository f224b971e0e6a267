package amqpscope

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/NetPo4ki/go-amqpscope/rabbit"
)

type Option func(*Options)

type Options struct {
	PanicAsError bool
	Observer     Observer
	Logger       zerolog.Logger

	// Dial replaces the broker dialer used by Connect. Acquire ignores it.
	Dial rabbit.DialFunc
}

func defaultOptions() Options { return Options{Logger: zerolog.Nop()} }

// WithPanicAsError turns a panic in the body into a *PanicError instead of
// re-panicking once the connection is released.
func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

func WithLogger(l zerolog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithDialer makes Connect open connections through dial, for example a
// rabbittest.Dialer or a dialer with custom TLS.
func WithDialer(dial rabbit.DialFunc) Option { return func(o *Options) { o.Dial = dial } }

// Observer receives lifecycle events of each acquisition.
type Observer interface {
	// Connected is called once Connect returns; err is nil on success.
	Connected(ctx context.Context, dur time.Duration, err error)
	// Released is called after cleanup. closed reports whether cleanup
	// had to call Close.
	Released(ctx context.Context, held time.Duration, closed bool, bodyErr, closeErr error)
}
