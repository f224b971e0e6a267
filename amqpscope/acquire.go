package amqpscope

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Client is the connection handle managed by Acquire.
type Client interface {
	Connect(ctx context.Context) error
	// IsClosed reports the current state and must not block.
	IsClosed() bool
	Close(ctx context.Context) error
}

// Acquire creates a client with newClient, connects it and runs body with
// it. Whatever way body exits, the client is closed afterwards unless it
// already reports closed; Close is called at most once.
//
// A failed Connect is returned as *ConnectError without running body. A
// body error is returned unchanged unless Close fails too, in which case a
// *CleanupError holds both. A panic in body is re-raised after cleanup, or
// returned as *PanicError under WithPanicAsError.
func Acquire[C Client](ctx context.Context, newClient func() C, body func(context.Context, C) error, optFns ...Option) (err error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	obs := opts.Observer

	client := newClient()
	start := time.Now()
	if cerr := client.Connect(ctx); cerr != nil {
		err = &ConnectError{Err: cerr}
		if obs != nil {
			obs.Connected(ctx, time.Since(start), err)
		}
		return err
	}
	opened := time.Now()
	if obs != nil {
		obs.Connected(ctx, opened.Sub(start), nil)
	}

	exited := false
	defer func() {
		var (
			pval  any
			stack []byte
		)
		if !exited {
			// nil here means runtime.Goexit, which keeps unwinding after cleanup
			if pval = recover(); pval != nil {
				stack = debug.Stack()
			}
		}
		bodyErr := err
		if pval != nil {
			bodyErr = &PanicError{Value: pval, Stack: stack}
		}

		closed, closeErr := release(ctx, client, opts.Logger)
		if obs != nil {
			obs.Released(ctx, time.Since(opened), closed, bodyErr, closeErr)
		}

		if pval != nil && !opts.PanicAsError {
			if closeErr != nil {
				opts.Logger.Error().Err(closeErr).Msg("close failed while unwinding panic")
			}
			panic(pval)
		}
		switch {
		case closeErr == nil:
			err = bodyErr
		case bodyErr == nil:
			err = &CloseError{Err: closeErr}
		default:
			err = &CleanupError{Body: bodyErr, Close: &CloseError{Err: closeErr}}
		}
	}()

	err = body(ctx, client)
	exited = true
	return err
}

// release closes c when it is still open. Cancellation of ctx does not
// prevent the close.
func release(ctx context.Context, c Client, log zerolog.Logger) (bool, error) {
	if c.IsClosed() {
		return false, nil
	}
	log.Debug().Msg("closing client from connection scope")
	return true, c.Close(context.WithoutCancel(ctx))
}
