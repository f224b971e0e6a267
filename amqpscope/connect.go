package amqpscope

import (
	"context"

	"github.com/NetPo4ki/go-amqpscope/rabbit"
)

// Connect opens a broker connection described by params, runs body with it
// and closes it on every exit path. See Acquire for the error contract.
func Connect(ctx context.Context, params Params, body func(context.Context, *rabbit.Client) error, optFns ...Option) error {
	params = params.withDefaults()
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	newClient := func() *rabbit.Client {
		return rabbit.New(rabbit.Config{
			URL:       params.URL,
			Locale:    params.Locale,
			Product:   params.Product,
			Version:   Version,
			Scheduler: params.Scheduler,
			Logger:    &opts.Logger,
			Dial:      opts.Dial,
		})
	}
	err := Acquire(ctx, newClient, body, optFns...)
	if ce, ok := err.(*ConnectError); ok && ce.URL == "" {
		ce.URL = redact(params.URL)
	}
	return err
}
