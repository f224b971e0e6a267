// Package amqpscope connects to a RabbitMQ broker for the duration of a
// function call. Connect hands the body a connected client and guarantees
// the connection is released when the body returns, fails or panics:
//
//	err := amqpscope.Connect(ctx, amqpscope.Params{URL: url},
//		func(ctx context.Context, c *rabbit.Client) error {
//			ch, err := c.Channel()
//			if err != nil {
//				return err
//			}
//			return ch.ExchangeDeclare("events", "topic", true, false, false, false, nil)
//		})
//
// Acquire offers the same guarantee for any Client implementation.
package amqpscope
