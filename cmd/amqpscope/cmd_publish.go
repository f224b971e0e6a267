package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/go-amqpscope/amqpscope"
	"github.com/NetPo4ki/go-amqpscope/rabbit"
	"github.com/NetPo4ki/go-amqpscope/scope"
)

type publishConfig struct {
	Exchange    string
	RoutingKey  string
	ContentType string
	Persistent  bool
	Count       int
	Concurrency int
}

func publishCmd() *cobra.Command {
	pc := &publishConfig{}

	cmd := &cobra.Command{
		Use:     "publish [message | @file]...",
		Short:   "Publish messages, each connection held only for its batch.",
		Aliases: []string{"pub"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pc.Count < 1 || pc.Concurrency < 1 {
				return errors.New("count and concurrency must be at least 1")
			}
			bodies, err := readBodies(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, rootConfig.Timeout)
			defer cancel()

			// background tasks of every connection; joined before returning
			sched := scope.New(ctx, scope.Supervisor, rootConfig.scopeOptions()...)
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(pc.Concurrency)
			for i := 0; i < pc.Count; i++ {
				batch := i
				g.Go(func() error {
					err := amqpscope.Connect(gctx, rootConfig.params(sched), func(ctx context.Context, c *rabbit.Client) error {
						return pc.publish(c, bodies)
					}, rootConfig.options()...)
					if err != nil {
						return errors.Wrapf(err, "batch %d", batch)
					}
					rootConfig.logger.Debug().Int("batch", batch).Int("messages", len(bodies)).Msg("published")
					return nil
				})
			}
			err = g.Wait()
			sched.Cancel(nil)
			if werr := sched.Wait(); werr != nil {
				rootConfig.logger.Warn().Err(werr).Msg("connection closed by broker")
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&pc.Exchange, "exchange", "e", "", "Exchange name; empty publishes to the default exchange.")
	cmd.Flags().StringVarP(&pc.RoutingKey, "routing-key", "k", "", "Routing key.")
	cmd.Flags().StringVar(&pc.ContentType, "content-type", "text/plain", "Content type.")
	cmd.Flags().BoolVar(&pc.Persistent, "persistent", false, "Publish with delivery mode 2.")
	cmd.Flags().IntVarP(&pc.Count, "count", "n", 1, "Number of connections, each publishing every message once.")
	cmd.Flags().IntVarP(&pc.Concurrency, "concurrency", "c", 1, "Connections open at the same time.")

	return cmd
}

func (pc *publishConfig) publish(c *rabbit.Client, bodies [][]byte) error {
	ch, err := rootConfig.openChannel(c)
	if err != nil {
		return err
	}
	defer ch.Close()

	mode := amqp.Transient
	if pc.Persistent {
		mode = amqp.Persistent
	}
	for _, body := range bodies {
		err := ch.Publish(pc.Exchange, pc.RoutingKey, false, false, amqp.Publishing{
			ContentType:  pc.ContentType,
			DeliveryMode: mode,
			Body:         body,
		})
		if err != nil {
			return errors.Wrap(err, "publish")
		}
	}
	return nil
}

// readBodies turns arguments into message bodies; "@path" reads a file.
func readBodies(args []string) ([][]byte, error) {
	bodies := make([][]byte, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, "@") {
			bodies = append(bodies, []byte(arg))
			continue
		}
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, errors.Wrap(err, "read message file")
		}
		bodies = append(bodies, data)
	}
	return bodies, nil
}
