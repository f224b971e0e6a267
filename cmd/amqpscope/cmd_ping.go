package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-amqpscope/amqpscope"
	"github.com/NetPo4ki/go-amqpscope/rabbit"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect, open a channel and disconnect.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, rootConfig.Timeout)
			defer cancel()

			start := time.Now()
			err := amqpscope.Connect(ctx, rootConfig.params(nil), func(ctx context.Context, c *rabbit.Client) error {
				ch, err := rootConfig.openChannel(c)
				if err != nil {
					return err
				}
				return errors.Wrap(ch.Close(), "close channel")
			}, rootConfig.options()...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
