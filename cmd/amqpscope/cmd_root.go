package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-amqpscope/amqpscope"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "amqpscope",
		Short:         "Run one-shot operations against a RabbitMQ broker.",
		Version:       amqpscope.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rootConfig.Init(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return rootConfig.dumpMetrics(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&rootConfig.URL, "url", "u", "", "Broker URL (env "+envURL+", default "+amqpscope.DefaultURL+").")
	flags.StringVar(&rootConfig.Locale, "locale", "", "Connection locale (env "+envLocale+", default "+amqpscope.DefaultLocale+").")
	flags.StringVar(&rootConfig.Product, "product", "", "Product name sent to the broker (env "+envProduct+").")
	flags.DurationVar(&rootConfig.Timeout, "timeout", 30*time.Second, "Overall command timeout.")
	flags.BoolVar(&rootConfig.Debug, "debug", false, "Enable debug logging.")
	flags.BoolVar(&rootConfig.Metrics, "metrics", false, "Print collected metrics to stderr on exit.")

	cmd.AddCommand(pingCmd(), publishCmd())
	return cmd
}
