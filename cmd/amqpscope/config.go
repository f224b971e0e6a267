package main

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/NetPo4ki/go-amqpscope/amqpscope"
	"github.com/NetPo4ki/go-amqpscope/observe/prom"
	"github.com/NetPo4ki/go-amqpscope/rabbit"
	"github.com/NetPo4ki/go-amqpscope/scope"
)

const (
	envURL     = "AMQPSCOPE_URL"
	envLocale  = "AMQPSCOPE_LOCALE"
	envProduct = "AMQPSCOPE_PRODUCT"
)

type config struct {
	URL     string
	Locale  string
	Product string
	Timeout time.Duration
	Debug   bool
	Metrics bool

	logger   zerolog.Logger
	registry *prometheus.Registry
	observer *prom.Metrics

	// replaced in tests; nil means a real broker
	dial    rabbit.DialFunc
	channel func(*rabbit.Client) (publisher, error)
}

var rootConfig = &config{}

// publisher is the part of *amqp.Channel the commands use.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

func (c *config) openChannel(cl *rabbit.Client) (publisher, error) {
	if c.channel != nil {
		return c.channel(cl)
	}
	ch, err := cl.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Init fills unset connection fields from the environment and prepares
// logging and metrics.
func (c *config) Init(stderr io.Writer) error {
	if c.URL == "" {
		c.URL = os.Getenv(envURL)
	}
	if c.Locale == "" {
		c.Locale = os.Getenv(envLocale)
	}
	if c.Product == "" {
		c.Product = os.Getenv(envProduct)
	}
	if c.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %s", c.Timeout)
	}

	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	}
	c.logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	c.registry, c.observer = nil, nil
	if c.Metrics {
		c.registry = prometheus.NewRegistry()
		m, err := prom.New(c.registry)
		if err != nil {
			return errors.Wrap(err, "register metrics")
		}
		c.observer = m
	}
	return nil
}

// scopeOptions configures the scheduler shared by a command's connections.
func (c *config) scopeOptions() []scope.Option {
	opts := []scope.Option{scope.WithLogger(c.logger)}
	if c.observer != nil {
		opts = append(opts, scope.WithObserver(c.observer))
	}
	return opts
}

func (c *config) params(sched *scope.Scope) amqpscope.Params {
	return amqpscope.Params{
		URL:       c.URL,
		Locale:    c.Locale,
		Product:   c.Product,
		Scheduler: sched,
	}
}

func (c *config) options() []amqpscope.Option {
	opts := []amqpscope.Option{amqpscope.WithLogger(c.logger)}
	if c.observer != nil {
		opts = append(opts, amqpscope.WithObserver(c.observer))
	}
	if c.dial != nil {
		opts = append(opts, amqpscope.WithDialer(c.dial))
	}
	return opts
}

// dumpMetrics writes the gathered metrics in the Prometheus text format.
func (c *config) dumpMetrics(w io.Writer) error {
	if c.registry == nil {
		return nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}
