package scope

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Policy int

const (
	// FailFast cancels every sibling once a task fails.
	FailFast Policy = iota
	// Supervisor records the first failure but lets siblings run.
	Supervisor
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case Supervisor:
		return "supervisor"
	default:
		return "unknown"
	}
}

type Option func(*Options)

type Options struct {
	PanicAsError   bool
	MaxConcurrency int
	Observer       Observer
	Logger         zerolog.Logger
}

func defaultOptions() Options {
	return Options{PanicAsError: true, Logger: zerolog.Nop()}
}

func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

// Observer receives task and scope events. Calls happen on the task's
// goroutine and must not block.
type Observer interface {
	TaskStarted(ctx context.Context, name string)
	TaskFinished(ctx context.Context, name string, dur time.Duration, err error, panicked bool)
	ScopeCancelled(ctx context.Context, cause error)
	ScopeJoined(ctx context.Context, wait time.Duration)
}

// WithLogger sets the logger used to trace task failures.
func WithLogger(l zerolog.Logger) Option { return func(o *Options) { o.Logger = l } }

// Scope is a set of tasks sharing one cancellable context.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	policy Policy
	opts   Options
	lim    Limiter
	obs    Observer
	log    zerolog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	firstErr error
	canceled bool
}

// New creates a scope whose context derives from parent.
func New(parent context.Context, policy Policy, optFns ...Option) *Scope {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return newScope(parent, policy, opts)
}

func newScope(parent context.Context, policy Policy, opts Options) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Scope{
		ctx:    ctx,
		cancel: cancel,
		policy: policy,
		opts:   opts,
		lim:    newSemaphoreLimiter(opts.MaxConcurrency),
		obs:    opts.Observer,
		log:    opts.Logger.With().Str("policy", policy.String()).Logger(),
	}
}

func (s *Scope) Context() context.Context { return s.ctx }

// Go runs fn on its own goroutine. The name only appears in logs and panic errors.
func (s *Scope) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.lim != nil {
			if err := s.lim.Acquire(s.ctx); err != nil {
				s.fail(name, err)
				return
			}
			defer s.lim.Release()
		}
		var start time.Time
		if s.obs != nil {
			start = time.Now()
			s.obs.TaskStarted(s.ctx, name)
		}
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if !s.opts.PanicAsError {
				if s.obs != nil {
					s.obs.TaskFinished(s.ctx, name, time.Since(start), nil, true)
				}
				panic(r)
			}
			err := errors.Errorf("task %s panicked: %v", name, r)
			s.fail(name, err)
			if s.obs != nil {
				s.obs.TaskFinished(s.ctx, name, time.Since(start), err, true)
			}
		}()
		err := fn(s.ctx)
		if err != nil {
			s.fail(name, err)
		}
		if s.obs != nil {
			s.obs.TaskFinished(s.ctx, name, time.Since(start), err, false)
		}
	}()
}

// Cancel cancels the scope context. The first non-nil cause is kept and
// returned by Wait.
func (s *Scope) Cancel(cause error) {
	s.mu.Lock()
	if s.firstErr == nil && cause != nil {
		s.firstErr = cause
	}
	first := !s.canceled
	s.canceled = true
	cause = s.firstErr
	s.mu.Unlock()
	s.cancel()
	if first && s.obs != nil {
		s.obs.ScopeCancelled(s.ctx, cause)
	}
}

// Canceled reports whether Cancel has been called, directly or by FailFast.
func (s *Scope) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Wait blocks until every task has returned and reports the first failure.
func (s *Scope) Wait() error {
	var start time.Time
	if s.obs != nil {
		start = time.Now()
	}
	s.wg.Wait()
	if s.obs != nil {
		s.obs.ScopeJoined(s.ctx, time.Since(start))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Scope) fail(name string, err error) {
	s.log.Debug().Str("task", name).Err(err).Msg("task failed")
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	cause := s.firstErr
	s.mu.Unlock()
	if s.policy == FailFast {
		s.Cancel(cause)
	}
}

// Child creates a scope cancelled together with s. Options not overridden
// are inherited.
func (s *Scope) Child(policy Policy, optFns ...Option) *Scope {
	opts := s.opts
	for _, fn := range optFns {
		fn(&opts)
	}
	return newScope(s.ctx, policy, opts)
}
