package scope

import "context"

// Limiter bounds concurrent tasks within a scope.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

type semLimiter chan struct{}

func newSemaphoreLimiter(n int) Limiter {
	if n <= 0 {
		return nil
	}
	return make(semLimiter, n)
}

func (l semLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l <- struct{}{}:
		// both cases may have been ready; cancellation wins
		if err := ctx.Err(); err != nil {
			<-l
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l semLimiter) Release() {
	select {
	case <-l:
	default:
	}
}
