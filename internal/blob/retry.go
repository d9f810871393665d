package blob

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/resilience"
)

// Retrying retries transient failures of a remote store.
type Retrying struct {
	next    Store
	cfg     resilience.RetryConfig
	backend string
	log     *zap.Logger
}

// NewRetrying wraps next. backend names the store in retry logs.
func NewRetrying(next Store, backend string, cfg resilience.RetryConfig, log *zap.Logger) *Retrying {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{next: next, cfg: cfg, backend: backend, log: log}
}

func (r *Retrying) config(op string) resilience.RetryConfig {
	cfg := r.cfg
	cfg.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrNotFound) && resilience.IsTransient(err)
	}
	cfg.OnRetry = resilience.RetryLogger(r.log, r.backend, op)
	return cfg
}

func (r *Retrying) Exists(ctx context.Context, key string) (bool, error) {
	return resilience.DoVal(ctx, r.config("exists"), func(ctx context.Context) (bool, error) {
		return r.next.Exists(ctx, key)
	})
}

func (r *Retrying) Get(ctx context.Context, key string) ([]byte, error) {
	return resilience.DoVal(ctx, r.config("get"), func(ctx context.Context) ([]byte, error) {
		return r.next.Get(ctx, key)
	})
}

func (r *Retrying) Put(ctx context.Context, key string, data []byte) error {
	return resilience.Do(ctx, r.config("put"), func(ctx context.Context) error {
		return r.next.Put(ctx, key, data)
	})
}

func (r *Retrying) List(ctx context.Context, prefix string) ([]string, error) {
	return resilience.DoVal(ctx, r.config("list"), func(ctx context.Context) ([]string, error) {
		return r.next.List(ctx, prefix)
	})
}
