package blob

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/db"
	"github.com/sells-group/sdm-cli/internal/resilience"
)

// Options selects and configures a remote store.
type Options struct {
	Driver      string // fs, ftp, postgres or redis
	Root        string
	FTPURL      string
	DatabaseURL string
	RedisURL    string
	Prefix      string
	Retry       resilience.RetryConfig
}

// Open builds the remote store named by opts.Driver. Network backends are
// wrapped in a Retrying store. The returned function releases connections.
func Open(ctx context.Context, opts Options, log *zap.Logger) (Store, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "blob"), zap.String("driver", opts.Driver))
	noop := func() {}

	var (
		s       Store
		closeFn = noop
	)
	switch opts.Driver {
	case "", "fs":
		s = NewFS(nil, opts.Root)
	case "ftp":
		f, err := NewFTP(opts.FTPURL, FTPOptions{}, log)
		if err != nil {
			return nil, noop, err
		}
		s = NewRetrying(f, "ftp", opts.Retry, log)
	case "postgres":
		pool, err := db.Connect(ctx, opts.DatabaseURL, db.PoolConfig{})
		if err != nil {
			return nil, noop, err
		}
		pg := NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		s = NewRetrying(pg, "postgres", opts.Retry, log)
		closeFn = pool.Close
	case "redis":
		r, err := OpenRedis(opts.RedisURL, "sdm")
		if err != nil {
			return nil, noop, err
		}
		s = NewRetrying(r, "redis", opts.Retry, log)
		closeFn = func() { _ = r.Close() }
	default:
		return nil, noop, eris.Errorf("blob: unknown driver %q", opts.Driver)
	}
	return WithPrefix(s, opts.Prefix), closeFn, nil
}
