package blob

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Redis stores blobs as string values under a key namespace.
type Redis struct {
	client *redis.Client
	ns     string
}

// NewRedis returns a store that keeps every key under namespace ns.
func NewRedis(client *redis.Client, ns string) *Redis {
	if ns == "" {
		ns = "sdm"
	}
	return &Redis{client: client, ns: strings.TrimSuffix(ns, ":") + ":"}
}

// OpenRedis connects to a redis:// URL.
func OpenRedis(rawURL, ns string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "blob: parse redis url")
	}
	return NewRedis(redis.NewClient(opts), ns), nil
}

// Close closes the underlying client.
func (s *Redis) Close() error { return s.client.Close() }

func (s *Redis) redisKey(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return s.ns + k, nil
}

func (s *Redis) Exists(ctx context.Context, key string) (bool, error) {
	k, err := s.redisKey(key)
	if err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, eris.Wrapf(err, "blob: redis exists %s", key)
	}
	return n > 0, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := s.redisKey(key)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, eris.Wrapf(ErrNotFound, "blob: get %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: redis get %s", key)
	}
	return data, nil
}

func (s *Redis) Put(ctx context.Context, key string, data []byte) error {
	k, err := s.redisKey(key)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, k, data, 0).Err(); err != nil {
		return eris.Wrapf(err, "blob: redis set %s", key)
	}
	return nil
}

func (s *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := s.client.Scan(ctx, 0, globEscape(s.ns+prefix)+"*", 500).Iterator()
	for it.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(it.Val(), s.ns))
	}
	if err := it.Err(); err != nil {
		return nil, eris.Wrapf(err, "blob: redis scan %s", prefix)
	}
	return sortedUnique(keys), nil
}

// globEscape quotes the characters SCAN MATCH treats as pattern syntax.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
