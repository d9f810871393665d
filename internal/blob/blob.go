// Package blob is a small key-value object store used for results, catalogs
// and tiles. Keys are slash-separated relative paths such as
// "raster_analysis/results_x.json".
package blob

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotFound reports that a key is absent.
var ErrNotFound = eris.New("blob: not found")

// Store is a key-value blob store.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// List returns the keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// CleanKey normalizes a key and rejects keys that escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", eris.Errorf("blob: invalid key %q", key)
	}
	c := path.Clean(key)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", eris.Errorf("blob: invalid key %q", key)
	}
	return c, nil
}

// PutFile uploads a local file under key.
func PutFile(ctx context.Context, s Store, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return eris.Wrapf(err, "blob: read %s", localPath)
	}
	return s.Put(ctx, key, data)
}

// GetFile downloads key into a local file, creating parent directories.
func GetFile(ctx context.Context, s Store, key, localPath string) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(parentDir(localPath), 0o755); err != nil {
		return eris.Wrap(err, "blob: create directory")
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return eris.Wrapf(err, "blob: write %s", localPath)
	}
	return nil
}

func parentDir(p string) string {
	i := strings.LastIndexAny(p, `/\`)
	if i <= 0 {
		return "."
	}
	return p[:i]
}

func sortedUnique(keys []string) []string {
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}

// prefixed scopes every key of a store under a fixed prefix.
type prefixed struct {
	next   Store
	prefix string
}

// WithPrefix returns a view of s where every key is stored under prefix.
// An empty prefix returns s unchanged.
func WithPrefix(s Store, prefix string) Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return s
	}
	return &prefixed{next: s, prefix: prefix + "/"}
}

func (p *prefixed) Exists(ctx context.Context, key string) (bool, error) {
	return p.next.Exists(ctx, p.prefix+key)
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.next.Get(ctx, p.prefix+key)
}

func (p *prefixed) Put(ctx context.Context, key string, data []byte) error {
	return p.next.Put(ctx, p.prefix+key, data)
}

func (p *prefixed) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.next.List(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, p.prefix)
	}
	return keys, nil
}
