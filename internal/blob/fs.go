package blob

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

// FS stores blobs as files below a root directory.
type FS struct {
	fs   afero.Fs
	root string
}

// NewFS returns a store rooted at root on fs. A nil fs uses the OS
// filesystem.
func NewFS(fs afero.Fs, root string) *FS {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if root == "" {
		root = "."
	}
	return &FS{fs: fs, root: root}
}

// Root returns the directory the store writes to.
func (s *FS) Root() string { return s.root }

// Path returns the filesystem path of key.
func (s *FS) Path(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

func (s *FS) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.Path(key)
	if err != nil {
		return false, err
	}
	fi, err := s.fs.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "blob: stat %s", key)
	}
	return !fi.IsDir(), nil
}

func (s *FS) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNotFound, "blob: get %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: get %s", key)
	}
	return data, nil
}

func (s *FS) Put(_ context.Context, key string, data []byte) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrapf(err, "blob: mkdir for %s", key)
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return eris.Wrapf(err, "blob: put %s", key)
	}
	return nil
}

func (s *FS) List(_ context.Context, prefix string) ([]string, error) {
	// Walk from the deepest directory the prefix fully names.
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	start := s.root
	if dir != "" {
		d, err := s.Path(dir)
		if err != nil {
			return nil, err
		}
		start = d
	}
	if ok, _ := afero.DirExists(s.fs, start); !ok {
		return nil, nil
	}

	var keys []string
	err := afero.Walk(s.fs, start, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := path.Clean(filepath.ToSlash(rel))
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "blob: list %s", prefix)
	}
	return sortedUnique(keys), nil
}
