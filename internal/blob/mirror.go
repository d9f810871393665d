package blob

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Mirror pairs a local working store with the remote store it publishes to.
// Local writes are explicit; Put writes both sides.
type Mirror struct {
	Local  Store
	Remote Store
	log    *zap.Logger
}

// NewMirror returns a mirror of local onto remote.
func NewMirror(local, remote Store, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{Local: local, Remote: remote, log: log}
}

// Exists reports whether key is present on either side.
func (m *Mirror) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := m.Local.Exists(ctx, key)
	if err != nil || ok {
		return ok, err
	}
	return m.Remote.Exists(ctx, key)
}

// Get reads the local copy, falling back to the remote one. A remote hit is
// cached locally.
func (m *Mirror) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.Local.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	data, err = m.Remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := m.Local.Put(ctx, key, data); err != nil {
		m.log.Warn("blob: could not cache remote object locally", zap.String("key", key), zap.Error(err))
	}
	return data, nil
}

// Put writes locally, then uploads.
func (m *Mirror) Put(ctx context.Context, key string, data []byte) error {
	if err := m.Local.Put(ctx, key, data); err != nil {
		return err
	}
	return m.Remote.Put(ctx, key, data)
}

// List returns the union of both sides.
func (m *Mirror) List(ctx context.Context, prefix string) ([]string, error) {
	local, err := m.Local.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	remote, err := m.Remote.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return sortedUnique(append(local, remote...)), nil
}

// Upload copies the local object at key to the remote store.
func (m *Mirror) Upload(ctx context.Context, key string) error {
	data, err := m.Local.Get(ctx, key)
	if err != nil {
		return eris.Wrapf(err, "blob: upload %s", key)
	}
	if err := m.Remote.Put(ctx, key, data); err != nil {
		return eris.Wrapf(err, "blob: upload %s", key)
	}
	m.log.Info("uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}
