package catalog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/blob"
)

// DefaultKey is where the catalog lives in the blob store.
const DefaultKey = "catalogs/dataset_catalog.csv"

// LoadRemote fetches and parses the catalog stored under key. A missing
// object is an empty catalog.
func LoadRemote(ctx context.Context, store blob.Store, key string, log *zap.Logger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	data, err := store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		log.Info("no remote catalog yet", zap.String("key", key))
		return New(nil)
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: fetch remote")
	}
	return Parse(bytes.NewReader(data))
}

// Sync merges the remote catalog into the local one, rewrites the local file
// as CSV and uploads the result. Local rows win on key clashes. A local
// .xlsx catalog is written next to itself with a .csv extension.
func Sync(ctx context.Context, localPath string, store blob.Store, key string, log *zap.Logger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "catalog"))

	remote, err := LoadRemote(ctx, store, key, log)
	if err != nil {
		return nil, err
	}
	local, err := Load(localPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(local, remote)

	data, err := merged.EncodeCSV()
	if err != nil {
		return nil, err
	}
	out := csvPath(localPath)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, eris.Wrap(err, "catalog: create directory")
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return nil, eris.Wrapf(err, "catalog: write %s", out)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return nil, eris.Wrap(err, "catalog: upload")
	}

	log.Info("catalog synced",
		zap.String("path", out),
		zap.Int("local", local.Len()),
		zap.Int("remote", remote.Len()),
		zap.Int("merged", merged.Len()),
	)
	return merged, nil
}

func csvPath(p string) string {
	ext := filepath.Ext(p)
	if strings.EqualFold(ext, ".csv") {
		return p
	}
	return strings.TrimSuffix(p, ext) + ".csv"
}
