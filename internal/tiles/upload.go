package tiles

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/sdm-cli/internal/blob"
)

// Uploader copies a local tileset to the blob store.
type Uploader struct {
	fs          afero.Fs
	store       blob.Store
	concurrency int
	limiter     *rate.Limiter
	log         *zap.Logger
}

// NewUploader creates an uploader running at most concurrency puts at once
// and perSecond puts per second. perSecond <= 0 disables rate limiting.
func NewUploader(fsys afero.Fs, store blob.Store, concurrency int, perSecond float64, log *zap.Logger) *Uploader {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	limit := rate.Inf
	burst := concurrency
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Uploader{
		fs:          fsys,
		store:       store,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, burst),
		log:         log,
	}
}

func uploadable(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".json", ".pbf":
		return true
	}
	return false
}

// Upload copies every tile and JSON file below dir to prefix. It does
// nothing when the remote manifest already equals the local one. The
// manifest itself goes last, once every tile is in place.
func (u *Uploader) Upload(ctx context.Context, dir, prefix string) (int, error) {
	local, err := afero.ReadFile(u.fs, filepath.Join(dir, ManifestName))
	if err != nil {
		return 0, eris.Wrapf(err, "tiles: read local manifest in %s", dir)
	}
	manifestKey := path.Join(prefix, ManifestName)
	remote, err := u.store.Get(ctx, manifestKey)
	switch {
	case err == nil:
		if same, _ := manifestsEqual(local, remote); same {
			u.log.Info("remote manifest matches; skipping upload", zap.String("prefix", prefix))
			return 0, nil
		}
	case errors.Is(err, blob.ErrNotFound):
	default:
		return 0, eris.Wrap(err, "tiles: read remote manifest")
	}

	var files []string
	err = afero.Walk(u.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !uploadable(p) || filepath.Base(p) == ManifestName {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "tiles: scan %s", dir)
	}
	u.log.Info("uploading tiles", zap.String("prefix", prefix), zap.Int("files", len(files)))

	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for _, p := range files {
		g.Go(func() error {
			if err := u.limiter.Wait(gctx); err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(u.fs, p)
			if err != nil {
				return eris.Wrapf(err, "tiles: read %s", rel)
			}
			if err := u.store.Put(gctx, path.Join(prefix, filepath.ToSlash(rel)), data); err != nil {
				return eris.Wrapf(err, "tiles: upload %s", rel)
			}
			uploaded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(uploaded.Load()), err
	}

	if err := u.store.Put(ctx, manifestKey, local); err != nil {
		return int(uploaded.Load()), eris.Wrap(err, "tiles: upload manifest")
	}
	n := int(uploaded.Load()) + 1
	u.log.Info("upload complete", zap.String("prefix", prefix), zap.Int("files", n))
	return n, nil
}

func manifestsEqual(a, b []byte) (bool, error) {
	ma, err := ParseManifest(a)
	if err != nil {
		return false, err
	}
	mb, err := ParseManifest(b)
	if err != nil {
		return false, err
	}
	return ma.Equal(mb), nil
}
