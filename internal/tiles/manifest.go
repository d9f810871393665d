package tiles

import (
	"encoding/json"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

// ManifestName is the file listing a tileset's PNG tiles.
const ManifestName = ".tile_manifest.json"

// TilesetKey returns the blob prefix of a dataset's tileset.
func TilesetKey(folder, datasetKey string) string {
	return path.Join("raster_tiles", "SDM", folder, datasetKey+"_zoom_auto")
}

// ManifestKey returns the blob key of a dataset's tile manifest.
func ManifestKey(folder, datasetKey string) string {
	return path.Join(TilesetKey(folder, datasetKey), ManifestName)
}

// Manifest maps "z/x/y.png" to the tile size in bytes.
type Manifest map[string]int64

// BuildManifest lists every PNG below dir.
func BuildManifest(fsys afero.Fs, dir string) (Manifest, error) {
	m := Manifest{}
	err := afero.Walk(fsys, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, ".png") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		m[filepath.ToSlash(rel)] = info.Size()
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: scan %s", dir)
	}
	return m, nil
}

// ParseManifest decodes a manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "tiles: parse manifest")
	}
	return m, nil
}

// Encode serializes the manifest.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	return data, eris.Wrap(err, "tiles: encode manifest")
}

// Equal reports whether both manifests list the same tiles and sizes.
func (m Manifest) Equal(o Manifest) bool { return maps.Equal(m, o) }

// MaxZoom returns the largest zoom level in the manifest, or -1 when no key
// starts with a zoom level.
func (m Manifest) MaxZoom() int {
	best := -1
	for k := range m {
		z, err := strconv.Atoi(strings.SplitN(k, "/", 2)[0])
		if err != nil {
			continue
		}
		best = max(best, z)
	}
	return best
}

// WriteManifest builds the manifest of dir and saves it inside dir.
func WriteManifest(fsys afero.Fs, dir string) (Manifest, error) {
	m, err := BuildManifest(fsys, dir)
	if err != nil {
		return nil, err
	}
	data, err := m.Encode()
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(fsys, filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return nil, eris.Wrap(err, "tiles: write manifest")
	}
	return m, nil
}

// CompareManifest reports whether dir holds a manifest matching the tiles
// currently on disk.
func CompareManifest(fsys afero.Fs, dir string) (bool, error) {
	data, err := afero.ReadFile(fsys, filepath.Join(dir, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "tiles: read manifest")
	}
	saved, err := ParseManifest(data)
	if err != nil {
		return false, err
	}
	current, err := BuildManifest(fsys, dir)
	if err != nil {
		return false, err
	}
	return saved.Equal(current), nil
}

// MaxZoomLevel returns the largest numeric directory name directly below
// dir, or 0 when there is none.
func MaxZoomLevel(fsys afero.Fs, dir string) (int, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return 0, eris.Wrapf(err, "tiles: list %s", dir)
	}
	best := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if z, err := strconv.Atoi(e.Name()); err == nil && z >= 0 {
			best = max(best, z)
		}
	}
	return best, nil
}
