// Package catalog loads the dataset catalog: one row per input dataset, with
// the folder and file of its raster and the display metadata copied into
// each result.
package catalog

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind is the kind of data a catalog row points at.
type Kind int

const (
	// Raster is a gridded dataset analysed by the pipeline.
	Raster Kind = iota
	// Vector is a polygon dataset; the pipeline skips it.
	Vector
)

func (k Kind) String() string {
	if k == Vector {
		return "vector"
	}
	return "raster"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. An empty value means
// raster.
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "raster":
		*k = Raster
	case "vector":
		*k = Vector
	default:
		return eris.Errorf("catalog: data_type must be raster or vector, got %q", string(b))
	}
	return nil
}

// Dataset is one typed catalog row.
type Dataset struct {
	Key           string `csv:"-" json:"-"`
	Folder        string `csv:"folder" json:"folder"`
	InputFileName string `csv:"input_file_name" json:"input_file_name"`
	CommonName    string `csv:"common_name" json:"common_name"`
	Region        string `csv:"region" json:"region"`
	Subregion     string `csv:"subregion" json:"subregion"`
	SourceLink    string `csv:"source_link" json:"source_link"`
	SourceText    string `csv:"source_text" json:"source_text"`
	DownloadLink  string `csv:"download_link" json:"download_link"`
	SourceContact string `csv:"source_contact" json:"source_contact"`
	Band          int    `csv:"band" json:"band"`
	Ignore        bool   `csv:"ignore" json:"-"`
	Kind          Kind   `csv:"data_type" json:"-"`

	// Extra holds catalog columns the fields above do not name, so they
	// survive a sync.
	Extra map[string]string `csv:"-" json:"-"`
}

// Metadata returns the catalog fields copied into an analysis result.
func (d Dataset) Metadata() map[string]any {
	return map[string]any{
		"folder":          d.Folder,
		"input_file_name": d.InputFileName,
		"common_name":     d.CommonName,
		"region":          d.Region,
		"subregion":       d.Subregion,
		"source_link":     d.SourceLink,
		"source_text":     d.SourceText,
		"download_link":   d.DownloadLink,
		"source_contact":  d.SourceContact,
		"band":            d.Band,
	}
}

// RasterPath returns the location of the dataset's raster below dataDir.
func (d Dataset) RasterPath(dataDir string) string {
	return filepath.Join(dataDir, "raster", "SDM", d.Folder, d.InputFileName)
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\p{Mn}_]+`)

// MakeKey joins parts with underscores, replaces every run of non-word
// characters with one underscore and trims underscores from both ends.
func MakeKey(parts ...string) string {
	return strings.Trim(nonWord.ReplaceAllString(strings.Join(parts, "_"), "_"), "_")
}

// GenerateKey returns the dataset key: folder, subregion and common name,
// with the region standing in when the subregion is "none".
func (d Dataset) GenerateKey() string {
	area := d.Subregion
	if area == "none" {
		area = d.Region
	}
	return MakeKey(d.Folder, area, d.CommonName)
}

func (d Dataset) validate() error {
	if d.Folder == "" || d.InputFileName == "" {
		return eris.Errorf("catalog: dataset %q needs folder and input_file_name", d.Key)
	}
	if d.Band < 1 {
		return eris.Errorf("catalog: dataset %q has band %d; bands start at 1", d.Key, d.Band)
	}
	return nil
}
