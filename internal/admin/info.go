package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/pipeline"
	"github.com/sells-group/sdm-cli/internal/polygon"
	"github.com/sells-group/sdm-cli/internal/vector"
)

// InfoKey is the blob key of the boundary metadata file.
const InfoKey = "adm_bdry_info.json"

// Adm0Info describes one country.
type Adm0Info struct {
	Name       string     `json:"name"`
	BBox       [4]float64 `json:"bbox"` // lon_min, lat_min, lon_max, lat_max
	IsDisputed string     `json:"is_disputed"`
}

// Adm1Info describes one admin-1 zone.
type Adm1Info struct {
	Name     string     `json:"name"`
	Adm0ISO3 string     `json:"adm0_iso3"`
	BBox     [4]float64 `json:"bbox"`
}

// Info is the boundary metadata of every region covered by the results.
type Info struct {
	Adm0 map[string]Adm0Info `json:"adm0"`
	Adm1 map[string]Adm1Info `json:"adm1"`
}

// InfoOptions names the fields of the boundary layers.
type InfoOptions struct {
	Adm0IDField  string
	Adm1IDField  string
	NameField    string
	CountryField string
	// TypeField holds the boundary type; anything but SovereignType marks a
	// disputed area.
	TypeField     string
	SovereignType string
}

// DefaultInfoOptions returns the field names of the CGAZ layers.
func DefaultInfoOptions() InfoOptions {
	return InfoOptions{
		Adm0IDField:   "iso3",
		Adm1IDField:   "adm1_code",
		NameField:     "name",
		CountryField:  "adm0_iso3",
		TypeField:     "shapeType",
		SovereignType: "ADM0",
	}
}

// CoveredRegions returns the sorted union of the countries and admin-1
// zones listed in docs.
func CoveredRegions(docs map[string]*pipeline.Document) (adm0, adm1 []string) {
	for _, doc := range docs {
		adm0 = append(adm0, doc.Adm0List...)
		adm1 = append(adm1, doc.Adm1List...)
	}
	slices.Sort(adm0)
	slices.Sort(adm1)
	return slices.Compact(adm0), slices.Compact(adm1)
}

// BuildInfo looks up every listed region. A listed region missing from its
// layer is an error. adm1Src may be nil when adm1List is empty.
func BuildInfo(ctx context.Context, adm0Src, adm1Src vector.Source, adm0List, adm1List []string, opts InfoOptions, log *zap.Logger) (*Info, error) {
	if log == nil {
		log = zap.NewNop()
	}
	info := &Info{
		Adm0: make(map[string]Adm0Info, len(adm0List)),
		Adm1: make(map[string]Adm1Info, len(adm1List)),
	}

	if len(adm0List) > 0 {
		features, err := lookup(ctx, adm0Src, opts.Adm0IDField, adm0List)
		if err != nil {
			return nil, err
		}
		for _, id := range adm0List {
			f := features[id]
			disputed := "no"
			if f.Get(opts.TypeField) != opts.SovereignType {
				disputed = "yes"
			}
			info.Adm0[id] = Adm0Info{
				Name:       FixMojibake(f.Get(opts.NameField)),
				BBox:       geographicBounds(f, adm0Src.CRS()),
				IsDisputed: disputed,
			}
		}
	}

	if len(adm1List) > 0 {
		if adm1Src == nil {
			return nil, eris.New("admin: admin-1 zones listed but no admin-1 layer given")
		}
		features, err := lookup(ctx, adm1Src, opts.Adm1IDField, adm1List)
		if err != nil {
			return nil, err
		}
		for _, id := range adm1List {
			f := features[id]
			info.Adm1[id] = Adm1Info{
				Name:     FixMojibake(f.Get(opts.NameField)),
				Adm0ISO3: f.Get(opts.CountryField),
				BBox:     geographicBounds(f, adm1Src.CRS()),
			}
		}
	}

	log.Info("admin boundary info built", zap.Int("adm0", len(info.Adm0)), zap.Int("adm1", len(info.Adm1)))
	return info, nil
}

func lookup(ctx context.Context, src vector.Source, field string, ids []string) (map[string]vector.Feature, error) {
	features, err := src.Query(ctx, vector.Query{Where: []vector.Predicate{vector.In(field, ids...)}})
	if err != nil {
		return nil, eris.Wrapf(err, "admin: query %s", field)
	}
	byID := make(map[string]vector.Feature, len(features))
	for _, f := range features {
		byID[f.Get(field)] = f
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, eris.Errorf("admin: %s %q not found", field, id)
		}
	}
	return byID, nil
}

func geographicBounds(f vector.Feature, ref crs.CRS) [4]float64 {
	if f.Geometry == nil || f.Geometry.NumPolygons() == 0 {
		return [4]float64{}
	}
	x0, y0, x1, y1 := polygon.Bounds(f.Geometry)
	if !crs.IsGeographic(ref) {
		x0, y0, x1, y1 = crs.TransformBounds(ref, crs.Geographic{}, x0, y0, x1, y1, 21)
	}
	return [4]float64{x0, y0, x1, y1}
}

// Encode writes the metadata as indented JSON with non-ASCII text kept
// as is.
func (i *Info) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(i); err != nil {
		return nil, eris.Wrap(err, "admin: encode boundary info")
	}
	return buf.Bytes(), nil
}

// WriteInfo publishes the boundary metadata.
func WriteInfo(ctx context.Context, store blob.Store, info *Info, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	data, err := info.Encode()
	if err != nil {
		return err
	}
	if err := store.Put(ctx, InfoKey, data); err != nil {
		return eris.Wrap(err, "admin: publish boundary info")
	}
	log.Info("admin boundary info written", zap.String("key", InfoKey))
	return nil
}

var latin1 = charmap.ISO8859_1

// mojibake maps common UTF-8-read-as-Latin-1 pairs back to their letters.
var mojibake = strings.NewReplacer(
	"Ã³", "ó",
	"Ã¡", "á",
	"Ã©", "é",
	"Ã±", "ñ",
	"Ãº", "ú",
	"Ã­", "í",
	"Ã ", "à",
	"Ã¨", "è",
	"Ã¬", "ì",
	"Ã²", "ò",
	"Ã¹", "ù",
	"Ã§", "ç",
	"Ã¼", "ü",
	"Ã¶", "ö",
	"Ã¤", "ä",
)

// FixMojibake repairs UTF-8 text that was decoded as Latin-1. When the text
// does not round-trip through Latin-1 to valid UTF-8, only the common
// accented-letter patterns are replaced.
func FixMojibake(s string) string {
	raw, err := latin1.NewEncoder().String(s)
	if err == nil && utf8.ValidString(raw) {
		return raw
	}
	return mojibake.Replace(s)
}
