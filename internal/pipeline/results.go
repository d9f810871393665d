package pipeline

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/binning"
	"github.com/sells-group/sdm-cli/internal/raster"
)

// Result groups.
const (
	GroupWhole   = "whole"
	GroupCountry = "country"
	GroupAdm1    = "adm1-zone"
)

// WholeID identifies the single record of the whole group.
const WholeID = "whole"

// Groups lists the result groups in output order.
var Groups = []string{GroupWhole, GroupCountry, GroupAdm1}

// Top-level document keys besides the groups and catalog metadata.
const (
	KeyAdm0List      = "adm0_list"
	KeyAdm1List      = "adm1_list"
	KeyRasterSummary = "raster_summary"
	KeyMaxZoom       = "max_zoom"
)

// Results is the analysis of one raster.
type Results struct {
	// Groups maps group → region id → binned areas.
	Groups   map[string]map[string]*binning.Record
	Adm0List []string
	Adm1List []string
	Summary  raster.Summary
	Metadata map[string]any
}

// NewResults returns an empty results tree with every group present.
func NewResults() *Results {
	r := &Results{Groups: make(map[string]map[string]*binning.Record, len(Groups))}
	for _, g := range Groups {
		r.Groups[g] = map[string]*binning.Record{}
	}
	return r
}

// Add stores the record of one region.
func (r *Results) Add(group, id string, rec *binning.Record) {
	if r.Groups[group] == nil {
		r.Groups[group] = map[string]*binning.Record{}
	}
	r.Groups[group][id] = rec
}

// RecordDoc is the serialized form of a binning.Record.
type RecordDoc struct {
	AreaByBin           []float64            `json:"area_km2_by_bin"`
	AreaByBinInPA       []float64            `json:"area_km2_by_bin_in_PA"`
	AreaByBinNotInPA    []float64            `json:"area_km2_by_bin_not_in_PA"`
	AreaByLandUseAndBin map[string][]float64 `json:"area_km2_by_landuse_and_bin"`
}

// KeyDimensions holds the raster shape in the summary. encoding/json tags
// cannot carry the comma, so SummaryDoc writes it itself.
const KeyDimensions = "dimensions (rows, cols)"

// SummaryDoc is the serialized raster summary.
type SummaryDoc struct {
	Projection   string     `json:"projection"`
	Dimensions   [2]int     `json:"-"`
	Bounds       [4]float64 `json:"bounds"`
	FractionNull float64    `json:"fraction_null"`
	Min          float64    `json:"min"`
	Max          float64    `json:"max"`
	Mean         float64    `json:"mean"`
	Median       float64    `json:"median"`
	P99          float64    `json:"99pc"`
}

type summaryFields SummaryDoc

// MarshalJSON adds the dimensions key to the tagged fields.
func (s SummaryDoc) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(summaryFields(s))
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	dims, err := json.Marshal(s.Dimensions)
	if err != nil {
		return nil, err
	}
	out[KeyDimensions] = dims
	return json.Marshal(out)
}

// UnmarshalJSON reads the tagged fields and the dimensions key.
func (s *SummaryDoc) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*summaryFields)(s)); err != nil {
		return eris.Wrap(err, "pipeline: decode raster summary")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "pipeline: decode raster summary")
	}
	if v, ok := raw[KeyDimensions]; ok {
		if err := json.Unmarshal(v, &s.Dimensions); err != nil {
			return eris.Wrap(err, "pipeline: decode raster dimensions")
		}
	}
	return nil
}

// Document is the persisted form of Results. Catalog metadata sits at the
// top level next to the groups, lists and summary.
type Document struct {
	Groups        map[string]map[string]RecordDoc
	Adm0List      []string
	Adm1List      []string
	RasterSummary SummaryDoc
	Metadata      map[string]any
}

// Document converts the results to plain lists, numbers and string-keyed
// maps.
func (r *Results) Document() *Document {
	doc := &Document{
		Groups:   make(map[string]map[string]RecordDoc, len(r.Groups)),
		Adm0List: nonNil(r.Adm0List),
		Adm1List: nonNil(r.Adm1List),
		RasterSummary: SummaryDoc{
			Projection:   r.Summary.Projection,
			Dimensions:   [2]int{r.Summary.Rows, r.Summary.Cols},
			Bounds:       r.Summary.Bounds,
			FractionNull: r.Summary.FractionNull,
			Min:          r.Summary.Min,
			Max:          r.Summary.Max,
			Mean:         r.Summary.Mean,
			Median:       r.Summary.Median,
			P99:          r.Summary.Percentile,
		},
		Metadata: make(map[string]any, len(r.Metadata)),
	}
	for k, v := range r.Metadata {
		doc.Metadata[k] = v
	}
	for g, recs := range r.Groups {
		out := make(map[string]RecordDoc, len(recs))
		for id, rec := range recs {
			out[id] = recordDoc(rec)
		}
		doc.Groups[g] = out
	}
	return doc
}

func recordDoc(rec *binning.Record) RecordDoc {
	lu := make(map[string][]float64, len(rec.AreaByLandUseAndBin))
	for _, cat := range rec.LandUseCategories() {
		lu[strconv.Itoa(cat)] = slices.Clone(rec.AreaByLandUseAndBin[cat])
	}
	return RecordDoc{
		AreaByBin:           slices.Clone(rec.AreaByBin),
		AreaByBinInPA:       slices.Clone(rec.AreaByBinInPA),
		AreaByBinNotInPA:    slices.Clone(rec.AreaByBinNotInPA),
		AreaByLandUseAndBin: lu,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isGroup(key string) bool { return slices.Contains(Groups, key) }

// Summary returns every top-level entry except the groups, as written to
// the results summary.
func (d *Document) Summary() map[string]any {
	out := make(map[string]any, len(d.Metadata)+3)
	for k, v := range d.Metadata {
		out[k] = v
	}
	out[KeyAdm0List] = nonNil(d.Adm0List)
	out[KeyAdm1List] = nonNil(d.Adm1List)
	out[KeyRasterSummary] = d.RasterSummary
	return out
}

// MarshalJSON writes the document as one flat object. Reserved keys win
// over metadata keys of the same name.
func (d Document) MarshalJSON() ([]byte, error) {
	out := d.Summary()
	for _, g := range Groups {
		recs := d.Groups[g]
		if recs == nil {
			recs = map[string]RecordDoc{}
		}
		out[g] = recs
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat results object. Unknown keys become metadata;
// numbers in metadata keep their literal form.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "pipeline: decode results")
	}
	*d = Document{
		Groups:   make(map[string]map[string]RecordDoc, len(Groups)),
		Metadata: map[string]any{},
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		var err error
		switch {
		case isGroup(k):
			var recs map[string]RecordDoc
			err = json.Unmarshal(v, &recs)
			d.Groups[k] = recs
		case k == KeyAdm0List:
			err = json.Unmarshal(v, &d.Adm0List)
		case k == KeyAdm1List:
			err = json.Unmarshal(v, &d.Adm1List)
		case k == KeyRasterSummary:
			err = json.Unmarshal(v, &d.RasterSummary)
		default:
			dec := json.NewDecoder(bytes.NewReader(v))
			dec.UseNumber()
			var val any
			err = dec.Decode(&val)
			d.Metadata[k] = val
		}
		if err != nil {
			return eris.Wrapf(err, "pipeline: decode results key %q", k)
		}
	}
	return nil
}

// Encode writes the document as indented JSON.
func (d *Document) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: encode results")
	}
	return data, nil
}

// DecodeDocument parses a results file.
func DecodeDocument(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// P99 returns the 99th percentile recorded in the summary.
func (d *Document) P99() float64 { return d.RasterSummary.P99 }

// Folder returns the catalog folder recorded in the metadata.
func (d *Document) Folder() string {
	s, _ := d.Metadata["folder"].(string)
	return s
}
