package catalog

import (
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ErrUnsupportedExtension is returned for catalog files that are neither
// CSV nor XLSX.
var ErrUnsupportedExtension = eris.New("catalog: unsupported file extension")

// Catalog is an ordered set of datasets with unique keys.
type Catalog struct {
	datasets []Dataset
	index    map[string]int
	// extra lists the columns carried in Dataset.Extra, in file order.
	extra []string
}

// New builds a catalog, generating keys for rows that have none. Extra
// columns are ordered by name.
func New(datasets []Dataset) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(datasets))}
	for _, d := range datasets {
		for col := range d.Extra {
			if !slices.Contains(c.extra, col) {
				c.extra = append(c.extra, col)
			}
		}
	}
	slices.Sort(c.extra)
	for _, d := range datasets {
		if d.Key == "" {
			d.Key = d.GenerateKey()
		}
		if d.Key == "" {
			return nil, eris.New("catalog: row has an empty key")
		}
		if _, dup := c.index[d.Key]; dup {
			return nil, eris.Errorf("catalog: duplicate key %q", d.Key)
		}
		if !d.Ignore && d.Kind == Raster {
			if err := d.validate(); err != nil {
				return nil, err
			}
		}
		c.index[d.Key] = len(c.datasets)
		c.datasets = append(c.datasets, d)
	}
	return c, nil
}

// Len returns the number of rows.
func (c *Catalog) Len() int { return len(c.datasets) }

// All returns every row in catalog order.
func (c *Catalog) All() []Dataset {
	return append([]Dataset(nil), c.datasets...)
}

// Active returns the raster rows that are not ignored.
func (c *Catalog) Active() []Dataset {
	var out []Dataset
	for _, d := range c.datasets {
		if !d.Ignore && d.Kind == Raster {
			out = append(out, d)
		}
	}
	return out
}

// Get looks a dataset up by key.
func (c *Catalog) Get(key string) (Dataset, bool) {
	i, ok := c.index[key]
	if !ok {
		return Dataset{}, false
	}
	return c.datasets[i], true
}

// Merge returns local followed by the rows of remote whose keys local does
// not have. Local rows win. Extra columns of both are kept, local first.
func Merge(local, remote *Catalog) *Catalog {
	out := &Catalog{
		index: make(map[string]int, local.Len()+remote.Len()),
		extra: slices.Clone(local.extra),
	}
	for _, col := range remote.extra {
		if !slices.Contains(out.extra, col) {
			out.extra = append(out.extra, col)
		}
	}
	for _, d := range local.datasets {
		out.index[d.Key] = len(out.datasets)
		out.datasets = append(out.datasets, d)
	}
	for _, d := range remote.datasets {
		if _, ok := out.index[d.Key]; ok {
			continue
		}
		out.index[d.Key] = len(out.datasets)
		out.datasets = append(out.datasets, d)
	}
	return out
}

// Load reads a .csv or .xlsx catalog.
func Load(path string) (*Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: open %s", path)
		}
		defer f.Close()
		return Parse(f)
	case ".xlsx":
		return LoadXLSX(path)
	default:
		return nil, eris.Wrapf(ErrUnsupportedExtension, "catalog: %s", path)
	}
}

// Parse decodes a CSV catalog.
func Parse(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(cr)
	if err == io.EOF {
		return New(nil)
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read header")
	}
	dec.WithUnmarshalers(csvutil.NewUnmarshalers(
		csvutil.UnmarshalFunc(unmarshalYesNo),
		csvutil.UnmarshalFunc(unmarshalBand),
	))

	known, err := csvutil.Header(Dataset{}, "csv")
	if err != nil {
		return nil, eris.Wrap(err, "catalog: dataset header")
	}
	var extra []string
	var extraIdx []int
	for i, col := range dec.Header() {
		if col != "" && !slices.Contains(known, col) && !slices.Contains(extra, col) {
			extra = append(extra, col)
			extraIdx = append(extraIdx, i)
		}
	}

	var rows []Dataset
	for {
		var d Dataset
		if err := dec.Decode(&d); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "catalog: decode row %d", len(rows)+1)
		}
		if d.Band == 0 {
			d.Band = 1
		}
		if len(extra) > 0 {
			rec := dec.Record()
			d.Extra = make(map[string]string, len(extra))
			for j, i := range extraIdx {
				if i < len(rec) {
					d.Extra[extra[j]] = rec[i]
				} else {
					d.Extra[extra[j]] = ""
				}
			}
		}
		rows = append(rows, d)
	}
	c, err := New(rows)
	if err != nil {
		return nil, err
	}
	c.extra = extra
	return c, nil
}

// LoadXLSX reads the first sheet of an XLSX catalog. The first row is the
// header.
func LoadXLSX(path string) (*Catalog, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("catalog: %s has no sheets", path)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	width := 0
	for _, row := range f.Sheets[0].Rows {
		if row == nil {
			continue
		}
		cells := make([]string, max(len(row.Cells), width))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if isBlank(cells) {
			continue
		}
		// The header fixes the width; trailing empty cells may be missing.
		if width == 0 {
			width = len(cells)
		}
		cells = cells[:width]
		if err := w.Write(cells); err != nil {
			return nil, eris.Wrap(err, "catalog: convert xlsx row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "catalog: convert xlsx")
	}
	return Parse(&buf)
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// extraWriter appends the extra columns to each record the encoder writes:
// their names to the header, then each row's values in order.
type extraWriter struct {
	w    *csv.Writer
	cols []string
	rows []Dataset
	n    int
}

func (x *extraWriter) Write(rec []string) error {
	out := append(make([]string, 0, len(rec)+len(x.cols)), rec...)
	if x.n == 0 {
		out = append(out, x.cols...)
	} else {
		d := x.rows[x.n-1]
		for _, col := range x.cols {
			out = append(out, d.Extra[col])
		}
	}
	x.n++
	return x.w.Write(out)
}

// EncodeCSV writes the catalog as CSV with a header row. Extra columns
// follow the named ones.
func (c *Catalog) EncodeCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	enc := csvutil.NewEncoder(&extraWriter{w: w, cols: c.extra, rows: c.datasets})
	enc.WithMarshalers(csvutil.NewMarshalers(csvutil.MarshalFunc(marshalYesNo)))
	if len(c.datasets) == 0 {
		if err := enc.EncodeHeader(Dataset{}); err != nil {
			return nil, eris.Wrap(err, "catalog: encode header")
		}
	}
	for _, d := range c.datasets {
		if err := enc.Encode(d); err != nil {
			return nil, eris.Wrapf(err, "catalog: encode %s", d.Key)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "catalog: flush csv")
	}
	return buf.Bytes(), nil
}

func unmarshalYesNo(data []byte, b *bool) error {
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "yes", "true", "1":
		*b = true
	case "no", "false", "0", "":
		*b = false
	default:
		return eris.Errorf("catalog: expected yes or no, got %q", string(data))
	}
	return nil
}

func marshalYesNo(b bool) ([]byte, error) {
	if b {
		return []byte("yes"), nil
	}
	return []byte("no"), nil
}

// unmarshalBand accepts integers, spreadsheet floats such as "2.0", and
// blanks.
func unmarshalBand(data []byte, n *int) error {
	s := strings.TrimSpace(string(data))
	if s == "" {
		*n = 0
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*n = v
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return eris.Errorf("catalog: band must be an integer, got %q", s)
	}
	*n = int(f)
	return nil
}
