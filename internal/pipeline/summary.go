package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/catalog"
	"github.com/sells-group/sdm-cli/internal/tiles"
)

// SummaryKey is the blob key of the results summary.
const SummaryKey = ResultsPrefix + "/results_summary.json"

// LoadAll reads the results of every given dataset. Datasets without a
// result are logged and left out.
func LoadAll(ctx context.Context, store blob.Store, datasets []catalog.Dataset, log *zap.Logger) (map[string]*Document, error) {
	if log == nil {
		log = zap.NewNop()
	}
	out := make(map[string]*Document, len(datasets))
	for _, ds := range datasets {
		data, err := store.Get(ctx, ResultKey(ds.Key))
		if errors.Is(err, blob.ErrNotFound) {
			log.Warn("no results for dataset", zap.String("dataset", ds.Key))
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: load results for %s", ds.Key)
		}
		doc, err := DecodeDocument(data)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: results for %s", ds.Key)
		}
		out[ds.Key] = doc
	}
	log.Info("loaded results", zap.Int("datasets", len(out)), zap.Int("missing", len(datasets)-len(out)))
	return out, nil
}

// Keys returns the dataset keys of docs in order.
func Keys(docs map[string]*Document) []string {
	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildSummary returns, per dataset, every results entry except the region
// groups, plus the largest zoom level of the published tiles (-1 when none
// are published).
func BuildSummary(ctx context.Context, tileStore blob.Store, docs map[string]*Document) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(docs))
	for _, key := range Keys(docs) {
		doc := docs[key]
		entry := doc.Summary()
		z, err := tiles.MaxZoom(ctx, tileStore, doc.Folder(), key)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: max zoom for %s", key)
		}
		entry[KeyMaxZoom] = z
		out[key] = entry
	}
	return out, nil
}

// WriteSummary builds the results summary and publishes it.
func WriteSummary(ctx context.Context, store blob.Store, docs map[string]*Document, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	summary, err := BuildSummary(ctx, store, docs)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "    ")
	if err != nil {
		return eris.Wrap(err, "pipeline: encode summary")
	}
	if err := store.Put(ctx, SummaryKey, data); err != nil {
		return eris.Wrap(err, "pipeline: publish summary")
	}
	log.Info("results summary written", zap.String("key", SummaryKey), zap.Int("datasets", len(summary)))
	return nil
}
