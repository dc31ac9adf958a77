package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// DetailFetcher fetches one detail document per identifier, strictly in
// order and one at a time.
type DetailFetcher struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewDetailFetcher builds a DetailFetcher on fetcher.
func NewDetailFetcher(fetcher Fetcher, logger *zap.Logger) *DetailFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailFetcher{fetcher: fetcher, logger: logger}
}

// FetchDetails returns the bodies of every 2xx detail response in input
// order. Other statuses are reported and skipped without retry. A transport
// failure or a canceled ctx aborts with the documents gathered so far.
func (d *DetailFetcher) FetchDetails(
	ctx context.Context,
	schema *catalog.Schema,
	ids []string,
	rep *progress.Reporter,
) ([]RawDocument, error) {
	headers := requestHeaders(schema)
	label := schema.Label()
	docs := make([]RawDocument, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return docs, fmt.Errorf("fetch details: %w", err)
		}
		rep.Infof("Crawling product details for %s: %s", label, id)
		resp, err := d.fetcher.Fetch(ctx, FetchRequest{URL: schema.DetailURL(id), Headers: headers})
		if err != nil {
			return docs, fmt.Errorf("fetch detail %s: %w", id, err)
		}
		evt := progress.Event{
			Identifier:  id,
			StatusClass: progress.ClassifyStatus(resp.StatusCode),
			Dur:         resp.Duration,
		}
		if !resp.OK() {
			d.logger.Debug("detail fetch failed",
				zap.String("source", schema.Name), zap.String("id", id), zap.Int("status", resp.StatusCode))
			evt.Stage = progress.StageFetchFailed
			evt.Message = fmt.Sprintf("Failed to retrieve details for %s: %s", label, id)
			rep.Emit(evt)
			continue
		}
		docs = append(docs, RawDocument{ID: id, Body: resp.Body})
		evt.Stage = progress.StageFetchDone
		evt.Message = fmt.Sprintf("Successfully crawled %s: %s", label, id)
		rep.Emit(evt)
	}
	return docs, nil
}
