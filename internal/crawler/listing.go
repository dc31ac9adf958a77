package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/document"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// ListingCrawler pages through a source's listing endpoint collecting
// product identifiers.
type ListingCrawler struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewListingCrawler builds a ListingCrawler on fetcher.
func NewListingCrawler(fetcher Fetcher, logger *zap.Logger) *ListingCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingCrawler{fetcher: fetcher, logger: logger}
}

// CrawlIdentifiers requests pages 1, 2, ... until a page answers with a
// non-2xx status or an empty product array. It returns the identifiers in
// page and response order plus the number of pages that yielded data. There
// is no page cap. A body that is not JSON, or a transport failure, aborts the
// crawl with an error.
func (c *ListingCrawler) CrawlIdentifiers(
	ctx context.Context,
	schema *catalog.Schema,
	rep *progress.Reporter,
) ([]string, int, error) {
	if !schema.HasListing() {
		return nil, 0, fmt.Errorf("source %s has no listing endpoint", schema.Name)
	}
	headers := requestHeaders(schema)
	ids := []string{}
	page := 1
	for ; ; page++ {
		if err := ctx.Err(); err != nil {
			return ids, page - 1, fmt.Errorf("crawl listing: %w", err)
		}
		rep.Emit(progress.Event{
			Stage:   progress.StagePage,
			Page:    page,
			Message: fmt.Sprintf("Crawling page: %d", page),
		})
		resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: schema.ListingURL(page), Headers: headers})
		if err != nil {
			return ids, page - 1, fmt.Errorf("fetch listing page %d: %w", page, err)
		}
		if !resp.OK() {
			c.logger.Debug("listing ended on status",
				zap.String("source", schema.Name), zap.Int("page", page), zap.Int("status", resp.StatusCode))
			rep.Infof("Failed to retrieve data or no more data available.")
			break
		}
		found, products, err := listingIdentifiers(resp.Body, schema.Listing)
		if err != nil {
			return ids, page - 1, fmt.Errorf("listing page %d: %w", page, err)
		}
		if products == 0 {
			rep.Infof("No more products found.")
			break
		}
		for _, id := range found {
			rep.Emit(progress.Event{
				Stage:      progress.StageIdentifier,
				Identifier: id,
				Message:    "Product ID: " + id,
			})
		}
		ids = append(ids, found...)
	}
	pages := page - 1
	rep.Emit(progress.Event{
		Stage:   progress.StageInfo,
		Count:   int64(pages),
		Message: fmt.Sprintf("Total pages crawled: %d", pages),
	})
	return ids, pages, nil
}

// listingIdentifiers extracts the string form of every product's id field
// along with the size of the product array. Products without a scalar id
// contribute nothing but still count as products.
func listingIdentifiers(body []byte, listing *catalog.Listing) ([]string, int, error) {
	doc, err := document.Parse(body)
	if err != nil {
		return nil, 0, errors.Join(ErrMalformedListing, err)
	}
	products, ok := doc.Field(listing.ProductsField)
	if !ok {
		return nil, 0, nil
	}
	items := products.Items()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, ok := item.Field(listing.IDField)
		if !ok || id.IsNull() || id.IsNested() {
			continue
		}
		text := id.Text()
		if text == "" {
			continue
		}
		ids = append(ids, text)
	}
	return ids, len(items), nil
}

func requestHeaders(schema *catalog.Schema) http.Header {
	if len(schema.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(schema.Headers))
	for k, v := range schema.Headers {
		h.Set(k, v)
	}
	return h
}
