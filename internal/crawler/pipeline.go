package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/export"
	"github.com/JakeFAU/catalog-crawler/internal/normalizer"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

const textContentType = "text/plain; charset=utf-8"

// PipelineDeps wires the collaborators of a Pipeline.
type PipelineDeps struct {
	Catalog *catalog.Catalog
	Fetcher Fetcher
	Blobs   BlobStore
	// Emitter receives progress events; nil discards them.
	Emitter progress.Emitter
	IDs     IDGenerator
	Clock   Clock
	// Hasher fingerprints artifacts; nil leaves Artifact.SHA256 empty.
	Hasher  Hasher
	Logger  *zap.Logger
}

// Pipeline runs crawl, normalize and export for one source at a time. Runs
// are synchronous; concurrent runs share nothing but the emitter and the blob
// store, so two runs of the same source race on its artifacts.
type Pipeline struct {
	catalog *catalog.Catalog
	listing *ListingCrawler
	details *DetailFetcher
	blobs   BlobStore
	emitter progress.Emitter
	ids     IDGenerator
	clock   Clock
	hasher  Hasher
	logger  *zap.Logger
}

// NewPipeline validates deps and builds a Pipeline.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("pipeline requires a catalog")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline requires a fetcher")
	case deps.Blobs == nil:
		return nil, errors.New("pipeline requires a blob store")
	case deps.IDs == nil:
		return nil, errors.New("pipeline requires an id generator")
	case deps.Clock == nil:
		return nil, errors.New("pipeline requires a clock")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		catalog: deps.Catalog,
		listing: NewListingCrawler(deps.Fetcher, logger.Named("listing")),
		details: NewDetailFetcher(deps.Fetcher, logger.Named("detail")),
		blobs:   deps.Blobs,
		emitter: deps.Emitter,
		ids:     deps.IDs,
		clock:   deps.Clock,
		hasher:  deps.Hasher,
		logger:  logger,
	}, nil
}

// Catalog returns the sources the pipeline can run.
func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

// Run executes the whole pipeline for source, a catalog name or alias.
// Unknown sources fail with ErrUnknownSource before anything is emitted.
func (p *Pipeline) Run(ctx context.Context, source string) (Summary, error) {
	schema, ok := p.catalog.Lookup(source)
	if !ok {
		return Summary{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	runID, err := p.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("new run id: %w", err)
	}
	rep := progress.NewReporter(p.emitter, runID, schema.Name, p.clock.Now)
	logger := p.logger.With(zap.String("source", schema.Name), zap.String("run_id", runID.String()))
	start := p.clock.Now()

	logger.Info("crawl run started")
	rep.Emit(progress.Event{
		Stage:   progress.StageRunStart,
		Message: fmt.Sprintf("Starting %s data crawling process...", schema.Display),
	})

	summary := Summary{RunID: runID, Source: schema.Name, Display: schema.Display, Artifacts: []Artifact{}}
	err = p.run(ctx, schema, rep, &summary)
	summary.Duration = p.clock.Now().Sub(start)
	if err != nil {
		logger.Error("crawl run failed", zap.Error(err), zap.Duration("duration", summary.Duration))
		rep.Emit(progress.Event{
			Stage:   progress.StageRunError,
			Dur:     summary.Duration,
			Message: fmt.Sprintf("%s data crawling process failed: %v", schema.Display, err),
		})
		return summary, err
	}
	logger.Info("crawl run completed",
		zap.Int("identifiers", summary.Identifiers),
		zap.Int("exported", summary.Exported),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration))
	rep.Emit(progress.Event{
		Stage:   progress.StageRunDone,
		Dur:     summary.Duration,
		Count:   int64(summary.Exported),
		Message: fmt.Sprintf("%s data crawling process completed.", schema.Display),
	})
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, schema *catalog.Schema, rep *progress.Reporter, sum *Summary) error {
	ids := append([]string(nil), schema.Identifiers...)
	if schema.HasListing() {
		found, pages, err := p.listing.CrawlIdentifiers(ctx, schema, rep)
		sum.Pages = pages
		if err != nil {
			return err
		}
		ids = found
		if name := schema.Artifacts.IDs; name != "" {
			body := []byte(strings.Join(ids, "\n"))
			if err := p.save(ctx, rep, sum, ArtifactIDs, name, textContentType, body, "Product IDs saved to %s"); err != nil {
				return err
			}
		}
	}
	sum.Identifiers = len(ids)

	docs, err := p.details.FetchDetails(ctx, schema, ids, rep)
	if err != nil {
		return err
	}
	sum.Fetched = len(docs)
	sum.Failed = len(ids) - len(docs)

	if name := schema.Artifacts.Raw; name != "" {
		var raw bytes.Buffer
		for _, doc := range docs {
			raw.Write(doc.Body)
			raw.WriteByte('\n')
		}
		if err := p.save(ctx, rep, sum, ArtifactRaw, name, textContentType, raw.Bytes(), "Product details saved to %s"); err != nil {
			return err
		}
	}

	records := make([]normalizer.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := normalizer.Normalize(doc.Body, schema)
		switch {
		case err == nil:
			records = append(records, rec)
		case errors.Is(err, normalizer.ErrMalformedDocument):
			sum.Skipped++
			rep.Emit(progress.Event{
				Stage:      progress.StageRecordSkipped,
				Identifier: doc.ID,
				Message:    "Error decoding JSON for product",
			})
		case errors.Is(err, normalizer.ErrNotProduct):
			sum.Skipped++
			rep.Emit(progress.Event{
				Stage:      progress.StageRecordSkipped,
				Identifier: doc.ID,
				Message:    fmt.Sprintf("Skipped %s %s: not a product record", schema.Label(), doc.ID),
			})
		default:
			return fmt.Errorf("normalize %s: %w", doc.ID, err)
		}
	}

	var table bytes.Buffer
	rows, err := export.Write(&table, schema.Columns, records)
	if err != nil {
		return fmt.Errorf("render export: %w", err)
	}
	sum.Exported = rows
	return p.save(ctx, rep, sum, ArtifactExport, schema.Artifacts.Export, export.ContentType, table.Bytes(),
		"Product list saved to %s")
}

func (p *Pipeline) save(
	ctx context.Context,
	rep *progress.Reporter,
	sum *Summary,
	kind, path, contentType string,
	body []byte,
	format string,
) error {
	uri, err := p.blobs.PutObject(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("store %s artifact %s: %w", kind, path, err)
	}
	artifact := Artifact{Kind: kind, Path: path, URI: uri, Size: int64(len(body))}
	if p.hasher != nil {
		if artifact.SHA256, err = p.hasher.Hash(body); err != nil {
			return fmt.Errorf("hash %s artifact %s: %w", kind, path, err)
		}
	}
	sum.Artifacts = append(sum.Artifacts, artifact)
	rep.Emit(progress.Event{
		Stage:   progress.StageArtifactWritten,
		URI:     uri,
		Message: fmt.Sprintf(format, uri),
	})
	return nil
}
