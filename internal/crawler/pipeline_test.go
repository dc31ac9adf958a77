package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	artifacthash "github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

type pipelineHarness struct {
	pipeline *Pipeline
	fetcher  *fakeFetcher
	blobs    *memory.BlobStore
	events   *recorder
	runID    uuid.UUID
}

func newHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	h := &pipelineHarness{
		fetcher: newFakeFetcher(),
		blobs:   memory.NewBlobStore(),
		events:  &recorder{},
		runID:   uuid.New(),
	}
	p, err := NewPipeline(PipelineDeps{
		Catalog: testCatalog(t),
		Fetcher: h.fetcher,
		Blobs:   h.blobs,
		Emitter: h.events,
		IDs:     idgen.NewSequence(h.runID),
		Clock:   system.NewManual(time.Unix(1700000000, 0)),
		Hasher:  artifacthash.New(),
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func (h *pipelineHarness) object(t *testing.T, path string) string {
	t.Helper()
	body, ok := h.blobs.Object(path)
	require.True(t, ok, path)
	return string(body)
}

// TestPipelineEndToEnd covers two listing pages, two detail documents and a
// flattened tags column.
func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.respond("http://shop.test/list?page=1", 200, `{"data":[{"id":"1"},{"id":"2"}]}`)
	h.fetcher.respond("http://shop.test/list?page=2", 200, `{"data":[]}`)
	h.fetcher.respond("http://shop.test/p/1", 200, `{"id":"1","name":"X","tags":["a","b"]}`)
	h.fetcher.respond("http://shop.test/p/2", 200, `{"id":"2","name":"Y"}`)

	sum, err := h.pipeline.Run(context.Background(), "shop")
	require.NoError(t, err)

	assert.Equal(t, "id,name,tags\n1,X,\"[\"\"a\"\",\"\"b\"\"]\"\n2,Y,\n", h.object(t, "shop.csv"))
	assert.Equal(t, "1\n2", h.object(t, "ids.txt"))
	assert.Equal(t, "{\"id\":\"1\",\"name\":\"X\",\"tags\":[\"a\",\"b\"]}\n{\"id\":\"2\",\"name\":\"Y\"}\n", h.object(t, "raw.txt"))

	assert.Equal(t, h.runID, sum.RunID)
	assert.Equal(t, "shop", sum.Source)
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 2, sum.Identifiers)
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, 2, sum.Exported)
	assert.Zero(t, sum.Skipped)
	want := []Artifact{
		{Kind: ArtifactIDs, Path: "ids.txt", URI: "memory://ids.txt"},
		{Kind: ArtifactRaw, Path: "raw.txt", URI: "memory://raw.txt"},
		{Kind: ArtifactExport, Path: "shop.csv", URI: "memory://shop.csv"},
	}
	for i := range want {
		body := h.object(t, want[i].Path)
		want[i].Size = int64(len(body))
		want[i].SHA256 = digest(body)
	}
	assert.Equal(t, want, sum.Artifacts)

	msgs := h.events.messages()
	assert.Equal(t, "Starting Shop data crawling process...", msgs[0])
	assert.Equal(t, "Shop data crawling process completed.", msgs[len(msgs)-1])
	assert.Contains(t, msgs, "Product IDs saved to memory://ids.txt")
	assert.Contains(t, msgs, "Product details saved to memory://raw.txt")
	assert.Contains(t, msgs, "Product list saved to memory://shop.csv")

	stages := h.events.stages()
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	for _, evt := range h.events.events {
		assert.Equal(t, progress.UUIDToBytes(h.runID), evt.RunID)
		assert.Equal(t, "shop", evt.Source)
		assert.NoError(t, evt.Validate(), evt.Message)
	}
}

func TestPipelineHeaderOnlyExport(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.respond("http://shop.test/list?page=1", 404, ``)

	sum, err := h.pipeline.Run(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, "id,name,tags\n", h.object(t, "shop.csv"))
	assert.Equal(t, "", h.object(t, "ids.txt"))
	assert.Equal(t, "", h.object(t, "raw.txt"))
	assert.Zero(t, sum.Exported)
}

func TestPipelineSkipsBadDocuments(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.respond("http://shop.test/list?page=1", 200, `{"data":[{"id":1},{"id":2},{"id":3},{"id":4}]}`)
	h.fetcher.respond("http://shop.test/list?page=2", 200, `{"data":[]}`)
	h.fetcher.respond("http://shop.test/p/1", 200, `{"id":1,"name":"ok"}`)
	h.fetcher.respond("http://shop.test/p/2", 200, `{"id":2,`)
	h.fetcher.respond("http://shop.test/p/3", 200, `{"name":"no id"}`)
	h.fetcher.respond("http://shop.test/p/4", 410, `gone`)

	sum, err := h.pipeline.Run(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, "id,name,tags\n1,ok,\n", h.object(t, "shop.csv"))
	assert.Equal(t, 3, sum.Fetched)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 1, sum.Exported)
	assert.Contains(t, h.events.messages(), "Error decoding JSON for product")
	assert.Contains(t, h.events.messages(), "Skipped product ID 3: not a product record")
}

func TestPipelineStaticSourceByAlias(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.respond("http://static.test/sku/a", 200, `{"code":"0","result":{"product":{"info":{"sku":"a","name":"Alpha"}}}}`)
	h.fetcher.respond("http://static.test/sku/b", 200, `{"code":"1","message":"not found"}`)
	h.fetcher.respond("http://static.test/sku/c", 200, `{"code":"0","result":{"product":{"info":{"sku":"c"}}}}`)

	sum, err := h.pipeline.Run(context.Background(), "fixed")
	require.NoError(t, err)
	assert.Equal(t, "static", sum.Source)
	assert.Equal(t, "SKU,Name\na,Alpha\nc,\n", h.object(t, "static.csv"))
	assert.Equal(t, []string{"static.csv"}, h.blobs.Paths(), "static sources write no id or raw artifacts")
	assert.Zero(t, sum.Pages)
	assert.Equal(t, 3, sum.Identifiers)
	assert.Equal(t, 1, sum.Skipped)
}

func TestPipelineUnknownSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.pipeline.Run(context.Background(), "lazada")
	require.ErrorIs(t, err, ErrUnknownSource)
	assert.Empty(t, h.events.events)
}

func TestPipelineFatalErrorEmitsRunError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.respond("http://shop.test/list?page=1", 200, `not json`)

	_, err := h.pipeline.Run(context.Background(), "shop")
	require.ErrorIs(t, err, ErrMalformedListing)
	stages := h.events.stages()
	assert.Equal(t, progress.StageRunError, stages[len(stages)-1])
	_, exported := h.blobs.Object("shop.csv")
	assert.False(t, exported)
}

func digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

type brokenStore struct{}

func (brokenStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("read-only filesystem")
}

func TestPipelineStoreErrorIsFatal(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.respond("http://shop.test/list?page=1", 200, `{"data":[]}`)
	p, err := NewPipeline(PipelineDeps{
		Catalog: testCatalog(t),
		Fetcher: f,
		Blobs:   brokenStore{},
		IDs:     idgen.New(),
		Clock:   system.New(),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "shop")
	require.ErrorContains(t, err, "read-only filesystem")
}

func TestNewPipelineValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(PipelineDeps{})
	require.Error(t, err)
	_, err = NewPipeline(PipelineDeps{Catalog: testCatalog(t), Fetcher: newFakeFetcher()})
	require.Error(t, err)
}
