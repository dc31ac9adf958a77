package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/catalog-crawler/internal/config"
)

// newShopServer serves a two-product listing and its detail documents.
func newShopServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `{"data":[{"id":1},{"id":2}]}`)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	})
	mux.HandleFunc("/p/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/p/")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%s,"name":"Laptop %s","badges":[{"code":"fast"}]}`, id, id)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeCatalog(t *testing.T, baseURL string) string {
	t.Helper()
	raw := fmt.Sprintf(`sources:
  - name: shop
    display: Shop
    strategy: flatten
    listing:
      url: "%[1]s/list?page={page}"
      products_field: data
      id_field: id
    detail:
      url: "%[1]s/p/{id}"
    presence_field: id
    flatten_fields: [badges]
    columns: [id, name, badges]
    artifacts:
      ids: ids.txt
      export: shop.csv
`, baseURL)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	return path
}

func testConfig(catalogPath string) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 5000, ShutdownSeconds: 5},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5, UserAgent: "catalog-crawler-test"},
		Catalog: config.CatalogConfig{Path: catalogPath},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
		Progress: config.ProgressConfig{
			BufferSize:    64,
			BatchSize:     8,
			MaxWaitMS:     10,
			SinkTimeoutMS: 1000,
			StreamBuffer:  64,
		},
	}
}

func buildTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := BuildWith(context.Background(), cfg, Options{
		Logger:     zaptest.NewLogger(t),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	})
	return app
}

func TestBuildServesCrawlAndRunHistory(t *testing.T) {
	t.Parallel()

	shop := newShopServer(t)
	app := buildTestApp(t, testConfig(writeCatalog(t, shop.URL)))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/crawl/shop", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		RunID    string `json:"run_id"`
		Exported int    `json:"exported"`
		Fetched  int    `json:"fetched"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "Shop data crawling completed.", resp.Message)
	assert.Equal(t, 2, resp.Exported)
	assert.Equal(t, 2, resp.Fetched)

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+resp.RunID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var body struct {
			Run struct {
				Status   string `json:"status"`
				Exported int64  `json:"exported"`
			} `json:"run"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			return false
		}
		return body.Run.Status == "success" && body.Run.Exported == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRunOnceWritesArtifacts(t *testing.T) {
	t.Parallel()

	shop := newShopServer(t)
	cfg := testConfig(writeCatalog(t, shop.URL))
	cfg.Storage = config.StorageConfig{Backend: config.BackendLocal, BaseDir: t.TempDir()}
	app := buildTestApp(t, cfg)

	sum, err := app.RunOnce(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Exported)

	ids, err := os.ReadFile(filepath.Join(cfg.Storage.BaseDir, "ids.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1\n2", string(ids))

	csv, err := os.ReadFile(filepath.Join(cfg.Storage.BaseDir, "shop.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"id,name,badges\n1,Laptop 1,\"[{\"\"code\"\":\"\"fast\"\"}]\"\n2,Laptop 2,\"[{\"\"code\"\":\"\"fast\"\"}]\"\n",
		string(csv))

	_, err = app.RunOnce(context.Background(), "nowhere")
	assert.Error(t, err)
}

func TestEventStreamRelaysRunMessages(t *testing.T) {
	t.Parallel()

	shop := newShopServer(t)
	app := buildTestApp(t, testConfig(writeCatalog(t, shop.URL)))
	api := httptest.NewServer(app.Handler())
	t.Cleanup(api.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.URL+"/events", nil)
	require.NoError(t, err)
	stream, err := api.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	reader := bufio.NewReader(stream.Body)
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", first)

	crawlDone := make(chan int, 1)
	go func() {
		resp, err := api.Client().Post(api.URL+"/crawl/shop", "application/json", nil)
		if err != nil {
			crawlDone <- 0
			return
		}
		resp.Body.Close()
		crawlDone <- resp.StatusCode
	}()

	var messages []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
		messages = append(messages, payload.Message)
		if payload.Message == "Shop data crawling process completed." {
			break
		}
	}
	assert.Equal(t, "Starting Shop data crawling process...", messages[0])
	assert.Equal(t, http.StatusOK, <-crawlDone)
}

func TestBuildRejectsBadCatalog(t *testing.T) {
	t.Parallel()

	_, err := BuildWith(context.Background(), testConfig(filepath.Join(t.TempDir(), "missing.yaml")), Options{
		Logger:     zaptest.NewLogger(t),
		Registerer: prometheus.NewRegistry(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog init failed")

	_, err = BuildWith(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestBuildRejectsDuplicateCollectors(t *testing.T) {
	t.Parallel()

	shop := newShopServer(t)
	cfg := testConfig(writeCatalog(t, shop.URL))
	reg := prometheus.NewRegistry()
	first, err := BuildWith(context.Background(), cfg, Options{Logger: zaptest.NewLogger(t), Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close(context.Background()) })

	_, err = BuildWith(context.Background(), cfg, Options{Logger: zaptest.NewLogger(t), Registerer: reg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus sink init failed")
}
