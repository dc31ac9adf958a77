package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

// ExampleRunHandler_GetRun demonstrates mounting the run history handler on
// a bare chi router.
func ExampleRunHandler_GetRun() {
	ctx := context.Background()
	repo := memory.NewRunStore()
	runID := uuid.MustParse("0190f0c4-4a7e-7c1e-9d1f-3b2a1c0d9e8f")
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_ = repo.StartRun(ctx, runID, "tiki", started)
	_ = repo.AddRunStats(ctx, runID, store.RunStats{Pages: 1, Identifiers: 2, Fetched: 2})
	_ = repo.CompleteRun(ctx, runID, started.Add(time.Minute), store.RunSuccess, 2, nil)

	h := NewRunHandler(repo, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/api/runs/{run_id}", h.GetRun)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+runID.String(), nil))
	fmt.Println(rec.Code)
	fmt.Print(rec.Body.String())
	// Output:
	// 200
	// {"run":{"id":"0190f0c4-4a7e-7c1e-9d1f-3b2a1c0d9e8f","source":"tiki","started_at":"2024-05-01T10:00:00Z","finished_at":"2024-05-01T10:01:00Z","status":"success","stats":{"pages":1,"identifiers":2,"fetched":2,"failed":0,"skipped":0},"exported":2}}
}
