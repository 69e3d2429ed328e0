package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/phamdb/pkg/config"
	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/external"
	"github.com/yumyai/phamdb/pkg/metrics"
	"github.com/yumyai/phamdb/pkg/model"
	"github.com/yumyai/phamdb/pkg/orchestrator"
)

// instantScorer clusters identical translations together without
// shelling out.
type instantScorer struct{}

func (instantScorer) Score(ctx context.Context, seqA, seqB string) (external.PairScores, error) {
	if seqA == seqB {
		return external.PairScores{AlignmentScore: 100, BitScore: 100, IdentityScore: 100}, nil
	}
	return external.PairScores{}, nil
}

type noDomains struct{}

func (noDomains) Search(ctx context.Context, geneID, seq string) ([]model.DomainHit, error) {
	return nil, nil
}

func newTestContext(t *testing.T) *DBContext {
	t.Helper()
	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Scoring.BaseDelay = time.Millisecond
	orch := orchestrator.New(store, cfg, instantScorer{}, noDomains{}, metrics.Nop())
	t.Cleanup(orch.Stop)

	return &DBContext{
		Store:    store,
		Jobs:     orch,
		Importer: external.FlatImporter{},
		Uploads:  NewUploadStore(),
	}
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, body string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, "/", strings.NewReader(body))
	for k, v := range pathValues {
		r.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

func TestHealthCheck(t *testing.T) {
	w := doJSON(t, HealthCheck, http.MethodGet, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Health)
}

func TestCreateCollection(t *testing.T) {
	dbctx := newTestContext(t)

	w := doJSON(t, dbctx.CreateCollection, http.MethodPost,
		`{"name": "mycos", "cdd_search": false}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Same name again is a conflict.
	w = doJSON(t, dbctx.CreateCollection, http.MethodPost, `{"name": "mycos"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, dbctx.CreateCollection, http.MethodPost, `{"name": ""}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadAndSubmitJob(t *testing.T) {
	dbctx := newTestContext(t)

	c, err := dbctx.Store.CreateCollection(context.Background(), "test", false)
	require.NoError(t, err)

	flat := "#phage p1 Phage One\nACGT\n>gene g1\nMAAA\n>gene g2\nMAAA\n"
	w := doJSON(t, dbctx.UploadGenome, http.MethodPost, flat, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var up uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))
	assert.Equal(t, "p1", up.PhageID)
	assert.Equal(t, 2, up.Genes)
	require.NotEmpty(t, up.Token)

	// Malformed uploads never produce a token.
	w = doJSON(t, dbctx.UploadGenome, http.MethodPost, "no header\n", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, err := json.Marshal(map[string]any{
		"collection_id": c.ID,
		"upload_tokens": []string{up.Token},
	})
	require.NoError(t, err)

	w = doJSON(t, dbctx.SubmitJob, http.MethodPost, string(body), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sub jobSubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	require.NotZero(t, sub.JobID)

	// Tokens are one-shot.
	w = doJSON(t, dbctx.SubmitJob, http.MethodPost, string(body), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	jobID := map[string]string{"job_id": "1"}
	deadline := time.Now().Add(10 * time.Second)
	for {
		w = doJSON(t, dbctx.JobStatus, http.MethodGet, "", jobID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var status jobStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		if model.JobState(status.State).IsTerminal() {
			require.Equal(t, string(model.JobSuccess), status.State, status.Error)
			assert.Equal(t, "Database updated.", status.StatusMessage)
			break
		}
		require.False(t, time.Now().After(deadline), "job never finished")
		time.Sleep(5 * time.Millisecond)
	}

	// A terminal job cannot be cancelled.
	w = doJSON(t, dbctx.CancelJob, http.MethodDelete, "", jobID)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestJobStatusNotFound(t *testing.T) {
	dbctx := newTestContext(t)

	w := doJSON(t, dbctx.JobStatus, http.MethodGet, "",
		map[string]string{"job_id": "42"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, dbctx.JobStatus, http.MethodGet, "",
		map[string]string{"job_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCollectionEndpoints(t *testing.T) {
	dbctx := newTestContext(t)

	c, err := dbctx.Store.CreateCollection(context.Background(), "test", false)
	require.NoError(t, err)

	w := doJSON(t, dbctx.CollectionSummary, http.MethodGet, "",
		map[string]string{"collection_id": "999"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, dbctx.CollectionSummary, http.MethodGet, "",
		map[string]string{"collection_id": "1"})
	require.Equal(t, http.StatusOK, w.Code)

	var sum collectionSummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, c.ID, sum.ID)
	assert.Zero(t, sum.Summary.Phages)

	w = doJSON(t, dbctx.ListPhams, http.MethodGet, "",
		map[string]string{"collection_id": "1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, dbctx.PhamHistory, http.MethodGet, "",
		map[string]string{"collection_id": "1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}
