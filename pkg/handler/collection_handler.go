package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/yumyai/phamdb/pkg/handler/request"
	"github.com/yumyai/phamdb/pkg/model"
)

type collectionResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CddSearch bool   `json:"cdd_search"`
}

func (dbctx *DBContext) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req request.CollectionPost
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &model.ValidationError{Message: "malformed request body"})
		return
	}
	if req.Name == "" {
		writeError(w, &model.ValidationError{Message: "collection name is required"})
		return
	}

	c, err := dbctx.Store.CreateCollection(r.Context(), req.Name, req.CddSearch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, collectionResponse{
		ID: c.ID, Name: c.Name, CddSearch: c.CddSearch,
	})
}

type collectionSummaryResponse struct {
	collectionResponse
	Summary model.Summary `json:"summary"`
}

// CollectionSummary reports the counts shown on a collection's status
// page: phages, phams, orphams and domain hits.
func (dbctx *DBContext) CollectionSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "collection_id")
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := dbctx.Store.GetCollection(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		writeError(w, fmt.Errorf("collection %d: %w", id, model.ErrNotFound))
		return
	}

	sum, err := dbctx.Store.Summary(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionSummaryResponse{
		collectionResponse: collectionResponse{
			ID: c.ID, Name: c.Name, CddSearch: c.CddSearch,
		},
		Summary: *sum,
	})
}

type phamResponse struct {
	Name    int64    `json:"name"`
	Color   string   `json:"color"`
	GeneIDs []string `json:"gene_ids"`
}

// ListPhams dumps the collection's current pham table with membership
// and colors.
func (dbctx *DBContext) ListPhams(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "collection_id")
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := dbctx.Store.LoadPhamSnapshot(r.Context(), nil, id)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]phamResponse, 0, len(snap.Members))
	for name, geneIDs := range snap.Members {
		out = append(out, phamResponse{
			Name:    name,
			Color:   snap.Colors[name],
			GeneIDs: geneIDs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

// PhamHistory returns the collection's pham lineage log in commit
// order.
func (dbctx *DBContext) PhamHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "collection_id")
	if err != nil {
		writeError(w, err)
		return
	}

	history, err := dbctx.Store.ListHistory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []*model.PhamHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}
