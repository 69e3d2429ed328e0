package handler

import (
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/yumyai/phamdb/logger"
	"github.com/yumyai/phamdb/pkg/model"
	"go.uber.org/zap"
)

// maxUploadBytes caps one genome upload. Whole-genome flat files run a
// few hundred kilobytes; anything near this size is not a genome.
const maxUploadBytes = 32 << 20

// UploadStore stages parsed genomes between upload and job submission,
// keyed by a one-time token. A token dies when the job claims it.
type UploadStore struct {
	mu     sync.Mutex
	staged map[string]*model.PhageRecord
}

func NewUploadStore() *UploadStore {
	return &UploadStore{staged: make(map[string]*model.PhageRecord)}
}

func (u *UploadStore) put(record *model.PhageRecord) string {
	token := uuid.New().String()
	u.mu.Lock()
	u.staged[token] = record
	u.mu.Unlock()
	return token
}

// Claim removes and returns the staged record for a token.
func (u *UploadStore) Claim(token string) (*model.PhageRecord, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	record, ok := u.staged[token]
	if ok {
		delete(u.staged, token)
	}
	return record, ok
}

type uploadResponse struct {
	Token   string `json:"token"`
	PhageID string `json:"phage_id"`
	Name    string `json:"name"`
	Genes   int    `json:"genes"`
}

// UploadGenome parses a genome flat file and stages it for a later job.
// Malformed files are rejected here so a job never sees one.
func (dbctx *DBContext) UploadGenome(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := dbctx.Importer.Import(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}

	token := dbctx.Uploads.put(record)
	logger.Debug("Staged genome upload",
		zap.String("phage", record.PhageID),
		zap.String("token", token))

	writeJSON(w, http.StatusCreated, uploadResponse{
		Token:   token,
		PhageID: record.PhageID,
		Name:    record.Name,
		Genes:   len(record.Genes),
	})
}
