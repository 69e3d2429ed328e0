package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/yumyai/phamdb/logger"
	"github.com/yumyai/phamdb/pkg/handler/request"
	"github.com/yumyai/phamdb/pkg/model"
	"go.uber.org/zap"
)

type jobSubmitResponse struct {
	JobID int64 `json:"job_id"`
}

type jobStatusResponse struct {
	ID             int64   `json:"id"`
	CollectionID   int64   `json:"collection_id"`
	TaskID         string  `json:"task_id,omitempty"`
	State          string  `json:"state"`
	StatusMessage  string  `json:"status_message,omitempty"`
	Error          string  `json:"error,omitempty"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
	Seen           bool    `json:"seen"`
}

// SubmitJob turns staged uploads plus deletions into one queued job.
// Tokens are claimed up front, so a rejected submission consumes them;
// re-uploading is cheap and a stale token is worse than a lost one.
func (dbctx *DBContext) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req request.JobPost
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &model.ValidationError{Message: "malformed request body"})
		return
	}

	changes := model.ChangeSet{DeletePhageIDs: req.DeletePhageIDs}
	for _, token := range req.UploadTokens {
		record, ok := dbctx.Uploads.Claim(token)
		if !ok {
			writeError(w, &model.ValidationError{
				Message: fmt.Sprintf("unknown upload token %s", token),
			})
			return
		}
		changes.AddPhages = append(changes.AddPhages, *record)
	}

	jobID, err := dbctx.Jobs.Submit(r.Context(), req.CollectionID, changes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobSubmitResponse{JobID: jobID})
}

// JobStatus reports a job's persisted state and marks it seen.
func (dbctx *DBContext) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt64(r, "job_id")
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := dbctx.Jobs.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	if !job.Seen && job.State.IsTerminal() {
		if err := dbctx.Store.MarkJobSeen(r.Context(), jobID); err != nil {
			logger.Debug("Failed to mark job seen", zap.Int64("job", jobID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{
		ID:             job.ID,
		CollectionID:   job.CollectionID,
		TaskID:         job.TaskID,
		State:          string(job.State),
		StatusMessage:  job.StatusMessage,
		Error:          job.Error,
		RuntimeSeconds: job.Runtime().Seconds(),
		Seen:           job.Seen,
	})
}

// CancelJob deletes a queued job. Cancelling a running or finished job
// is a conflict.
func (dbctx *DBContext) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt64(r, "job_id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := dbctx.Jobs.Cancel(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, &model.ValidationError{
			Message: fmt.Sprintf("%s must be an integer", name),
		}
	}
	return v, nil
}
