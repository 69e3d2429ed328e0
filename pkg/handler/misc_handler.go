// Handler for miscellaneous endpoints such as health check

package handler

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Health    string    `json:"health"`
	Timestamp time.Time `json:"timestamp"`
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Health:    "ok",
		Timestamp: time.Now(),
	})
}
