package handler

// DI for all handlers alike.

import (
	"github.com/yumyai/phamdb/pkg/db"
	"github.com/yumyai/phamdb/pkg/external"
	"github.com/yumyai/phamdb/pkg/orchestrator"
)

type DBContext struct {
	Store    *db.Store
	Jobs     *orchestrator.Orchestrator
	Importer external.Importer
	Uploads  *UploadStore
}
