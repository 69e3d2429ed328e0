// Request body types for the JSON API, kept apart from the handlers so
// both sides of a round trip share one definition.
package request

// CollectionPost creates a new genome collection.
type CollectionPost struct {
	Name      string `json:"name"`
	CddSearch bool   `json:"cdd_search"`
}

// JobPost submits a change set against one collection. Phages to add
// are referenced by upload token; deletions by phage id.
type JobPost struct {
	CollectionID   int64    `json:"collection_id"`
	UploadTokens   []string `json:"upload_tokens"`
	DeletePhageIDs []string `json:"delete_phage_ids"`
}
