package server

// ContinueFeatureRequest for resuming an interrupted session with guidance
type ContinueFeatureRequest struct {
	Message    string   `json:"message" binding:"required"`
	ImagePaths []string `json:"image_paths,omitempty"`
}

// SetConcurrencyRequest for adjusting the orchestrator's live bound
type SetConcurrencyRequest struct {
	MaxConcurrency int `json:"max_concurrency" binding:"required"`
}

// ConcurrencyResponse reports the applied bound after clamping
type ConcurrencyResponse struct {
	MaxConcurrency int `json:"max_concurrency"`
}
