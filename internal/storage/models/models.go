package models

import "time"

// Interaction is one completed generation request: the driving query, the
// guarded response, and what the pipeline did along the way.
type Interaction struct {
	ID             string
	Mode           string
	Query          string
	Response       string
	RetrievedCount int
	Sanitized      bool
	Rewritten      bool
	LatencyMS      int
	CreatedAt      time.Time
}

// InteractionSource is one retrieved reference that informed an interaction.
type InteractionSource struct {
	ID            int
	InteractionID string
	File          string
	Snippet       string
	Score         float64
}
