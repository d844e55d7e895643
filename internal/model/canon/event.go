package canon

import "time"

// Event types.
const (
	EventFirstMeeting     = "primeiro_encontro"
	EventFirstTime        = "primeira_vez"
	EventFidelityStop     = "fidelity_stop"
	EventFidelitySoftStop = "fidelity_soft_stop"
)

// Event is an append-only narrative milestone.
type Event struct {
	ID          string         `json:"id"`
	Identity    string         `json:"identity"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Location    string         `json:"location,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Tags        []string       `json:"tags"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// DeletionCounts reports how many records a bulk delete removed per category.
type DeletionCounts struct {
	Interactions int64 `json:"interactions"`
	Facts        int64 `json:"facts"`
	Events       int64 `json:"events"`
}
