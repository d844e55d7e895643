package chat

import "time"

// Interaction persists one completed generation cycle.
type Interaction struct {
	ID               string    `json:"id"`
	Identity         string    `json:"identity"`
	UserMessage      string    `json:"userMessage"`
	AssistantMessage string    `json:"assistantMessage"`
	ModelUsed        string    `json:"modelUsed"`
	CreatedAt        time.Time `json:"createdAt"`
}
