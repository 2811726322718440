package models

import "time"

// TurnRequest is one player's input against a world.
type TurnRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	WorldID string `json:"world_id" binding:"required"`
	Message string `json:"message" binding:"required"`
	Seed    *Seed  `json:"seed,omitempty"`
}

// TurnResult is returned for a committed turn.
type TurnResult struct {
	WorldID          string      `json:"world_id"`
	TurnID           string      `json:"turn_id"`
	Version          int64       `json:"version"`
	Narration        string      `json:"narration"`
	RenderedView     string      `json:"rendered_view"`
	SuggestedActions []string    `json:"suggested_actions,omitempty"`
	Notifications    []string    `json:"notifications,omitempty"`
	DegradedStages   []StageKind `json:"degraded_stages,omitempty"`
}

// TurnCommitted is broadcast after a turn has been persisted.
type TurnCommitted struct {
	WorldID     string      `json:"world_id"`
	TurnID      string      `json:"turn_id"`
	UserID      string      `json:"user_id"`
	Version     int64       `json:"version"`
	Narration   string      `json:"narration"`
	Degraded    []StageKind `json:"degraded_stages,omitempty"`
	CommittedAt time.Time   `json:"committed_at"`
}

// WorldView is the read model returned by state queries.
type WorldView struct {
	WorldID      string      `json:"world_id"`
	Version      int64       `json:"version"`
	RenderedView string      `json:"rendered_view"`
	State        *WorldState `json:"state"`
}

// PlayerPresence is an active player of a world.
type PlayerPresence struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}
