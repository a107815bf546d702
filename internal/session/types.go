package session

import (
	"time"

	"github.com/ent0n29/screener/internal/interview"
)

// RoomInfo is the externally visible state of a room.
type RoomInfo struct {
	ID             string             `json:"session_id"`
	Status         interview.Status   `json:"status"`
	Activity       interview.Activity `json:"activity"`
	Clients        int                `json:"clients"`
	OpenedAt       time.Time          `json:"opened_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
}
