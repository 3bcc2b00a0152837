package shred

import "time"

// Receipt is the post-run audit record, the only entity that outlives
// a destruction run. It is kept transiently for best-effort remote
// confirmation and is itself eligible for erasure afterwards.
type Receipt struct {
	ID               string    `json:"id"`
	CommandID        string    `json:"command_id"`
	DeviceID         string    `json:"device_id"`
	Mode             string    `json:"mode"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	PhasesCompleted  []int     `json:"phases_completed"`
	ItemsDestroyed   int       `json:"items_destroyed"`
	BytesOverwritten int64     `json:"bytes_overwritten"`
	Success          bool      `json:"success"`
	Errors           []string  `json:"errors,omitempty"`
}
