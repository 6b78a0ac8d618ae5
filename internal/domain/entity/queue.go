package entity

import "time"

// QueueItem is the envelope stored in the ingest queue.
type QueueItem struct {
	ID         string          `json:"id"`
	Request    DispatchRequest `json:"request"`
	EnqueuedAt time.Time       `json:"enqueueTime"`
}
