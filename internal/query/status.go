package query

import "time"

// Status is the lifecycle position of a cache entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is a point-in-time view of a cache entry handed to listeners.
type State struct {
	Key          string
	Status       Status
	Data         any
	HasData      bool
	Err          error
	UpdatedAt    time.Time
	FailureCount int
	IsFetching   bool
	IsStale      bool
	Invalidated  bool
}
