package query

import "time"

// Snapshot is the stored state of one key at a point in time. Restoring it
// brings the entry back exactly, including its absence.
type Snapshot struct {
	Key          string
	Exists       bool
	Status       Status
	Data         any
	HasData      bool
	Err          error
	UpdatedAt    time.Time
	FailureCount int
	Invalidated  bool
}

// Snapshot captures the current state of key.
func (c *Cache) Snapshot(key string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{Key: key}
	}
	status := e.status
	if status == StatusLoading {
		status = StatusIdle
		if e.hasData {
			status = StatusSuccess
		}
	}
	return Snapshot{
		Key:          key,
		Exists:       true,
		Status:       status,
		Data:         e.data,
		HasData:      e.hasData,
		Err:          e.err,
		UpdatedAt:    e.updatedAt,
		FailureCount: e.failureCount,
		Invalidated:  e.invalidated,
	}
}

// Restore puts the state captured by snap back into the cache. Fetches in
// flight for the key can no longer overwrite the restored state. Restoring a
// snapshot of a missing key removes the entry, or empties it when it has
// subscribers.
func (c *Cache) Restore(snap Snapshot) {
	c.mu.Lock()
	e, ok := c.entries[snap.Key]
	if !snap.Exists {
		if !ok {
			c.mu.Unlock()
			return
		}
		if e.subscribers == 0 {
			c.removeLocked(e)
			c.mu.Unlock()
			return
		}
		snap.Status = StatusIdle
	}
	if !ok {
		e = c.entryLocked(snap.Key, nil)
	}
	e.status = snap.Status
	e.data, e.hasData = snap.Data, snap.HasData
	e.err = snap.Err
	e.updatedAt = snap.UpdatedAt
	e.failureCount = snap.FailureCount
	e.invalidated = snap.Invalidated
	e.generation++
	if e.subscribers == 0 && e.call == nil {
		c.cancelGCLocked(e)
		c.scheduleGCLocked(e)
	}
	notify, state := e.listenerList(), c.stateLocked(e)
	c.mu.Unlock()
	dispatch(notify, state)
}
