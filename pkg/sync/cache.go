package sync

// Cache is the run-scoped completion-state cache. The reconciliation
// engine populates it per activity so a manual or API-triggered completion
// check inside the same run reuses the batch result instead of re-querying
// the LRS. Absence of an activity's entry means "no batch data available,
// fall through to a direct query".
type Cache struct {
	results map[int64]map[int64]bool
}

func NewCache() *Cache {
	return &Cache{results: make(map[int64]map[int64]bool)}
}

// Put stores an activity's batch result (learner id → statement matched).
func (c *Cache) Put(activityID int64, batch map[int64]bool) {
	c.results[activityID] = batch
}

// Lookup reports whether batch data exists for the activity, and if so
// whether the learner had a matching statement.
func (c *Cache) Lookup(activityID, learnerID int64) (found bool, matched bool) {
	batch, ok := c.results[activityID]
	if !ok {
		return false, false
	}
	return true, batch[learnerID]
}

// Clear removes an activity's batch data. The engine calls this before
// moving on to the next activity; leaking one activity's results into
// another's processing is a correctness bug, not a performance concern.
func (c *Cache) Clear(activityID int64) {
	delete(c.results, activityID)
}
