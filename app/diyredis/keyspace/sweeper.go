package keyspace

import "time"

// Delete removes key unconditionally. Deleting an already-deleted key is
// a no-op, as the active sweeper requires when racing client writes.
func (k *Keyspace) Delete(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
}

// SweepExpired snapshots the live key list, deletes every entry whose
// expiry has passed, and returns how many it removed. Correctness never
// depends on this running; lazy expiry on the read path is what the
// invariants rely on, this just keeps memory from growing unbounded
// with keys nobody reads again.
func (k *Keyspace) SweepExpired() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	nowMs := k.clock.NowMs()
	removed := 0
	for key, e := range k.data {
		if k.isExpiredLocked(e, nowMs) {
			delete(k.data, key)
			removed++
		}
	}
	return removed
}

// RunActiveExpiry runs SweepExpired on a fixed cadence until stop is
// closed. The interval is a policy knob, not a constant — the spec
// defaults it to ~60s but leaves it tunable.
func (k *Keyspace) RunActiveExpiry(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.SweepExpired()
		case <-stop:
			return
		}
	}
}
