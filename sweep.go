package tiercache

import (
	"context"
	"time"
)

/*
This file implements the expiry sweep.

The lazy check in Get only catches expired entries that somebody asks for
again. Entries that are never re-read would sit in the durable tiers
forever; the sweep bounds their lifetime by physically removing them on a
fixed interval.
*/

// sweepLoop runs Sweep on a ticker until Close.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Sweep(context.Background())
		}
	}
}

// Sweep scans every tier and deletes entries past their TTL. It returns
// how many entries were removed. Exposed so callers can force a pass.
func (m *Manager) Sweep(ctx context.Context) int {
	now := time.Now()
	removed := 0

	for _, t := range m.tiers {
		for _, key := range t.Keys(ctx) {
			ent, ok := t.Peek(ctx, key)
			if !ok || !ent.Expired(now) {
				continue
			}
			t.Delete(ctx, key)
			m.sweepRemoved.Add(1)
			m.metrics.Expire()
			removed++
		}
	}

	if removed > 0 {
		m.log.Debug().Int("removed", removed).Msg("expiry sweep")
	}
	return removed
}
