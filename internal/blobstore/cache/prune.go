package cache

import (
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

type pruneEntry struct {
	id         string
	size       int64
	lastAccess time.Time
}

// Prune runs one eviction pass. Eviction is best-effort housekeeping: any
// failure logs, aborts the pass, and leaves request-path operations alone.
func (s *Store) Prune() {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	ids, err := s.disk.List()
	if err != nil {
		slog.Warn("cache prune: enumerate failed", "error", err)
		return
	}

	now := time.Now()
	var total int64
	entries := make([]pruneEntry, 0, len(ids))
	for _, id := range ids {
		info, err := s.disk.Stat(id)
		if err != nil {
			// Raced with a concurrent delete; skip.
			continue
		}
		// An unstamped or unreadable stamp counts as fresh, not stale.
		e := pruneEntry{id: id, size: info.Size(), lastAccess: now}
		if at, err := s.disk.LastAccess(id); err == nil && !at.IsZero() {
			e.lastAccess = at
		}
		total += e.size
		entries = append(entries, e)
	}

	if s.metrics != nil {
		s.metrics.CacheSizeBytes.Set(float64(total))
	}

	free, err := s.freeSpace(s.disk.Root())
	if err != nil {
		slog.Warn("cache prune: free-space probe failed", "error", err)
		return
	}

	target := s.purgeTarget(total, free)
	if target <= 0 {
		return
	}

	// Oldest first; among equally stale blobs, evict the larger one first
	// to free more space per eviction.
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].lastAccess.Equal(entries[j].lastAccess) {
			return entries[i].lastAccess.Before(entries[j].lastAccess)
		}
		return entries[i].size > entries[j].size
	})

	var purged int64
	for _, e := range entries {
		if purged >= target {
			break
		}
		if err := s.disk.Discard(e.id); err != nil {
			slog.Warn("cache prune: evict failed, aborting pass",
				"id", e.id, "purged_bytes", purged, "error", err)
			return
		}
		purged += e.size
		if s.metrics != nil {
			s.metrics.CacheEvictions.Inc()
		}
		slog.Debug("cache blob evicted", "id", e.id, "size_bytes", e.size)
	}

	if s.metrics != nil {
		s.metrics.CacheSizeBytes.Set(float64(total - purged))
	}
	slog.Info("cache pruned", "purged_bytes", purged, "target_bytes", target,
		"remaining_bytes", total-purged)
}

// purgeTarget computes how many bytes a pass should evict: overage past the
// size cap wins, otherwise a low-free-space device prunes back up to the
// free-space target.
func (s *Store) purgeTarget(total, free int64) int64 {
	if s.cfg.MaximumCacheSize > 0 && total > s.cfg.MaximumCacheSize {
		return total - s.cfg.MaximumCacheSize
	}
	if s.cfg.MinimumDeviceFree > 0 && free <= s.cfg.MinimumDeviceFree {
		return s.cfg.TargetDeviceFree - free
	}
	return 0
}

// deviceFree reports the bytes available to unprivileged users on the
// filesystem holding path.
func deviceFree(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
