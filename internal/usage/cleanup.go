package usage

import "time"

// CleanupInterval is how often expired entries are deleted.
const CleanupInterval = 1 * time.Hour

// RunCleanupLoop calls cleanupFn immediately and then every interval until
// stop is closed. A non-positive interval uses CleanupInterval.
func RunCleanupLoop(stop <-chan struct{}, interval time.Duration, cleanupFn func()) {
	if interval <= 0 {
		interval = CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cleanupFn()

	for {
		select {
		case <-ticker.C:
			cleanupFn()
		case <-stop:
			return
		}
	}
}

// retentionCutoff is the oldest timestamp kept for retentionDays.
func retentionCutoff(now time.Time, retentionDays int) time.Time {
	return now.AddDate(0, 0, -retentionDays).UTC()
}
