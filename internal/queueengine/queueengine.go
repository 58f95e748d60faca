// Package queueengine holds the pure decision functions behind worker
// dispatch: which pending items to take given spare capacity, and
// whether a failed item should retry or go dead-letter. Kept free of
// internal/state so the scheduling math is trivially unit-testable, the
// same separation internal/supervision uses for the agent action chains.
package queueengine

import "sort"

// Item is the subset of a queue item the take-selection needs.
type Item struct {
	ID         string
	PushedAtMs int64
}

// SelectPending returns the oldest-first items to dispatch, bounded by
// capacity. Input order is not assumed stable, so results are sorted by
// PushedAtMs then ID for determinism (workers take oldest-pending
// first).
func SelectPending(items []Item, capacity int) []Item {
	if capacity <= 0 || len(items) == 0 {
		return nil
	}
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PushedAtMs != sorted[j].PushedAtMs {
			return sorted[i].PushedAtMs < sorted[j].PushedAtMs
		}
		return sorted[i].ID < sorted[j].ID
	})
	if capacity > len(sorted) {
		capacity = len(sorted)
	}
	return sorted[:capacity]
}

// ShouldRetry reports whether a failed item gets another attempt, given
// the worker's retry budget (worker.retry = { attempts, cooldown };
// a worker with no retry block dead-letters on first failure).
// attemptsAfterFailure counts the failure that just happened.
func ShouldRetry(attemptsAfterFailure, retryAttempts int) bool {
	return retryAttempts > 0 && attemptsAfterFailure < retryAttempts
}
