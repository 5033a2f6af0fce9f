// Package scheduler computes the durable work-queue backoff policy
// shared by controller failures, auto-discover retries, and shard
// reactivation (§4.7, §4.9, §4.10, §9 Open Question (a)).
package scheduler

import (
	"math/rand"
	"time"
)

// ladder is the backoff schedule prescribed by §9 Open Question (a):
// "suggested: 1s, 5s, 30s, 2m, 10m, cap 1h". It is policy, not an
// invariant, so it is expressed as a single table rather than a
// formula, making it easy to retune without touching call sites.
var ladder = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// Cap is the maximum backoff delay, reached once failures exceed the
// length of ladder.
const Cap = 1 * time.Hour

// Backoff returns the delay to wait before the (failures+1)-th retry,
// given failures prior consecutive failures (failures=0 on the first
// failure). A small jitter is mixed in per §9's scheduler fairness
// design note, so that many names failing in lockstep don't all wake
// at exactly the same instant.
func Backoff(failures int) time.Duration {
	var base time.Duration
	if failures < 0 {
		failures = 0
	}
	if failures >= len(ladder) {
		base = Cap
	} else {
		base = ladder[failures]
	}
	var jitter = time.Duration(rand.Int63n(int64(base) / 4 + 1))
	return base + jitter
}

// NextRun returns the absolute time at which a job with the given
// consecutive failure count should next run, relative to now.
func NextRun(now time.Time, failures int) time.Time {
	return now.Add(Backoff(failures))
}
