// Package delay runs work items at a future instant.
//
// A Runtime stores items under a caller-chosen key. Submitting an existing
// key replaces it; cancelling a missing key is a no-op. When an item becomes
// due it is handed to the task engine, which owns retries. Two runtimes exist:
//
//   - Memory: per-key timers inside the process; items are lost on restart.
//   - Redis: a sorted set scored by fire time plus a lease set for items that
//     are executing, so items survive restarts and crashed workers.
package delay
