// Package watcher runs the per-type polling loops.
//
// Every watcher type is a Variant with its own PollOnce diff policy. A
// single Driver runs any variant through the same loop:
//
//	working -> waiting (WorkDelay)  after a processed or skipped cycle
//	working -> paused  (IdleDelay)  when nothing was due
//
// Upstream failures never stop a loop. The entity is still marked checked
// so a broken entity is not retried every cycle. Store failures abort the
// cycle and the next tick retries.
package watcher
