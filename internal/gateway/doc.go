// Package gateway coalesces app and package ids into bulk metadata lookups.
//
// Ids land in one of two deduplicated buckets. Each dequeue takes at most
// Capacity ids in total: a bucket is always entitled to half, and whatever
// the other bucket leaves unused. The drain persists the returned metadata,
// rewinds price targets of purchasable packages so they are checked soon,
// and records packages that carry a free-to-keep window.
//
// ChangeFeed feeds the app bucket from the upstream's modified-since list.
package gateway
