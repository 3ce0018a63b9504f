// Package scheduler picks the next entity each watcher type should recheck.
//
// Every due entity (never checked, or last checked more than one run period
// ago, with at least one active watcher) is ranked by
//
//	watchers + floor(hoursWaited / periodHours) * averageLoad
//
// where averageLoad is the mean number of active watchers per watched
// entity of the same type. A never-checked entity counts as having waited
// one year. The aging term turns wait time into subscriber weight, so
// popular entities win under load while quiet ones still get their turn.
package scheduler
