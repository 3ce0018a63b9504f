// Package periodic runs the maintenance jobs: queue snapshots, the change
// feed poll, watchdog pings and stale-row purges.
//
// Jobs are registered by name with a cron expression or an interval. An
// interval job's first run is spread by a random delay so jobs registered
// together do not fire together. A run still in flight when its next
// trigger comes is skipped.
package periodic
