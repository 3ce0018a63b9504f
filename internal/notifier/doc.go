// Package notifier fans a change notification out to every active watcher
// bound to the changed entity.
//
// Subscription rows arrive one per (watcher, mention). They are grouped by
// watcher id and each group becomes exactly one delivery item whose
// mentions are rendered as a space-joined list of mention tokens.
package notifier
