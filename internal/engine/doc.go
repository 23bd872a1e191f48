// Package engine is the time-anchor scheduling engine.
//
// # Overview
//
// An Engine tracks a set of registered contexts (one active), a frame
// (daily/weekly/monthly/annual) and a logical cursor that stands in for
// "now". Registered providers compute anchors for the active
// {context, frame, cursor}; the results are merged into per-(context, frame)
// buckets kept sorted by time. Once started, a tick loop publishes the
// remaining time of every anchor in the active bucket, measured against the
// cursor rather than the wall clock.
//
// # Refresh
//
// Every state change (context, frame, cursor, provider set) runs a refresh.
// Providers are called concurrently; each result is written as soon as that
// provider returns, so one refresh can produce several blend-updated events.
// A provider's result replaces only the anchors carrying its own source name.
// Provider errors, panics and timeouts are reported as provider-error events
// and never affect the other providers.
//
// # Ticks
//
// Ticks read the bucket without waiting for in-flight refreshes: a tick that
// races a refresh reports the previous anchor set. Stop cancels only the tick
// loop; provider calls already running still write their results.
package engine
