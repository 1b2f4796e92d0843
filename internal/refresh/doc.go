// Package refresh implements peillute's auto-refresh core: a periodic
// fetch scheduler whose polling loops are owned by a lifecycle scope, and
// a trigger-counter resource adapter for cache invalidation.
//
// # Scheduler
//
// Scheduler.Every starts one goroutine per subscription. The fetcher runs
// once per elapsed interval, never before the first interval and never
// overlapping itself. Fetch errors are logged (rate-limited) and ignored;
// they do not stop the loop. Cancellation is cooperative: an in-flight
// fetch is allowed to return (its context is cancelled so it may return
// early) and no new invocation starts afterwards.
//
// # Scopes
//
// A Scope models the lifetime of an owning component. Subscriptions
// created through the scope are cancelled when the scope closes, which is
// the structural fix for the "leaked poller" defect: a polling loop that
// outlives its owner because nobody kept its cancellation handle.
//
// # Resources
//
// A Resource wraps a typed fetch behind a monotonic trigger counter.
// Invalidate only bumps the counter; the resource's own observer re-runs
// the fetch and republishes into the sink. Bursts of invalidations
// coalesce while a fetch is outstanding (at-least-once freshness).
//
// Known limitation: there is no fetch-level timeout. A fetch that never
// returns stalls its own subscription loop until the owning scope closes
// and the fetch honours context cancellation.
package refresh
