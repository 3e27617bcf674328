// Package taskstore is the client for the bitable table that holds
// contact acquisition tasks.
//
// Every HTTP attempt, token refreshes and retries included, passes through
// a single rate limiter so no two requests start closer than the configured
// minimum interval. Responses are classified into [Category] values:
// transient failures (429, 502, 503, 504, connection errors) are retried
// with exponential backoff, other non-2xx responses fail at once, and a 2xx
// response with a non-zero business code fails without any retry.
//
// Status writes are checked against the transition graph before anything
// is sent; see [CanTransition] and [Path].
package taskstore
