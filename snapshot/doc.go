// Package snapshot serves the relayer order book to readers that must not
// hit the chain on every request: a cache of the latest snapshot and of
// wallet balances, a JSON document form for files and feeds, and a
// writer/loader pair that persists the last snapshot across restarts.
//
// The lifecycle controller never reads from here. Every transition fetches
// its own snapshot from the gateway.
package snapshot
