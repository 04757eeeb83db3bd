// Package orderbook models the remote relayer registry as an immutable
// snapshot of a singly-linked list sorted by ascending fee, and derives the
// pointer arguments the registry needs to insert, move or remove an entry
// without walking the list on chain.
//
// Everything in this package is pure: the same snapshot and arguments
// always give the same result, and nothing here performs I/O.
package orderbook
